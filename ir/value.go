package ir

import (
	"fmt"
	"strconv"
)

// Value is an instruction operand: an instruction result, a function
// parameter or a constant.
type Value interface {
	Type() Type
	String() string
}

// Param is a function argument.
type Param struct {
	Name  string
	Typ   Type
	Index int
}

func (p *Param) Type() Type      { return p.Typ }
func (p *Param) String() string { return "%" + p.Name }

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Const is a compile-time value. The set of implementations is closed.
type Const interface {
	Value
	isConst()
}

// IntConst is an integer literal. V holds the sign-extended value.
type IntConst struct {
	Typ *IntType
	V   int64
}

// FloatConst is a double literal.
type FloatConst struct {
	V float64
}

// StringConst is a byte string literal. Its value is the address of a
// private copy of Data. C strings include their terminating NUL.
type StringConst struct {
	Data []byte
}

// NullConst is the zero pointer.
type NullConst struct {
	Typ Type
}

// UndefConst is an unspecified value of a scalar type. It lowers to zero.
type UndefConst struct {
	Typ Type
}

// BinaryConst is an arithmetic or bitwise operator over constants.
type BinaryConst struct {
	Op   BinOp
	X, Y Const
}

// CompareConst is a comparison over constants.
type CompareConst struct {
	Pred Predicate
	X, Y Const
}

// CastConst converts a constant to another type.
type CastConst struct {
	Op CastOp
	X  Const
	To Type
}

// AddressConst is base plus the sum of indices scaled by their element
// sizes.
type AddressConst struct {
	Base    Const
	Indices []Index
}

// SelectConst picks T when Cond is non-zero, F otherwise.
type SelectConst struct {
	Cond, T, F Const
}

// Int returns an integer constant of type t.
func Int(t *IntType, v int64) *IntConst { return &IntConst{Typ: t, V: v} }

// Bool returns an i1 constant.
func Bool(b bool) *IntConst {
	if b {
		return Int(I1, 1)
	}
	return Int(I1, 0)
}

// Float returns a double constant.
func Float(v float64) *FloatConst { return &FloatConst{V: v} }

// CString returns a NUL-terminated string constant.
func CString(s string) *StringConst {
	return &StringConst{Data: append([]byte(s), 0)}
}

// Null returns the null pointer constant.
func Null() *NullConst { return &NullConst{Typ: Ptr} }

func (*IntConst) isConst()     {}
func (*FloatConst) isConst()   {}
func (*StringConst) isConst()  {}
func (*NullConst) isConst()    {}
func (*UndefConst) isConst()   {}
func (*BinaryConst) isConst()  {}
func (*CompareConst) isConst() {}
func (*CastConst) isConst()    {}
func (*AddressConst) isConst() {}
func (*SelectConst) isConst()  {}
func (*Global) isConst()       {}
func (*Function) isConst()     {}

func (c *IntConst) Type() Type { return c.Typ }
func (c *IntConst) String() string {
	if c.Typ.Bits == 1 {
		return strconv.FormatBool(c.V != 0)
	}
	return strconv.FormatInt(c.V, 10)
}

func (c *FloatConst) Type() Type      { return F64 }
func (c *FloatConst) String() string { return strconv.FormatFloat(c.V, 'g', -1, 64) }

func (c *StringConst) Type() Type      { return &PointerType{Elem: I8} }
func (c *StringConst) String() string { return strconv.Quote(string(c.Data)) }

func (c *NullConst) Type() Type      { return c.Typ }
func (c *NullConst) String() string { return "null" }

func (c *UndefConst) Type() Type      { return c.Typ }
func (c *UndefConst) String() string { return "undef" }

func (c *BinaryConst) Type() Type { return c.X.Type() }
func (c *BinaryConst) String() string {
	return fmt.Sprintf("%s(%s, %s)", c.Op, c.X, c.Y)
}

func (c *CompareConst) Type() Type { return I1 }
func (c *CompareConst) String() string {
	return fmt.Sprintf("cmp %s(%s, %s)", c.Pred, c.X, c.Y)
}

func (c *CastConst) Type() Type { return c.To }
func (c *CastConst) String() string {
	return fmt.Sprintf("%s(%s to %s)", c.Op, c.X, c.To)
}

func (c *AddressConst) Type() Type { return Ptr }
func (c *AddressConst) String() string {
	return fmt.Sprintf("addr(%s%s)", c.Base, indexList(c.Indices))
}

func (c *SelectConst) Type() Type { return c.T.Type() }
func (c *SelectConst) String() string {
	return fmt.Sprintf("select(%s, %s, %s)", c.Cond, c.T, c.F)
}

// Index is one step of an address computation: Value scaled by Size bytes.
type Index struct {
	Value Value
	Size  int64
}

func indexList(idx []Index) string {
	s := ""
	for _, i := range idx {
		s += fmt.Sprintf(", %s x %d", i.Value, i.Size)
	}
	return s
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global is a module-level variable. As a value it is the variable's
// address.
type Global struct {
	Name string
	Elem Type
	// Init is the initial value, or nil for zero. Scalar constants and
	// string constants (for byte arrays) are supported.
	Init Const
	// External globals are declared elsewhere and get no storage.
	External bool
}

func (g *Global) Type() Type      { return &PointerType{Elem: g.Elem} }
func (g *Global) String() string { return "@" + g.Name }
