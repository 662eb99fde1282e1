// Package ir is the typed SSA representation consumed by the code
// generator: modules of globals and functions, functions of basic blocks,
// blocks of instructions ending in a terminator, and a closed set of
// constant expressions.
package ir

import (
	"fmt"
	"strings"
)

// Type is the type of a value.
type Type interface {
	// Size returns the storage size in bytes.
	Size() int64
	// Align returns the natural alignment in bytes.
	Align() int64
	String() string
	isType()
}

// IntType is an integer of Bits width. Bits == 1 is a boolean.
type IntType struct {
	Bits int
}

// FloatType is an IEEE double. Narrower floats are not part of the model.
type FloatType struct{}

// PointerType is an address. Elem is informational and may be nil.
type PointerType struct {
	Elem Type
}

// ArrayType is a fixed-length sequence of Elem.
type ArrayType struct {
	Elem Type
	Len  int64
}

// StructType is a sequence of naturally aligned fields.
type StructType struct {
	Fields []Type
}

// VoidType is the result type of instructions that produce no value.
type VoidType struct{}

// FuncType is the signature of a function.
type FuncType struct {
	Params   []Type
	Result   Type
	Variadic bool
}

// Common types.
var (
	I1   = &IntType{Bits: 1}
	I8   = &IntType{Bits: 8}
	I16  = &IntType{Bits: 16}
	I32  = &IntType{Bits: 32}
	I64  = &IntType{Bits: 64}
	F64  = &FloatType{}
	Ptr  = &PointerType{}
	Void = &VoidType{}
)

func (*IntType) isType()     {}
func (*FloatType) isType()   {}
func (*PointerType) isType() {}
func (*ArrayType) isType()   {}
func (*StructType) isType()  {}
func (*VoidType) isType()    {}
func (*FuncType) isType()    {}

func (t *IntType) Size() int64 {
	return int64((t.Bits + 7) / 8)
}

func (t *IntType) Align() int64 { return t.Size() }

func (t *IntType) String() string { return fmt.Sprintf("i%d", t.Bits) }

// Mask returns the bit pattern selecting the low Bits bits.
func (t *IntType) Mask() uint64 {
	if t.Bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(t.Bits) - 1
}

func (*FloatType) Size() int64    { return 8 }
func (*FloatType) Align() int64   { return 8 }
func (*FloatType) String() string { return "f64" }

func (*PointerType) Size() int64  { return 8 }
func (*PointerType) Align() int64 { return 8 }

func (t *PointerType) String() string {
	if t.Elem == nil {
		return "ptr"
	}
	return "*" + t.Elem.String()
}

func (t *ArrayType) Size() int64    { return t.Elem.Size() * t.Len }
func (t *ArrayType) Align() int64   { return t.Elem.Align() }
func (t *ArrayType) String() string { return fmt.Sprintf("[%d]%s", t.Len, t.Elem) }

// Offset returns the byte offset of field i.
func (t *StructType) Offset(i int) int64 {
	var off int64
	for j, f := range t.Fields {
		off = alignUp(off, f.Align())
		if j == i {
			return off
		}
		off += f.Size()
	}
	return off
}

func (t *StructType) Size() int64 {
	if len(t.Fields) == 0 {
		return 0
	}
	last := len(t.Fields) - 1
	return alignUp(t.Offset(last)+t.Fields[last].Size(), t.Align())
}

func (t *StructType) Align() int64 {
	a := int64(1)
	for _, f := range t.Fields {
		if fa := f.Align(); fa > a {
			a = fa
		}
	}
	return a
}

func (t *StructType) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (*VoidType) Size() int64    { return 0 }
func (*VoidType) Align() int64   { return 1 }
func (*VoidType) String() string { return "void" }

func (*FuncType) Size() int64  { return 8 }
func (*FuncType) Align() int64 { return 8 }

func (t *FuncType) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	if t.Variadic {
		parts = append(parts, "...")
	}
	return fmt.Sprintf("func(%s) %s", strings.Join(parts, ", "), t.Result)
}

func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// IsVoid reports whether t produces no value. Empty aggregates count as
// void.
func IsVoid(t Type) bool {
	switch t := t.(type) {
	case nil, *VoidType:
		return true
	case *StructType:
		for _, f := range t.Fields {
			if !IsVoid(f) {
				return false
			}
		}
		return true
	case *ArrayType:
		return t.Len == 0 || IsVoid(t.Elem)
	}
	return false
}

// IsScalar reports whether a value of type t fits in one register.
func IsScalar(t Type) bool {
	switch t.(type) {
	case *IntType, *FloatType, *PointerType, *FuncType:
		return true
	}
	return false
}

// Bits returns the access width in bits of a scalar type, or 0.
func Bits(t Type) int {
	switch t := t.(type) {
	case *IntType:
		if t.Bits == 1 {
			return 8
		}
		return int(t.Size()) * 8
	case *FloatType, *PointerType, *FuncType:
		return 64
	}
	return 0
}
