package frontend

import (
	"go/types"

	"github.com/chazu/rbvm/ir"
)

// ---------------------------------------------------------------------------
// Type mapping
// ---------------------------------------------------------------------------

// irType maps a Go type onto the IR. Strings and slices are bare data
// pointers; float32 widens to the IR's only float type.
func (l *lowerer) irType(t types.Type) ir.Type {
	switch u := t.Underlying().(type) {
	case *types.Basic:
		switch {
		case u.Kind() == types.Bool || u.Kind() == types.UntypedBool:
			return ir.I1
		case u.Info()&types.IsFloat != 0:
			return ir.F64
		case u.Kind() == types.String || u.Kind() == types.UnsafePointer || u.Kind() == types.UntypedNil:
			return ir.Ptr
		case u.Info()&types.IsInteger != 0:
			return intType(l.sizes.Sizeof(u))
		}
	case *types.Pointer:
		return &ir.PointerType{Elem: l.irType(u.Elem())}
	case *types.Slice:
		return &ir.PointerType{Elem: l.irType(u.Elem())}
	case *types.Signature:
		return ir.Ptr
	case *types.Array:
		return &ir.ArrayType{Elem: l.irType(u.Elem()), Len: u.Len()}
	case *types.Struct:
		st := &ir.StructType{}
		for i := 0; i < u.NumFields(); i++ {
			st.Fields = append(st.Fields, l.irType(u.Field(i).Type()))
		}
		return st
	}
	l.fail("type %s is not supported", t)
	return nil
}

func intType(size int64) *ir.IntType {
	switch size {
	case 1:
		return ir.I8
	case 2:
		return ir.I16
	case 4:
		return ir.I32
	}
	return ir.I64
}

// resultType maps a signature's results. Only zero or one result is
// supported.
func (l *lowerer) resultType(sig *types.Signature) ir.Type {
	switch sig.Results().Len() {
	case 0:
		return ir.Void
	case 1:
		return l.irType(sig.Results().At(0).Type())
	}
	l.fail("functions with %d results are not supported", sig.Results().Len())
	return nil
}

func basic(t types.Type) (*types.Basic, bool) {
	b, ok := t.Underlying().(*types.Basic)
	return b, ok
}

func isSigned(t types.Type) bool {
	b, ok := basic(t)
	return ok && b.Info()&types.IsInteger != 0 && b.Info()&types.IsUnsigned == 0
}

func isFloat(t types.Type) bool {
	b, ok := basic(t)
	return ok && b.Info()&types.IsFloat != 0
}

func isInteger(t types.Type) bool {
	b, ok := basic(t)
	return ok && b.Info()&types.IsInteger != 0
}

func isString(t types.Type) bool {
	b, ok := basic(t)
	return ok && b.Info()&types.IsString != 0
}

func isBool(t types.Type) bool {
	b, ok := basic(t)
	return ok && b.Info()&types.IsBoolean != 0
}

// isPointerLike reports types that lower to a plain address.
func isPointerLike(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Slice, *types.Signature:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer || u.Kind() == types.String
	}
	return false
}

// elemOf returns the element type addressed by a pointer, slice or string.
func elemOf(t types.Type) types.Type {
	switch u := t.Underlying().(type) {
	case *types.Pointer:
		if a, ok := u.Elem().Underlying().(*types.Array); ok {
			return a.Elem()
		}
		return u.Elem()
	case *types.Slice:
		return u.Elem()
	case *types.Array:
		return u.Elem()
	}
	return types.Typ[types.Byte]
}

// leaf is one scalar word of an aggregate.
type leaf struct {
	off int64
	typ ir.Type
}

// leaves flattens t into its scalar parts.
func leaves(t ir.Type, base int64, out []leaf) []leaf {
	switch t := t.(type) {
	case *ir.ArrayType:
		for i := int64(0); i < t.Len; i++ {
			out = leaves(t.Elem, base+i*t.Elem.Size(), out)
		}
	case *ir.StructType:
		for i, f := range t.Fields {
			out = leaves(f, base+t.Offset(i), out)
		}
	default:
		if ir.IsScalar(t) {
			out = append(out, leaf{off: base, typ: t})
		}
	}
	return out
}
