package frontend

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"strings"

	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/ir"
	"golang.org/x/tools/go/ssa"
)

// lowerer translates one SSA package.
type lowerer struct {
	fset    *token.FileSet
	sizes   types.Sizes
	pkg     *ssa.Package
	mod     *ir.Module
	funcs   map[*ssa.Function]*ir.Function
	globals map[*ssa.Global]*ir.Global

	// Current function
	fn     *ir.Function
	b      *ir.Builder
	pos    token.Pos
	blocks map[*ssa.BasicBlock]*ir.Block
	values map[ssa.Value]ir.Value
	aggs   map[ssa.Value]ir.Value // aggregate value -> address of a private copy
	phis   []*ssa.Phi
	packs  map[*ssa.Slice][]ssa.Value
	packed map[ssa.Instruction]bool
}

func (l *lowerer) fail(format string, args ...any) {
	panic(bailout{&Error{Pos: l.fset.Position(l.pos), Msg: fmt.Sprintf(format, args...)}})
}

func (l *lowerer) function(sfn *ssa.Function) {
	f := l.funcs[sfn]
	l.fn = f
	l.pos = sfn.Pos()
	l.blocks = map[*ssa.BasicBlock]*ir.Block{}
	l.values = map[ssa.Value]ir.Value{}
	l.aggs = map[ssa.Value]ir.Value{}
	l.phis = nil
	for i, p := range sfn.Params {
		l.values[p] = f.Params[i]
	}
	for _, b := range sfn.Blocks {
		l.blocks[b] = f.NewBlock(blockName(b))
	}
	l.findPacks(sfn)

	l.b = ir.NewBuilder(f)
	for _, b := range sfn.DomPreorder() {
		l.b.SetBlock(l.blocks[b])
		for _, in := range b.Instrs {
			l.instr(in)
		}
	}
	for _, phi := range l.phis {
		l.pos = phi.Pos()
		in := l.values[phi].(*ir.Instr)
		for i, e := range phi.Edges {
			in.AddIncoming(l.value(e), l.blocks[phi.Block().Preds[i]])
		}
	}
	f.Seal()
}

// findPacks locates the arrays SSA builds for variadic libc calls so the
// packed values can be passed as plain arguments.
func (l *lowerer) findPacks(fn *ssa.Function) {
	l.packs = map[*ssa.Slice][]ssa.Value{}
	l.packed = map[ssa.Instruction]bool{}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			call, ok := in.(*ssa.Call)
			if !ok || len(call.Call.Args) == 0 {
				continue
			}
			if lf, ok := l.libcCallee(call.Common()); !ok || !lf.variadic {
				continue
			}
			s, ok := call.Call.Args[len(call.Call.Args)-1].(*ssa.Slice)
			if !ok {
				continue
			}
			alloc, ok := s.X.(*ssa.Alloc)
			if !ok {
				continue
			}
			arr, ok := alloc.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Array)
			if !ok {
				continue
			}
			vals := make([]ssa.Value, arr.Len())
			skip := []ssa.Instruction{alloc, s}
			for _, ref := range *alloc.Referrers() {
				ia, ok := ref.(*ssa.IndexAddr)
				if !ok {
					continue
				}
				k, ok := ia.Index.(*ssa.Const)
				if !ok {
					continue
				}
				i, _ := constant.Int64Val(k.Value)
				skip = append(skip, ia)
				for _, r := range *ia.Referrers() {
					if st, ok := r.(*ssa.Store); ok && st.Addr == ia {
						skip = append(skip, st)
						vals[i] = st.Val
						if mi, ok := st.Val.(*ssa.MakeInterface); ok {
							vals[i] = mi.X
						}
					}
				}
			}
			complete := true
			for _, v := range vals {
				complete = complete && v != nil
			}
			if !complete {
				continue
			}
			l.packs[s] = vals
			for _, in := range skip {
				l.packed[in] = true
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func (l *lowerer) value(v ssa.Value) ir.Value {
	switch v := v.(type) {
	case *ssa.Const:
		return l.constant(v)
	case *ssa.Function:
		if f, ok := l.funcs[v]; ok {
			return f
		}
		if v.Pkg != nil && v.Pkg.Pkg.Path() == LibcPath {
			if lf, ok := lookupLibc(v.Name()); ok {
				return lf.declare(l.mod)
			}
		}
		l.fail("function %s cannot be used here", v)
	case *ssa.Global:
		if g, ok := l.globals[v]; ok {
			return g
		}
		l.fail("global %s is not declared in this package", v)
	}
	if x, ok := l.values[v]; ok {
		return x
	}
	if _, ok := l.aggs[v]; ok {
		l.fail("aggregate value %s can only be copied, indexed or selected", v.Name())
	}
	l.fail("value %s = %s is not supported", v.Name(), v)
	return nil
}

func (l *lowerer) constant(c *ssa.Const) ir.Value {
	t := l.irType(c.Type())
	if c.Value == nil {
		if isString(c.Type()) {
			return ir.CString("")
		}
		if z := zero(t); z != nil {
			return z
		}
		l.fail("zero %s used as a value", c.Type())
	}
	switch c.Value.Kind() {
	case constant.Bool:
		return ir.Bool(constant.BoolVal(c.Value))
	case constant.String:
		return ir.CString(constant.StringVal(c.Value))
	case constant.Int, constant.Float:
		switch t := t.(type) {
		case *ir.FloatType:
			f, _ := constant.Float64Val(constant.ToFloat(c.Value))
			return ir.Float(f)
		case *ir.IntType:
			if i, ok := constant.Int64Val(c.Value); ok {
				return ir.Int(t, i)
			}
			u, _ := constant.Uint64Val(c.Value)
			return ir.Int(t, int64(u))
		}
	}
	l.fail("constant %s is not supported", c)
	return nil
}

func zero(t ir.Type) ir.Const {
	switch t := t.(type) {
	case *ir.IntType:
		return ir.Int(t, 0)
	case *ir.FloatType:
		return ir.Float(0)
	case *ir.PointerType, *ir.FuncType:
		return ir.Null()
	}
	return nil
}

// widen returns v as a 64-bit integer.
func (l *lowerer) widen(v ssa.Value) ir.Value {
	x := l.value(v)
	it, ok := l.irType(v.Type()).(*ir.IntType)
	if !ok || it.Bits == 64 {
		return x
	}
	if k, ok := x.(*ir.IntConst); ok {
		return ir.Int(ir.I64, k.V)
	}
	if isSigned(v.Type()) {
		return l.b.Cast(ir.SExt, x, ir.I64)
	}
	return l.b.Cast(ir.ZExt, x, ir.I64)
}

// offset returns base advanced by off bytes.
func (l *lowerer) offset(base ir.Value, off int64) ir.Value {
	if off == 0 {
		return base
	}
	return l.b.Address(base, ir.Index{Value: ir.Int(ir.I64, off), Size: 1})
}

// copyAggregate copies every scalar word of t from src to dst.
func (l *lowerer) copyAggregate(dst, src ir.Value, t ir.Type) {
	for _, lf := range leaves(t, 0, nil) {
		v := l.b.Load(lf.typ, l.offset(src, lf.off))
		l.b.Store(v, l.offset(dst, lf.off))
	}
}

// element yields the value at addr: a load for scalars, a private copy
// for aggregates.
func (l *lowerer) element(v ssa.Value, addr ir.Value, t ir.Type) {
	if ir.IsScalar(t) {
		l.values[v] = l.b.Load(t, addr)
		return
	}
	l.aggs[v] = addr
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (l *lowerer) instr(in ssa.Instruction) {
	if l.packed[in] {
		return
	}
	if p := in.Pos(); p.IsValid() {
		l.pos = p
	}
	switch v := in.(type) {
	case *ssa.DebugRef, *ssa.RunDefers:
	case *ssa.Alloc:
		l.alloc(v)
	case *ssa.Phi:
		t := l.irType(v.Type())
		if !ir.IsScalar(t) {
			l.fail("aggregate %s merged across branches is not supported", v.Type())
		}
		l.values[v] = l.b.Phi(t)
		l.phis = append(l.phis, v)
	case *ssa.BinOp:
		l.values[v] = l.binOp(v)
	case *ssa.UnOp:
		l.unOp(v)
	case *ssa.Convert:
		l.values[v] = l.convert(v)
	case *ssa.ChangeType:
		l.alias(v, v.X)
	case *ssa.MakeInterface:
		l.alias(v, v.X)
	case *ssa.FieldAddr:
		st := l.irType(v.X.Type().Underlying().(*types.Pointer).Elem()).(*ir.StructType)
		l.values[v] = l.offset(l.value(v.X), st.Offset(v.Field))
	case *ssa.IndexAddr:
		elem := l.irType(elemOf(v.X.Type()))
		l.values[v] = l.b.Address(l.value(v.X), ir.Index{Value: l.widen(v.Index), Size: elem.Size()})
	case *ssa.Field:
		src, ok := l.aggs[v.X]
		if !ok {
			l.fail("field of %s is not addressable", v.X.Name())
		}
		st := l.irType(v.X.Type()).(*ir.StructType)
		l.element(v, l.offset(src, st.Offset(v.Field)), st.Fields[v.Field])
	case *ssa.Index:
		l.index(v)
	case *ssa.Slice:
		l.slice(v)
	case *ssa.MakeSlice:
		elem := l.irType(elemOf(v.Type()))
		l.values[v] = l.b.Call(nil, l.native("calloc"), l.widen(v.Len), ir.Int(ir.I64, max(elem.Size(), 1)))
	case *ssa.Store:
		l.store(v)
	case *ssa.Call:
		l.call(v)
	case *ssa.If:
		succs := v.Block().Succs
		l.b.Branch(l.value(v.Cond), l.blocks[succs[0]], l.blocks[succs[1]])
	case *ssa.Jump:
		l.b.Jump(l.blocks[v.Block().Succs[0]])
	case *ssa.Return:
		l.ret(v)
	case *ssa.Panic:
		l.raise(v)
	default:
		kind := strings.TrimPrefix(fmt.Sprintf("%T", in), "*ssa.")
		l.fail("%s instruction %q is not supported", kind, in)
	}
}

func (l *lowerer) alias(v, x ssa.Value) {
	if a, ok := l.aggs[x]; ok {
		l.aggs[v] = a
		return
	}
	l.values[v] = l.value(x)
}

func (l *lowerer) alloc(v *ssa.Alloc) {
	t := l.irType(v.Type().Underlying().(*types.Pointer).Elem())
	if v.Heap {
		l.values[v] = l.b.Call(nil, l.native("malloc"), ir.Int(ir.I64, max(t.Size(), 1)))
		return
	}
	l.values[v] = l.b.Alloca(t)
}

// native returns the declaration of a libc routine by its native name.
func (l *lowerer) native(name string) *ir.Function {
	for _, f := range libcFuncs {
		if f.native == name {
			return f.declare(l.mod)
		}
	}
	return l.mod.Declare(name, ir.I32, true, ir.Ptr)
}

func (l *lowerer) binOp(v *ssa.BinOp) ir.Value {
	xt := v.X.Type()
	if isString(xt) {
		l.fail("operator %s on strings is not supported", v.Op)
	}
	x, y := l.value(v.X), l.value(v.Y)
	fl, signed := isFloat(xt), isSigned(xt)
	pick := func(f, s, u ir.BinOp) ir.BinOp {
		switch {
		case fl:
			return f
		case signed:
			return s
		}
		return u
	}
	switch v.Op {
	case token.ADD:
		return l.b.Binary(pick(ir.FAdd, ir.Add, ir.Add), x, y)
	case token.SUB:
		return l.b.Binary(pick(ir.FSub, ir.Sub, ir.Sub), x, y)
	case token.MUL:
		return l.b.Binary(pick(ir.FMul, ir.Mul, ir.Mul), x, y)
	case token.QUO:
		return l.b.Binary(pick(ir.FDiv, ir.SDiv, ir.UDiv), x, y)
	case token.REM:
		return l.b.Binary(pick(ir.FRem, ir.SRem, ir.URem), x, y)
	case token.AND:
		return l.b.Binary(ir.And, x, y)
	case token.OR:
		return l.b.Binary(ir.Or, x, y)
	case token.XOR:
		return l.b.Binary(ir.Xor, x, y)
	case token.AND_NOT:
		it := l.irType(xt).(*ir.IntType)
		return l.b.Binary(ir.And, x, l.b.Binary(ir.Xor, y, ir.Int(it, -1)))
	case token.SHL:
		return l.b.Binary(ir.Shl, x, y)
	case token.SHR:
		return l.b.Binary(pick(ir.LShr, ir.AShr, ir.LShr), x, y)
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		return l.b.Compare(predicate(v.Op, fl, signed), x, y)
	}
	l.fail("operator %s is not supported", v.Op)
	return nil
}

func predicate(op token.Token, fl, signed bool) ir.Predicate {
	i := map[token.Token]int{token.EQL: 0, token.NEQ: 1, token.LSS: 2, token.LEQ: 3, token.GTR: 4, token.GEQ: 5}[op]
	switch {
	case fl:
		return []ir.Predicate{ir.FEQ, ir.FNE, ir.FLT, ir.FLE, ir.FGT, ir.FGE}[i]
	case signed:
		return []ir.Predicate{ir.EQ, ir.NE, ir.SLT, ir.SLE, ir.SGT, ir.SGE}[i]
	}
	return []ir.Predicate{ir.EQ, ir.NE, ir.ULT, ir.ULE, ir.UGT, ir.UGE}[i]
}

func (l *lowerer) unOp(v *ssa.UnOp) {
	switch v.Op {
	case token.MUL:
		t := l.irType(v.Type())
		if ir.IsScalar(t) {
			l.values[v] = l.b.Load(t, l.value(v.X))
			return
		}
		tmp := l.b.Alloca(t)
		l.copyAggregate(tmp, l.value(v.X), t)
		l.aggs[v] = tmp
		return
	case token.SUB:
		if isFloat(v.X.Type()) {
			l.values[v] = l.b.Binary(ir.FSub, ir.Float(0), l.value(v.X))
			return
		}
		it := l.irType(v.Type()).(*ir.IntType)
		l.values[v] = l.b.Binary(ir.Sub, ir.Int(it, 0), l.value(v.X))
		return
	case token.XOR:
		it := l.irType(v.Type()).(*ir.IntType)
		l.values[v] = l.b.Binary(ir.Xor, l.value(v.X), ir.Int(it, -1))
		return
	case token.NOT:
		l.values[v] = l.b.Binary(ir.Xor, l.value(v.X), ir.Bool(true))
		return
	}
	l.fail("unary %s is not supported", v.Op)
}

func (l *lowerer) convert(v *ssa.Convert) ir.Value {
	from, to := v.X.Type(), v.Type()
	x := l.value(v.X)
	ft, tt := l.irType(from), l.irType(to)
	switch {
	case isInteger(from) && isInteger(to):
		fb, tb := ft.(*ir.IntType).Bits, tt.(*ir.IntType).Bits
		switch {
		case tb < fb:
			return l.b.Cast(ir.Trunc, x, tt)
		case tb > fb && isSigned(from):
			return l.b.Cast(ir.SExt, x, tt)
		case tb > fb:
			return l.b.Cast(ir.ZExt, x, tt)
		}
		return x
	case isInteger(from) && isFloat(to):
		if isSigned(from) {
			return l.b.Cast(ir.SIToFP, x, tt)
		}
		return l.b.Cast(ir.UIToFP, x, tt)
	case isFloat(from) && isInteger(to):
		if isSigned(to) {
			return l.b.Cast(ir.FPToSI, x, tt)
		}
		return l.b.Cast(ir.FPToUI, x, tt)
	case isFloat(from) && isFloat(to):
		return x
	case isInteger(from) && isPointerLike(to) && !isString(to):
		return l.b.Cast(ir.IntToPtr, x, tt)
	case isPointerLike(from) && isInteger(to):
		return l.b.Cast(ir.PtrToInt, x, tt)
	case isPointerLike(from) && isPointerLike(to):
		return x
	}
	l.fail("conversion from %s to %s is not supported", from, to)
	return nil
}

func (l *lowerer) index(v *ssa.Index) {
	if isString(v.X.Type()) {
		l.values[v] = l.b.Load(ir.I8, l.b.Address(l.value(v.X), ir.Index{Value: l.widen(v.Index), Size: 1}))
		return
	}
	src, ok := l.aggs[v.X]
	if !ok {
		l.fail("index of %s is not addressable", v.X.Name())
	}
	at := l.irType(v.X.Type()).(*ir.ArrayType)
	l.element(v, l.b.Address(src, ir.Index{Value: l.widen(v.Index), Size: at.Elem.Size()}), at.Elem)
}

func (l *lowerer) slice(v *ssa.Slice) {
	if v.Max != nil {
		l.fail("three-index slices are not supported")
	}
	base := l.value(v.X)
	if v.Low == nil {
		l.values[v] = base
		return
	}
	elem := l.irType(elemOf(v.X.Type()))
	l.values[v] = l.b.Address(base, ir.Index{Value: l.widen(v.Low), Size: elem.Size()})
}

func (l *lowerer) store(v *ssa.Store) {
	t := l.irType(v.Addr.Type().Underlying().(*types.Pointer).Elem())
	if ir.IsScalar(t) {
		l.b.Store(l.value(v.Val), l.value(v.Addr))
		return
	}
	dst := l.value(v.Addr)
	if k, ok := v.Val.(*ssa.Const); ok && k.Value == nil {
		for _, lf := range leaves(t, 0, nil) {
			l.b.Store(zero(lf.typ), l.offset(dst, lf.off))
		}
		return
	}
	src, ok := l.aggs[v.Val]
	if !ok {
		l.fail("store of %s is not supported", v.Val)
	}
	l.copyAggregate(dst, src, t)
}

func (l *lowerer) ret(v *ssa.Return) {
	switch len(v.Results) {
	case 0:
		l.b.Return(nil)
	case 1:
		l.b.Return(l.value(v.Results[0]))
	default:
		l.fail("returning %d results is not supported", len(v.Results))
	}
}

// raise prints the message of a string panic and exits with status 2.
func (l *lowerer) raise(v *ssa.Panic) {
	if mi, ok := v.X.(*ssa.MakeInterface); ok && isString(mi.X.Type()) {
		l.b.Call(nil, l.native("printf"), ir.CString("panic: %s\n"), l.value(mi.X))
	} else {
		l.b.Call(nil, l.native("puts"), ir.CString("panic"))
	}
	l.b.Call(nil, l.native("exit"), ir.Int(ir.I32, 2))
	l.b.Unreachable()
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// libcCallee reports the libc routine a call targets, if any.
func (l *lowerer) libcCallee(c *ssa.CallCommon) (libcFunc, bool) {
	fn, ok := c.Value.(*ssa.Function)
	if !ok || fn.Pkg == nil || fn.Pkg.Pkg.Path() != LibcPath {
		return libcFunc{}, false
	}
	return lookupLibc(fn.Name())
}

func (l *lowerer) call(v *ssa.Call) {
	c := v.Common()
	if c.IsInvoke() {
		l.fail("interface method call %s is not supported", c.Method.Name())
	}
	if b, ok := c.Value.(*ssa.Builtin); ok {
		l.builtin(b, c.Args)
		return
	}

	if fn, ok := c.Value.(*ssa.Function); ok && fn.Pkg != nil && fn.Pkg.Pkg.Path() == LibcPath && fn.Name() == "init" {
		return
	}

	var callee ir.Value
	var args []ir.Value
	if lf, ok := l.libcCallee(c); ok {
		callee = lf.declare(l.mod)
		n := len(lf.params)
		args = l.args(c.Args[:n])
		if lf.variadic {
			args = append(args, l.unpack(c.Args[n])...)
		}
	} else {
		callee = l.value(c.Value)
		args = l.args(c.Args)
	}
	if len(args) > bytecode.MaxCallArgs {
		l.fail("call passes %d arguments, at most %d are supported", len(args), bytecode.MaxCallArgs)
	}
	in := l.b.Call(l.resultType(c.Signature()), callee, args...)
	if in.HasValue() {
		l.values[v] = in
	}
}

func (l *lowerer) args(vals []ssa.Value) []ir.Value {
	out := make([]ir.Value, len(vals))
	for i, a := range vals {
		if !ir.IsScalar(l.irType(a.Type())) {
			l.fail("passing %s by value is not supported", a.Type())
		}
		out[i] = l.value(a)
	}
	return out
}

func (l *lowerer) unpack(s ssa.Value) []ir.Value {
	if k, ok := s.(*ssa.Const); ok && k.Value == nil {
		return nil
	}
	if sl, ok := s.(*ssa.Slice); ok {
		if vals, ok := l.packs[sl]; ok {
			return l.args(vals)
		}
	}
	l.fail("variadic arguments of libc routines must be listed at the call")
	return nil
}

func (l *lowerer) builtin(b *ssa.Builtin, args []ssa.Value) {
	switch b.Name() {
	case "println", "print":
		l.print(args, b.Name() == "println")
	default:
		l.fail("builtin %s is not supported", b.Name())
	}
}

// print lowers println and print onto printf, splitting long argument
// lists across several calls.
func (l *lowerer) print(args []ssa.Value, newline bool) {
	printf := l.native("printf")
	var format strings.Builder
	var vals []ir.Value
	flush := func() {
		if format.Len() == 0 {
			return
		}
		l.b.Call(nil, printf, append([]ir.Value{ir.CString(format.String())}, vals...)...)
		format.Reset()
		vals = vals[:0]
	}
	for i, a := range args {
		if i > 0 && newline {
			format.WriteByte(' ')
		}
		t := a.Type()
		x := l.value(a)
		switch {
		case isBool(t):
			format.WriteString("%s")
			x = l.b.Select(x, ir.CString("true"), ir.CString("false"))
		case isFloat(t):
			format.WriteString("%e")
		case isString(t):
			format.WriteString("%s")
		case isInteger(t) && isSigned(t):
			format.WriteString("%ld")
			x = l.widen(a)
		case isInteger(t):
			format.WriteString("%lu")
		case isPointerLike(t):
			format.WriteString("%p")
		default:
			l.fail("cannot print a value of type %s", t)
		}
		vals = append(vals, x)
		if len(vals) == bytecode.MaxCallArgs-1 {
			flush()
		}
	}
	if newline {
		format.WriteByte('\n')
	}
	flush()
}
