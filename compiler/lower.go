package compiler

import (
	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/ir"
)

// Integers narrower than 64 bits are kept zero-extended in registers.
// Signed operations on them sign-extend their operands first.

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// isSlot reports whether v is frame storage created by an alloca.
func isSlot(v ir.Value) bool {
	in, ok := v.(*ir.Instr)
	return ok && in.Op == ir.OpAlloca
}

// isDirect reports whether v is a scalar alloca whose register holds the
// stored value itself.
func isDirect(v ir.Value) bool {
	in, ok := v.(*ir.Instr)
	return ok && in.Op == ir.OpAlloca && ir.IsScalar(in.Alloc)
}

// operandInternal puts v in a register without taking slot addresses.
func (c *Compiler) operandInternal(v ir.Value) {
	switch v := v.(type) {
	case *ir.Global:
		r := c.newReg()
		c.out.GetGlobal(Mangle(v.Name), r)
		c.result = r
	case *ir.Function:
		r := c.newReg()
		c.out.GetGlobal(Mangle(v.Name), r)
		c.result = r
	case ir.Const:
		c.constant(v)
	default:
		r, ok := c.locals[v]
		if !ok {
			c.fail(ErrUnsupported, "value %s has no register", v)
		}
		c.result = r
	}
}

// operand puts v in a register. Allocas evaluate to the address of their
// storage.
func (c *Compiler) operand(v ir.Value) {
	c.operandInternal(v)
	if isSlot(v) {
		slot := c.result
		c.result = c.newReg()
		c.out.AddressOf(c.result, slot)
	}
}

// secondOperand applies op to dst and y, using the immediate form for
// literals. With sext, y is sign-extended from bits first.
func (c *Compiler) secondOperand(op bytecode.Opcode, dst byte, y ir.Value, sext bool, bits int) {
	switch k := y.(type) {
	case *ir.IntConst:
		if sext {
			c.out.RegImm(op, dst, k.V)
		} else {
			c.out.RegImm(op, dst, int64(uint64(k.V)&k.Typ.Mask()))
		}
		return
	case *ir.FloatConst:
		c.out.RegFloat(op, dst, k.V)
		return
	case *ir.NullConst:
		c.out.RegImm(op, dst, 0)
		return
	}
	c.operand(y)
	r := c.result
	if sext {
		t := c.newReg()
		c.signExtend(t, r, bits)
		r = t
	}
	c.out.RegReg(op, dst, r)
}

// signExtend sets dst to src sign-extended from its low bits.
func (c *Compiler) signExtend(dst, src byte, bits int) {
	c.out.RegReg(bytecode.OpMOV, dst, src)
	if bits >= 64 {
		return
	}
	c.out.RegImm(bytecode.OpSHL, dst, int64(64-bits))
	c.out.RegImm(bytecode.OpASHR, dst, int64(64-bits))
}

// maskInPlace truncates register r to the width of t.
func (c *Compiler) maskInPlace(r byte, t ir.Type) {
	if it, ok := t.(*ir.IntType); ok && it.Bits < 64 {
		c.out.RegImm(bytecode.OpAND, r, int64(it.Mask()))
	}
}

// castTo truncates the current result to the width of t, copying it to a
// new register first.
func (c *Compiler) castTo(t ir.Type) {
	it, ok := t.(*ir.IntType)
	if !ok || it.Bits >= 64 {
		return
	}
	r := c.newReg()
	c.out.RegReg(bytecode.OpMOV, r, c.result)
	c.out.RegImm(bytecode.OpAND, r, int64(it.Mask()))
	c.result = r
}

func intBits(t ir.Type) int {
	if it, ok := t.(*ir.IntType); ok {
		return it.Bits
	}
	return 64
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (c *Compiler) instr(in *ir.Instr) {
	switch in.Op {
	case ir.OpLoad:
		c.load(in)
	case ir.OpStore:
		c.store(in)
	case ir.OpBinary:
		c.binary(in.Bin, in.Args[0], in.Args[1], in.Type())
	case ir.OpCompare:
		c.compare(in.Pred, in.Args[0], in.Args[1])
	case ir.OpCast:
		c.cast(in.Cast, in.Args[0], in.Type())
	case ir.OpSelect:
		c.selectValue(in.Args[0], in.Args[1], in.Args[2])
	case ir.OpAddress:
		c.address(in.Args[0], in.Indices())
	case ir.OpCall:
		c.call(in)
	default:
		c.fail(ErrUnsupported, "instruction %s", in.Op)
	}
}

// alloca zeroes the storage of a frame slot. Entry-block slots of a
// function whose entry is never re-entered start zeroed with the frame.
func (c *Compiler) alloca(in *ir.Instr) {
	if b := in.Block; b != nil && b == c.fn.Entry() && len(b.Preds()) == 0 {
		return
	}
	base := c.locals[in]
	for i := 0; i < words(in.Alloc); i++ {
		c.out.RegImm(bytecode.OpMOV, base+byte(i), 0)
	}
}

func (c *Compiler) load(in *ir.Instr) {
	ptr := in.Args[0]
	if isDirect(ptr) {
		c.operandInternal(ptr)
		return
	}
	bits := ir.Bits(in.Type())
	if bits == 0 {
		c.fail(ErrUnsupported, "load of non-scalar type %s", in.Type())
	}
	c.operand(ptr)
	p := c.result
	dst := c.newReg()
	_ = c.out.Load(bits, dst, p)
	c.result = dst
}

func (c *Compiler) store(in *ir.Instr) {
	v, ptr := in.Args[0], in.Args[1]
	c.operand(v)
	val := c.result
	if isDirect(ptr) {
		c.operandInternal(ptr)
		c.out.RegReg(bytecode.OpMOV, c.result, val)
		return
	}
	bits := ir.Bits(v.Type())
	if bits == 0 {
		c.fail(ErrUnsupported, "store of non-scalar type %s", v.Type())
	}
	c.operand(ptr)
	_ = c.out.Store(bits, c.result, val)
}

var binOpcodes = map[ir.BinOp]bytecode.Opcode{
	ir.Add:  bytecode.OpIADD,
	ir.Sub:  bytecode.OpISUB,
	ir.Mul:  bytecode.OpSMUL,
	ir.SDiv: bytecode.OpSDIV,
	ir.UDiv: bytecode.OpUDIV,
	ir.SRem: bytecode.OpSREM,
	ir.URem: bytecode.OpUREM,
	ir.And:  bytecode.OpAND,
	ir.Or:   bytecode.OpOR,
	ir.Xor:  bytecode.OpXOR,
	ir.Shl:  bytecode.OpSHL,
	ir.LShr: bytecode.OpLSHR,
	ir.AShr: bytecode.OpASHR,
	ir.FAdd: bytecode.OpFADD,
	ir.FSub: bytecode.OpFSUB,
	ir.FMul: bytecode.OpFMUL,
	ir.FDiv: bytecode.OpFDIV,
	ir.FRem: bytecode.OpFREM,
}

var predOpcodes = map[ir.Predicate]bytecode.Opcode{
	ir.EQ:  bytecode.OpEQ,
	ir.NE:  bytecode.OpNE,
	ir.SLT: bytecode.OpSLT,
	ir.SLE: bytecode.OpSLE,
	ir.SGT: bytecode.OpSGT,
	ir.SGE: bytecode.OpSGE,
	ir.ULT: bytecode.OpULT,
	ir.ULE: bytecode.OpULE,
	ir.UGT: bytecode.OpUGT,
	ir.UGE: bytecode.OpUGE,
	ir.FEQ: bytecode.OpFEQ,
	ir.FNE: bytecode.OpFNE,
	ir.FLT: bytecode.OpFLT,
	ir.FLE: bytecode.OpFLE,
	ir.FGT: bytecode.OpFGT,
	ir.FGE: bytecode.OpFGE,
}

func isAllOnes(v ir.Value) bool {
	k, ok := v.(*ir.IntConst)
	return ok && uint64(k.V)&k.Typ.Mask() == k.Typ.Mask()
}

// binary computes x op y of type t into a fresh register.
func (c *Compiler) binary(op ir.BinOp, x, y ir.Value, t ir.Type) {
	opc, ok := binOpcodes[op]
	if !ok {
		c.fail(ErrUnsupported, "binary operator %s", op)
	}
	bits := intBits(t)
	if op == ir.Xor && isAllOnes(y) {
		c.operand(x)
		dst := c.newReg()
		c.out.RegReg(bytecode.OpMOV, dst, c.result)
		c.out.Not(dst)
		c.maskInPlace(dst, t)
		c.result = dst
		return
	}

	signed := (op == ir.SDiv || op == ir.SRem || op == ir.AShr) && bits < 64
	c.operand(x)
	a := c.result
	dst := c.newReg()
	if signed {
		c.signExtend(dst, a, bits)
	} else {
		c.out.RegReg(bytecode.OpMOV, dst, a)
	}
	c.secondOperand(opc, dst, y, signed && op != ir.AShr, bits)
	c.maskInPlace(dst, t)
	c.result = dst
}

// compare computes x pred y as 0 or 1.
func (c *Compiler) compare(p ir.Predicate, x, y ir.Value) {
	opc, ok := predOpcodes[p]
	if !ok {
		c.fail(ErrUnsupported, "predicate %s", p)
	}
	bits := intBits(x.Type())
	sext := p.Signed() && bits < 64
	c.operand(x)
	a := c.result
	dst := c.newReg()
	if sext {
		c.signExtend(dst, a, bits)
	} else {
		c.out.RegReg(bytecode.OpMOV, dst, a)
	}
	c.secondOperand(opc, dst, y, sext, bits)
	c.result = dst
}

// Conversions between integers and doubles have no opcode; they call
// these natives.
const (
	nativeSIToFP = "__sitofp"
	nativeUIToFP = "__uitofp"
	nativeFPToSI = "__fptosi"
	nativeFPToUI = "__fptoui"
)

func (c *Compiler) callNative(name string, arg byte) {
	f := c.newReg()
	c.out.GetGlobal(name, f)
	_ = c.out.Call(f, []byte{arg})
	c.result = f
}

func (c *Compiler) cast(op ir.CastOp, x ir.Value, to ir.Type) {
	c.operand(x)
	src := c.result
	from := intBits(x.Type())
	switch op {
	case ir.Trunc, ir.ZExt, ir.PtrToInt, ir.IntToPtr, ir.Bitcast:
		if intBits(to) < from {
			c.castTo(to)
		}
	case ir.SExt:
		dst := c.newReg()
		c.signExtend(dst, src, from)
		c.maskInPlace(dst, to)
		c.result = dst
	case ir.SIToFP:
		if from < 64 {
			t := c.newReg()
			c.signExtend(t, src, from)
			src = t
		}
		c.callNative(nativeSIToFP, src)
	case ir.UIToFP:
		c.callNative(nativeUIToFP, src)
	case ir.FPToSI:
		c.callNative(nativeFPToSI, src)
		c.maskInPlace(c.result, to)
	case ir.FPToUI:
		c.callNative(nativeFPToUI, src)
		c.maskInPlace(c.result, to)
	default:
		c.fail(ErrUnsupported, "cast %s", op)
	}
}

// selectValue picks t or f on cond with a local two-way branch.
func (c *Compiler) selectValue(cond, t, f ir.Value) {
	c.operand(cond)
	cr := c.result
	dst := c.newReg()
	jz := c.out.JumpZero(cr)
	c.operand(t)
	c.out.RegReg(bytecode.OpMOV, dst, c.result)
	jmp := c.out.Jump()
	c.out.Resolve(jz)
	c.operand(f)
	c.out.RegReg(bytecode.OpMOV, dst, c.result)
	c.out.Resolve(jmp)
	c.result = dst
}

// address computes base + sum(index * size).
func (c *Compiler) address(base ir.Value, idx []ir.Index) {
	c.operand(base)
	dst := c.newReg()
	c.out.RegReg(bytecode.OpMOV, dst, c.result)
	for _, ix := range idx {
		if ix.Size == 0 {
			continue
		}
		if k, ok := ix.Value.(*ir.IntConst); ok {
			if off := k.V * ix.Size; off != 0 {
				c.out.RegImm(bytecode.OpIADD, dst, off)
			}
			continue
		}
		c.operand(ix.Value)
		r := c.result
		bits := intBits(ix.Value.Type())
		if ix.Size == 1 && bits >= 64 {
			c.out.RegReg(bytecode.OpIADD, dst, r)
			continue
		}
		t := c.newReg()
		c.signExtend(t, r, bits)
		if ix.Size != 1 {
			c.out.RegImm(bytecode.OpUMUL, t, ix.Size)
		}
		c.out.RegReg(bytecode.OpIADD, dst, t)
	}
	c.result = dst
}

func (c *Compiler) call(in *ir.Instr) {
	callee, args := in.Args[0], in.Args[1:]
	if len(args) > bytecode.MaxCallArgs {
		c.fail(ErrArity, "call of %s with %d arguments", callee, len(args))
	}
	var dst byte
	if f, ok := callee.(*ir.Function); ok {
		dst = c.newReg()
		c.out.GetGlobal(Mangle(f.Name), dst)
	} else {
		c.operand(callee)
		r := c.result
		dst = c.newReg()
		c.out.RegReg(bytecode.OpMOV, dst, r)
	}
	regs := make([]byte, len(args))
	for i, a := range args {
		c.operand(a)
		r := c.result
		if i < len(in.ByVal) && in.ByVal[i] {
			t := c.newReg()
			_ = c.out.Load(64, t, r)
			r = t
		}
		regs[i] = r
	}
	_ = c.out.Call(dst, regs)
	c.result = dst
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func (c *Compiler) constant(k ir.Const) {
	switch k := k.(type) {
	case *ir.IntConst:
		v := int64(uint64(k.V) & k.Typ.Mask())
		if k.Typ.Bits == 1 && k.V != 0 {
			v = 1
		}
		r := c.newReg()
		c.out.RegImm(bytecode.OpMOV, r, v)
		c.result = r
	case *ir.FloatConst:
		r := c.newReg()
		c.out.RegFloat(bytecode.OpMOV, r, k.V)
		c.result = r
	case *ir.StringConst:
		r := c.newReg()
		c.out.ConstString(k.Data, r)
		c.result = r
	case *ir.NullConst, *ir.UndefConst:
		r := c.newReg()
		c.out.RegImm(bytecode.OpMOV, r, 0)
		c.result = r
	case *ir.Global, *ir.Function:
		c.operandInternal(k)
	case *ir.BinaryConst:
		c.binary(k.Op, k.X, k.Y, k.Type())
	case *ir.CompareConst:
		c.compare(k.Pred, k.X, k.Y)
	case *ir.CastConst:
		c.cast(k.Op, k.X, k.To)
	case *ir.AddressConst:
		c.address(k.Base, k.Indices)
	case *ir.SelectConst:
		c.selectValue(k.Cond, k.T, k.F)
	default:
		c.fail(ErrConstant, "%T", k)
	}
}

// ---------------------------------------------------------------------------
// Terminators
// ---------------------------------------------------------------------------

func (c *Compiler) terminator(b *ir.Block, t *ir.Instr) {
	switch t.Op {
	case ir.OpJump:
		c.phiCopies(b, t.Succs[0])
		c.branchTo(t.Succs[0])
	case ir.OpBranch:
		c.operand(t.Args[0])
		jz := c.out.JumpZero(c.result)
		c.phiCopies(b, t.Succs[0])
		c.branchTo(t.Succs[0])
		jmp := c.out.Jump()
		c.out.Resolve(jz)
		c.phiCopies(b, t.Succs[1])
		c.branchTo(t.Succs[1])
		c.out.Resolve(jmp)
	case ir.OpSwitch:
		c.switchOn(b, t)
	case ir.OpReturn:
		if len(t.Args) == 0 {
			c.out.Leave()
			return
		}
		if k, ok := t.Args[0].(*ir.IntConst); ok {
			c.out.RetImm(int64(uint64(k.V) & k.Typ.Mask()))
			return
		}
		c.operand(t.Args[0])
		c.out.Ret(c.result)
	case ir.OpUnreachable:
		c.out.Leave()
	default:
		c.fail(ErrUnsupported, "terminator %s", t.Op)
	}
}

// switchOn tests the scrutinee against each case in turn.
func (c *Compiler) switchOn(b *ir.Block, t *ir.Instr) {
	c.operand(t.Args[0])
	s := c.result
	mask := ^uint64(0)
	if it, ok := t.Args[0].Type().(*ir.IntType); ok {
		mask = it.Mask()
	}
	for i, k := range t.Cases {
		r := c.newReg()
		c.out.RegReg(bytecode.OpMOV, r, s)
		c.out.RegImm(bytecode.OpEQ, r, int64(uint64(k)&mask))
		jz := c.out.JumpZero(r)
		c.phiCopies(b, t.Succs[i])
		c.branchTo(t.Succs[i])
		c.out.Resolve(jz)
	}
	def := t.Succs[len(t.Cases)]
	c.phiCopies(b, def)
	c.branchTo(def)
}

// phiCopies moves the values flowing from b into the phis of succ. When a
// phi reads another phi of succ the copies go through temporaries so every
// source is read before any destination is written.
func (c *Compiler) phiCopies(b, succ *ir.Block) {
	type move struct {
		dst byte
		v   ir.Value
	}
	var moves []move
	parallel := false
	for _, p := range succ.Phis() {
		v := p.Incoming(b)
		if v == nil {
			c.fail(ErrUnsupported, "phi %s has no value for predecessor %s", p, b.Name)
		}
		if _, undef := v.(*ir.UndefConst); undef || ir.IsVoid(v.Type()) {
			continue
		}
		if in, ok := v.(*ir.Instr); ok && in.Op == ir.OpPhi && in.Block == succ && in != p {
			parallel = true
		}
		moves = append(moves, move{dst: c.locals[p], v: v})
	}
	if !parallel {
		for _, m := range moves {
			c.operand(m.v)
			c.move(m.dst, c.result)
		}
		return
	}
	tmps := make([]byte, len(moves))
	for i, m := range moves {
		c.operand(m.v)
		tmps[i] = c.newReg()
		c.out.RegReg(bytecode.OpMOV, tmps[i], c.result)
	}
	for i, m := range moves {
		c.out.RegReg(bytecode.OpMOV, m.dst, tmps[i])
	}
}
