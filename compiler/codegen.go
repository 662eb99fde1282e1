// Package compiler lowers an ir.Module into an RBVM instruction stream.
package compiler

import (
	"fmt"

	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/debuginfo"
	"github.com/chazu/rbvm/ir"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rbvm.compiler")

// ---------------------------------------------------------------------------
// Codegen: Lower IR to bytecode
// ---------------------------------------------------------------------------

// Program is a compiled instruction stream and its symbol table.
type Program struct {
	Code  []byte
	Debug *debuginfo.Table
}

// Compiler holds the state of one module compilation.
type Compiler struct {
	mod   *ir.Module
	out   *bytecode.Builder
	table *debuginfo.Table

	// Current function
	fn        *ir.Function
	loops     *ir.LoopInfo
	locals    map[ir.Value]byte // value -> register
	nextReg   int               // last allocated register
	result    byte              // register holding the last computed value
	blockPos  map[*ir.Block]int // block -> first byte
	postponed []postponedJump
	blocks    []debuginfo.Block
}

type postponedJump struct {
	fix    bytecode.Fixup
	target *ir.Block
}

// Compile lowers every defined function of m, then emits the module
// epilogue: global storage followed by calls to the entry points.
func Compile(m *ir.Module) (prog *Program, err error) {
	if verr := ir.Verify(m); verr != nil {
		return nil, &Error{Cause: ErrUnsupported, Msg: verr.Error()}
	}
	c := &Compiler{
		mod:   m,
		out:   bytecode.NewBuilder(),
		table: &debuginfo.Table{Version: debuginfo.CurrentVersion},
	}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()

	for _, f := range m.Funcs {
		if f.External() {
			continue
		}
		c.function(f)
	}
	c.fn = nil
	c.table.Entry = c.out.Len()
	c.epilogue()

	log.Debugf("compiled module %s: %d functions, %d bytes", m.Name, len(c.table.Funcs), c.out.Len())
	return &Program{Code: c.out.Bytes(), Debug: c.table}, nil
}

// fail aborts compilation.
func (c *Compiler) fail(cause error, format string, args ...any) {
	e := &Error{Cause: cause, Msg: fmt.Sprintf(format, args...)}
	if c.fn != nil {
		e.Func = c.fn.Name
	}
	panic(bailout{e})
}

// newReg allocates a fresh register.
func (c *Compiler) newReg() byte {
	return c.reserve(1)
}

// reserve allocates n consecutive registers and returns the first.
func (c *Compiler) reserve(n int) byte {
	first := c.nextReg + 1
	c.nextReg += n
	if c.nextReg > 255 {
		c.fail(ErrRegisters, "needs more than 255 registers")
	}
	return byte(first)
}

// words returns the number of registers backing storage of type t.
func words(t ir.Type) int {
	n := int((t.Size() + 7) / 8)
	if n < 1 {
		n = 1
	}
	return n
}

// ---------------------------------------------------------------------------
// Functions, blocks and loops
// ---------------------------------------------------------------------------

func (c *Compiler) function(f *ir.Function) {
	c.fn = f
	c.locals = make(map[ir.Value]byte)
	c.nextReg = 0
	c.result = 0
	c.blockPos = make(map[*ir.Block]int)
	c.postponed = nil
	c.blocks = nil

	if f.Loops == nil {
		f.Seal()
		f.Loops = ir.AnalyzeLoops(f)
	}
	c.loops = f.Loops

	decl := c.out.Len()
	h := c.out.FuncDecl(Mangle(f.Name), uint64(len(f.Params)))

	// Arguments get 1..n, then every value-producing instruction.
	for _, p := range f.Params {
		c.locals[p] = c.newReg()
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			switch {
			case in.Op == ir.OpAlloca:
				c.locals[in] = c.reserve(words(in.Alloc))
			case in.HasValue():
				c.locals[in] = c.newReg()
			}
		}
	}

	for _, b := range f.Blocks {
		if l := c.loops.LoopFor(b); l != nil {
			if l.Header == b && l.Parent == nil {
				c.loop(l)
			}
		} else {
			c.block(b)
		}
	}

	c.out.FixupDecl(h)
	for _, p := range c.postponed {
		pos, ok := c.blockPos[p.target]
		if !ok {
			c.fail(ErrUnsupported, "jump to block %s which was never emitted", p.target.Name)
		}
		c.out.ResolveTo(p.fix, pos)
	}

	c.table.Funcs = append(c.table.Funcs, debuginfo.Func{
		Name:   f.Name,
		Decl:   decl,
		Body:   h.BodyStart(),
		Len:    c.out.Len() - h.BodyStart(),
		Arity:  len(f.Params),
		Blocks: c.blocks,
	})
	log.Debugf("emitted %s: %d bytes, %d registers", f.Name, c.out.Len()-decl, c.nextReg)
}

// loop emits a loop's blocks contiguously, nested loops as units, and
// closes the loop with a jump back to its first instruction.
func (c *Compiler) loop(l *ir.Loop) {
	begin := c.out.Len()
	for _, b := range l.Blocks {
		bl := c.loops.LoopFor(b)
		if bl == l {
			c.block(b)
		} else if b == bl.Header && bl.Parent == l {
			c.loop(bl)
		}
	}
	c.out.JumpTo(begin)
}

func (c *Compiler) block(b *ir.Block) {
	pos := c.out.Len()
	c.blockPos[b] = pos
	c.blocks = append(c.blocks, debuginfo.Block{Name: b.Name, Offset: pos})

	body := b.Instrs[:len(b.Instrs)-1]
	for _, in := range body {
		switch in.Op {
		case ir.OpPhi:
			continue
		case ir.OpAlloca:
			c.alloca(in)
			continue
		}
		c.instr(in)
		if in.HasValue() {
			c.move(c.locals[in], c.result)
		}
	}
	c.terminator(b, b.Terminator())
}

// move copies src into dst unless they are the same register.
func (c *Compiler) move(dst, src byte) {
	if dst != src {
		c.out.RegReg(bytecode.OpMOV, dst, src)
	}
}

// branchTo emits a jump to succ, resolved once the function is complete.
func (c *Compiler) branchTo(succ *ir.Block) {
	c.postponed = append(c.postponed, postponedJump{fix: c.out.Postpone(), target: succ})
}

// ---------------------------------------------------------------------------
// Module epilogue
// ---------------------------------------------------------------------------

// epilogue binds storage for every global and calls the entry points.
// Scalar globals get an 8-byte cell, aggregates a zeroed (or string
// initialised) block of their size. Initialisers that refer to other
// globals are stored once every cell exists.
func (c *Compiler) epilogue() {
	var deferred []*ir.Global
	for _, g := range c.mod.Globals {
		if g.External {
			continue
		}
		c.nextReg = 0
		name := Mangle(g.Name)
		if !ir.IsScalar(g.Elem) {
			data := make([]byte, g.Elem.Size())
			switch init := g.Init.(type) {
			case nil:
			case *ir.StringConst:
				copy(data, init.Data)
			default:
				c.fail(ErrConstant, "initializer %s of aggregate global @%s", init, g.Name)
			}
			r := c.newReg()
			c.out.ConstString(data, r)
			c.out.SetGlobal(name, r)
			continue
		}
		v := c.newReg()
		if isLiteral(g.Init) {
			c.constant(g.Init)
			v = c.result
		} else {
			c.out.RegImm(bytecode.OpMOV, v, 0)
			if g.Init != nil {
				deferred = append(deferred, g)
			}
		}
		cell := c.newReg()
		c.out.Cell(cell, v)
		c.out.SetGlobal(name, cell)
	}

	for _, g := range deferred {
		c.nextReg = 0
		c.constant(g.Init)
		v := c.result
		p := c.newReg()
		c.out.GetGlobal(Mangle(g.Name), p)
		if err := c.out.Store(ir.Bits(g.Elem), p, v); err != nil {
			c.fail(ErrUnsupported, "global @%s: %v", g.Name, err)
		}
	}

	for _, name := range c.mod.EntryPoints() {
		c.out.GetGlobal(Mangle(name), 1)
		_ = c.out.Call(1, nil)
	}
}

// isLiteral reports whether k can be materialised without consulting the
// global table.
func isLiteral(k ir.Const) bool {
	switch k.(type) {
	case *ir.IntConst, *ir.FloatConst, *ir.NullConst, *ir.UndefConst, *ir.StringConst:
		return true
	}
	return false
}
