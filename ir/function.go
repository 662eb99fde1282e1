package ir

import (
	"fmt"
)

// Block is a basic block: a straight-line instruction sequence ending in
// one terminator.
type Block struct {
	Name   string
	Index  int
	Instrs []*Instr
	Func   *Function

	preds []*Block
}

// Terminator returns the block's last instruction if it is a terminator.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Succs returns the successor blocks.
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Succs
	}
	return nil
}

// Preds returns the predecessor blocks. Valid after Function.Seal.
func (b *Block) Preds() []*Block {
	return b.preds
}

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

func (b *Block) String() string { return b.Name }

// Function is a function definition or an external declaration. As a value
// it is the function's handle.
type Function struct {
	Name     string
	Params   []*Param
	Result   Type
	Variadic bool
	Blocks   []*Block

	// Loops is the loop nest of the body. Producers may fill it;
	// the code generator computes it when nil.
	Loops *LoopInfo

	Module *Module
}

// External reports whether f has no body.
func (f *Function) External() bool {
	return len(f.Blocks) == 0
}

// Signature returns f's function type.
func (f *Function) Signature() *FuncType {
	params := make([]Type, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Typ
	}
	return &FuncType{Params: params, Result: f.Result, Variadic: f.Variadic}
}

func (f *Function) Type() Type      { return f.Signature() }
func (f *Function) String() string { return "@" + f.Name }

// Entry returns the entry block, or nil for declarations.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddParam appends a parameter.
func (f *Function) AddParam(name string, t Type) *Param {
	p := &Param{Name: name, Typ: t, Index: len(f.Params)}
	f.Params = append(f.Params, p)
	return p
}

// NewBlock appends an empty block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, Index: len(f.Blocks), Func: f}
	if b.Name == "" {
		b.Name = fmt.Sprintf("b%d", b.Index)
	}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Seal renumbers blocks, computes predecessors and names unnamed values.
// It must run after the body is complete and before analysis.
func (f *Function) Seal() {
	for i, b := range f.Blocks {
		b.Index = i
		b.preds = b.preds[:0]
	}
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			s.preds = append(s.preds, b)
		}
	}
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			in.Block = b
			if in.HasValue() && in.Name == "" {
				in.Name = fmt.Sprintf("t%d", n)
				n++
			}
		}
	}
	f.Loops = nil
}

// Module is a compilation unit.
type Module struct {
	Name    string
	Globals []*Global
	Funcs   []*Function

	// Entry lists the functions the program calls at startup, in order.
	// Empty means "main".
	Entry []string
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction adds a function. It has no body until blocks are added.
func (m *Module) NewFunction(name string, result Type) *Function {
	f := &Function{Name: name, Result: result, Module: m}
	m.Funcs = append(m.Funcs, f)
	return f
}

// Declare returns the function called name, adding an external declaration
// if it does not exist.
func (m *Module) Declare(name string, result Type, variadic bool, params ...Type) *Function {
	if f := m.Func(name); f != nil {
		return f
	}
	f := m.NewFunction(name, result)
	f.Variadic = variadic
	for i, p := range params {
		f.AddParam(fmt.Sprintf("p%d", i), p)
	}
	return f
}

// NewGlobal adds a global variable.
func (m *Module) NewGlobal(name string, elem Type, init Const) *Global {
	g := &Global{Name: name, Elem: elem, Init: init}
	m.Globals = append(m.Globals, g)
	return g
}

// Func looks a function up by name.
func (m *Module) Func(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Global looks a global up by name.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// EntryPoints returns the startup functions.
func (m *Module) EntryPoints() []string {
	if len(m.Entry) == 0 {
		return []string{"main"}
	}
	return m.Entry
}
