package ir

// Builder appends instructions to a current block.
type Builder struct {
	fn  *Function
	blk *Block
}

// NewBuilder returns a builder for fn positioned at no block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

// Func returns the function being built.
func (b *Builder) Func() *Function { return b.fn }

// Block returns the current block.
func (b *Builder) Block() *Block { return b.blk }

// SetBlock moves the insertion point to the end of blk.
func (b *Builder) SetBlock(blk *Block) { b.blk = blk }

// Terminated reports whether the current block already ends in a
// terminator.
func (b *Builder) Terminated() bool {
	return b.blk == nil || b.blk.Terminator() != nil
}

func (b *Builder) insert(in *Instr) *Instr {
	if b.blk == nil {
		panic("ir: builder has no current block")
	}
	in.Block = b.blk
	b.blk.Instrs = append(b.blk.Instrs, in)
	return in
}

// Alloca reserves frame storage for a value of type t.
func (b *Builder) Alloca(t Type) *Instr {
	return b.insert(&Instr{Op: OpAlloca, Typ: &PointerType{Elem: t}, Alloc: t})
}

// Load reads a value of type t from ptr.
func (b *Builder) Load(t Type, ptr Value) *Instr {
	return b.insert(&Instr{Op: OpLoad, Typ: t, Args: []Value{ptr}})
}

// Store writes v to ptr.
func (b *Builder) Store(v, ptr Value) *Instr {
	return b.insert(&Instr{Op: OpStore, Typ: Void, Args: []Value{v, ptr}})
}

// Binary applies op to x and y. The result has x's type.
func (b *Builder) Binary(op BinOp, x, y Value) *Instr {
	return b.insert(&Instr{Op: OpBinary, Typ: x.Type(), Bin: op, Args: []Value{x, y}})
}

// Compare compares x and y, producing an i1.
func (b *Builder) Compare(p Predicate, x, y Value) *Instr {
	return b.insert(&Instr{Op: OpCompare, Typ: I1, Pred: p, Args: []Value{x, y}})
}

// Cast converts v to type to.
func (b *Builder) Cast(op CastOp, v Value, to Type) *Instr {
	return b.insert(&Instr{Op: OpCast, Typ: to, Cast: op, Args: []Value{v}})
}

// Select picks t when c is non-zero, f otherwise.
func (b *Builder) Select(c, t, f Value) *Instr {
	return b.insert(&Instr{Op: OpSelect, Typ: t.Type(), Args: []Value{c, t, f}})
}

// Address computes base plus the sum of scaled indices.
func (b *Builder) Address(base Value, idx ...Index) *Instr {
	in := &Instr{Op: OpAddress, Typ: Ptr, Args: []Value{base}}
	for _, i := range idx {
		in.Args = append(in.Args, i.Value)
		in.Sizes = append(in.Sizes, i.Size)
	}
	return b.insert(in)
}

// Call calls callee with args. The result type is taken from the callee's
// signature when known, otherwise from result.
func (b *Builder) Call(result Type, callee Value, args ...Value) *Instr {
	if f, ok := callee.(*Function); ok {
		result = f.Result
	}
	if result == nil {
		result = Void
	}
	in := &Instr{Op: OpCall, Typ: result, Args: append([]Value{callee}, args...)}
	in.ByVal = make([]bool, len(args))
	return b.insert(in)
}

// Phi creates an empty phi of type t. Phis must precede other instructions
// in their block.
func (b *Builder) Phi(t Type) *Instr {
	return b.insert(&Instr{Op: OpPhi, Typ: t})
}

// Jump ends the block with an unconditional branch.
func (b *Builder) Jump(to *Block) *Instr {
	return b.insert(&Instr{Op: OpJump, Typ: Void, Succs: []*Block{to}})
}

// Branch ends the block with a two-way branch on c.
func (b *Builder) Branch(c Value, t, f *Block) *Instr {
	return b.insert(&Instr{Op: OpBranch, Typ: Void, Args: []Value{c}, Succs: []*Block{t, f}})
}

// Case is one arm of a switch.
type Case struct {
	Value  int64
	Target *Block
}

// Switch ends the block with a multi-way branch on v.
func (b *Builder) Switch(v Value, def *Block, cases ...Case) *Instr {
	in := &Instr{Op: OpSwitch, Typ: Void, Args: []Value{v}}
	for _, c := range cases {
		in.Cases = append(in.Cases, c.Value)
		in.Succs = append(in.Succs, c.Target)
	}
	in.Succs = append(in.Succs, def)
	return b.insert(in)
}

// Return ends the block, returning v. A nil v returns nothing.
func (b *Builder) Return(v Value) *Instr {
	in := &Instr{Op: OpReturn, Typ: Void}
	if v != nil {
		in.Args = []Value{v}
	}
	return b.insert(in)
}

// Unreachable ends a block that control never reaches the end of.
func (b *Builder) Unreachable() *Instr {
	return b.insert(&Instr{Op: OpUnreachable, Typ: Void})
}
