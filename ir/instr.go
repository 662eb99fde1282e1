package ir

import (
	"fmt"
	"strings"
)

// Op identifies an instruction kind.
type Op int

const (
	OpAlloca Op = iota
	OpLoad
	OpStore
	OpBinary
	OpCompare
	OpCast
	OpSelect
	OpAddress
	OpCall
	OpPhi

	// Terminators
	OpJump
	OpBranch
	OpSwitch
	OpReturn
	OpUnreachable
)

var opNames = [...]string{
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpBinary:      "binary",
	OpCompare:     "cmp",
	OpCast:        "cast",
	OpSelect:      "select",
	OpAddress:     "addr",
	OpCall:        "call",
	OpPhi:         "phi",
	OpJump:        "jmp",
	OpBranch:      "br",
	OpSwitch:      "switch",
	OpReturn:      "ret",
	OpUnreachable: "unreachable",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	return op >= OpJump
}

// BinOp is an arithmetic or bitwise operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	And
	Or
	Xor
	Shl
	LShr
	AShr
	FAdd
	FSub
	FMul
	FDiv
	FRem
)

var binOpNames = [...]string{
	"add", "sub", "mul", "sdiv", "udiv", "srem", "urem", "and", "or", "xor",
	"shl", "lshr", "ashr", "fadd", "fsub", "fmul", "fdiv", "frem",
}

func (op BinOp) String() string { return binOpNames[op] }

// Predicate is a comparison.
type Predicate int

const (
	EQ Predicate = iota
	NE
	SLT
	SLE
	SGT
	SGE
	ULT
	ULE
	UGT
	UGE
	FEQ
	FNE
	FLT
	FLE
	FGT
	FGE
)

var predNames = [...]string{
	"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge",
	"feq", "fne", "flt", "fle", "fgt", "fge",
}

func (p Predicate) String() string { return predNames[p] }

// Signed reports whether p compares integers as signed.
func (p Predicate) Signed() bool {
	return p >= SLT && p <= SGE
}

// CastOp is a conversion.
type CastOp int

const (
	Trunc CastOp = iota
	ZExt
	SExt
	FPToUI
	FPToSI
	UIToFP
	SIToFP
	PtrToInt
	IntToPtr
	Bitcast
)

var castNames = [...]string{
	"trunc", "zext", "sext", "fptoui", "fptosi", "uitofp", "sitofp",
	"ptrtoint", "inttoptr", "bitcast",
}

func (op CastOp) String() string { return castNames[op] }

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is one instruction. Operand layout by Op:
//
//	alloca      Alloc is the allocated type; the result is its address
//	load        Args[0] pointer; Typ is the loaded type
//	store       Args[0] value, Args[1] pointer
//	binary      Args[0] op Args[1]
//	cmp         Args[0] pred Args[1]
//	cast        Args[0]; Typ is the destination type
//	select      Args[0] ? Args[1] : Args[2]
//	addr        Args[0] base; Args[i+1] scaled by Sizes[i]
//	call        Args[0] callee; Args[1:] arguments
//	phi         Args[i] incoming from Edges[i]
//	jmp         Succs[0]
//	br          Args[0] ? Succs[0] : Succs[1]
//	switch      Args[0] == Cases[i] -> Succs[i]; default Succs[len(Cases)]
//	ret         optional Args[0]
type Instr struct {
	Op   Op
	Typ  Type
	Name string
	Args []Value

	Bin   BinOp
	Pred  Predicate
	Cast  CastOp
	Alloc Type
	Sizes []int64
	ByVal []bool
	Edges []*Block
	Cases []int64
	Succs []*Block

	Block *Block
}

func (in *Instr) Type() Type {
	if in.Typ == nil {
		return Void
	}
	return in.Typ
}

func (in *Instr) String() string {
	return "%" + in.Name
}

// HasValue reports whether the instruction produces a value.
func (in *Instr) HasValue() bool {
	return !IsVoid(in.Type())
}

// AddIncoming adds a phi edge.
func (in *Instr) AddIncoming(v Value, from *Block) {
	in.Args = append(in.Args, v)
	in.Edges = append(in.Edges, from)
}

// Incoming returns the phi's value for predecessor b, or nil.
func (in *Instr) Incoming(b *Block) Value {
	for i, e := range in.Edges {
		if e == b {
			return in.Args[i]
		}
	}
	return nil
}

// Indices returns the scaled indices of an addr instruction.
func (in *Instr) Indices() []Index {
	idx := make([]Index, len(in.Sizes))
	for i, s := range in.Sizes {
		idx[i] = Index{Value: in.Args[i+1], Size: s}
	}
	return idx
}

// Format renders the instruction on one line.
func (in *Instr) Format() string {
	var sb strings.Builder
	if in.HasValue() {
		fmt.Fprintf(&sb, "%s = ", in)
	}
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}
	switch in.Op {
	case OpAlloca:
		fmt.Fprintf(&sb, "alloca %s", in.Alloc)
	case OpLoad:
		fmt.Fprintf(&sb, "load %s, %s", in.Typ, args[0])
	case OpStore:
		fmt.Fprintf(&sb, "store %s, %s", args[0], args[1])
	case OpBinary:
		fmt.Fprintf(&sb, "%s %s %s, %s", in.Bin, in.Typ, args[0], args[1])
	case OpCompare:
		fmt.Fprintf(&sb, "cmp %s %s, %s", in.Pred, args[0], args[1])
	case OpCast:
		fmt.Fprintf(&sb, "%s %s to %s", in.Cast, args[0], in.Typ)
	case OpSelect:
		fmt.Fprintf(&sb, "select %s, %s, %s", args[0], args[1], args[2])
	case OpAddress:
		fmt.Fprintf(&sb, "addr %s%s", args[0], indexList(in.Indices()))
	case OpCall:
		fmt.Fprintf(&sb, "call %s(%s)", args[0], strings.Join(args[1:], ", "))
	case OpPhi:
		edges := make([]string, len(in.Args))
		for i := range in.Args {
			edges[i] = fmt.Sprintf("[%s, %s]", args[i], in.Edges[i].Name)
		}
		fmt.Fprintf(&sb, "phi %s %s", in.Typ, strings.Join(edges, ", "))
	case OpJump:
		fmt.Fprintf(&sb, "jmp %s", in.Succs[0].Name)
	case OpBranch:
		fmt.Fprintf(&sb, "br %s, %s, %s", args[0], in.Succs[0].Name, in.Succs[1].Name)
	case OpSwitch:
		fmt.Fprintf(&sb, "switch %s", args[0])
		for i, c := range in.Cases {
			fmt.Fprintf(&sb, " [%d, %s]", c, in.Succs[i].Name)
		}
		fmt.Fprintf(&sb, " default %s", in.Succs[len(in.Cases)].Name)
	case OpReturn:
		sb.WriteString("ret")
		if len(args) > 0 {
			sb.WriteString(" " + args[0])
		}
	case OpUnreachable:
		sb.WriteString("unreachable")
	}
	return sb.String()
}
