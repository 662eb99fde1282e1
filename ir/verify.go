package ir

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every verification failure.
var ErrMalformed = errors.New("malformed IR")

// Verify checks the structural rules the code generator relies on: every
// block ends in exactly one terminator, phis lead their block and name
// only predecessors, and operands are present.
func Verify(m *Module) error {
	var errs []error
	for _, f := range m.Funcs {
		if f.External() {
			continue
		}
		for _, b := range f.Blocks {
			if err := verifyBlock(f, b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func verifyBlock(f *Function, b *Block) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s/%s: %s", ErrMalformed, f.Name, b.Name, fmt.Sprintf(format, args...))
	}
	if b.Terminator() == nil {
		return bad("block does not end in a terminator")
	}
	inPhis := true
	for i, in := range b.Instrs {
		if in.Op.IsTerminator() && i != len(b.Instrs)-1 {
			return bad("terminator %s before end of block", in.Op)
		}
		if in.Op == OpPhi {
			if !inPhis {
				return bad("phi %s after non-phi instruction", in)
			}
			for _, e := range in.Edges {
				if !isPred(f, b, e) {
					return bad("phi %s names %s, which is not a predecessor", in, e.Name)
				}
			}
		} else {
			inPhis = false
		}
		for j, a := range in.Args {
			if a == nil {
				return bad("%s operand %d is nil", in.Op, j)
			}
		}
		if want := arity(in); want >= 0 && len(in.Args) != want {
			return bad("%s has %d operands, want %d", in.Op, len(in.Args), want)
		}
		if in.Op == OpSwitch && len(in.Succs) != len(in.Cases)+1 {
			return bad("switch has %d targets for %d cases", len(in.Succs), len(in.Cases))
		}
	}
	return nil
}

func arity(in *Instr) int {
	switch in.Op {
	case OpAlloca, OpJump, OpUnreachable:
		return 0
	case OpLoad, OpCast, OpBranch, OpSwitch:
		return 1
	case OpStore, OpBinary, OpCompare:
		return 2
	case OpSelect:
		return 3
	case OpAddress:
		return len(in.Sizes) + 1
	}
	return -1
}

func isPred(f *Function, b, p *Block) bool {
	for _, q := range f.blockPreds(b) {
		if q == p {
			return true
		}
	}
	return false
}

// blockPreds computes predecessors directly so Verify does not depend on
// Seal having run.
func (f *Function) blockPreds(b *Block) []*Block {
	var preds []*Block
	for _, q := range f.Blocks {
		for _, s := range q.Succs() {
			if s == b {
				preds = append(preds, q)
				break
			}
		}
	}
	return preds
}
