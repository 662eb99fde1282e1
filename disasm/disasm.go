// Package disasm decodes RBVM instruction streams without executing them.
package disasm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/debuginfo"
)

// ErrUnknownOpcode is returned for bytes outside the instruction set.
var ErrUnknownOpcode = errors.New("unknown opcode")

// DecodeError reports where decoding stopped.
type DecodeError struct {
	Pos int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("disasm: offset %04d: %v", e.Pos, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Pos int
	Len int
	Op  bytecode.Opcode

	// Imm is set for the immediate form of ambiguous, load, store and
	// return instructions; Value then holds the immediate or address.
	Imm   bool
	Value uint64

	Regs []byte
	Data []byte // FD name, GG/SG name or CSS payload

	NArgs   uint64 // FD
	BodyLen uint64 // FD
	Offset  int64  // jumps
}

// Target returns the absolute destination of a jump.
func (in Instruction) Target() int {
	return in.Pos + int(in.Offset)
}

// Decode decodes the instruction at pos.
func Decode(code []byte, pos int) (in Instruction, err error) {
	r := bytecode.NewReader(code)
	r.Seek(pos)
	in.Pos = pos
	defer func() {
		if p := recover(); p != nil {
			perr, ok := p.(error)
			if !ok || !errors.Is(perr, bytecode.ErrTruncated) {
				panic(p)
			}
			err = &DecodeError{Pos: pos, Err: bytecode.ErrTruncated}
		}
	}()

	in.Op = r.ReadOpcode()
	if !in.Op.Valid() {
		return in, &DecodeError{Pos: pos, Err: fmt.Errorf("%w %#02x", ErrUnknownOpcode, byte(in.Op))}
	}
	switch in.Op.Format() {
	case bytecode.FormatNone:
	case bytecode.FormatDecl:
		in.Data = r.ReadString()
		in.NArgs = r.ReadUint64()
		in.BodyLen = r.ReadUint64()
	case bytecode.FormatName:
		in.Data = r.ReadString()
		in.Regs = []byte{r.ReadByte()}
	case bytecode.FormatReg:
		in.Regs = []byte{r.ReadByte()}
	case bytecode.FormatRegReg:
		in.Regs = []byte{r.ReadByte(), r.ReadByte()}
	case bytecode.FormatAmbig, bytecode.FormatLoad:
		in.Imm = r.ReadByte() != 0
		in.Regs = []byte{r.ReadByte()}
		if in.Imm {
			in.Value = r.ReadUint64()
		} else {
			in.Regs = append(in.Regs, r.ReadByte())
		}
	case bytecode.FormatStore:
		in.Imm = r.ReadByte() != 0
		if in.Imm {
			in.Value = r.ReadUint64()
			in.Regs = []byte{r.ReadByte()}
		} else {
			in.Regs = []byte{r.ReadByte(), r.ReadByte()}
		}
	case bytecode.FormatJump:
		in.Offset = r.ReadInt64()
	case bytecode.FormatCondJump:
		in.Regs = []byte{r.ReadByte()}
		in.Offset = r.ReadInt64()
	case bytecode.FormatCall:
		in.Regs = append([]byte{r.ReadByte()}, r.ReadBytes(in.Op.CallArity())...)
	case bytecode.FormatRet:
		in.Imm = r.ReadByte() != 0
		if in.Imm {
			in.Value = r.ReadUint64()
		} else {
			in.Regs = []byte{r.ReadByte()}
		}
	}
	in.Len = r.Position() - pos
	return in, nil
}

// Walk decodes the stream from the start, calling fn for each instruction.
// Function bodies follow their declarations inline and are walked in
// place.
func Walk(code []byte, fn func(Instruction) error) error {
	for pos := 0; pos < len(code); {
		in, err := Decode(code, pos)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pos += in.Len
	}
	return nil
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func reg(r byte) string { return fmt.Sprintf("r%d", r) }

func (in Instruction) immediate() string {
	if in.Op.Info().Float {
		return "#" + fmt.Sprint(math.Float64frombits(in.Value))
	}
	return fmt.Sprintf("#%d", int64(in.Value))
}

// String renders the instruction without its position.
func (in Instruction) String() string {
	name := in.Op.Name()
	switch in.Op.Format() {
	case bytecode.FormatDecl:
		return fmt.Sprintf("%s %q nargs=%d len=%d", name, in.Data, in.NArgs, in.BodyLen)
	case bytecode.FormatName:
		return fmt.Sprintf("%s %q, %s", name, in.Data, reg(in.Regs[0]))
	case bytecode.FormatReg:
		return fmt.Sprintf("%s %s", name, reg(in.Regs[0]))
	case bytecode.FormatRegReg:
		return fmt.Sprintf("%s %s, %s", name, reg(in.Regs[0]), reg(in.Regs[1]))
	case bytecode.FormatAmbig:
		if in.Imm {
			return fmt.Sprintf("%s %s, %s", name, reg(in.Regs[0]), in.immediate())
		}
		return fmt.Sprintf("%s %s, %s", name, reg(in.Regs[0]), reg(in.Regs[1]))
	case bytecode.FormatLoad:
		if in.Imm {
			return fmt.Sprintf("%s %s, [%#x]", name, reg(in.Regs[0]), in.Value)
		}
		return fmt.Sprintf("%s %s, [%s]", name, reg(in.Regs[0]), reg(in.Regs[1]))
	case bytecode.FormatStore:
		if in.Imm {
			return fmt.Sprintf("%s [%#x], %s", name, in.Value, reg(in.Regs[0]))
		}
		return fmt.Sprintf("%s [%s], %s", name, reg(in.Regs[0]), reg(in.Regs[1]))
	case bytecode.FormatJump:
		return fmt.Sprintf("%s %+d (-> %04d)", name, in.Offset, in.Target())
	case bytecode.FormatCondJump:
		return fmt.Sprintf("%s %s, %+d (-> %04d)", name, reg(in.Regs[0]), in.Offset, in.Target())
	case bytecode.FormatCall:
		regs := make([]string, len(in.Regs))
		for i, r := range in.Regs {
			regs[i] = reg(r)
		}
		return name + " " + strings.Join(regs, ", ")
	case bytecode.FormatRet:
		if in.Imm {
			return fmt.Sprintf("%s %s", name, in.immediate())
		}
		return fmt.Sprintf("%s %s", name, reg(in.Regs[0]))
	}
	return name
}

// Listing writes one line per instruction. With a symbol table, function
// and block starts are labelled.
func Listing(w io.Writer, code []byte, table *debuginfo.Table) error {
	var cur *debuginfo.Func
	err := Walk(code, func(in Instruction) error {
		if table != nil {
			if f, ok := table.Lookup(in.Pos); ok && f.Decl == in.Pos {
				cur = f
				if _, err := fmt.Fprintf(w, "\n%s:\n", f.Name); err != nil {
					return err
				}
			}
			if cur != nil && in.Pos == table.Entry {
				cur = nil
				if _, err := fmt.Fprint(w, "\n<epilogue>:\n"); err != nil {
					return err
				}
			}
			if cur != nil {
				if name, ok := cur.BlockAt(in.Pos); ok {
					if _, err := fmt.Fprintf(w, "  .%s:\n", name); err != nil {
						return err
					}
				}
			}
		}
		_, err := fmt.Fprintf(w, "%04d  %s\n", in.Pos, in)
		return err
	})
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) && errors.Is(err, ErrUnknownOpcode) {
			fmt.Fprintf(w, "%04d  %s\n", de.Pos, bytecode.Opcode(code[de.Pos]))
		}
	}
	return err
}

// Disassemble returns the listing of code as a string.
func Disassemble(code []byte, table *debuginfo.Table) (string, error) {
	var sb strings.Builder
	err := Listing(&sb, code, table)
	return sb.String(), err
}
