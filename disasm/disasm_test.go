package disasm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/compiler"
	"github.com/chazu/rbvm/ir"
	"github.com/chazu/rbvm/vm"
)

// firstHeapAddr is the address of the first heap allocation of a fresh
// machine.
const firstHeapAddr = 1<<60 | 16

// everyFormat builds a program that executes every operand format.
func everyFormat(t *testing.T) []byte {
	t.Helper()
	b := bytecode.NewBuilder()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}

	f := b.FuncDecl("f", 2)
	b.RegReg(bytecode.OpMOV, 3, 1)
	b.RegReg(bytecode.OpIADD, 3, 2)
	b.Ret(3)
	b.FixupDecl(f)
	g := b.FuncDecl("g", 0)
	b.Leave()
	b.FixupDecl(g)

	b.ConstString([]byte("hi\x00"), 6)
	b.RegImm(bytecode.OpMOV, 1, 6)
	b.RegImm(bytecode.OpMOV, 2, 7)
	b.GetGlobal("f", 4)
	must(b.Call(4, []byte{1, 2}))
	b.GetGlobal("g", 5)
	must(b.Call(5, nil))
	b.SetGlobal("x", 4)
	b.Cell(7, 4)
	must(b.Load(64, 8, 7))
	must(b.Store(32, 7, 1))
	b.AddressOf(9, 1)
	must(b.Load(64, 10, 9))
	b.Not(10)
	must(b.LoadAbs(8, 13, firstHeapAddr))
	must(b.StoreAbs(8, firstHeapAddr+1, 1))
	b.RegFloat(bytecode.OpMOV, 11, 1.5)
	b.RegFloat(bytecode.OpFADD, 11, 2)
	jz := b.JumpZero(1)
	jnz := b.JumpNonZero(1)
	b.RegImm(bytecode.OpMOV, 12, 99)
	b.Resolve(jnz)
	b.Resolve(jz)
	jmp := b.Jump()
	b.Resolve(jmp)
	b.RegImm(bytecode.OpEQ, 1, 6)
	return b.Bytes()
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func TestDecodeMatchesExecution(t *testing.T) {
	code := everyFormat(t)
	formats := map[bytecode.Format]bool{}
	var stdout bytes.Buffer
	m := vm.New(code, vm.WithStdout(&stdout), vm.WithTrace(func(pc, n int, op bytecode.Opcode) {
		in, err := Decode(code, pc)
		if err != nil {
			t.Errorf("Decode(%d): %v", pc, err)
			return
		}
		if in.Op != op || in.Len != n {
			t.Errorf("at %04d: decoded %s/%d, executed %s/%d", pc, in.Op, in.Len, op, n)
		}
		formats[op.Format()] = true
	}))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(formats) != int(bytecode.FormatRet)+1 {
		t.Errorf("executed %d operand formats, want %d", len(formats), bytecode.FormatRet+1)
	}
	if got := m.Reg(13); got != 'h' {
		t.Errorf("absolute load = %q, want 'h'", rune(got))
	}
	if got := m.Reg(12); got != 0 {
		t.Errorf("skipped instruction executed: r12 = %d", got)
	}
}

func TestDecodeMatchesExecutionOfCompiledCode(t *testing.T) {
	prog := compileFib(t)
	var stdout bytes.Buffer
	steps := 0
	m := vm.New(prog.Code, vm.WithStdout(&stdout), vm.WithTrace(func(pc, n int, op bytecode.Opcode) {
		steps++
		in, err := Decode(prog.Code, pc)
		if err != nil || in.Len != n {
			t.Errorf("at %04d: decoded %v (%v), executed %d bytes", pc, in, err, n)
		}
	}))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stdout.String() != "89\n" || steps == 0 {
		t.Errorf("stdout = %q after %d steps", stdout.String(), steps)
	}
}

func TestWalkCoversStream(t *testing.T) {
	code := everyFormat(t)
	total := 0
	if err := Walk(code, func(in Instruction) error {
		total += in.Len
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if total != len(code) {
		t.Errorf("walked %d bytes, stream has %d", total, len(code))
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte{0xFE}, 0); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("Decode(0xFE) = %v, want ErrUnknownOpcode", err)
	}
	if _, err := Decode([]byte{byte(bytecode.OpMOV), 1}, 0); !errors.Is(err, bytecode.ErrTruncated) {
		t.Errorf("Decode(truncated) = %v, want ErrTruncated", err)
	}
	var de *DecodeError
	if _, err := Decode([]byte{0, 0, byte(bytecode.OpJMP)}, 2); !errors.As(err, &de) || de.Pos != 2 {
		t.Errorf("Decode error = %v, want position 2", err)
	}
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestListing(t *testing.T) {
	out, err := Disassemble(everyFormat(t), nil)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	for _, want := range []string{
		"0000  fd \"f\" nargs=2 len=",
		"mov r3, r1",
		"ret r3",
		"leave",
		"css \"hi\\x00\", r6",
		"mov r1, #6",
		"gg \"f\", r4",
		"call2 r4, r1, r2",
		"call0 r5",
		"css_dyn r7, r4",
		"ld64 r8, [r7]",
		"st32 [r7], r1",
		"lea r9, r1",
		"ineg r10",
		"ld8 r13, [0x1000000000000010]",
		"st8 [0x1000000000000011], r1",
		"fadd r11, #2",
		"jz r1, +",
		"jmp +9 (-> ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestListingWithSymbols(t *testing.T) {
	prog := compileFib(t)
	out, err := Disassemble(prog.Code, prog.Debug)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	for _, want := range []string{"\nfib:\n", "\nmain:\n", "  .entry:\n", "  .rec:\n", "\n<epilogue>:\n", "gg \"fib\""} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestListingUnknownOpcode(t *testing.T) {
	b := bytecode.NewBuilder()
	b.Leave()
	b.EmitRaw(0xFE)
	out, err := Disassemble(b.Bytes(), nil)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("Disassemble = %v, want ErrUnknownOpcode", err)
	}
	if want := "0000  leave\n0001  UNKNOWN_FE\n"; out != want {
		t.Errorf("listing = %q, want %q", out, want)
	}
}

func compileFib(t *testing.T) *compiler.Program {
	t.Helper()
	m := ir.NewModule("fib")
	printf := m.Declare("printf", ir.I32, true, ir.Ptr)
	fib := m.NewFunction("fib", ir.I64)
	n := fib.AddParam("n", ir.I64)
	entry, base, rec := fib.NewBlock("entry"), fib.NewBlock("base"), fib.NewBlock("rec")
	b := ir.NewBuilder(fib)
	b.SetBlock(entry)
	b.Branch(b.Compare(ir.SLT, n, ir.Int(ir.I64, 2)), base, rec)
	b.SetBlock(base)
	b.Return(ir.Int(ir.I64, 1))
	b.SetBlock(rec)
	x := b.Call(nil, fib, b.Binary(ir.Sub, n, ir.Int(ir.I64, 1)))
	y := b.Call(nil, fib, b.Binary(ir.Sub, n, ir.Int(ir.I64, 2)))
	b.Return(b.Binary(ir.Add, x, y))

	main := m.NewFunction("main", ir.I32)
	b = ir.NewBuilder(main)
	b.SetBlock(main.NewBlock("entry"))
	b.Call(nil, printf, ir.CString("%ld\n"), b.Call(nil, fib, ir.Int(ir.I64, 10)))
	b.Return(ir.Int(ir.I32, 0))

	prog, err := compiler.Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog
}
