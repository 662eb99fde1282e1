package ir

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func TestStructLayout(t *testing.T) {
	s := &StructType{Fields: []Type{I8, I32, I16, I64}}
	wantOff := []int64{0, 4, 8, 16}
	for i, w := range wantOff {
		if got := s.Offset(i); got != w {
			t.Errorf("Offset(%d) = %d, want %d", i, got, w)
		}
	}
	if s.Size() != 24 {
		t.Errorf("Size = %d, want 24", s.Size())
	}
	arr := &ArrayType{Elem: s, Len: 3}
	if arr.Size() != 72 {
		t.Errorf("array Size = %d, want 72", arr.Size())
	}
}

func TestMaskAndBits(t *testing.T) {
	if I1.Mask() != 1 || I32.Mask() != 0xFFFFFFFF || I64.Mask() != ^uint64(0) {
		t.Errorf("masks = %x %x %x", I1.Mask(), I32.Mask(), I64.Mask())
	}
	if Bits(I1) != 8 || Bits(I16) != 16 || Bits(Ptr) != 64 || Bits(F64) != 64 {
		t.Error("unexpected access widths")
	}
	if !IsVoid(&StructType{}) || IsVoid(I8) {
		t.Error("IsVoid misclassifies")
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// nested builds:
//
//	entry -> outer
//	outer -> inner | exit
//	inner -> body | latch
//	body  -> inner
//	latch -> outer
func nested(t *testing.T) (*Function, map[string]*Block) {
	t.Helper()
	m := NewModule("t")
	f := m.NewFunction("f", Void)
	c := f.AddParam("c", I1)
	blocks := map[string]*Block{}
	for _, n := range []string{"entry", "outer", "inner", "body", "latch", "exit"} {
		blocks[n] = f.NewBlock(n)
	}
	b := NewBuilder(f)
	b.SetBlock(blocks["entry"])
	b.Jump(blocks["outer"])
	b.SetBlock(blocks["outer"])
	b.Branch(c, blocks["inner"], blocks["exit"])
	b.SetBlock(blocks["inner"])
	b.Branch(c, blocks["body"], blocks["latch"])
	b.SetBlock(blocks["body"])
	b.Jump(blocks["inner"])
	b.SetBlock(blocks["latch"])
	b.Jump(blocks["outer"])
	b.SetBlock(blocks["exit"])
	b.Return(nil)
	f.Seal()
	return f, blocks
}

func TestAnalyzeLoopsNesting(t *testing.T) {
	f, bl := nested(t)
	li := AnalyzeLoops(f)

	if len(li.TopLevel) != 1 {
		t.Fatalf("top-level loops = %d, want 1", len(li.TopLevel))
	}
	outer := li.TopLevel[0]
	if outer.Header != bl["outer"] {
		t.Errorf("outer header = %s", outer.Header)
	}
	if len(outer.Children) != 1 || outer.Children[0].Header != bl["inner"] {
		t.Fatalf("outer children = %v", outer.Children)
	}
	inner := outer.Children[0]
	if inner.Parent != outer || inner.Depth() != 2 {
		t.Errorf("inner parent/depth wrong: depth %d", inner.Depth())
	}

	names := func(bs []*Block) string {
		var s []string
		for _, b := range bs {
			s = append(s, b.Name)
		}
		return strings.Join(s, ",")
	}
	if got := names(outer.Blocks); got != "outer,inner,body,latch" {
		t.Errorf("outer blocks = %s", got)
	}
	if got := names(inner.Blocks); got != "inner,body" {
		t.Errorf("inner blocks = %s", got)
	}

	if li.LoopFor(bl["body"]) != inner || li.LoopFor(bl["latch"]) != outer {
		t.Error("LoopFor does not return the innermost loop")
	}
	if li.LoopFor(bl["entry"]) != nil || li.LoopFor(bl["exit"]) != nil {
		t.Error("entry/exit should not be in a loop")
	}
	if !li.IsHeader(bl["inner"]) || li.IsHeader(bl["body"]) {
		t.Error("IsHeader misclassifies")
	}
	if !li.Dominates(bl["outer"], bl["exit"]) || li.Dominates(bl["body"], bl["latch"]) {
		t.Error("dominance wrong")
	}
}

func TestAnalyzeLoopsIgnoresUnreachable(t *testing.T) {
	m := NewModule("t")
	f := m.NewFunction("f", Void)
	entry, dead, loop := f.NewBlock("entry"), f.NewBlock("dead"), f.NewBlock("loop")
	b := NewBuilder(f)
	b.SetBlock(entry)
	b.Jump(loop)
	b.SetBlock(dead)
	b.Jump(loop)
	b.SetBlock(loop)
	b.Jump(loop)
	f.Seal()

	li := AnalyzeLoops(f)
	if len(li.TopLevel) != 1 {
		t.Fatalf("loops = %d, want 1", len(li.TopLevel))
	}
	if l := li.TopLevel[0]; len(l.Blocks) != 1 || l.Contains(dead) {
		t.Errorf("loop blocks = %v", l.Blocks)
	}
}

// ---------------------------------------------------------------------------
// Verify and print
// ---------------------------------------------------------------------------

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	m := NewModule("t")
	f := m.NewFunction("f", I32)
	b := NewBuilder(f)
	b.SetBlock(f.NewBlock("entry"))
	b.Binary(Add, Int(I32, 1), Int(I32, 2))

	err := Verify(m)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsForeignPhiEdge(t *testing.T) {
	m := NewModule("t")
	f := m.NewFunction("f", I32)
	entry, other, join := f.NewBlock("entry"), f.NewBlock("other"), f.NewBlock("join")
	b := NewBuilder(f)
	b.SetBlock(entry)
	b.Jump(join)
	b.SetBlock(other)
	b.Return(Int(I32, 0))
	b.SetBlock(join)
	phi := b.Phi(I32)
	phi.AddIncoming(Int(I32, 1), other)
	b.Return(phi)

	if err := Verify(m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify = %v, want ErrMalformed", err)
	}
}

func TestPrintModule(t *testing.T) {
	m := NewModule("t")
	m.NewGlobal("counter", I64, Int(I64, 7))
	m.Declare("puts", I32, false, Ptr)
	f := m.NewFunction("main", I32)
	b := NewBuilder(f)
	b.SetBlock(f.NewBlock("entry"))
	sum := b.Binary(Add, Int(I32, 40), Int(I32, 2))
	b.Return(sum)
	f.Seal()

	if err := Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	out := m.String()
	for _, want := range []string{
		"global @counter i64 = 7",
		"declare @puts(%p0 ptr) i32",
		"func @main() i32 {",
		"%t0 = add i32 40, 2",
		"ret %t0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
