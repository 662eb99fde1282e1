package debuginfo

import (
	"bytes"
	"path/filepath"
	"testing"
)

func sample() *Table {
	return &Table{
		Version: CurrentVersion,
		Funcs: []Func{
			{Name: "fib", Decl: 0, Body: 20, Len: 100, Arity: 1,
				Blocks: []Block{{Name: "entry", Offset: 20}, {Name: "b1", Offset: 64}}},
			{Name: "main", Decl: 120, Body: 141, Len: 30},
		},
		Entry: 171,
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(sample())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(sample())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same table differ")
	}

	back, err := Unmarshal(a)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back.Funcs) != 2 || back.Funcs[0].Blocks[1].Offset != 64 || back.Entry != 171 {
		t.Errorf("decoded table = %+v", back)
	}
}

func TestLookup(t *testing.T) {
	tab := sample()
	tests := []struct {
		pos  int
		want string
	}{
		{0, "fib"}, {19, "fib"}, {119, "fib"}, {120, "main"}, {170, "main"}, {171, ""},
	}
	for _, tt := range tests {
		f, ok := tab.Lookup(tt.pos)
		got := ""
		if ok {
			got = f.Name
		}
		if got != tt.want {
			t.Errorf("Lookup(%d) = %q, want %q", tt.pos, got, tt.want)
		}
	}
	fib, _ := tab.Func("fib")
	if name, ok := fib.BlockAt(64); !ok || name != "b1" {
		t.Errorf("BlockAt(64) = %q, %v", name, ok)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.sym")
	if err := WriteFile(path, sample()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tab, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if f, ok := tab.Func("main"); !ok || f.Decl != 120 {
		t.Errorf("main = %+v, %v", f, ok)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for malformed CBOR")
	}
}
