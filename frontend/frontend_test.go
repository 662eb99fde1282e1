package frontend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/rbvm/compiler"
	"github.com/chazu/rbvm/ir"
	"github.com/chazu/rbvm/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// run compiles src through the whole pipeline and executes it.
func run(t *testing.T, src, stdin string) (string, error) {
	t.Helper()
	m, err := Compile("main.go", []byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	prog, err := compiler.Compile(m)
	if err != nil {
		t.Fatalf("compiler.Compile: %v\n%s", err, m)
	}
	var out bytes.Buffer
	machine := vm.New(prog.Code,
		vm.WithStdin(strings.NewReader(stdin)),
		vm.WithStdout(&out),
		vm.WithMaxSteps(5_000_000))
	err = machine.Run(context.Background())
	return out.String(), err
}

func expectOutput(t *testing.T, src, want string) {
	t.Helper()
	got, err := run(t, src, "")
	if err != nil {
		t.Fatalf("Run: %v (stdout %q)", err, got)
	}
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// compileError returns the single diagnostic Compile reports for src.
func compileError(t *testing.T, src string) *Error {
	t.Helper()
	_, err := Compile("main.go", []byte(src))
	if err == nil {
		t.Fatal("Compile succeeded, want an error")
	}
	var list ErrorList
	if !errors.As(err, &list) || len(list) == 0 {
		t.Fatalf("error %v (%T) is not an ErrorList", err, err)
	}
	return list[0]
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

func TestFibonacci(t *testing.T) {
	expectOutput(t, `package main

func fib(n int) int {
	if n < 2 {
		return 1
	}
	return fib(n-1) + fib(n-2)
}

func main() {
	println(fib(10))
}
`, "89\n")
}

func TestSieve(t *testing.T) {
	expectOutput(t, `package main

import "rbvm/libc"

var sieve [31]bool

func main() {
	for i := 2; i <= 30; i++ {
		if !sieve[i] {
			libc.Printf("%ld\n", i)
			for j := i * i; j <= 30; j += i {
				sieve[j] = true
			}
		}
	}
}
`, "2\n3\n5\n7\n11\n13\n17\n19\n23\n29\n")
}

func TestPointerMethods(t *testing.T) {
	expectOutput(t, `package main

type point struct{ x, y int }

func (p *point) scale(k int) {
	p.x *= k
	p.y *= k
}

func (p *point) sum() int { return p.x + p.y }

func main() {
	p := point{3, 4}
	p.scale(2)
	println(p.sum())
}
`, "14\n")
}

func TestNarrowIntegersAndPrinting(t *testing.T) {
	expectOutput(t, `package main

func main() {
	var b int8 = -100
	b -= 50
	var u uint8 = 250
	u += 10
	f := float64(7) / 2
	println(b, u, int(f), f > 3, "ok")
}
`, "106 4 3 true ok\n")
}

func TestGlobalsAndFunctionValues(t *testing.T) {
	expectOutput(t, `package main

var counter = 40

var double = func(x int) int { return x * 2 }

func apply(f func(int) int, v int) int { return f(v) }

func main() {
	counter++
	println(apply(double, counter), apply(func(x int) int { return x + 1 }, 1))
}
`, "82 2\n")
}

func TestArraysOfStructsAndSlices(t *testing.T) {
	expectOutput(t, `package main

type pair struct{ a, b int }

func main() {
	var ps [3]pair
	for i := 0; i < 3; i++ {
		ps[i].a = i
		ps[i].b = i * i
	}
	s := make([]int, 4)
	for i := 0; i < 4; i++ {
		s[i] = ps[i%3].a + ps[i%3].b
	}
	total := 0
	for i := 0; i < 4; i++ {
		total += s[i]
	}
	println(total)
}
`, "8\n")
}

func TestScanf(t *testing.T) {
	got, err := run(t, `package main

import "rbvm/libc"

func main() {
	var n int
	libc.Scanf("%ld", &n)
	libc.Printf("%ld\n", n*2)
}
`, "21\n")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "42\n" {
		t.Errorf("output = %q, want %q", got, "42\n")
	}
}

func TestPanicExits(t *testing.T) {
	got, err := run(t, `package main

func main() {
	panic("boom")
}
`, "")
	var exit *vm.ExitError
	if !errors.As(err, &exit) || exit.Code != 2 {
		t.Fatalf("Run = %v, want exit status 2", err)
	}
	if got != "panic: boom\n" {
		t.Errorf("output = %q, want %q", got, "panic: boom\n")
	}
}

func TestEntryPoints(t *testing.T) {
	m, err := Compile("main.go", []byte("package main\n\nfunc main() {}\n"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := strings.Join(m.EntryPoints(), ","); got != "init,main" {
		t.Errorf("entry points = %s, want init,main", got)
	}
	if f := m.Func("main"); f == nil || f.External() {
		t.Errorf("main = %v, want a defined function", f)
	}
}

func TestLoopsAreNatural(t *testing.T) {
	m, err := Compile("main.go", []byte(`package main

func main() {
	n := 0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			n++
		}
	}
	println(n)
}
`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	li := ir.AnalyzeLoops(m.Func("main"))
	depth := 0
	for _, b := range m.Func("main").Blocks {
		if l := li.LoopFor(b); l != nil && l.Depth() > depth {
			depth = l.Depth()
		}
	}
	if depth != 2 {
		t.Errorf("deepest loop = %d, want 2", depth)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestUnsupportedConstructIsPositioned(t *testing.T) {
	e := compileError(t, `package main

func main() {
	m := map[int]int{}
	m[1] = 2
}
`)
	if e.Pos.Line != 4 || !strings.Contains(e.Msg, "not supported") {
		t.Errorf("error = %v, want a line 4 unsupported construct", e)
	}
	if !strings.HasPrefix(e.Error(), "main.go:4:") {
		t.Errorf("Error() = %q, want main.go:4: prefix", e.Error())
	}
}

func TestTypeErrors(t *testing.T) {
	e := compileError(t, `package main

func main() {
	x := "a" + 1
	println(x)
}
`)
	if e.Pos.Line != 4 {
		t.Errorf("error = %v, want line 4", e)
	}
}

func TestUnknownImport(t *testing.T) {
	e := compileError(t, "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println() }\n")
	if e.Pos.Line != 3 || !strings.Contains(e.Msg, "fmt") {
		t.Errorf("error = %v, want line 3 naming fmt", e)
	}
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"parse", "package main\n\nfunc main() {\n", "expected"},
		{"package", "package lib\n", "is not main"},
		{"no main", "package main\n\nfunc helper() {}\n", "main is undeclared"},
		{"shadow", "package main\n\nfunc puts() {}\n\nfunc main() {}\n", "shadows"},
		{"closure", "package main\n\nfunc main() {\n\tn := 1\n\tf := func() int { return n }\n\tprintln(f())\n}\n", "captures"},
		{"multi", "package main\n\nfunc two() (int, int) { return 1, 2 }\n\nfunc main() {}\n", "results"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := compileError(t, tt.src)
			if !strings.Contains(e.Msg, tt.want) {
				t.Errorf("error = %v, want it to mention %q", e, tt.want)
			}
		})
	}
}

func TestDiagnosticsOfPlainError(t *testing.T) {
	list := Diagnostics(errors.New("boom"))
	if len(list) != 1 || list[0].Pos.IsValid() || list[0].Msg != "boom" {
		t.Errorf("Diagnostics = %v", list)
	}
	e := &Error{Msg: "x"}
	if got := Diagnostics(e); len(got) != 1 || got[0] != e {
		t.Errorf("Diagnostics(*Error) = %v", got)
	}
}
