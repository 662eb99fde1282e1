// Package frontend compiles a single Go source file of package main into an
// ir.Module. Sources are type-checked and converted to SSA form with
// golang.org/x/tools/go/ssa, then translated instruction by instruction.
//
// The accepted language is a subset of Go: integers, floats, booleans,
// pointers, arrays, structs, slices as bare data pointers and strings as
// NUL-terminated byte pointers. Calls into the pseudo-package rbvm/libc
// become native calls.
package frontend

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"github.com/chazu/rbvm/ir"
	"github.com/tliron/commonlog"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var log = commonlog.GetLogger("rbvm.frontend")

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a diagnostic at a source position.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return e.Msg
}

// ErrorList is every diagnostic of a failed compilation, in source order.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1)
}

// Diagnostics returns err as a list of positioned errors. Errors without a
// position yield a single entry with an invalid position.
func Diagnostics(err error) ErrorList {
	var list ErrorList
	if errors.As(err, &list) {
		return list
	}
	var e *Error
	if errors.As(err, &e) {
		return ErrorList{e}
	}
	return ErrorList{{Msg: err.Error()}}
}

// bailout carries an *Error out of deep translation code.
type bailout struct{ err *Error }

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

var sizes = types.SizesFor("gc", "amd64")

// Compile translates src, read from filename, into a module whose entry
// points are the package initializer and main.
func Compile(filename string, src []byte) (*ir.Module, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.AllErrors|parser.SkipObjectResolution)
	if err != nil {
		return nil, fromScanner(err)
	}
	if file.Name.Name != "main" {
		return nil, ErrorList{{Pos: fset.Position(file.Name.Pos()), Msg: fmt.Sprintf("package %s is not main", file.Name.Name)}}
	}

	var errs ErrorList
	conf := &types.Config{
		Importer: &libcImporter{},
		Sizes:    sizes,
		Error: func(err error) {
			if te, ok := err.(types.Error); ok {
				errs = append(errs, &Error{Pos: te.Fset.Position(te.Pos), Msg: te.Msg})
			}
		},
	}
	pkg, _, err := ssautil.BuildPackage(conf, fset, types.NewPackage("main", "main"), []*ast.File{file}, ssa.InstantiateGenerics)
	if len(errs) > 0 {
		return nil, errs
	}
	if err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}
	return lowerPackage(fset, pkg)
}

func fromScanner(err error) error {
	var list scanner.ErrorList
	if !errors.As(err, &list) {
		return fmt.Errorf("frontend: %w", err)
	}
	out := make(ErrorList, len(list))
	for i, e := range list {
		out[i] = &Error{Pos: e.Pos, Msg: e.Msg}
	}
	return out
}

// ---------------------------------------------------------------------------
// Package translation
// ---------------------------------------------------------------------------

func lowerPackage(fset *token.FileSet, pkg *ssa.Package) (m *ir.Module, err error) {
	l := &lowerer{
		fset:    fset,
		sizes:   sizes,
		pkg:     pkg,
		mod:     ir.NewModule(pkg.Pkg.Path()),
		funcs:   map[*ssa.Function]*ir.Function{},
		globals: map[*ssa.Global]*ir.Global{},
	}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			m, err = nil, ErrorList{b.err}
		}
	}()

	names := make([]string, 0, len(pkg.Members))
	for name := range pkg.Members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g, ok := pkg.Members[name].(*ssa.Global)
		if !ok {
			continue
		}
		l.pos = g.Pos()
		l.checkName(g.Name())
		elem := g.Type().Underlying().(*types.Pointer).Elem()
		l.globals[g] = l.mod.NewGlobal(g.Name(), l.irType(elem), nil)
	}

	if pkg.Func("main") == nil {
		l.fail("function main is undeclared in the main package")
	}
	fns := l.functions()
	for _, fn := range fns {
		l.declare(fn)
	}
	for _, fn := range fns {
		l.function(fn)
	}
	l.mod.Entry = []string{"init", "main"}

	if err := ir.Verify(l.mod); err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}
	log.Debugf("translated %s: %d functions, %d globals", l.mod.Name, len(fns), len(l.mod.Globals))
	return l.mod, nil
}

// functions returns the package's functions with bodies in source order.
// Wrappers and uninstantiated generic functions are skipped.
func (l *lowerer) functions() []*ssa.Function {
	init := l.pkg.Func("init")
	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(l.pkg.Prog) {
		if len(fn.Blocks) == 0 {
			continue
		}
		origin := fn
		if o := fn.Origin(); o != nil {
			origin = o
		}
		if origin.Pkg != l.pkg {
			continue
		}
		if fn.TypeParams().Len() > 0 && len(fn.TypeArgs()) == 0 {
			continue
		}
		if fn.Synthetic != "" && fn != init && fn.Origin() == nil {
			continue
		}
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool {
		if fns[i].Pos() != fns[j].Pos() {
			return fns[i].Pos() < fns[j].Pos()
		}
		return fns[i].String() < fns[j].String()
	})
	return fns
}

// name is the module-level name of fn: its package-relative form, such as
// "fib", "main$1" or "(*T).M".
func (l *lowerer) name(fn *ssa.Function) string {
	return fn.RelString(l.pkg.Pkg)
}

// checkName rejects declarations that would shadow a native routine.
func (l *lowerer) checkName(name string) {
	if natives[name] {
		l.fail("%s shadows the native routine of the same name", name)
	}
}

func (l *lowerer) declare(fn *ssa.Function) {
	l.pos = fn.Pos()
	name := l.name(fn)
	l.checkName(name)
	if len(fn.FreeVars) > 0 {
		l.fail("function literal %s captures variables, which is not supported", name)
	}
	f := l.mod.NewFunction(name, l.resultType(fn.Signature))
	for _, p := range fn.Params {
		f.AddParam(p.Name(), l.irType(p.Type()))
	}
	l.funcs[fn] = f
}

func blockName(b *ssa.BasicBlock) string {
	if b.Index == 0 {
		return "entry"
	}
	if b.Comment == "" {
		return fmt.Sprintf("b%d", b.Index)
	}
	return fmt.Sprintf("%s.%d", strings.ReplaceAll(b.Comment, " ", "."), b.Index)
}
