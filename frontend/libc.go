package frontend

import (
	"fmt"
	"go/token"
	"go/types"

	"github.com/chazu/rbvm/ir"
)

// LibcPath is the import path of the pseudo-package exposing the VM's
// native routines to Go sources.
const LibcPath = "rbvm/libc"

// libcFunc describes one routine of the libc package and the native it
// calls.
type libcFunc struct {
	name     string // Go name
	native   string
	params   []types.Type
	result   types.Type // nil for none
	variadic bool       // trailing ...any
}

var (
	tInt     = types.Typ[types.Int]
	tInt32   = types.Typ[types.Int32]
	tString  = types.Typ[types.String]
	tPointer = types.Typ[types.UnsafePointer]
	tAny     = types.NewInterfaceType(nil, nil).Complete()
)

var libcFuncs = []libcFunc{
	{name: "Printf", native: "printf", params: []types.Type{tString}, result: tInt32, variadic: true},
	{name: "Scanf", native: "scanf", params: []types.Type{tString}, result: tInt32, variadic: true},
	{name: "Puts", native: "puts", params: []types.Type{tString}, result: tInt32},
	{name: "Putchar", native: "putchar", params: []types.Type{tInt32}, result: tInt32},
	{name: "Getchar", native: "getchar", result: tInt32},
	{name: "Exit", native: "exit", params: []types.Type{tInt32}},
	{name: "Malloc", native: "malloc", params: []types.Type{tInt}, result: tPointer},
	{name: "Calloc", native: "calloc", params: []types.Type{tInt, tInt}, result: tPointer},
	{name: "Free", native: "free", params: []types.Type{tPointer}},
}

// natives is the set of native names a Go declaration may not reuse.
var natives = func() map[string]bool {
	set := map[string]bool{"__isoc99_scanf": true}
	for _, f := range libcFuncs {
		set[f.native] = true
	}
	return set
}()

func lookupLibc(name string) (libcFunc, bool) {
	for _, f := range libcFuncs {
		if f.name == name {
			return f, true
		}
	}
	return libcFunc{}, false
}

// buildLibcPackage returns the type information of rbvm/libc. The package
// has no bodies; calls into it become native calls.
func buildLibcPackage() *types.Package {
	pkg := types.NewPackage(LibcPath, "libc")
	scope := pkg.Scope()
	for _, f := range libcFuncs {
		var params []*types.Var
		for i, p := range f.params {
			params = append(params, types.NewVar(token.NoPos, pkg, fmt.Sprintf("a%d", i), p))
		}
		if f.variadic {
			params = append(params, types.NewVar(token.NoPos, pkg, "args", types.NewSlice(tAny)))
		}
		var results *types.Tuple
		if f.result != nil {
			results = types.NewTuple(types.NewVar(token.NoPos, pkg, "", f.result))
		}
		sig := types.NewSignatureType(nil, nil, nil, types.NewTuple(params...), results, f.variadic)
		scope.Insert(types.NewFunc(token.NoPos, pkg, f.name, sig))
	}
	pkg.MarkComplete()
	return pkg
}

// libcImporter resolves rbvm/libc and nothing else.
type libcImporter struct {
	pkg *types.Package
}

func (li *libcImporter) Import(path string) (*types.Package, error) {
	if path != LibcPath {
		return nil, fmt.Errorf("package %q is not available; only %q can be imported", path, LibcPath)
	}
	if li.pkg == nil {
		li.pkg = buildLibcPackage()
	}
	return li.pkg, nil
}

// declare adds the native behind f to m.
func (f libcFunc) declare(m *ir.Module) *ir.Function {
	var params []ir.Type
	for _, p := range f.params {
		params = append(params, scalarOf(p))
	}
	result := ir.Type(ir.Void)
	if f.result != nil {
		result = scalarOf(f.result)
	}
	return m.Declare(f.native, result, f.variadic, params...)
}

// scalarOf maps the basic types used by libc signatures.
func scalarOf(t types.Type) ir.Type {
	switch t {
	case tInt32:
		return ir.I32
	case tInt:
		return ir.I64
	}
	return ir.Ptr
}
