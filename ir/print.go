package ir

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a textual listing of m.
func Fprint(w io.Writer, m *Module) error {
	var sb strings.Builder
	for _, g := range m.Globals {
		init := "zero"
		if g.Init != nil {
			init = g.Init.String()
		}
		fmt.Fprintf(&sb, "global @%s %s = %s\n", g.Name, g.Elem, init)
	}
	for _, f := range m.Funcs {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		writeFunc(&sb, f)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// String returns the listing of m.
func (m *Module) String() string {
	var sb strings.Builder
	_ = Fprint(&sb, m)
	return sb.String()
}

func writeFunc(sb *strings.Builder, f *Function) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%%%s %s", p.Name, p.Typ)
	}
	if f.Variadic {
		params = append(params, "...")
	}
	kw := "func"
	if f.External() {
		kw = "declare"
	}
	fmt.Fprintf(sb, "%s @%s(%s) %s", kw, f.Name, strings.Join(params, ", "), f.Result)
	if f.External() {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Name)
		for _, in := range b.Instrs {
			fmt.Fprintf(sb, "  %s\n", in.Format())
		}
	}
	sb.WriteString("}\n")
}
