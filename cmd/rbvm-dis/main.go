// rbvm-dis prints the listing of an instruction stream.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/rbvm/debuginfo"
	"github.com/chazu/rbvm/disasm"
)

func main() {
	symFile := flag.String("sym", "", "Debug sidecar (default: <file>.sym next to the input, if present)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbvm-dis [-sym file.sym] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Disassembles a stream read from file, or from stdin if no file is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var (
		code []byte
		err  error
	)
	switch flag.NArg() {
	case 0:
		code, err = io.ReadAll(os.Stdin)
	case 1:
		code, err = os.ReadFile(flag.Arg(0))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}

	table, err := loadTable(*symFile, flag.Arg(0))
	if err != nil {
		fatal(err)
	}

	w := bufio.NewWriter(os.Stdout)
	err = disasm.Listing(w, code, table)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fatal(err)
	}
}

// loadTable reads the explicit sidecar, or the one next to input when it exists.
func loadTable(symFile, input string) (*debuginfo.Table, error) {
	if symFile != "" {
		return debuginfo.ReadFile(symFile)
	}
	if input == "" {
		return nil, nil
	}
	guess := strings.TrimSuffix(input, filepath.Ext(input)) + ".sym"
	if _, err := os.Stat(guess); err != nil {
		return nil, nil
	}
	return debuginfo.ReadFile(guess)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
