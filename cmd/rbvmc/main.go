// rbvmc compiles a Go-subset source file to an instruction stream.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/rbvm/compiler"
	"github.com/chazu/rbvm/debuginfo"
	"github.com/chazu/rbvm/disasm"
	"github.com/chazu/rbvm/frontend"
	"github.com/chazu/rbvm/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var errObjectOutput = errors.New("host object output is not supported; use -filetype bc or asm")

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest rbvm.toml)")
	output := flag.String("o", "", "Output file, - for stdout (default: input name with .bc or .s)")
	filetype := flag.String("filetype", "", "Output kind: bc, asm, null or obj (default: from config)")
	sym := flag.Bool("sym", false, "Also write a .sym debug sidecar")
	printIR := flag.Bool("print-ir", false, "Print the IR module to stderr")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbvmc [options] file.go\n\n")
		fmt.Fprintf(os.Stderr, "Compiles a Go source file (package main) to rbvm bytecode.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rbvmc fib.go                    # writes fib.bc\n")
		fmt.Fprintf(os.Stderr, "  rbvmc -filetype asm -o - fib.go # prints the listing\n")
		fmt.Fprintf(os.Stderr, "  rbvmc -sym fib.go && rbvm fib.bc\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	cfg, err := manifest.Resolve(*configPath)
	if err != nil {
		fatal(err)
	}
	if *verbose {
		cfg.ConfigureLogging(2)
	} else {
		cfg.ConfigureLogging(0)
	}
	if *filetype == "" {
		*filetype = cfg.Compile.Filetype
	}
	writeSym := *sym || cfg.Compile.Sidecar

	if *filetype == "obj" {
		fatal(errObjectOutput)
	}

	src, err := os.ReadFile(input)
	if err != nil {
		fatal(err)
	}
	m, err := frontend.Compile(filepath.Base(input), src)
	if err != nil {
		for _, e := range frontend.Diagnostics(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", e)
		}
		os.Exit(1)
	}
	if *printIR {
		fmt.Fprint(os.Stderr, m)
	}

	prog, err := compiler.Compile(m)
	if err != nil {
		fatal(err)
	}

	var out []byte
	switch *filetype {
	case "bc":
		out = prog.Code
	case "asm":
		listing, err := disasm.Disassemble(prog.Code, prog.Debug)
		if err != nil {
			fatal(err)
		}
		out = []byte(listing)
	case "null":
	default:
		fatal(fmt.Errorf("unknown filetype %q", *filetype))
	}

	path := *output
	if path == "" {
		path = outputPath(input, *filetype)
	}
	if *filetype != "null" {
		if err := writeOutput(path, out); err != nil {
			fatal(err)
		}
	}
	if writeSym && path != "-" && *filetype != "null" {
		if err := debuginfo.WriteFile(symPath(path), prog.Debug); err != nil {
			fatal(err)
		}
	}
}

// outputPath derives the default output name from the input name.
func outputPath(input, filetype string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if filetype == "asm" {
		return base + ".s"
	}
	return base + ".bc"
}

// symPath names the debug sidecar of an output file.
func symPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".sym"
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
