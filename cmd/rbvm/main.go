// rbvm runs a compiled instruction stream.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/chazu/rbvm/bytecode"
	"github.com/chazu/rbvm/disasm"
	"github.com/chazu/rbvm/manifest"
	"github.com/chazu/rbvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest rbvm.toml)")
	maxSteps := flag.Int64("max-steps", -1, "Instruction budget, 0 = unbounded (default: from config)")
	trace := flag.Bool("trace", false, "Print every executed instruction to stderr")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbvm [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs an instruction stream read from file, or from stdin if no file is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := manifest.Resolve(*configPath)
	if err != nil {
		fatal(err)
	}
	if *verbose {
		cfg.ConfigureLogging(2)
	} else {
		cfg.ConfigureLogging(0)
	}

	code, err := readInput(flag.Args())
	if err != nil {
		fatal(err)
	}

	steps := cfg.VM.MaxSteps
	if *maxSteps >= 0 {
		steps = *maxSteps
	}

	stdout := bufio.NewWriter(os.Stdout)
	opts := []vm.Option{
		vm.WithStdout(stdout),
		vm.WithMaxSteps(steps),
		vm.WithMaxDepth(cfg.VM.MaxDepth),
		vm.WithHeapLimit(cfg.VM.HeapLimit),
	}
	if *trace {
		opts = append(opts, vm.WithTrace(func(pc, n int, op bytecode.Opcode) {
			if in, err := disasm.Decode(code, pc); err == nil {
				fmt.Fprintf(os.Stderr, "%04d  %s\n", pc, in)
			} else {
				fmt.Fprintf(os.Stderr, "%04d  %s\n", pc, op)
			}
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = vm.New(code, opts...).Run(ctx)
	if ferr := stdout.Flush(); ferr != nil && err == nil {
		err = ferr
	}

	var exit *vm.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	if err != nil {
		fatal(err)
	}
}

func readInput(args []string) ([]byte, error) {
	switch len(args) {
	case 0:
		return io.ReadAll(os.Stdin)
	case 1:
		return os.ReadFile(args[0])
	default:
		return nil, fmt.Errorf("expected at most one file, got %d", len(args))
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
