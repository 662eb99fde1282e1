package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/rbvm/bytecode"
)

// Execution-fatal causes. Every Fault wraps one of these.
var (
	ErrBadOpcode      = errors.New("wrong command")
	ErrMemory         = errors.New("invalid memory access")
	ErrStackUnderflow = errors.New("return without a matching call")
	ErrStackOverflow  = errors.New("call depth limit exceeded")
	ErrArity          = errors.New("wrong number of arguments")
	ErrDivideByZero   = errors.New("integer division by zero")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrTruncated      = bytecode.ErrTruncated
)

// Fault aborts a running program.
type Fault struct {
	PC    int
	Op    bytecode.Opcode
	Cause error
	Msg   string
}

func (f *Fault) Error() string {
	if f.Msg == "" {
		return fmt.Sprintf("vm: pc %04d (%s): %v", f.PC, f.Op, f.Cause)
	}
	return fmt.Sprintf("vm: pc %04d (%s): %v: %s", f.PC, f.Op, f.Cause, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Cause }

// ExitError is returned by Run when the program calls exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// faultPanic unwinds the dispatch loop to Run.
type faultPanic struct {
	cause error
	msg   string
}

func fault(cause error, format string, args ...any) {
	panic(faultPanic{cause: cause, msg: fmt.Sprintf(format, args...)})
}
