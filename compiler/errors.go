package compiler

import (
	"errors"
	"fmt"
)

// Generation-fatal causes. Every Error wraps one of these.
var (
	ErrUnsupported = errors.New("unsupported construct")
	ErrArity       = errors.New("too many call arguments")
	ErrConstant    = errors.New("unsupported constant expression")
	ErrRegisters   = errors.New("out of registers")
)

// Error aborts code generation for a module. Func names the function being
// lowered, or is empty for module-level failures.
type Error struct {
	Func  string
	Cause error
	Msg   string
}

func (e *Error) Error() string {
	where := "module"
	if e.Func != "" {
		where = e.Func
	}
	if e.Msg == "" {
		return fmt.Sprintf("compiler: %s: %v", where, e.Cause)
	}
	return fmt.Sprintf("compiler: %s: %v: %s", where, e.Cause, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// bailout carries an *Error through a panic out of deep lowering code.
type bailout struct{ err *Error }
