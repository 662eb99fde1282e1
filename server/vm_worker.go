package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/rbvm/vm"
)

// VMWorker runs one machine on a dedicated goroutine. A machine is not
// safe for concurrent use; once started, only the worker touches it.
type VMWorker struct {
	machine *vm.Machine
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// StartVMWorker starts running m. The run ends when the program does or
// when ctx is done.
func StartVMWorker(ctx context.Context, m *vm.Machine) *VMWorker {
	ctx, cancel := context.WithCancel(ctx)
	w := &VMWorker{
		machine: m,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop(ctx)
	return w
}

// loop runs the machine, recovering from panics.
func (w *VMWorker) loop(ctx context.Context) {
	defer close(w.done)
	defer w.cancel()
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("machine panic: %v", r)
		}
	}()
	w.err = w.machine.Run(ctx)
}

// Done is closed once the machine has stopped.
func (w *VMWorker) Done() <-chan struct{} { return w.done }

// Err returns the result of the run. Only meaningful after Done.
func (w *VMWorker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until the machine stops and returns its result.
func (w *VMWorker) Wait() error {
	<-w.done
	return w.err
}

// Stop cancels the run. A machine blocked on input stays blocked until
// its reader returns.
func (w *VMWorker) Stop() {
	w.cancel()
}

// outcome maps a run result to an exit status and an error message.
func outcome(err error) (code int, msg string) {
	var exit *vm.ExitError
	switch {
	case err == nil:
		return 0, ""
	case errors.As(err, &exit):
		return exit.Code, ""
	case errors.Is(err, context.DeadlineExceeded):
		return 1, "run timed out"
	case errors.Is(err, context.Canceled):
		return 1, "run cancelled"
	default:
		return 1, err.Error()
	}
}
