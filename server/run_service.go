package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/rbvm/vm"
)

// RunService executes bytecode to completion.
type RunService struct {
	timeout time.Duration
	opts    []vm.Option
}

// NewRunService creates a RunService. A zero timeout leaves runs bounded
// only by the request context and opts.
func NewRunService(timeout time.Duration, opts ...vm.Option) *RunService {
	return &RunService{timeout: timeout, opts: opts}
}

// Run executes a program with the given stdin. Program faults are
// reported in the response, not as RPC errors.
func (s *RunService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	code, err := DecodeHex(req.Msg.Bytecode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("bytecode: %w", err))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	opts := append(append([]vm.Option(nil), s.opts...),
		vm.WithStdin(strings.NewReader(req.Msg.Stdin)),
		vm.WithStdout(&stdout),
		vm.WithStderr(&stderr))

	w := StartVMWorker(ctx, vm.New(code, opts...))
	exitCode, msg := outcome(w.Wait())
	log.Debugf("run of %d bytes: exit %d", len(code), exitCode)

	return connect.NewResponse(&RunResponse{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Error:    msg,
	}), nil
}
