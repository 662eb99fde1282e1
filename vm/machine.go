// Package vm executes RBVM instruction streams: a register machine with one
// 256-register frame per call, a global symbol table and a native bridge.
package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/rbvm/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rbvm.vm")

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

type callEntry struct {
	ret int  // resume position
	dst byte // caller register receiving the result
}

// TraceFunc observes every executed instruction: its position, the number
// of bytes it occupies and its opcode.
type TraceFunc func(pc, n int, op bytecode.Opcode)

type config struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	maxSteps  int64
	maxDepth  int
	heapLimit int
	trace     TraceFunc
}

// Option configures a Machine.
type Option func(*config)

// WithStdin sets the input read by getchar and scanf.
func WithStdin(r io.Reader) Option { return func(c *config) { c.stdin = r } }

// WithStdout sets the output written by puts, printf and putchar.
func WithStdout(w io.Writer) Option { return func(c *config) { c.stdout = w } }

// WithStderr sets the diagnostic output.
func WithStderr(w io.Writer) Option { return func(c *config) { c.stderr = w } }

// WithMaxSteps bounds the number of executed instructions. Zero means
// unbounded.
func WithMaxSteps(n int64) Option { return func(c *config) { c.maxSteps = n } }

// WithMaxDepth bounds the frame stack.
func WithMaxDepth(n int) Option { return func(c *config) { c.maxDepth = n } }

// WithHeapLimit bounds the heap arena in bytes. Zero means unbounded.
func WithHeapLimit(n int) Option { return func(c *config) { c.heapLimit = n } }

// WithTrace installs an instruction trace hook.
func WithTrace(fn TraceFunc) Option { return func(c *config) { c.trace = fn } }

// DefaultMaxDepth is the frame stack limit when none is configured.
const DefaultMaxDepth = 100000

// Machine is one independent interpreter instance.
type Machine struct {
	code   []byte
	r      *bytecode.Reader
	store  *Store
	heap   *Heap
	frames []*Frame
	calls  []callEntry
	spare  []*Frame

	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
	cfg    config

	steps   int64
	jump    bool
	target  int
	formats map[string][]segment
}

// New creates a machine for code with the native library installed.
func New(code []byte, opts ...Option) *Machine {
	cfg := config{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(&cfg)
	}
	m := &Machine{
		code:   code,
		r:      bytecode.NewReader(code),
		store:  NewStore(),
		heap:   NewHeap(cfg.heapLimit),
		frames: []*Frame{new(Frame)},
		stdin:  bufio.NewReader(cfg.stdin),
		stdout: cfg.stdout,
		stderr: cfg.stderr,
		cfg:    cfg,
	}
	installNatives(m.store)
	return m
}

// Store returns the machine's symbol table.
func (m *Machine) Store() *Store { return m.store }

// Heap returns the machine's heap.
func (m *Machine) Heap() *Heap { return m.heap }

// Depth returns the number of active bytecode calls.
func (m *Machine) Depth() int { return len(m.frames) - 1 }

// CallDepth returns the number of pending returns.
func (m *Machine) CallDepth() int { return len(m.calls) }

// Steps returns the number of executed instructions.
func (m *Machine) Steps() int64 { return m.steps }

// PC returns the position of the next instruction.
func (m *Machine) PC() int { return m.r.Position() }

// Reg returns register r of the current frame.
func (m *Machine) Reg(r byte) uint64 { return m.top().Reg(r) }

// SetReg sets register r of the current frame.
func (m *Machine) SetReg(r byte, v uint64) { m.top().SetReg(r, v) }

// Stdout returns the program's output writer.
func (m *Machine) Stdout() io.Writer { return m.stdout }

func (m *Machine) top() *Frame { return m.frames[len(m.frames)-1] }

// flushStdout flushes buffered program output before blocking on input.
func (m *Machine) flushStdout() {
	if f, ok := m.stdout.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			log.Warningf("flush stdout: %s", err)
		}
	}
}

// Run executes until the stream is exhausted, the program exits, a fault
// occurs or ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	for m.r.HasMore() {
		if m.steps&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if m.cfg.maxSteps > 0 && m.steps >= m.cfg.maxSteps {
			return &Fault{PC: m.r.Position(), Cause: ErrStepLimit,
				Msg: fmt.Sprintf("after %d instructions", m.steps)}
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one instruction.
func (m *Machine) Step() (err error) {
	pc := m.r.Position()
	var op bytecode.Opcode
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch p := r.(type) {
		case faultPanic:
			err = &Fault{PC: pc, Op: op, Cause: p.cause, Msg: p.msg}
		case error:
			if errors.Is(p, bytecode.ErrTruncated) {
				err = &Fault{PC: pc, Op: op, Cause: ErrTruncated}
				return
			}
			panic(r)
		default:
			panic(r)
		}
	}()

	op = m.r.ReadOpcode()
	m.steps++
	if xerr := m.exec(op); xerr != nil {
		return xerr
	}
	if m.cfg.trace != nil {
		m.cfg.trace(pc, m.r.Position()-pc, op)
	}
	if m.jump {
		m.jump = false
		m.r.Seek(m.target)
	}
	return nil
}

// jumpTo transfers control once the current instruction is fully decoded.
func (m *Machine) jumpTo(pos int) {
	m.jump = true
	m.target = pos
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (m *Machine) pushFrame() *Frame {
	if len(m.frames) > m.cfg.maxDepth {
		fault(ErrStackOverflow, "depth %d", len(m.frames))
	}
	var f *Frame
	if n := len(m.spare); n > 0 {
		f = m.spare[n-1]
		m.spare = m.spare[:n-1]
		f.reset()
	} else {
		f = new(Frame)
	}
	m.frames = append(m.frames, f)
	return f
}

func (m *Machine) popFrame() {
	n := len(m.frames) - 1
	m.spare = append(m.spare, m.frames[n])
	m.frames[n] = nil
	m.frames = m.frames[:n]
}

func (m *Machine) call(dst byte, args []byte) error {
	callee := m.Reg(dst)
	if callee == 0 {
		fmt.Fprintln(m.stderr, "(refusing to call a null pointer)")
		return nil
	}
	e, ok := m.store.Resolve(callee)
	if !ok {
		fault(ErrMemory, "call through %#x, which is not a function", callee)
	}
	switch f := e.(type) {
	case *NativeFunc:
		n := len(args)
		if n < f.MinArgs || (f.MaxArgs >= 0 && n > f.MaxArgs) {
			fault(ErrArity, "%s called with %d arguments", f.Name, n)
		}
		vals := make([]uint64, n)
		for i, r := range args {
			vals[i] = m.Reg(r)
		}
		res, err := f.Fn(m, vals)
		if err != nil {
			return err
		}
		m.SetReg(dst, res)
	case *BytecodeFunc:
		if f.NArgs != len(args) {
			fault(ErrArity, "%s takes %d arguments, called with %d", f.Name, f.NArgs, len(args))
		}
		caller := m.top()
		frame := m.pushFrame()
		for i, r := range args {
			frame.SetReg(byte(i+1), caller.Reg(r))
		}
		m.calls = append(m.calls, callEntry{ret: m.r.Position(), dst: dst})
		m.jumpTo(f.Offset)
	}
	return nil
}

// leave pops the current call and returns its entry.
func (m *Machine) leave() callEntry {
	n := len(m.calls)
	if n == 0 {
		fault(ErrStackUnderflow, "no active call")
	}
	ce := m.calls[n-1]
	m.calls = m.calls[:n-1]
	m.popFrame()
	m.jumpTo(ce.ret)
	return ce
}
