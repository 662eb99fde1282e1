package server

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/rbvm/vm"
)

const (
	sessionIDLen = 8
	outputLines  = 256
)

// Session is an interactive run: a machine on its own worker whose stdin
// is fed line by line and whose stdout is read back line by line.
type Session struct {
	ID string

	worker *VMWorker
	stdin  *lineFeed
	stdout *lineSink
	stop   chan struct{}
	once   sync.Once

	mu       sync.Mutex // serializes exchanges
	created  time.Time
	lastUsed atomic.Int64 // unix nanoseconds
}

func newSession(id string, code []byte, opts ...vm.Option) *Session {
	stop := make(chan struct{})
	s := &Session{
		ID:      id,
		stdin:   &lineFeed{lines: make(chan []byte, outputLines), stop: stop},
		stdout:  &lineSink{lines: make(chan string, outputLines), stop: stop},
		stop:    stop,
		created: time.Now(),
	}
	s.touch()
	opts = append(opts, vm.WithStdin(s.stdin), vm.WithStdout(s.stdout))
	s.worker = StartVMWorker(context.Background(), vm.New(code, opts...))
	go func() {
		<-s.worker.Done()
		s.stdout.finish()
	}()
	return s
}

// Next returns the next complete output line. finished is set once the
// program has stopped and all of its output has been read. If ctx ends
// first, Next returns an empty line.
func (s *Session) Next(ctx context.Context) (line string, finished bool) {
	select {
	case line, ok := <-s.stdout.lines:
		if !ok {
			return "", true
		}
		return line, false
	case <-ctx.Done():
		return "", false
	}
}

// Send feeds line, plus a newline, to the program's stdin.
func (s *Session) Send(line string) {
	select {
	case s.stdin.lines <- []byte(line + "\n"):
	case <-s.stop:
	}
}

// Err returns the program's result once it has stopped.
func (s *Session) Err() error { return s.worker.Err() }

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) idleSince(t time.Time) bool {
	return s.lastUsed.Load() < t.UnixNano()
}

// close stops the machine and unblocks its pending I/O.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.stop)
		s.worker.Stop()
	})
}

// lineFeed is a stdin that blocks until a line is sent and reports EOF
// once the session is stopped.
type lineFeed struct {
	lines chan []byte
	stop  chan struct{}
	buf   []byte
}

func (f *lineFeed) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		select {
		case b := <-f.lines:
			f.buf = b
		case <-f.stop:
			return 0, io.EOF
		}
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// lineSink splits program output into lines. Only the worker writes.
type lineSink struct {
	lines   chan string
	stop    chan struct{}
	partial strings.Builder
}

func (o *lineSink) Write(p []byte) (int, error) {
	for _, b := range p {
		if b != '\n' {
			o.partial.WriteByte(b)
			continue
		}
		o.emit(o.partial.String())
		o.partial.Reset()
	}
	return len(p), nil
}

func (o *lineSink) emit(line string) {
	select {
	case o.lines <- line:
	case <-o.stop:
	}
}

// finish flushes an unterminated last line and closes the stream.
func (o *lineSink) finish() {
	if o.partial.Len() > 0 {
		o.emit(o.partial.String())
		o.partial.Reset()
	}
	close(o.lines)
}

// SessionStore manages interactive sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     []vm.Option
}

// NewSessionStore creates a session store whose machines are built with opts.
func NewSessionStore(opts ...vm.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// Create starts code in a new session.
func (s *SessionStore) Create(code []byte) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newSessionID()
	for s.sessions[id] != nil {
		id = newSessionID()
	}
	session := newSession(id, code, s.opts...)
	s.sessions[id] = session
	log.Debugf("session %s started", id)
	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy stops and removes a session. It reports whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.close()
		log.Debugf("session %s stopped", id)
	}
	return ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep destroys sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var expired []*Session

	s.mu.Lock()
	for id, session := range s.sessions {
		if session.idleSince(cutoff) {
			delete(s.sessions, id)
			expired = append(expired, session)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.close()
		log.Debugf("session %s expired", session.ID)
	}
	return len(expired)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// Close destroys every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

func newSessionID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	var b [sessionIDLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b[:])
}
