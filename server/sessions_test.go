package server

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/chazu/rbvm/bytecode"
)

// haltProgram is a stream with no instructions after the entry point.
func haltProgram() []byte {
	return bytecode.NewBuilder().Bytes()
}

func TestSessionIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID()
		if len(id) != sessionIDLen {
			t.Fatalf("id %q has length %d, want %d", id, len(id), sessionIDLen)
		}
		for _, c := range id {
			if c < 'a' || c > 'z' {
				t.Fatalf("id %q contains %q, want only letters", id, c)
			}
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("only %d distinct ids out of 100", len(seen))
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	defer store.Close()

	s := store.Create(haltProgram())
	if got, ok := store.Get(s.ID); !ok || got != s {
		t.Fatalf("Get(%q) = %v, %v", s.ID, got, ok)
	}
	line, finished := s.Next(context.Background())
	if line != "" || !finished {
		t.Errorf("Next = %q, %v; want an immediately finished program", line, finished)
	}
	if !store.Destroy(s.ID) {
		t.Error("Destroy of a live session reported false")
	}
	if store.Destroy(s.ID) {
		t.Error("second Destroy reported true")
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0", store.Len())
	}
}

func TestSessionSweep(t *testing.T) {
	store := NewSessionStore()
	defer store.Close()

	stale := store.Create(haltProgram())
	fresh := store.Create(haltProgram())
	stale.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())

	if n := store.Sweep(time.Minute); n != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", n)
	}
	if _, ok := store.Get(stale.ID); ok {
		t.Error("stale session survived the sweep")
	}
	if _, ok := store.Get(fresh.ID); !ok {
		t.Error("fresh session was swept")
	}
}

func TestNextTimesOut(t *testing.T) {
	store := NewSessionStore()
	defer store.Close()

	code := compileSource(t, echoSource)
	raw, err := DecodeHex(code)
	if err != nil {
		t.Fatal(err)
	}
	s := store.Create(raw)
	if line, _ := s.Next(context.Background()); line != "ready" {
		t.Fatalf("first line = %q, want ready", line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	line, finished := s.Next(ctx)
	if line != "" || finished {
		t.Errorf("Next = %q, %v; want nothing while the program waits for input", line, finished)
	}
}

// ---------------------------------------------------------------------------
// Session I/O
// ---------------------------------------------------------------------------

func TestLineSinkSplitsLines(t *testing.T) {
	sink := &lineSink{lines: make(chan string, 8), stop: make(chan struct{})}
	io.WriteString(sink, "ab")
	io.WriteString(sink, "c\nde\n\nf")
	sink.finish()

	var got []string
	for line := range sink.lines {
		got = append(got, line)
	}
	want := []string{"abc", "de", "", "f"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLineFeedEOFOnStop(t *testing.T) {
	stop := make(chan struct{})
	feed := &lineFeed{lines: make(chan []byte, 1), stop: stop}
	feed.lines <- []byte("hi\n")

	buf := make([]byte, 2)
	if n, err := feed.Read(buf); n != 2 || err != nil || string(buf) != "hi" {
		t.Fatalf("Read = %d, %v, %q", n, err, buf[:n])
	}
	if n, err := feed.Read(buf); n != 1 || err != nil || buf[0] != '\n' {
		t.Fatalf("Read = %d, %v", n, err)
	}
	close(stop)
	if _, err := feed.Read(buf); err != io.EOF {
		t.Errorf("Read after stop = %v, want EOF", err)
	}
}
