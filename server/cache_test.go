package server

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/rbvm/debuginfo"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	a := &Artifact{
		Code:        []byte{0, 1, 'f', 0, 63},
		Disassembly: "0000  fd f\n",
		Debug: &debuginfo.Table{
			Version: debuginfo.CurrentVersion,
			Funcs:   []debuginfo.Func{{Name: "f", Decl: 0, Body: 4, Len: 1}},
			Entry:   5,
		},
	}
	hash := SourceHash("package main")
	if err := c.Put(bg(), hash, a); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.Close()

	// Reopen to check the artifact was persisted.
	c, err = OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	got, err := c.Get(bg(), hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Code, a.Code) || got.Disassembly != a.Disassembly {
		t.Errorf("Get = %+v, want %+v", got, a)
	}
	if got.Debug == nil || got.Debug.Entry != 5 || len(got.Debug.Funcs) != 1 || got.Debug.Funcs[0].Name != "f" {
		t.Errorf("Debug = %+v", got.Debug)
	}
	if n, err := c.Len(bg()); err != nil || n != 1 {
		t.Errorf("Len = %d, %v; want 1", n, err)
	}
}

func TestCacheMiss(t *testing.T) {
	c, err := OpenCache("")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	if _, err := c.Get(bg(), SourceHash("absent")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get = %v, want ErrCacheMiss", err)
	}
}

func TestSourceHash(t *testing.T) {
	if SourceHash("a") == SourceHash("b") {
		t.Error("distinct sources share a hash")
	}
	if h := SourceHash(""); len(h) != 64 {
		t.Errorf("hash %q has length %d, want 64", h, len(h))
	}
}
