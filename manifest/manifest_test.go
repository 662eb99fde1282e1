package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
max_steps = 1000
max_depth = 64
heap_limit = 4096

[compile]
filetype = "asm"
sidecar = true

[server]
addr = ":9000"
health_addr = ":9001"
cache = "cache.db"
session_ttl = "90s"
run_timeout = "250ms"

[log]
verbosity = 2
file = "rbvm.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.MaxSteps != 1000 || m.VM.MaxDepth != 64 || m.VM.HeapLimit != 4096 {
		t.Errorf("vm = %+v", m.VM)
	}
	if m.Compile.Filetype != "asm" || !m.Compile.Sidecar {
		t.Errorf("compile = %+v", m.Compile)
	}
	if m.Server.Addr != ":9000" || m.Server.HealthAddr != ":9001" || m.Server.Cache != "cache.db" {
		t.Errorf("server = %+v", m.Server)
	}
	if m.SessionTTL() != 90*time.Second {
		t.Errorf("session ttl = %v, want 90s", m.SessionTTL())
	}
	if m.RunTimeout() != 250*time.Millisecond {
		t.Errorf("run timeout = %v, want 250ms", m.RunTimeout())
	}
	if m.Log.Verbosity != 2 || m.Log.File != "rbvm.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if m.Path != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", m.Path)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm]\nmax_steps = 5\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	if m.VM.MaxSteps != 5 {
		t.Errorf("max steps = %d, want 5", m.VM.MaxSteps)
	}
	if m.VM.MaxDepth != want.VM.MaxDepth || m.VM.HeapLimit != want.VM.HeapLimit {
		t.Errorf("vm = %+v, want defaults for unset keys", m.VM)
	}
	if m.Compile.Filetype != "bc" {
		t.Errorf("filetype = %q, want bc", m.Compile.Filetype)
	}
	if m.SessionTTL() != 10*time.Minute {
		t.Errorf("session ttl = %v, want 10m", m.SessionTTL())
	}
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[compile]\nfiletype = \"null\"\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m.Compile.Filetype != "null" {
		t.Errorf("filetype = %q, want null", m.Compile.Filetype)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m.Path != "" || m.Compile.Filetype != "bc" {
		t.Errorf("FindAndLoad = %+v, want defaults", m)
	}
}

func TestSchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"filetype", "[compile]\nfiletype = \"elf\"\n", "filetype"},
		{"negative steps", "[vm]\nmax_steps = -1\n", "max_steps"},
		{"zero depth", "[vm]\nmax_depth = 0\n", "max_depth"},
		{"duration", "[server]\nsession_ttl = \"soon\"\n", "session_ttl"},
		{"verbosity", "[log]\nverbosity = 9\n", "verbosity"},
		{"empty addr", "[server]\naddr = \"\"\n", "addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("Parse succeeded, want a schema error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error = %v, want it to name %s", err, tt.field)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	if _, err := Parse([]byte("[vm\n")); err == nil {
		t.Error("Parse of malformed TOML succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if !IsNotFound(err) {
		t.Errorf("LoadFile = %v, want a not-found error", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	m := Default()
	m.VM.MaxSteps = 77
	m.Server.Cache = "x.db"
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, buf.String())
	}
	if got.VM.MaxSteps != 77 || got.Server.Cache != "x.db" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestResolveExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \":1\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Server.Addr != ":1" {
		t.Errorf("addr = %q, want :1", m.Server.Addr)
	}
	if _, err := Resolve(path + ".missing"); !IsNotFound(err) {
		t.Errorf("Resolve(missing) = %v, want a not-found error", err)
	}
}
