// Package manifest handles rbvm.toml configuration.
package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the name of the configuration file.
const FileName = "rbvm.toml"

//go:embed schema.cue
var schema string

// Manifest represents an rbvm.toml configuration.
type Manifest struct {
	VM      VMConfig      `toml:"vm" json:"vm"`
	Compile CompileConfig `toml:"compile" json:"compile"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`

	// Path is the file the manifest was loaded from (set at load time).
	Path string `toml:"-" json:"-"`
}

// VMConfig bounds program execution.
type VMConfig struct {
	MaxSteps  int64 `toml:"max_steps" json:"max_steps"` // 0 = unbounded
	MaxDepth  int   `toml:"max_depth" json:"max_depth"`
	HeapLimit int   `toml:"heap_limit" json:"heap_limit"` // bytes, 0 = unbounded
}

// CompileConfig configures rbvmc output.
type CompileConfig struct {
	Filetype string `toml:"filetype" json:"filetype"`
	Sidecar  bool   `toml:"sidecar" json:"sidecar"`
}

// ServerConfig configures rbvm-server.
type ServerConfig struct {
	Addr       string `toml:"addr" json:"addr"`
	HealthAddr string `toml:"health_addr" json:"health_addr"`
	Cache      string `toml:"cache" json:"cache"` // sqlite path, empty = in-memory
	SessionTTL string `toml:"session_ttl" json:"session_ttl"`
	RunTimeout string `toml:"run_timeout" json:"run_timeout"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			MaxDepth:  100000,
			HeapLimit: 64 << 20,
		},
		Compile: CompileConfig{Filetype: "bc"},
		Server: ServerConfig{
			Addr:       "localhost:8420",
			HealthAddr: "localhost:8421",
			SessionTTL: "10m",
			RunTimeout: "5s",
		},
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return m, nil
}

// Load parses the rbvm.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// FindAndLoad walks up from startDir to find an rbvm.toml file, then loads
// and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Resolve loads path when it is set and otherwise searches upward from
// the working directory.
func Resolve(path string) (*Manifest, error) {
	if path != "" {
		return LoadFile(path)
	}
	return FindAndLoad(".")
}

// Validate checks m against the embedded CUE schema.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	s := ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	v := s.LookupPath(cue.ParsePath("#Manifest")).Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Write encodes m as TOML.
func (m *Manifest) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(m)
}

// SessionTTL returns how long an idle interactive session survives.
func (m *Manifest) SessionTTL() time.Duration {
	return duration(m.Server.SessionTTL)
}

// RunTimeout returns the wall-clock bound of one run.
func (m *Manifest) RunTimeout() time.Duration {
	return duration(m.Server.RunTimeout)
}

// duration parses a duration the schema has already accepted.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ConfigureLogging applies the [log] section to commonlog. extra raises
// the configured verbosity (for -v flags).
func (m *Manifest) ConfigureLogging(extra int) {
	var path *string
	if m.Log.File != "" {
		path = &m.Log.File
	}
	commonlog.Configure(min(m.Log.Verbosity+extra, 2), path)
}

// IsNotFound reports whether err came from a missing configuration file.
func IsNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
