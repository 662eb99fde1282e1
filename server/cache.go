package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/rbvm/debuginfo"

	_ "modernc.org/sqlite"
)

// ErrCacheMiss indicates no artifact is stored for a source hash.
var ErrCacheMiss = errors.New("artifact not cached")

// Artifact is the cached output of one successful compilation.
type Artifact struct {
	Code        []byte
	Disassembly string
	Debug       *debuginfo.Table
}

// Cache stores compiled artifacts in SQLite, keyed by the sha256 of the
// source text.
type Cache struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenCache opens (creating if needed) the cache database at path. An
// empty path keeps the cache in memory.
func OpenCache(path string) (*Cache, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		hash TEXT PRIMARY KEY,
		code BLOB NOT NULL,
		disassembly TEXT NOT NULL,
		symbols BLOB,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Cache{db: db}, nil
}

// SourceHash returns the cache key of source.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the artifact stored under hash, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, hash string) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		a       Artifact
		symbols []byte
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT code, disassembly, symbols FROM artifacts WHERE hash = ?", hash,
	).Scan(&a.Code, &a.Disassembly, &symbols)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("querying artifact: %w", err)
	}
	if len(symbols) > 0 {
		if a.Debug, err = debuginfo.Unmarshal(symbols); err != nil {
			return nil, fmt.Errorf("decoding symbols: %w", err)
		}
	}
	return &a, nil
}

// Put stores a under hash, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, hash string, a *Artifact) error {
	var symbols []byte
	if a.Debug != nil {
		var err error
		if symbols, err = debuginfo.Marshal(a.Debug); err != nil {
			return fmt.Errorf("encoding symbols: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO artifacts (hash, code, disassembly, symbols, created) VALUES (?, ?, ?, ?, ?)",
		hash, a.Code, a.Disassembly, symbols, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}
	return nil
}

// Len returns the number of cached artifacts.
func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
