// Package debuginfo describes where each function and block of a compiled
// program lives in its instruction stream. Tables are written next to the
// stream as a canonical CBOR sidecar (".sym").
package debuginfo

import (
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Table is the symbol table of one instruction stream.
type Table struct {
	Version int    `cbor:"1,keyasint"`
	Funcs   []Func `cbor:"2,keyasint"`
	// Entry is the offset of the first top-level instruction after the
	// last function declaration.
	Entry int `cbor:"3,keyasint"`
}

// Func locates one function declaration.
type Func struct {
	Name   string  `cbor:"1,keyasint"`
	Decl   int     `cbor:"2,keyasint"` // offset of the FD opcode
	Body   int     `cbor:"3,keyasint"` // offset of the first body byte
	Len    int     `cbor:"4,keyasint"` // body length in bytes
	Arity  int     `cbor:"5,keyasint"`
	Blocks []Block `cbor:"6,keyasint,omitempty"`
}

// Block locates the first byte of a basic block.
type Block struct {
	Name   string `cbor:"1,keyasint"`
	Offset int    `cbor:"2,keyasint"`
}

// CurrentVersion is written into new tables.
const CurrentVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("debuginfo: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// End returns the offset one past the body.
func (f *Func) End() int {
	return f.Body + f.Len
}

// Contains reports whether pos lies within the declaration or body.
func (f *Func) Contains(pos int) bool {
	return pos >= f.Decl && pos < f.End()
}

// BlockAt returns the name of the block starting at pos.
func (f *Func) BlockAt(pos int) (string, bool) {
	for _, b := range f.Blocks {
		if b.Offset == pos {
			return b.Name, true
		}
	}
	return "", false
}

// Lookup returns the function whose declaration or body contains pos.
func (t *Table) Lookup(pos int) (*Func, bool) {
	if t == nil {
		return nil, false
	}
	i := sort.Search(len(t.Funcs), func(i int) bool { return t.Funcs[i].End() > pos })
	if i < len(t.Funcs) && t.Funcs[i].Contains(pos) {
		return &t.Funcs[i], true
	}
	return nil, false
}

// Func returns the function named name.
func (t *Table) Func(name string) (*Func, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.Funcs {
		if t.Funcs[i].Name == name {
			return &t.Funcs[i], true
		}
	}
	return nil, false
}

// Marshal serializes a table to canonical CBOR. Equal tables encode to
// identical bytes.
func Marshal(t *Table) ([]byte, error) {
	return cborEncMode.Marshal(t)
}

// Unmarshal deserializes a table from CBOR bytes.
func Unmarshal(data []byte) (*Table, error) {
	var t Table
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("debuginfo: unmarshal table: %w", err)
	}
	if t.Version > CurrentVersion {
		return nil, fmt.Errorf("debuginfo: unsupported table version %d", t.Version)
	}
	sort.SliceStable(t.Funcs, func(i, j int) bool { return t.Funcs[i].Decl < t.Funcs[j].Decl })
	return &t, nil
}

// WriteFile writes the CBOR encoding of t to path.
func WriteFile(path string, t *Table) error {
	data, err := Marshal(t)
	if err != nil {
		return fmt.Errorf("debuginfo: marshal table: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("debuginfo: %w", err)
	}
	return nil
}

// ReadFile reads a table written by WriteFile.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("debuginfo: %w", err)
	}
	return Unmarshal(data)
}
