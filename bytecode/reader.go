package bytecode

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTruncated is the panic value raised when an instruction runs past the
// end of the stream.
var ErrTruncated = errors.New("bytecode underflow")

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader reads an instruction stream for interpretation or disassembly.
// Reads past the end panic with ErrTruncated; callers that must not panic
// recover it at their dispatch boundary.
type Reader struct {
	bytes []byte
	pos   int
}

// NewReader creates a reader positioned at offset 0.
func NewReader(bc []byte) *Reader {
	return &Reader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the stream length.
func (r *Reader) Len() int {
	return len(r.bytes)
}

// HasMore returns true if there are more bytes to read.
func (r *Reader) HasMore() bool {
	return r.pos >= 0 && r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *Reader) Seek(pos int) {
	r.pos = pos
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) {
	r.need(n)
	r.pos += n
}

func (r *Reader) need(n int) {
	if r.pos < 0 || n < 0 || r.pos+n > len(r.bytes) {
		panic(ErrTruncated)
	}
}

// ReadOpcode reads and returns the next opcode.
func (r *Reader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single byte operand.
func (r *Reader) ReadByte() byte {
	r.need(1)
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint32 reads a 32-bit operand.
func (r *Reader) ReadUint32() uint32 {
	r.need(4)
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadUint64 reads a 64-bit operand.
func (r *Reader) ReadUint64() uint64 {
	r.need(8)
	v := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return v
}

// ReadInt64 reads a signed 64-bit operand.
func (r *Reader) ReadInt64() int64 {
	return int64(r.ReadUint64())
}

// ReadFloat64 reads an IEEE double operand.
func (r *Reader) ReadFloat64() float64 {
	return math.Float64frombits(r.ReadUint64())
}

// ReadBytes reads n raw bytes. The result aliases the stream.
func (r *Reader) ReadBytes(n int) []byte {
	r.need(n)
	b := r.bytes[r.pos : r.pos+n]
	r.pos += n
	return b
}

// ReadString reads a length-prefixed byte string. The result aliases the
// stream.
func (r *Reader) ReadString() []byte {
	n := r.ReadUint32()
	if uint64(n) > uint64(len(r.bytes)) {
		panic(ErrTruncated)
	}
	return r.ReadBytes(int(n))
}
