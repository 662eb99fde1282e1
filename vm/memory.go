package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Address space
// ---------------------------------------------------------------------------

// Virtual addresses carry their region in the top four bits. Zero is null.
//
//	heap   1<<60 | arena offset
//	frame  2<<60 | depth<<16 | byte offset
//	func   3<<60 | function index
const (
	regionShift = 60
	regionHeap  = 1
	regionFrame = 2
	regionFunc  = 3

	offsetMask = 1<<regionShift - 1
)

func region(addr uint64) uint64 { return addr >> regionShift }

func heapAddr(off int) uint64 { return regionHeap<<regionShift | uint64(off) }

func frameAddr(depth, off int) uint64 {
	return regionFrame<<regionShift | uint64(depth)<<16 | uint64(off)
}

func funcHandle(i int) uint64 { return regionFunc<<regionShift | uint64(i) }

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// NumRegisters is the size of a register file.
const NumRegisters = 256

// FrameSize is the size of a frame in bytes.
const FrameSize = NumRegisters * 8

// Frame is one call's register file, stored as bytes so register slots
// can be addressed at any width.
type Frame struct {
	bytes [FrameSize]byte
}

// Reg returns register r.
func (f *Frame) Reg(r byte) uint64 {
	return binary.LittleEndian.Uint64(f.bytes[int(r)*8:])
}

// SetReg sets register r.
func (f *Frame) SetReg(r byte, v uint64) {
	binary.LittleEndian.PutUint64(f.bytes[int(r)*8:], v)
}

func (f *Frame) reset() {
	f.bytes = [FrameSize]byte{}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// heapBase keeps the first heap address well clear of null.
const heapBase = 16

type span struct {
	off, size int
}

// Heap is a growable arena. Allocations are 8-byte aligned and zeroed;
// freed blocks are reused first-fit. Limit bounds the arena size when
// positive.
type Heap struct {
	mem   []byte
	live  map[int]int // offset -> size
	free  []span
	Limit int
}

// NewHeap returns an empty heap.
func NewHeap(limit int) *Heap {
	return &Heap{mem: make([]byte, heapBase), live: map[int]int{}, Limit: limit}
}

// Alloc returns the address of n fresh zeroed bytes, or false when the
// limit is reached.
func (h *Heap) Alloc(n int) (uint64, bool) {
	if n < 0 {
		return 0, false
	}
	size := (n + 7) &^ 7
	if size == 0 {
		size = 8
	}
	for i, s := range h.free {
		if s.size < size {
			continue
		}
		if s.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{off: s.off + size, size: s.size - size}
		}
		clear(h.mem[s.off : s.off+size])
		h.live[s.off] = size
		return heapAddr(s.off), true
	}
	off := len(h.mem)
	if h.Limit > 0 && off+size > h.Limit {
		return 0, false
	}
	h.mem = append(h.mem, make([]byte, size)...)
	h.live[off] = size
	return heapAddr(off), true
}

// Free releases an allocation. It reports false for addresses that are not
// live allocations.
func (h *Heap) Free(addr uint64) bool {
	if region(addr) != regionHeap {
		return false
	}
	off := int(addr & offsetMask)
	size, ok := h.live[off]
	if !ok {
		return false
	}
	delete(h.live, off)
	h.free = append(h.free, span{off: off, size: size})
	return true
}

// InUse returns the number of live bytes.
func (h *Heap) InUse() int {
	n := 0
	for _, s := range h.live {
		n += s
	}
	return n
}

func (h *Heap) slice(off uint64, n int) ([]byte, bool) {
	if off < heapBase || off+uint64(n) > uint64(len(h.mem)) {
		return nil, false
	}
	return h.mem[off : off+uint64(n)], true
}

// ---------------------------------------------------------------------------
// Machine memory access
// ---------------------------------------------------------------------------

// bytesAt returns the n bytes at addr, faulting when any of them lies
// outside addressable storage.
func (m *Machine) bytesAt(addr uint64, n int) []byte {
	switch region(addr) {
	case regionHeap:
		if b, ok := m.heap.slice(addr&offsetMask, n); ok {
			return b
		}
	case regionFrame:
		depth := int(addr >> 16 & 0xFFFFFFFF)
		off := int(addr & 0xFFFF)
		if depth < len(m.frames) && off+n <= FrameSize {
			return m.frames[depth].bytes[off : off+n]
		}
	}
	fault(ErrMemory, "%d-byte access at %#x", n, addr)
	return nil
}

// loadMem reads a zero-extended value of width bytes.
func (m *Machine) loadMem(addr uint64, width int) uint64 {
	b := m.bytesAt(addr, width)
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// storeMem writes the low width bytes of v.
func (m *Machine) storeMem(addr uint64, width int, v uint64) {
	b := m.bytesAt(addr, width)
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// alloc allocates heap memory for an instruction, faulting on exhaustion.
func (m *Machine) alloc(n int) uint64 {
	addr, ok := m.heap.Alloc(n)
	if !ok {
		fault(ErrMemory, "heap limit of %d bytes exceeded", m.heap.Limit)
	}
	return addr
}

// maxCString bounds C string reads.
const maxCString = 1 << 20

// CString reads a NUL-terminated string at addr.
func (m *Machine) CString(addr uint64) string {
	var buf []byte
	for i := 0; i < maxCString; i++ {
		c := m.bytesAt(addr+uint64(i), 1)[0]
		if c == 0 {
			return string(buf)
		}
		buf = append(buf, c)
	}
	fault(ErrMemory, "unterminated string at %#x", addr)
	return ""
}
