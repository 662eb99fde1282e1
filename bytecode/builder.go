package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing an instruction stream
// ---------------------------------------------------------------------------

// Builder appends instructions to an in-memory stream. The stream is
// append-only except for fixups, which overwrite previously emitted
// placeholder fields.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes: make([]byte, 0, 256),
	}
}

// Bytes returns the constructed bytecode.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the offset of the next
// emitted byte.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends a raw byte.
func (b *Builder) EmitRaw(data byte) {
	b.bytes = append(b.bytes, data)
}

// EmitUint32 appends a 32-bit value.
func (b *Builder) EmitUint32(v uint32) {
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, v)
}

// EmitUint64 appends a 64-bit value.
func (b *Builder) EmitUint64(v uint64) {
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, v)
}

// EmitInt64 appends a signed 64-bit value.
func (b *Builder) EmitInt64(v int64) {
	b.EmitUint64(uint64(v))
}

// EmitFloat64 appends an IEEE double.
func (b *Builder) EmitFloat64(v float64) {
	b.EmitUint64(math.Float64bits(v))
}

// EmitString appends a length-prefixed byte string.
func (b *Builder) EmitString(s []byte) {
	b.EmitUint32(uint32(len(s)))
	b.bytes = append(b.bytes, s...)
}

func (b *Builder) patch64(pos int, v int64) {
	binary.LittleEndian.PutUint64(b.bytes[pos:], uint64(v))
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// RegReg emits the register form of an ambiguous instruction.
func (b *Builder) RegReg(op Opcode, r1, r2 byte) {
	b.bytes = append(b.bytes, byte(op), 0, r1, r2)
}

// RegImm emits the immediate form of an ambiguous instruction with an
// integer operand.
func (b *Builder) RegImm(op Opcode, r byte, imm int64) {
	b.bytes = append(b.bytes, byte(op), 1, r)
	b.EmitInt64(imm)
}

// RegFloat emits the immediate form of an ambiguous instruction with a
// floating point operand.
func (b *Builder) RegFloat(op Opcode, r byte, imm float64) {
	b.bytes = append(b.bytes, byte(op), 1, r)
	b.EmitFloat64(imm)
}

// Named emits GG, SG or CSS: a length-prefixed string and a register.
func (b *Builder) Named(op Opcode, name []byte, r byte) {
	b.Emit(op)
	b.EmitString(name)
	b.EmitRaw(r)
}

// GetGlobal emits GG name, r.
func (b *Builder) GetGlobal(name string, r byte) {
	b.Named(OpGG, []byte(name), r)
}

// SetGlobal emits SG name, r.
func (b *Builder) SetGlobal(name string, r byte) {
	b.Named(OpSG, []byte(name), r)
}

// ConstString emits CSS data, r.
func (b *Builder) ConstString(data []byte, r byte) {
	b.Named(OpCSS, data, r)
}

// Cell emits CSS_DYN r1, r2.
func (b *Builder) Cell(r1, r2 byte) {
	b.bytes = append(b.bytes, byte(OpCSSDyn), r1, r2)
}

// AddressOf emits LEA r1, r2.
func (b *Builder) AddressOf(r1, r2 byte) {
	b.bytes = append(b.bytes, byte(OpLEA), r1, r2)
}

// Not emits INEG r.
func (b *Builder) Not(r byte) {
	b.bytes = append(b.bytes, byte(OpINEG), r)
}

// Load emits a register-addressed load of the given width in bits.
func (b *Builder) Load(bits int, dst, ptr byte) error {
	op, ok := LoadOp(bits)
	if !ok {
		return fmt.Errorf("bytecode: no load for width %d", bits)
	}
	b.RegReg(op, dst, ptr)
	return nil
}

// LoadAbs emits an immediate-addressed load.
func (b *Builder) LoadAbs(bits int, dst byte, addr uint64) error {
	op, ok := LoadOp(bits)
	if !ok {
		return fmt.Errorf("bytecode: no load for width %d", bits)
	}
	b.bytes = append(b.bytes, byte(op), 1, dst)
	b.EmitUint64(addr)
	return nil
}

// Store emits a register-addressed store of the given width in bits.
func (b *Builder) Store(bits int, ptr, val byte) error {
	op, ok := StoreOp(bits)
	if !ok {
		return fmt.Errorf("bytecode: no store for width %d", bits)
	}
	b.RegReg(op, ptr, val)
	return nil
}

// StoreAbs emits an immediate-addressed store. The address precedes the
// value register.
func (b *Builder) StoreAbs(bits int, addr uint64, val byte) error {
	op, ok := StoreOp(bits)
	if !ok {
		return fmt.Errorf("bytecode: no store for width %d", bits)
	}
	b.bytes = append(b.bytes, byte(op), 1)
	b.EmitUint64(addr)
	b.EmitRaw(val)
	return nil
}

// Call emits CALLn callee, args... The callee register also receives the
// result.
func (b *Builder) Call(callee byte, args []byte) error {
	op, ok := CallOp(len(args))
	if !ok {
		return fmt.Errorf("bytecode: %d call arguments exceed the limit of %d", len(args), MaxCallArgs)
	}
	b.bytes = append(b.bytes, byte(op), callee)
	b.bytes = append(b.bytes, args...)
	return nil
}

// Ret emits RET with a register operand.
func (b *Builder) Ret(r byte) {
	b.bytes = append(b.bytes, byte(OpRET), 0, r)
}

// RetImm emits RET with an immediate operand.
func (b *Builder) RetImm(v int64) {
	b.bytes = append(b.bytes, byte(OpRET), 1)
	b.EmitInt64(v)
}

// Leave emits LEAVE.
func (b *Builder) Leave() {
	b.Emit(OpLEAVE)
}

// ---------------------------------------------------------------------------
// Function declarations
// ---------------------------------------------------------------------------

// DeclHandle is the position of a function declaration's body-length field.
type DeclHandle int

// FuncDecl emits a function declaration header with a placeholder body
// length. The body starts at the returned handle + 8.
func (b *Builder) FuncDecl(name string, nargs uint64) DeclHandle {
	b.Emit(OpFD)
	b.EmitString([]byte(name))
	b.EmitUint64(nargs)
	h := DeclHandle(b.Len())
	b.EmitUint64(0)
	return h
}

// BodyStart returns the offset of the first body byte of a declaration.
func (h DeclHandle) BodyStart() int {
	return int(h) + 8
}

// FixupDecl sets the body length of a declaration to everything emitted
// since its header.
func (b *Builder) FixupDecl(h DeclHandle) {
	b.patch64(int(h), int64(b.Len()-h.BodyStart()))
}

// ---------------------------------------------------------------------------
// Jumps and fixups
// ---------------------------------------------------------------------------

// Fixup refers to an emitted jump whose 8-byte offset field still holds a
// placeholder.
type Fixup struct {
	pos   int // position of the jump opcode byte
	field int // position of the offset field
}

// Pos returns the position of the jump's opcode byte.
func (f Fixup) Pos() int {
	return f.pos
}

func (b *Builder) jump(op Opcode, withReg bool, r byte, placeholder int64) Fixup {
	f := Fixup{pos: b.Len()}
	b.Emit(op)
	if withReg {
		b.EmitRaw(r)
	}
	f.field = b.Len()
	b.EmitInt64(placeholder)
	return f
}

// Jump emits an unconditional jump with an unresolved target.
func (b *Builder) Jump() Fixup {
	return b.jump(OpJMP, false, 0, 0)
}

// JumpZero emits a jump taken when r is zero, with an unresolved target.
func (b *Builder) JumpZero(r byte) Fixup {
	return b.jump(OpJZ, true, r, 0)
}

// JumpNonZero emits a jump taken when r is non-zero, with an unresolved
// target.
func (b *Builder) JumpNonZero(r byte) Fixup {
	return b.jump(OpJNZ, true, r, 0)
}

// Postpone emits an unconditional jump whose target is not emitted yet.
// The placeholder is -1 until ResolveTo runs.
func (b *Builder) Postpone() Fixup {
	return b.jump(OpJMP, false, 0, -1)
}

// Resolve points f at the current position.
func (b *Builder) Resolve(f Fixup) {
	b.ResolveTo(f, b.Len())
}

// ResolveTo points f at target.
func (b *Builder) ResolveTo(f Fixup, target int) {
	b.patch64(f.field, int64(target-f.pos))
}

// JumpTo emits an unconditional jump to a known position.
func (b *Builder) JumpTo(target int) {
	pos := b.Len()
	b.Emit(OpJMP)
	b.EmitInt64(int64(target - pos))
}
