// Package bytecode defines the rbvm instruction encoding: the opcode set,
// the operand layout of every instruction, a builder used by the code
// generator and a reader used by the runtime.
//
// All multi-byte quantities are little-endian.
package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Declarations, moves and globals
const (
	OpFD  Opcode = 0x00 // function declaration: name, arity, body length
	OpMOV Opcode = 0x01 // r1 = operand
	OpGG  Opcode = 0x02 // r = globals[name]
	OpSG  Opcode = 0x03 // globals[name] = r
	OpCSS Opcode = 0x04 // r = address of a fresh copy of a string constant
)

// Loads, stores and address-of
const (
	OpLD8  Opcode = 0x05 // zero-extending 8-bit load
	OpLD16 Opcode = 0x06 // zero-extending 16-bit load
	OpLD32 Opcode = 0x07 // zero-extending 32-bit load
	OpLD64 Opcode = 0x08 // 64-bit load
	OpST8  Opcode = 0x09 // truncating 8-bit store
	OpST16 Opcode = 0x0A // truncating 16-bit store
	OpST32 Opcode = 0x0B // truncating 32-bit store
	OpST64 Opcode = 0x0C // 64-bit store
	OpLEA  Opcode = 0x0D // r1 = address of register slot r2
)

// Integer arithmetic
const (
	OpIADD Opcode = 0x0E
	OpISUB Opcode = 0x0F
	OpSMUL Opcode = 0x10
	OpUMUL Opcode = 0x11
	OpSREM Opcode = 0x12
	OpUREM Opcode = 0x13
	OpSDIV Opcode = 0x14
	OpUDIV Opcode = 0x15
)

// Bitwise
const (
	OpAND  Opcode = 0x16
	OpOR   Opcode = 0x17
	OpXOR  Opcode = 0x18
	OpSHL  Opcode = 0x19
	OpLSHR Opcode = 0x1A
	OpASHR Opcode = 0x1B
	OpINEG Opcode = 0x1C // r = ^r
)

// Floating point arithmetic
const (
	OpFADD Opcode = 0x1D
	OpFSUB Opcode = 0x1E
	OpFMUL Opcode = 0x1F
	OpFDIV Opcode = 0x20
	OpFREM Opcode = 0x21
)

// Comparisons (result is 0 or 1)
const (
	OpEQ  Opcode = 0x22
	OpNE  Opcode = 0x23
	OpSLT Opcode = 0x24
	OpSLE Opcode = 0x25
	OpSGT Opcode = 0x26
	OpSGE Opcode = 0x27
	OpULT Opcode = 0x28
	OpULE Opcode = 0x29
	OpUGT Opcode = 0x2A
	OpUGE Opcode = 0x2B
	OpFEQ Opcode = 0x2C
	OpFNE Opcode = 0x2D
	OpFLT Opcode = 0x2E
	OpFLE Opcode = 0x2F
	OpFGT Opcode = 0x30
	OpFGE Opcode = 0x31
)

// Control flow
const (
	OpJMP   Opcode = 0x32 // pc = pc(op) + offset
	OpJNZ   Opcode = 0x33 // if r != 0: pc = pc(op) + offset
	OpJZ    Opcode = 0x34 // if r == 0: pc = pc(op) + offset
	OpCALL0 Opcode = 0x35
	OpCALL1 Opcode = 0x36
	OpCALL2 Opcode = 0x37
	OpCALL3 Opcode = 0x38
	OpCALL4 Opcode = 0x39
	OpCALL5 Opcode = 0x3A
	OpCALL6 Opcode = 0x3B
	OpCALL7 Opcode = 0x3C
	OpCALL8 Opcode = 0x3D
	OpRET   Opcode = 0x3E // return register or immediate
	OpLEAVE Opcode = 0x3F // return without a value
)

// Late additions
const (
	OpCSSDyn Opcode = 0x40 // r1 = address of a fresh 8-byte cell holding r2
)

// MaxCallArgs is the largest arity with a dedicated call opcode.
const MaxCallArgs = 8

// ---------------------------------------------------------------------------
// Operand formats
// ---------------------------------------------------------------------------

// Format describes how the operand bytes following an opcode are laid out.
type Format int

const (
	FormatNone     Format = iota // [op]
	FormatDecl                   // [op][u32 len][name][u64 nargs][u64 bodylen]
	FormatName                   // [op][u32 len][bytes][reg]
	FormatReg                    // [op][reg]
	FormatRegReg                 // [op][reg][reg]
	FormatAmbig                  // [op][flag][reg][reg | imm8]
	FormatLoad                   // [op][flag][reg][reg | addr8]
	FormatStore                  // [op][flag][reg reg | addr8 reg]
	FormatJump                   // [op][i64]
	FormatCondJump               // [op][reg][i64]
	FormatCall                   // [op][reg][n regs]
	FormatRet                    // [op][flag][imm8 | reg]
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string // mnemonic
	Format Format // operand layout
	Float  bool   // immediate operand is an IEEE double
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpFD:     {"fd", FormatDecl, false},
	OpMOV:    {"mov", FormatAmbig, false},
	OpGG:     {"gg", FormatName, false},
	OpSG:     {"sg", FormatName, false},
	OpCSS:    {"css", FormatName, false},
	OpCSSDyn: {"css_dyn", FormatRegReg, false},

	OpLD8:  {"ld8", FormatLoad, false},
	OpLD16: {"ld16", FormatLoad, false},
	OpLD32: {"ld32", FormatLoad, false},
	OpLD64: {"ld64", FormatLoad, false},
	OpST8:  {"st8", FormatStore, false},
	OpST16: {"st16", FormatStore, false},
	OpST32: {"st32", FormatStore, false},
	OpST64: {"st64", FormatStore, false},
	OpLEA:  {"lea", FormatRegReg, false},

	OpIADD: {"iadd", FormatAmbig, false},
	OpISUB: {"isub", FormatAmbig, false},
	OpSMUL: {"smul", FormatAmbig, false},
	OpUMUL: {"umul", FormatAmbig, false},
	OpSREM: {"srem", FormatAmbig, false},
	OpUREM: {"urem", FormatAmbig, false},
	OpSDIV: {"sdiv", FormatAmbig, false},
	OpUDIV: {"udiv", FormatAmbig, false},

	OpAND:  {"and", FormatAmbig, false},
	OpOR:   {"or", FormatAmbig, false},
	OpXOR:  {"xor", FormatAmbig, false},
	OpSHL:  {"shl", FormatAmbig, false},
	OpLSHR: {"lshr", FormatAmbig, false},
	OpASHR: {"ashr", FormatAmbig, false},
	OpINEG: {"ineg", FormatReg, false},

	OpFADD: {"fadd", FormatAmbig, true},
	OpFSUB: {"fsub", FormatAmbig, true},
	OpFMUL: {"fmul", FormatAmbig, true},
	OpFDIV: {"fdiv", FormatAmbig, true},
	OpFREM: {"frem", FormatAmbig, true},

	OpEQ:  {"eq", FormatAmbig, false},
	OpNE:  {"ne", FormatAmbig, false},
	OpSLT: {"slt", FormatAmbig, false},
	OpSLE: {"sle", FormatAmbig, false},
	OpSGT: {"sgt", FormatAmbig, false},
	OpSGE: {"sge", FormatAmbig, false},
	OpULT: {"ult", FormatAmbig, false},
	OpULE: {"ule", FormatAmbig, false},
	OpUGT: {"ugt", FormatAmbig, false},
	OpUGE: {"uge", FormatAmbig, false},
	OpFEQ: {"feq", FormatAmbig, true},
	OpFNE: {"fne", FormatAmbig, true},
	OpFLT: {"flt", FormatAmbig, true},
	OpFLE: {"fle", FormatAmbig, true},
	OpFGT: {"fgt", FormatAmbig, true},
	OpFGE: {"fge", FormatAmbig, true},

	OpJMP:   {"jmp", FormatJump, false},
	OpJNZ:   {"jnz", FormatCondJump, false},
	OpJZ:    {"jz", FormatCondJump, false},
	OpCALL0: {"call0", FormatCall, false},
	OpCALL1: {"call1", FormatCall, false},
	OpCALL2: {"call2", FormatCall, false},
	OpCALL3: {"call3", FormatCall, false},
	OpCALL4: {"call4", FormatCall, false},
	OpCALL5: {"call5", FormatCall, false},
	OpCALL6: {"call6", FormatCall, false},
	OpCALL7: {"call7", FormatCall, false},
	OpCALL8: {"call8", FormatCall, false},
	OpRET:   {"ret", FormatRet, false},
	OpLEAVE: {"leave", FormatNone, false},
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), Format: FormatNone}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Format returns the operand layout of an opcode.
func (op Opcode) Format() Format {
	return op.Info().Format
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsCall reports whether op is one of CALL0..CALL8.
func (op Opcode) IsCall() bool {
	return op >= OpCALL0 && op <= OpCALL8
}

// CallArity returns the argument count encoded in a call opcode.
func (op Opcode) CallArity() int {
	return int(op - OpCALL0)
}

// CallOp returns the call opcode for the given arity. ok is false when the
// arity has no dedicated opcode.
func CallOp(nargs int) (op Opcode, ok bool) {
	if nargs < 0 || nargs > MaxCallArgs {
		return 0, false
	}
	return OpCALL0 + Opcode(nargs), true
}

// Width returns the access width in bytes of a load or store opcode, or 0.
func (op Opcode) Width() int {
	switch op {
	case OpLD8, OpST8:
		return 1
	case OpLD16, OpST16:
		return 2
	case OpLD32, OpST32:
		return 4
	case OpLD64, OpST64:
		return 8
	}
	return 0
}

// LoadOp returns the load opcode for an access of the given width in bits.
func LoadOp(bits int) (Opcode, bool) {
	switch bits {
	case 8:
		return OpLD8, true
	case 16:
		return OpLD16, true
	case 32:
		return OpLD32, true
	case 64:
		return OpLD64, true
	}
	return 0, false
}

// StoreOp returns the store opcode for an access of the given width in bits.
func StoreOp(bits int) (Opcode, bool) {
	switch bits {
	case 8:
		return OpST8, true
	case 16:
		return OpST16, true
	case 32:
		return OpST32, true
	case 64:
		return OpST64, true
	}
	return 0, false
}
