package vm

import (
	"math"

	"github.com/chazu/rbvm/bytecode"
)

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// ambig decodes [flag][r1][r2 | imm8] and returns r1 and the operand value.
func (m *Machine) ambig() (byte, uint64) {
	flag := m.r.ReadByte()
	r1 := m.r.ReadByte()
	if flag != 0 {
		return r1, m.r.ReadUint64()
	}
	return r1, m.Reg(m.r.ReadByte())
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f64(v uint64) float64 { return math.Float64frombits(v) }

// exec decodes and executes the operands of op. Control transfers are
// recorded with jumpTo and applied by Step.
func (m *Machine) exec(op bytecode.Opcode) error {
	pc := m.r.Position() - 1
	switch op {
	case bytecode.OpFD:
		name := string(m.r.ReadString())
		nargs := m.r.ReadUint64()
		bodyLen := m.r.ReadUint64()
		body := m.r.Position()
		if bodyLen > uint64(m.r.Len()-body) {
			fault(ErrTruncated, "body of %s runs past the end of the stream", name)
		}
		m.store.Define(name, &BytecodeFunc{Name: name, Offset: body, NArgs: int(nargs), BodyLen: int(bodyLen)})
		log.Debugf("declared %s/%d at %d", name, nargs, body)
		m.jumpTo(body + int(bodyLen))

	case bytecode.OpGG:
		name := string(m.r.ReadString())
		m.SetReg(m.r.ReadByte(), m.store.Get(name))
	case bytecode.OpSG:
		name := string(m.r.ReadString())
		m.store.Set(name, m.Reg(m.r.ReadByte()))
	case bytecode.OpCSS:
		data := m.r.ReadString()
		r := m.r.ReadByte()
		addr := m.alloc(len(data))
		copy(m.bytesAt(addr, len(data)), data)
		m.SetReg(r, addr)
	case bytecode.OpCSSDyn:
		r1, r2 := m.r.ReadByte(), m.r.ReadByte()
		addr := m.alloc(8)
		m.storeMem(addr, 8, m.Reg(r2))
		m.SetReg(r1, addr)

	case bytecode.OpLD8, bytecode.OpLD16, bytecode.OpLD32, bytecode.OpLD64:
		flag := m.r.ReadByte()
		r := m.r.ReadByte()
		var addr uint64
		if flag != 0 {
			addr = m.r.ReadUint64()
		} else {
			addr = m.Reg(m.r.ReadByte())
		}
		m.SetReg(r, m.loadMem(addr, op.Width()))
	case bytecode.OpST8, bytecode.OpST16, bytecode.OpST32, bytecode.OpST64:
		flag := m.r.ReadByte()
		var addr uint64
		if flag != 0 {
			addr = m.r.ReadUint64()
		} else {
			addr = m.Reg(m.r.ReadByte())
		}
		m.storeMem(addr, op.Width(), m.Reg(m.r.ReadByte()))
	case bytecode.OpLEA:
		r1, r2 := m.r.ReadByte(), m.r.ReadByte()
		m.SetReg(r1, frameAddr(len(m.frames)-1, int(r2)*8))
	case bytecode.OpINEG:
		r := m.r.ReadByte()
		m.SetReg(r, ^m.Reg(r))

	case bytecode.OpMOV:
		r, v := m.ambig()
		m.SetReg(r, v)
	case bytecode.OpIADD, bytecode.OpISUB, bytecode.OpSMUL, bytecode.OpUMUL,
		bytecode.OpSREM, bytecode.OpUREM, bytecode.OpSDIV, bytecode.OpUDIV,
		bytecode.OpAND, bytecode.OpOR, bytecode.OpXOR,
		bytecode.OpSHL, bytecode.OpLSHR, bytecode.OpASHR:
		r, b := m.ambig()
		m.SetReg(r, intOp(op, m.Reg(r), b))
	case bytecode.OpFADD, bytecode.OpFSUB, bytecode.OpFMUL, bytecode.OpFDIV, bytecode.OpFREM:
		r, b := m.ambig()
		m.SetReg(r, math.Float64bits(floatOp(op, f64(m.Reg(r)), f64(b))))
	case bytecode.OpEQ, bytecode.OpNE, bytecode.OpSLT, bytecode.OpSLE, bytecode.OpSGT,
		bytecode.OpSGE, bytecode.OpULT, bytecode.OpULE, bytecode.OpUGT, bytecode.OpUGE:
		r, b := m.ambig()
		m.SetReg(r, b2u(intCmp(op, m.Reg(r), b)))
	case bytecode.OpFEQ, bytecode.OpFNE, bytecode.OpFLT, bytecode.OpFLE, bytecode.OpFGT, bytecode.OpFGE:
		r, b := m.ambig()
		m.SetReg(r, b2u(floatCmp(op, f64(m.Reg(r)), f64(b))))

	case bytecode.OpJMP:
		m.jumpTo(pc + int(m.r.ReadInt64()))
	case bytecode.OpJZ, bytecode.OpJNZ:
		v := m.Reg(m.r.ReadByte())
		off := m.r.ReadInt64()
		if (v == 0) == (op == bytecode.OpJZ) {
			m.jumpTo(pc + int(off))
		}
	case bytecode.OpCALL0, bytecode.OpCALL1, bytecode.OpCALL2, bytecode.OpCALL3, bytecode.OpCALL4,
		bytecode.OpCALL5, bytecode.OpCALL6, bytecode.OpCALL7, bytecode.OpCALL8:
		dst := m.r.ReadByte()
		args := m.r.ReadBytes(op.CallArity())
		return m.call(dst, args)
	case bytecode.OpRET:
		flag := m.r.ReadByte()
		var v uint64
		if flag != 0 {
			v = m.r.ReadUint64()
		} else {
			v = m.Reg(m.r.ReadByte())
		}
		ce := m.leave()
		m.SetReg(ce.dst, v)
	case bytecode.OpLEAVE:
		m.leave()

	default:
		fault(ErrBadOpcode, "opcode %#02x", byte(op))
	}
	return nil
}

func intOp(op bytecode.Opcode, a, b uint64) uint64 {
	switch op {
	case bytecode.OpIADD:
		return a + b
	case bytecode.OpISUB:
		return a - b
	case bytecode.OpSMUL:
		return uint64(int64(a) * int64(b))
	case bytecode.OpUMUL:
		return a * b
	case bytecode.OpSDIV, bytecode.OpSREM, bytecode.OpUDIV, bytecode.OpUREM:
		if b == 0 {
			fault(ErrDivideByZero, "")
		}
		switch op {
		case bytecode.OpSDIV:
			return uint64(int64(a) / int64(b))
		case bytecode.OpSREM:
			return uint64(int64(a) % int64(b))
		case bytecode.OpUDIV:
			return a / b
		default:
			return a % b
		}
	case bytecode.OpAND:
		return a & b
	case bytecode.OpOR:
		return a | b
	case bytecode.OpXOR:
		return a ^ b
	case bytecode.OpSHL:
		return a << (b & 63)
	case bytecode.OpLSHR:
		return a >> (b & 63)
	case bytecode.OpASHR:
		return uint64(int64(a) >> (b & 63))
	}
	return 0
}

func floatOp(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.OpFADD:
		return a + b
	case bytecode.OpFSUB:
		return a - b
	case bytecode.OpFMUL:
		return a * b
	case bytecode.OpFDIV:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

func intCmp(op bytecode.Opcode, a, b uint64) bool {
	switch op {
	case bytecode.OpEQ:
		return a == b
	case bytecode.OpNE:
		return a != b
	case bytecode.OpSLT:
		return int64(a) < int64(b)
	case bytecode.OpSLE:
		return int64(a) <= int64(b)
	case bytecode.OpSGT:
		return int64(a) > int64(b)
	case bytecode.OpSGE:
		return int64(a) >= int64(b)
	case bytecode.OpULT:
		return a < b
	case bytecode.OpULE:
		return a <= b
	case bytecode.OpUGT:
		return a > b
	default:
		return a >= b
	}
}

func floatCmp(op bytecode.Opcode, a, b float64) bool {
	switch op {
	case bytecode.OpFEQ:
		return a == b
	case bytecode.OpFNE:
		return a != b
	case bytecode.OpFLT:
		return a < b
	case bytecode.OpFLE:
		return a <= b
	case bytecode.OpFGT:
		return a > b
	default:
		return a >= b
	}
}
