package vm

import (
	"io"
	"math"
)

// ---------------------------------------------------------------------------
// Native library
// ---------------------------------------------------------------------------

// Names of the conversion helpers the compiler calls for int/float casts.
const (
	NativeSIToFP = "__sitofp"
	NativeUIToFP = "__uitofp"
	NativeFPToSI = "__fptosi"
	NativeFPToUI = "__fptoui"
)

// maxAlloc caps a single allocation request.
const maxAlloc = 1 << 40

// i32 packs a C int result the way the compiler keeps narrow integers.
func i32(v int) uint64 { return uint64(uint32(int32(v))) }

func installNatives(s *Store) {
	s.DefineNative("puts", 1, 1, nativePuts)
	s.DefineNative("printf", 1, -1, nativePrintf)
	s.DefineNative("scanf", 1, -1, nativeScanf)
	s.DefineNative("__isoc99_scanf", 1, -1, nativeScanf)
	s.DefineNative("putchar", 1, 1, nativePutchar)
	s.DefineNative("getchar", 0, 0, nativeGetchar)
	s.DefineNative("exit", 1, 1, nativeExit)
	s.DefineNative("malloc", 1, 1, nativeMalloc)
	s.DefineNative("calloc", 2, 2, nativeCalloc)
	s.DefineNative("free", 1, 1, nativeFree)

	s.DefineNative(NativeSIToFP, 1, 1, func(_ *Machine, a []uint64) (uint64, error) {
		return math.Float64bits(float64(int64(a[0]))), nil
	})
	s.DefineNative(NativeUIToFP, 1, 1, func(_ *Machine, a []uint64) (uint64, error) {
		return math.Float64bits(float64(a[0])), nil
	})
	s.DefineNative(NativeFPToSI, 1, 1, func(_ *Machine, a []uint64) (uint64, error) {
		return uint64(int64(math.Float64frombits(a[0]))), nil
	})
	s.DefineNative(NativeFPToUI, 1, 1, func(_ *Machine, a []uint64) (uint64, error) {
		return uint64(math.Float64frombits(a[0])), nil
	})
}

func (m *Machine) write(p []byte) {
	if _, err := m.stdout.Write(p); err != nil {
		log.Errorf("write stdout: %s", err)
	}
}

func nativePuts(m *Machine, a []uint64) (uint64, error) {
	m.write(append([]byte(m.CString(a[0])), '\n'))
	return 1, nil
}

func nativePrintf(m *Machine, a []uint64) (uint64, error) {
	out := m.sprintf(m.CString(a[0]), a[1:])
	m.write(out)
	return i32(len(out)), nil
}

func nativeScanf(m *Machine, a []uint64) (uint64, error) {
	return i32(m.scanf(m.CString(a[0]), a[1:])), nil
}

func nativePutchar(m *Machine, a []uint64) (uint64, error) {
	m.write([]byte{byte(a[0])})
	return a[0] & 0xFF, nil
}

func nativeGetchar(m *Machine, _ []uint64) (uint64, error) {
	m.flushStdout()
	c, err := m.stdin.ReadByte()
	if err != nil {
		if err != io.EOF {
			log.Warningf("read stdin: %s", err)
		}
		return i32(-1), nil
	}
	return uint64(c), nil
}

func nativeExit(_ *Machine, a []uint64) (uint64, error) {
	return 0, &ExitError{Code: int(int32(a[0]))}
}

func nativeMalloc(m *Machine, a []uint64) (uint64, error) {
	if a[0] > maxAlloc {
		return 0, nil
	}
	addr, ok := m.heap.Alloc(int(a[0]))
	if !ok {
		return 0, nil
	}
	return addr, nil
}

func nativeCalloc(m *Machine, a []uint64) (uint64, error) {
	n, size := a[0], a[1]
	if size != 0 && n > maxAlloc/size {
		return 0, nil
	}
	return nativeMalloc(m, []uint64{n * size})
}

func nativeFree(m *Machine, a []uint64) (uint64, error) {
	if a[0] == 0 {
		return 0, nil
	}
	if !m.heap.Free(a[0]) {
		fault(ErrMemory, "free of %#x, which is not a live allocation", a[0])
	}
	return 0, nil
}
