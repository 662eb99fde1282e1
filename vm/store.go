package vm

// ---------------------------------------------------------------------------
// Store: the global symbol table of one machine
// ---------------------------------------------------------------------------

// Entry is a callable function. The implementations are BytecodeFunc and
// NativeFunc.
type Entry interface {
	entryName() string
}

// BytecodeFunc is a function declared in the instruction stream.
type BytecodeFunc struct {
	Name    string
	Offset  int // first body byte
	NArgs   int
	BodyLen int
}

// NativeFn implements a native function. args holds the values of the
// argument registers.
type NativeFn func(m *Machine, args []uint64) (uint64, error)

// NativeFunc is a host-implemented function. MaxArgs < 0 means variadic.
type NativeFunc struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      NativeFn
}

func (f *BytecodeFunc) entryName() string { return f.Name }
func (f *NativeFunc) entryName() string   { return f.Name }

// Store maps names to raw 64-bit values. A function's value is its handle,
// which Resolve turns back into the entry; data globals hold plain values.
type Store struct {
	globals map[string]uint64
	funcs   []Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{globals: make(map[string]uint64)}
}

// Define binds name to a function and returns its handle.
func (s *Store) Define(name string, e Entry) uint64 {
	s.funcs = append(s.funcs, e)
	h := funcHandle(len(s.funcs))
	s.globals[name] = h
	return h
}

// DefineNative binds a native function.
func (s *Store) DefineNative(name string, minArgs, maxArgs int, fn NativeFn) uint64 {
	return s.Define(name, &NativeFunc{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Fn: fn})
}

// Get returns the value bound to name, or 0.
func (s *Store) Get(name string) uint64 {
	return s.globals[name]
}

// Set binds name to a raw value, creating the global if needed.
func (s *Store) Set(name string, v uint64) {
	s.globals[name] = v
}

// Resolve returns the function a handle refers to.
func (s *Store) Resolve(h uint64) (Entry, bool) {
	if region(h) != regionFunc {
		return nil, false
	}
	i := int(h & offsetMask)
	if i < 1 || i > len(s.funcs) {
		return nil, false
	}
	return s.funcs[i-1], true
}

// Lookup returns the function bound to name.
func (s *Store) Lookup(name string) (Entry, bool) {
	h, ok := s.globals[name]
	if !ok {
		return nil, false
	}
	return s.Resolve(h)
}
