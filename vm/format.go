package vm

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// ---------------------------------------------------------------------------
// Conversion directives
// ---------------------------------------------------------------------------

// directivePattern matches one C conversion specification:
// %[flags][width][.precision][length]verb.
var directivePattern = regexp2.MustCompile(
	`%(?<flags>[-+ #0]*)(?<width>\*|\d+)?(?:\.(?<prec>\*|\d+))?(?<length>hh|h|ll|l|L|q|j|z|t)?(?<verb>[diouxXcspfFeEgGaA%n])`,
	regexp2.None)

// segment is either literal text or a conversion directive.
type segment struct {
	lit    string
	verb   byte // 0 for literal text
	flags  string
	width  string
	prec   string
	hasDot bool
	length string
}

// latin1 maps each byte to one rune so that match indices are byte offsets.
func latin1(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		sb.WriteRune(rune(s[i]))
	}
	return sb.String()
}

// parseFormat splits a C format string into literal text and directives.
// Malformed directives are kept as literal text.
func parseFormat(format string) []segment {
	var segs []segment
	last := 0
	m, _ := directivePattern.FindStringMatch(latin1(format))
	for m != nil {
		if m.Index > last {
			segs = append(segs, segment{lit: format[last:m.Index]})
		}
		prec := m.GroupByName("prec")
		segs = append(segs, segment{
			verb:   m.GroupByName("verb").String()[0],
			flags:  m.GroupByName("flags").String(),
			width:  m.GroupByName("width").String(),
			prec:   prec.String(),
			hasDot: len(prec.Captures) > 0,
			length: m.GroupByName("length").String(),
		})
		last = m.Index + m.Length
		m, _ = directivePattern.FindNextMatch(m)
	}
	if last < len(format) {
		segs = append(segs, segment{lit: format[last:]})
	}
	return segs
}

// formatSegments caches parsed format strings per machine.
func (m *Machine) formatSegments(format string) []segment {
	if segs, ok := m.formats[format]; ok {
		return segs
	}
	segs := parseFormat(format)
	if m.formats == nil {
		m.formats = make(map[string][]segment)
	}
	m.formats[format] = segs
	return segs
}

// intBytes returns the operand width selected by a length modifier.
func intBytes(length string) int {
	switch length {
	case "hh":
		return 1
	case "h":
		return 2
	case "":
		return 4
	default:
		return 8
	}
}

func signed(v uint64, n int) int64 {
	switch n {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}

func unsigned(v uint64, n int) uint64 {
	if n == 8 {
		return v
	}
	return v & (1<<(uint(n)*8) - 1)
}

// ---------------------------------------------------------------------------
// printf
// ---------------------------------------------------------------------------

// argList hands out variadic native arguments in order.
type argList struct {
	vals []uint64
	verb string
}

func (a *argList) next() uint64 {
	if len(a.vals) == 0 {
		fault(ErrArity, "%s: missing argument", a.verb)
	}
	v := a.vals[0]
	a.vals = a.vals[1:]
	return v
}

// sprintf renders a C format string against raw argument values.
func (m *Machine) sprintf(format string, args []uint64) []byte {
	var out bytes.Buffer
	al := &argList{vals: args, verb: "printf"}
	for _, s := range m.formatSegments(format) {
		if s.verb == 0 {
			out.WriteString(s.lit)
			continue
		}
		if s.verb == '%' {
			out.WriteByte('%')
			continue
		}

		flags := s.flags
		width := s.width
		if width == "*" {
			w := int32(al.next())
			if w < 0 {
				flags += "-"
				w = -w
			}
			width = strconv.Itoa(int(w))
		}
		spec := "%" + flags + width
		if s.hasDot {
			prec := s.prec
			if prec == "*" {
				prec = strconv.Itoa(int(int32(al.next())))
			}
			if prec == "" {
				prec = "0"
			}
			if !strings.HasPrefix(prec, "-") {
				spec += "." + prec
			}
		}

		n := intBytes(s.length)
		switch s.verb {
		case 'd', 'i':
			fmt.Fprintf(&out, spec+"d", signed(al.next(), n))
		case 'u':
			fmt.Fprintf(&out, spec+"d", unsigned(al.next(), n))
		case 'x', 'X', 'o':
			fmt.Fprintf(&out, spec+string(s.verb), unsigned(al.next(), n))
		case 'c':
			fmt.Fprintf(&out, "%"+flags+width+"s", string([]byte{byte(al.next())}))
		case 's':
			fmt.Fprintf(&out, spec+"s", m.CString(al.next()))
		case 'p':
			p := al.next()
			text := "(nil)"
			if p != 0 {
				text = "0x" + strconv.FormatUint(p, 16)
			}
			fmt.Fprintf(&out, "%"+flags+width+"s", text)
		case 'f', 'F', 'e', 'E', 'g', 'G':
			if !s.hasDot {
				spec += ".6"
			}
			verb := s.verb
			if verb == 'F' {
				verb = 'f'
			}
			fmt.Fprintf(&out, spec+string(verb), math.Float64frombits(al.next()))
		case 'a', 'A':
			verb := byte('x')
			if s.verb == 'A' {
				verb = 'X'
			}
			fmt.Fprintf(&out, spec+string(verb), math.Float64frombits(al.next()))
		case 'n':
			m.storeMem(al.next(), n, uint64(out.Len()))
		}
	}
	return out.Bytes()
}

// ---------------------------------------------------------------------------
// scanf
// ---------------------------------------------------------------------------

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// scanner tracks input consumption for one scanf call.
type scanner struct {
	m        *Machine
	consumed int
	eof      bool
}

func (s *scanner) peek() (byte, bool) {
	b, err := s.m.stdin.Peek(1)
	if err != nil || len(b) == 0 {
		s.eof = true
		return 0, false
	}
	return b[0], true
}

func (s *scanner) take() byte {
	c, _ := s.m.stdin.ReadByte()
	s.consumed++
	return c
}

func (s *scanner) skipSpace() {
	for {
		c, ok := s.peek()
		if !ok || !isSpace(c) {
			return
		}
		s.take()
	}
}

// token reads up to max bytes accepted by ok.
func (s *scanner) token(max int, ok func(i int, c byte, prev []byte) bool) string {
	var buf []byte
	for max <= 0 || len(buf) < max {
		c, more := s.peek()
		if !more || !ok(len(buf), c, buf) {
			break
		}
		buf = append(buf, s.take())
	}
	return string(buf)
}

func digitsFor(verb byte) (base int, accept func(c byte) bool) {
	switch verb {
	case 'x', 'X', 'p':
		return 16, func(c byte) bool {
			return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == 'x' || c == 'X'
		}
	case 'o':
		return 8, func(c byte) bool { return c >= '0' && c <= '7' }
	case 'i':
		return 0, func(c byte) bool {
			return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == 'x' || c == 'X'
		}
	}
	return 10, func(c byte) bool { return c >= '0' && c <= '9' }
}

// scanf reads from the machine's input according to a C format string and
// stores converted values through the pointer arguments. It returns the
// number of assignments, or -1 when input ended before the first one.
func (m *Machine) scanf(format string, args []uint64) int {
	m.flushStdout()
	s := &scanner{m: m}
	al := &argList{vals: args, verb: "scanf"}
	assigned := 0
	for _, seg := range m.formatSegments(format) {
		if seg.verb == 0 {
			for i := 0; i < len(seg.lit); i++ {
				c := seg.lit[i]
				if isSpace(c) {
					s.skipSpace()
					continue
				}
				got, ok := s.peek()
				if !ok || got != c {
					return s.result(assigned)
				}
				s.take()
			}
			continue
		}

		suppress := seg.width == "*"
		max := 0
		if !suppress && seg.width != "" {
			max, _ = strconv.Atoi(seg.width)
		}
		if seg.verb != 'c' && seg.verb != 'n' {
			s.skipSpace()
		}
		n := intBytes(seg.length)

		switch seg.verb {
		case '%':
			got, ok := s.peek()
			if !ok || got != '%' {
				return s.result(assigned)
			}
			s.take()
			continue
		case 'n':
			if !suppress {
				m.storeMem(al.next(), n, uint64(s.consumed))
			}
			continue
		case 'd', 'i', 'u', 'x', 'X', 'o', 'p':
			base, digit := digitsFor(seg.verb)
			tok := s.token(max, func(i int, c byte, _ []byte) bool {
				return (i == 0 && (c == '-' || c == '+')) || digit(c)
			})
			if tok == "" || tok == "-" || tok == "+" {
				return s.result(assigned)
			}
			var v uint64
			if seg.verb == 'd' || seg.verb == 'i' {
				iv, err := strconv.ParseInt(tok, base, 64)
				if err != nil {
					return s.result(assigned)
				}
				v = uint64(iv)
			} else {
				neg := strings.HasPrefix(tok, "-")
				uv, err := strconv.ParseUint(strings.TrimLeft(tok, "+-"), base, 64)
				if err != nil {
					return s.result(assigned)
				}
				if neg {
					uv = -uv
				}
				v = uv
			}
			if seg.verb == 'p' {
				n = 8
			}
			if !suppress {
				m.storeMem(al.next(), n, v)
				assigned++
			}
		case 'f', 'F', 'e', 'E', 'g', 'G', 'a', 'A':
			tok := s.token(max, func(i int, c byte, prev []byte) bool {
				switch {
				case c >= '0' && c <= '9', c == '.':
					return true
				case c == '-' || c == '+':
					return i == 0 || prev[i-1] == 'e' || prev[i-1] == 'E'
				case c == 'e' || c == 'E':
					return i > 0
				}
				return false
			})
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return s.result(assigned)
			}
			if !suppress {
				if seg.length == "l" || seg.length == "L" {
					m.storeMem(al.next(), 8, math.Float64bits(f))
				} else {
					m.storeMem(al.next(), 4, uint64(math.Float32bits(float32(f))))
				}
				assigned++
			}
		case 's':
			tok := s.token(max, func(_ int, c byte, _ []byte) bool { return !isSpace(c) })
			if tok == "" {
				return s.result(assigned)
			}
			if !suppress {
				dst := m.bytesAt(al.next(), len(tok)+1)
				copy(dst, tok)
				dst[len(tok)] = 0
				assigned++
			}
		case 'c':
			if max == 0 {
				max = 1
			}
			tok := s.token(max, func(int, byte, []byte) bool { return true })
			if len(tok) < max {
				return s.result(assigned)
			}
			if !suppress {
				copy(m.bytesAt(al.next(), max), tok)
				assigned++
			}
		}
	}
	return assigned
}

func (s *scanner) result(assigned int) int {
	if assigned == 0 && s.eof {
		return -1
	}
	return assigned
}
