package server

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeHex renders code as a hex sentence: "0x0a 0x1b ...".
func EncodeHex(code []byte) string {
	var sb strings.Builder
	sb.Grow(len(code) * 5)
	for i, b := range code {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "0x%02x", b)
	}
	return sb.String()
}

// DecodeHex parses a hex sentence produced by EncodeHex. Tokens are
// separated by whitespace and must be 0x followed by one or two hex digits.
func DecodeHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	code := make([]byte, 0, len(fields))
	for i, tok := range fields {
		digits, ok := strings.CutPrefix(tok, "0x")
		if !ok {
			digits, ok = strings.CutPrefix(tok, "0X")
		}
		if !ok || len(digits) == 0 || len(digits) > 2 {
			return nil, fmt.Errorf("token %d: malformed byte %q", i, tok)
		}
		b, err := strconv.ParseUint(digits, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("token %d: malformed byte %q", i, tok)
		}
		code = append(code, byte(b))
	}
	return code, nil
}
