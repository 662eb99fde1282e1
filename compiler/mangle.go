package compiler

import "strings"

// Mangle makes a symbol name safe for the global table. Bytes outside
// [A-Za-z0-9_] become "_XY_" where X and Y encode the low and high nibble
// as letters A..P.
func Mangle(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isIdentByte(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('_')
		sb.WriteByte('A' + c&15)
		sb.WriteByte('A' + (c>>4)&15)
		sb.WriteByte('_')
	}
	return sb.String()
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
