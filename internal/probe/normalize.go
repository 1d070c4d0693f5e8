// internal/probe/normalize.go
package probe

import "strings"

// framingChars are terminators and prompt characters that MDT controllers
// wrap around replies. Stripped from both ends of a decoded reply.
const framingChars = "\r\n >!*"

// Normalize turns a raw device reply into clean text. The decode is
// ASCII-lenient: bytes outside the 7-bit range are discarded rather than
// failing. If the reply starts with an echo of the sent command (common
// with half-duplex adapters) the echoed prefix is removed. The function is
// pure and never fails; the worst case is an empty string.
func Normalize(raw, command []byte) string {
	s := decodeASCII(raw)
	s = strings.TrimSpace(s)

	cmdText := strings.TrimSpace(decodeASCII(command))
	if cmdText != "" && strings.HasPrefix(s, cmdText) {
		s = strings.TrimSpace(s[len(cmdText):])
	}

	return strings.Trim(s, framingChars)
}

// decodeASCII drops every byte outside the 7-bit ASCII range.
func decodeASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
