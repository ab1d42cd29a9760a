package inspect

import (
	"html"
	"strings"
)

const maxDecodeRounds = 3

// Canonicalize normalizes attacker-controlled text before signature and
// rule matching: iterated percent-decoding up to three rounds or a fixed
// point, HTML entity decoding, null-byte removal, and lower-casing.
// Canonicalize is idempotent over its own output.
func Canonicalize(data string) string {
	if data == "" {
		return ""
	}
	decoded := data
	for i := 0; i < maxDecodeRounds; i++ {
		next := percentDecode(decoded)
		if next == decoded {
			break
		}
		decoded = next
	}
	decoded = html.UnescapeString(decoded)
	decoded = strings.ReplaceAll(decoded, "\x00", "")
	return strings.ToLower(decoded)
}

// percentDecode resolves %XX escapes and leaves malformed sequences intact,
// so partially encoded evasion attempts still converge on a scannable form.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := hexVal(s[i+1])
			lo, okLo := hexVal(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
