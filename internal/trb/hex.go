package trb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidHex is matched by every hex parsing failure.
var ErrInvalidHex = errors.New("trb: invalid hex")

// ParseHex parses bytes written in memory order, e.g. "01 00 00 00 ...".
// Whitespace, "0x" prefixes and ':', '-', ',' separators are ignored.
func ParseHex(s string) ([]byte, error) {
	digits := normalizeHex(s)
	if len(digits)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of digits (%d)", ErrInvalidHex, len(digits))
	}
	buf, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return buf, nil
}

// ParseDwords parses space separated 32-bit words printed most significant
// byte first, the layout of the viewer's hex dump, and returns the bytes in
// memory order. A word shorter than 8 digits is a partial dword.
func ParseDwords(s string) ([]byte, error) {
	var out []byte
	for _, word := range strings.Fields(s) {
		b, err := ParseHex(word)
		if err != nil {
			return nil, err
		}
		if len(b) > 4 {
			return nil, fmt.Errorf("%w: word %q longer than 4 bytes", ErrInvalidHex, word)
		}
		for i := len(b) - 1; i >= 0; i-- {
			out = append(out, b[i])
		}
	}
	return out, nil
}

func normalizeHex(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == '-' || r == ','
	})
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		sb.WriteString(f)
	}
	return sb.String()
}
