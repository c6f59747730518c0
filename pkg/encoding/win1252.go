package encoding

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 converts a slice of bytes (WIN1252) to a UTF-8 string
// Legacy Firebird facility databases return CHAR/VARCHAR columns in this charset
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		// Fallback: return raw string if decoding fails (better than crashing)
		return string(b)
	}

	return strings.TrimSpace(string(decoded))
}

// NormalizeValue decodes byte slices returned by the driver and leaves any other value untouched
func NormalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return ToUTF8(b)
	}
	return v
}
