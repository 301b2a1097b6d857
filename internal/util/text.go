package util

import (
	"strings"
	"unicode"
)

// ArchiveText prepares a model-produced label or reason for a Postgres TEXT
// column. Invalid UTF-8 and NUL bytes are dropped, runs of whitespace and
// control characters become one space, and the result is cut to maxRunes
// (no limit when maxRunes <= 0).
func ArchiveText(value string, maxRunes int) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	space := false
	n := 0
	for _, r := range strings.ToValidUTF8(value, "") {
		if r == 0 {
			continue
		}
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = b.Len() > 0
			continue
		}
		if maxRunes > 0 && n >= maxRunes {
			break
		}
		if space {
			if maxRunes > 0 && n+1 >= maxRunes {
				break
			}
			b.WriteByte(' ')
			n++
			space = false
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
