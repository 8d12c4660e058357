package logutil

import (
	"strings"
	"unicode/utf8"
)

// SanitizeForLog flattens user-provided strings (hosts, usernames,
// commands) onto one line so they cannot forge log entries. Newlines and
// tabs become spaces; other control characters are dropped.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, s)
}

// Truncate sanitizes s and shortens it to at most max runes, marking the
// cut with "...".
func Truncate(s string, max int) string {
	s = SanitizeForLog(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
