package sshterminal

import (
	"unicode/utf8"
)

// defaultScrollbackSize is the default amount of decoded output kept per
// session for subscribers that attach late (64 KB).
const defaultScrollbackSize = 64 * 1024

// scrollback keeps the most recent decoded output of a session. When the
// buffer exceeds maxLen, older text is trimmed from the front on a rune
// boundary. It is guarded by the owning router's mutex.
type scrollback struct {
	data   []byte
	maxLen int
}

// newScrollback creates a buffer of maxLen bytes. A negative maxLen
// disables retention; zero selects defaultScrollbackSize.
func newScrollback(maxLen int) *scrollback {
	if maxLen == 0 {
		maxLen = defaultScrollbackSize
	}
	return &scrollback{maxLen: maxLen}
}

func (s *scrollback) Write(text string) {
	if s.maxLen < 0 {
		return
	}
	s.data = append(s.data, text...)
	if len(s.data) <= s.maxLen {
		return
	}
	cut := len(s.data) - s.maxLen
	for cut < len(s.data) && !utf8.RuneStart(s.data[cut]) {
		cut++
	}
	s.data = append(s.data[:0], s.data[cut:]...)
}

func (s *scrollback) String() string {
	return string(s.data)
}

func (s *scrollback) Len() int {
	return len(s.data)
}
