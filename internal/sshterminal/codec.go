package sshterminal

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is the remote text encoding assumed when none is configured.
const DefaultEncoding = "utf-8"

// textCodec converts between the remote byte encoding and Go strings.
type textCodec struct {
	name string
	enc  encoding.Encoding
}

// newTextCodec resolves an encoding by its WHATWG label ("utf-8", "gbk",
// "big5", "shift_jis", ...).
func newTextCodec(name string) (*textCodec, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	return &textCodec{name: name, enc: enc}, nil
}

// reader decodes r. Multi-byte sequences split across reads are carried
// over to the next read; invalid sequences become U+FFFD.
func (c *textCodec) reader(r io.Reader) io.Reader {
	return transform.NewReader(r, c.enc.NewDecoder())
}

// encode converts s to the remote encoding, replacing runes the encoding
// cannot represent.
func (c *textCodec) encode(s string) ([]byte, error) {
	return encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
}
