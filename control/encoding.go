package control

import (
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// textCodec is the per-connection text-encoding decision. UTF-8 is
// preferred; on the first invalid sequence from a server not forced to
// UTF-8 the connection permanently falls back to the configured code page,
// then Latin-1, then the system default.
type textCodec struct {
	useUTF8 bool

	// Server descriptor forces UTF-8; never fall back.
	forcedUTF8 bool

	custom     encoding.Encoding
	customName string

	// Invoked once when UTF-8 gets disabled, for the user-visible status
	// line.
	onUTF8Disabled func()
}

// newTextCodec builds the codec for a server descriptor. An unknown custom
// encoding name is logged and ignored.
func newTextCodec(server *Server, onUTF8Disabled func()) *textCodec {
	c := &textCodec{
		useUTF8:        true,
		forcedUTF8:     server.Encoding == EncodingUTF8,
		onUTF8Disabled: onUTF8Disabled,
	}

	if server.Encoding == EncodingCustom {
		c.useUTF8 = false
		enc, err := ianaindex.IANA.Encoding(server.CustomEncoding)
		if err != nil || enc == nil {
			logrus.WithFields(logrus.Fields{
				"component": "control",
				"encoding":  server.CustomEncoding,
			}).Warn("Unknown custom encoding, using Latin-1")
		} else {
			c.custom = enc
			c.customName = server.CustomEncoding
		}
	}
	return c
}

// Decode converts server bytes to a string.
func (c *textCodec) Decode(buf []byte) string {
	if c.useUTF8 {
		if utf8.Valid(buf) {
			return string(buf)
		}
		if !c.forcedUTF8 {
			c.useUTF8 = false
			if c.onUTF8Disabled != nil {
				c.onUTF8Disabled()
			}
		} else {
			// Forced UTF-8: replace the offending sequences.
			return string([]rune(string(buf)))
		}
	}

	if c.custom != nil {
		if out, err := c.custom.NewDecoder().Bytes(buf); err == nil {
			return string(out)
		}
	}

	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(buf); err == nil {
		return string(out)
	}

	// System default as last resort.
	return string(buf)
}

// Encode converts a string to server bytes. UTF-8 unless disabled; may be
// forced per call.
func (c *textCodec) Encode(s string, forceUTF8 bool) []byte {
	if c.useUTF8 || forceUTF8 {
		return []byte(s)
	}

	if c.custom != nil {
		if out, err := c.custom.NewEncoder().Bytes([]byte(s)); err == nil {
			return out
		}
	}

	if out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s)); err == nil {
		return out
	}

	return []byte(s)
}
