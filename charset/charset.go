// Package charset provides the Charset collaborator interface referenced
// by spec.md §6's descriptor wire format (strings in DVB/ATSC/ISDB text
// fields aren't always UTF-8) and a default ISO-8859 implementation.
package charset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrUnsupportedFormat is returned for a charset identifier this package
// has no table for, matching spec §7's UnsupportedFormat error kind
// ("ISO-8859 variant not compiled in").
var ErrUnsupportedFormat = errors.New("charset: unsupported format")

// Charset decodes and encodes text carried in PSI/SI strings. DVB, ATSC,
// and ISDB each select a charset by an out-of-band signal (a leading
// control byte, a table id, or a default), so callers resolve which
// Charset to use before calling Decode/Encode.
type Charset interface {
	// Name identifies the charset (e.g. "ISO-8859-9", "ISO-8859-15").
	Name() string
	// Decode converts raw bytes in this charset to a Go string.
	Decode(b []byte) (string, error)
	// Encode converts a Go string to raw bytes in this charset.
	Encode(s string) ([]byte, error)
}

type iso8859Charset struct {
	name string
	enc  encoding.Encoding
}

func (c *iso8859Charset) Name() string { return c.name }

func (c *iso8859Charset) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("charset: decode %s: %w", c.name, err)
	}
	return string(out), nil
}

func (c *iso8859Charset) Encode(s string) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("charset: encode %s: %w", c.name, err)
	}
	return out, nil
}

// isoCharmaps maps the DVB/ETSI EN 300 468 annex A charset designator
// byte (the first byte of a text field when it is outside the default
// range) to a golang.org/x/text/encoding/charmap table. The single-byte
// designators 0x01-0x07 and 0x09-0x0b (ISO-8859-5 to -11, -13 to -15) are
// bound here; others return ErrUnsupportedFormat.
var isoCharmaps = map[byte]*charmap.Charmap{
	0x01: charmap.ISO8859_5,
	0x02: charmap.ISO8859_6,
	0x03: charmap.ISO8859_7,
	0x04: charmap.ISO8859_8,
	0x05: charmap.ISO8859_9,
	0x06: charmap.ISO8859_10,
	0x07: charmap.ISO8859_11,
	0x09: charmap.ISO8859_13,
	0x0a: charmap.ISO8859_14,
	0x0b: charmap.ISO8859_15,
}

// ForDesignator returns the Charset registered for a DVB annex A
// designator byte, per EN 300 468 annex A.
func ForDesignator(designator byte) (Charset, error) {
	cm, ok := isoCharmaps[designator]
	if !ok {
		return nil, fmt.Errorf("%w: designator 0x%02x", ErrUnsupportedFormat, designator)
	}
	// charmap names read "ISO 8859-N"; Name() reports the "ISO-8859-N" form.
	return &iso8859Charset{name: strings.Replace(cm.String(), " ", "-", 1), enc: cm}, nil
}

// Default is ISO-8859-1 (actually ISO-6937 in strict DVB terms, but
// ISO-8859-1 is the de facto fallback used across the pack and by most
// receivers when no designator byte is present).
var Default Charset = &iso8859Charset{name: "ISO-8859-1", enc: charmap.ISO8859_1}
