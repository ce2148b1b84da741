package tsip

import (
	"bytes"

	"github.com/icza/bitio"
)

// BitReader unpacks sequential, arbitrary-width bitfields MSB-first from a
// fixed byte slice. It backs every sub-byte field group in the PSI/SI wire
// format: section flags, descriptor-loop length prefixes, TS header
// PID/continuity_counter, and the packed fields of VCT/SVCT/MGT entries.
//
// Call sites read a fixed, known-in-advance bit layout from an
// already-length-checked slice, so short reads can't happen in practice;
// Bits/Bool ignore bitio's error return rather than threading it through
// every accessor.
type BitReader struct {
	r *bitio.Reader
}

// NewBitReader wraps b for sequential bitfield extraction.
func NewBitReader(b []byte) *BitReader {
	return &BitReader{r: bitio.NewReader(bytes.NewReader(b))}
}

// Bits reads the next n bits (1..64) as an unsigned integer, MSB-first.
func (r *BitReader) Bits(n uint8) uint64 {
	v, _ := r.r.ReadBits(n)
	return v
}

// Bool reads the next single bit.
func (r *BitReader) Bool() bool {
	v, _ := r.r.ReadBool()
	return v
}

// BitWriter packs sequential, arbitrary-width bitfields MSB-first into a
// byte buffer. Every call site writes a fixed bit layout that lands on a
// whole number of bytes, so Bytes closes the underlying bitio.Writer and
// panics if that invariant is somehow violated instead of propagating an
// error nobody would handle differently.
type BitWriter struct {
	buf bytes.Buffer
	w   *bitio.Writer
}

// NewBitWriter returns an empty BitWriter.
func NewBitWriter() *BitWriter {
	w := &BitWriter{}
	w.w = bitio.NewWriter(&w.buf)
	return w
}

// WriteBits writes the low n bits (1..64) of v, MSB-first.
func (w *BitWriter) WriteBits(v uint64, n uint8) {
	_ = w.w.WriteBits(v, n)
}

// WriteBool writes a single bit.
func (w *BitWriter) WriteBool(v bool) {
	_ = w.w.WriteBool(v)
}

// Bytes flushes any pending partial byte and returns the packed buffer.
func (w *BitWriter) Bytes() []byte {
	if err := w.w.Close(); err != nil {
		panic("tsip: BitWriter flush: " + err.Error())
	}
	return w.buf.Bytes()
}
