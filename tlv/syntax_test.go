package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(tag, length byte, value ...byte) []byte {
	return append([]byte{tag, length}, value...)
}

func TestGetTagAndLength(t *testing.T) {
	s := DefaultSyntax()
	data := record(0x01, 0x03, 0xaa, 0xbb, 0xcc)
	tag, length, headerSize := s.GetTagAndLength(data)
	assert.Equal(t, uint32(0x01), tag)
	assert.Equal(t, 3, length)
	assert.Equal(t, 2, headerSize)
}

func TestGetTagAndLengthTooShort(t *testing.T) {
	s := DefaultSyntax()
	_, _, headerSize := s.GetTagAndLength(record(0x01, 0x05, 0xaa))
	assert.Equal(t, 0, headerSize)
}

func TestLocateTLVFixed(t *testing.T) {
	s, err := NewSyntax(2, 5, 1, 1, true)
	require.NoError(t, err)
	data := append([]byte{0xff, 0xff}, record(0x01, 0x03, 1, 2, 3)...)
	start, size, ok := s.LocateTLV(data)
	assert.True(t, ok)
	assert.Equal(t, 2, start)
	assert.Equal(t, 5, size)
}

func TestLocateTLVAutoStart(t *testing.T) {
	s := DefaultSyntax()
	// A 0xFF,0xFF,0xFF prefix can't form a consistent TLV chain from any
	// offset (every candidate length byte overflows the buffer), so the
	// auto-locator should land exactly on the one real record that follows.
	data := append([]byte{0xff, 0xff, 0xff}, record(0x01, 0x02, 1, 2)...)
	start, size, ok := s.LocateTLV(data)
	assert.True(t, ok)
	assert.Equal(t, 3, start)
	assert.Equal(t, 4, size)
}

func TestWalkDecodesAllRecords(t *testing.T) {
	s := DefaultSyntax()
	data := append(record(0x01, 0x02, 0xaa, 0xbb), record(0x02, 0x01, 0xcc)...)
	records := s.Walk(data)
	require.Len(t, records, 2)
	assert.Equal(t, uint32(0x01), records[0].Tag)
	assert.Equal(t, []byte{0xaa, 0xbb}, records[0].Value)
	assert.Equal(t, uint32(0x02), records[1].Tag)
	assert.Equal(t, []byte{0xcc}, records[1].Value)
}

func TestLSBByteOrder(t *testing.T) {
	s, err := NewSyntax(AutoLocate, AutoLocate, 2, 2, false)
	require.NoError(t, err)
	data := []byte{0x34, 0x12, 0x02, 0x00, 0xaa, 0xbb} // tag=0x1234 LE, length=2 LE
	tag, length, headerSize := s.GetTagAndLength(data)
	assert.Equal(t, uint32(0x1234), tag)
	assert.Equal(t, 2, length)
	assert.Equal(t, 4, headerSize)
}

func TestNewSyntaxInvalidSize(t *testing.T) {
	_, err := NewSyntax(0, 0, 3, 1, true)
	assert.ErrorIs(t, err, ErrInvalidFieldSize)
}
