// Package tlv implements the TLV syntax helper referenced by spec.md §6:
// locating and walking Tag-Length-Value records embedded in an
// operator-supplied area of a private section's payload. Ported in spirit
// from tsduck's TLVSyntax (_examples/original_source/.../tsTLVSyntax.cpp).
package tlv

import (
	"errors"
	"fmt"
)

// ErrInvalidFieldSize is returned by NewSyntax for a tag or length size
// outside {1, 2, 4}.
var ErrInvalidFieldSize = errors.New("tlv: tag/length size must be 1, 2, or 4")

// AutoLocate means the TLV area's start or size is not fixed and must be
// discovered by scanning for the longest consistent run of records.
const AutoLocate = -1

// Syntax describes how a byte area is structured as a sequence of
// Tag-Length-Value records.
type Syntax struct {
	start      int // AutoLocate (-1) or a fixed byte offset
	size       int // AutoLocate (-1) or a fixed byte length
	tagSize    int // 1, 2, or 4
	lengthSize int // 1, 2, or 4
	msb        bool
}

// NewSyntax returns a Syntax with the given geometry. start/size may be
// AutoLocate. msb selects MSB-first (big-endian) tag/length encoding;
// false selects LSB-first (little-endian).
func NewSyntax(start, size, tagSize, lengthSize int, msb bool) (*Syntax, error) {
	if tagSize != 1 && tagSize != 2 && tagSize != 4 {
		return nil, fmt.Errorf("%w: tag size %d", ErrInvalidFieldSize, tagSize)
	}
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: length size %d", ErrInvalidFieldSize, lengthSize)
	}
	return &Syntax{start: start, size: size, tagSize: tagSize, lengthSize: lengthSize, msb: msb}, nil
}

// DefaultSyntax is the common case: auto-located area, 1-byte tag, 1-byte
// length, MSB-first.
func DefaultSyntax() *Syntax {
	s, _ := NewSyntax(AutoLocate, AutoLocate, 1, 1, true)
	return s
}

// TagSize returns the configured tag field width in bytes.
func (s *Syntax) TagSize() int { return s.tagSize }

// LengthSize returns the configured length field width in bytes.
func (s *Syntax) LengthSize() int { return s.lengthSize }

func (s *Syntax) getInt(data []byte, size int) uint32 {
	if s.msb {
		switch size {
		case 1:
			return uint32(data[0])
		case 2:
			return uint32(data[0])<<8 | uint32(data[1])
		default:
			return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		}
	}
	switch size {
	case 1:
		return uint32(data[0])
	case 2:
		return uint32(data[1])<<8 | uint32(data[0])
	default:
		return uint32(data[3])<<24 | uint32(data[2])<<16 | uint32(data[1])<<8 | uint32(data[0])
	}
}

// GetTagAndLength extracts one record's tag and length from the start of
// data. It returns the header size (tagSize+lengthSize) on success, or 0
// if the record's tag/length fields or its declared value don't fit in
// data.
func (s *Syntax) GetTagAndLength(data []byte) (tag uint32, length int, headerSize int) {
	headerSize = s.tagSize + s.lengthSize
	if len(data) < headerSize {
		return 0, 0, 0
	}
	tag = s.getInt(data, s.tagSize)
	length = int(s.getInt(data[s.tagSize:], s.lengthSize))
	if len(data)-headerSize < length {
		return tag, length, 0
	}
	return tag, length, headerSize
}

// longestTLV returns the size of the longest consistent run of TLV
// records starting at tlvStart within data.
func (s *Syntax) longestTLV(data []byte, tlvStart int) int {
	headerSize := s.tagSize + s.lengthSize
	index := tlvStart
	for index+headerSize <= len(data) {
		length := int(s.getInt(data[index+s.tagSize:], s.lengthSize))
		next := index + headerSize + length
		if next > len(data) || next < index {
			break
		}
		index = next
	}
	return index - tlvStart
}

// LocateTLV finds the TLV area within data: a fixed (start, size) if both
// are set, a fixed start with auto-detected size, or a fully auto-located
// area (the longest consistent TLV run found anywhere in data). Reports
// false if no suitable area exists.
func (s *Syntax) LocateTLV(data []byte) (tlvStart, tlvSize int, ok bool) {
	switch {
	case s.start >= 0 && s.size >= 0:
		if s.start+s.size > len(data) {
			return 0, 0, false
		}
		return s.start, s.size, true

	case s.start >= 0:
		if s.start > len(data) {
			return 0, 0, false
		}
		size := s.longestTLV(data, s.start)
		return s.start, size, size > 0

	default:
		bestStart, bestSize := 0, 0
		for index := 0; index < len(data); index++ {
			if size := s.longestTLV(data, index); size > bestSize {
				bestStart, bestSize = index, size
			}
		}
		return bestStart, bestSize, bestSize > 0
	}
}

// Record is one decoded Tag-Length-Value entry.
type Record struct {
	Tag   uint32
	Value []byte
}

// Walk locates the TLV area in data and decodes every record within it in
// order, stopping at the first inconsistency.
func (s *Syntax) Walk(data []byte) []Record {
	start, size, ok := s.LocateTLV(data)
	if !ok {
		return nil
	}
	area := data[start : start+size]

	var records []Record
	for len(area) > 0 {
		tag, length, headerSize := s.GetTagAndLength(area)
		if headerSize == 0 {
			break
		}
		records = append(records, Record{Tag: tag, Value: area[headerSize : headerSize+length]})
		area = area[headerSize+length:]
	}
	return records
}
