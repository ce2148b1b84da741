package tsip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Section size bounds (ISO/IEC 13818-1 §2.4.4.10 and its private-section
// variant). These are *total* byte counts, i.e. 3 + section_length.
const (
	MaxSectionSizeStandard = 1024
	MaxSectionSizePrivate  = 4096

	minSectionSize = 5

	// StuffingTableID is the DVB "stuffing table" table id (ETSI EN 300 468
	// §5.2.11). It is the sole documented exception to the rule that the
	// section_syntax_indicator bit decides short vs. long framing: a
	// stuffing section always uses the short form even when the bit is set.
	StuffingTableID = 0x72
)

var (
	// ErrSectionTooShort is returned when fewer than 5 bytes are supplied.
	ErrSectionTooShort = errors.New("tsip: section shorter than 5 bytes")
	// ErrSectionLengthMismatch is returned when 3+section_length disagrees
	// with the supplied buffer size.
	ErrSectionLengthMismatch = errors.New("tsip: section length field does not match buffer size")
	// ErrSectionTooLarge is returned when a section would exceed its
	// applicable size cap.
	ErrSectionTooLarge = errors.New("tsip: section exceeds maximum size")
	// ErrSectionInconsistentFields is returned when long-section internal
	// fields (section_number > last_section_number, version > 31) disagree.
	ErrSectionInconsistentFields = errors.New("tsip: inconsistent long section fields")
	// ErrSectionBadCRC is returned by CRCCheck validation on mismatch.
	ErrSectionBadCRC = errors.New("tsip: CRC32 mismatch")
)

// Section is an immutable (until explicitly patched), bit-exact
// representation of one PSI/SI section, 3..4096 bytes, as specified by
// spec.md §4.2.
type Section struct {
	data  []byte
	pid   uint16
	valid bool
}

// short-section byte offsets.
const (
	offTableID      = 0
	offFlags        = 1 // section_syntax_indicator, private, reserved, length hi nibble
	offLengthLo     = 2
	offLongStart    = 3 // table_id_extension starts here in long sections
	offVersionByte  = 5
	offSectionNo    = 6
	offLastSectNo   = 7
	longHeaderBytes = 8 // bytes before the payload in a long section
)

// NewSectionFromBytes validates and wraps a complete section byte slice.
func NewSectionFromBytes(data []byte, pid uint16, validation CRCValidation) (*Section, error) {
	if len(data) < minSectionSize {
		return nil, ErrSectionTooShort
	}

	sectionLength := PeekSectionLength(data[offFlags], data[offLengthLo])
	total := 3 + sectionLength
	if total != len(data) {
		return nil, fmt.Errorf("%w: 3+%d != %d", ErrSectionLengthMismatch, sectionLength, len(data))
	}

	cap := MaxSectionSizeStandard
	if data[offTableID]&0x80 != 0 || isPrivateTableID(data[offTableID]) {
		cap = MaxSectionSizePrivate
	}
	if len(data) > cap {
		return nil, fmt.Errorf("%w: %d > %d", ErrSectionTooLarge, len(data), cap)
	}

	s := &Section{data: data, pid: pid, valid: true}

	if s.IsLongSection() {
		if len(data) < longHeaderBytes+4 {
			return nil, ErrSectionTooShort
		}
		if s.SectionNumber() > s.LastSectionNumber() {
			return nil, ErrSectionInconsistentFields
		}
		if s.Version() > 31 {
			return nil, ErrSectionInconsistentFields
		}

		switch validation {
		case CRCCheck:
			computed := ComputeCRC32(data[:len(data)-4])
			if computed != s.CRC32() {
				s.valid = false
				return s, fmt.Errorf("%w: computed=%#x section=%#x", ErrSectionBadCRC, computed, s.CRC32())
			}
		case CRCCompute:
			s.recomputeCRC()
		case CRCIgnore:
		}
	}

	return s, nil
}

// isPrivateTableID picks the size cap NewSectionFromBytes applies: table ids
// 0x40 and above are, in practice, routinely DVB/ATSC private-syntax
// sections that may run up to the private cap. NewLongSection and
// NewShortSection apply no size cap.
func isPrivateTableID(tid byte) bool {
	return tid >= 0x40
}

// NewShortSection builds a short-form section (no version, no CRC) from
// semantic parts.
func NewShortSection(tid uint8, private bool, payload []byte) *Section {
	sectionLength := len(payload)
	data := make([]byte, 3+sectionLength)
	data[offTableID] = tid
	data[offFlags] = flagsByte(false, private, sectionLength)
	data[offLengthLo] = byte(sectionLength)
	copy(data[3:], payload)
	return &Section{data: data, valid: true}
}

// NewLongSection builds a long-form section from semantic parts and
// computes its CRC32 automatically.
func NewLongSection(
	tid uint8,
	private bool,
	tidExt uint16,
	version uint8,
	current bool,
	secNo, lastSecNo uint8,
	payload []byte,
) *Section {
	sectionLength := 5 + len(payload) + 4 // syntax header + payload + CRC
	data := make([]byte, 3+sectionLength)
	data[offTableID] = tid
	data[offFlags] = flagsByte(true, private, sectionLength)
	data[offLengthLo] = byte(sectionLength)
	data[offLongStart] = byte(tidExt >> 8)
	data[offLongStart+1] = byte(tidExt)
	vw := NewBitWriter()
	vw.WriteBits(0x3, 2) // reserved
	vw.WriteBits(uint64(version&0x1f), 5)
	vw.WriteBool(current)
	data[offVersionByte] = vw.Bytes()[0]
	data[offSectionNo] = secNo
	data[offLastSectNo] = lastSecNo
	copy(data[longHeaderBytes:], payload)

	s := &Section{data: data, valid: true}
	s.recomputeCRC()
	return s
}

// NewSectionFromReader reads one section from a seekable stream: the 3-byte
// short header first, to learn section_length, then the rest.
func NewSectionFromReader(r io.Reader, validation CRCValidation) (*Section, error) {
	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("tsip: reading section header: %w", err)
	}
	sectionLength := PeekSectionLength(hdr[offFlags], hdr[offLengthLo])
	rest := make([]byte, sectionLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("tsip: reading section body: %w", err)
	}
	return NewSectionFromBytes(append(hdr, rest...), 0, validation)
}

// PeekSectionLength reassembles the section_length field from a section's
// first two bytes (the flags byte and the length-lo byte):
// section_syntax_indicator(1), private_indicator(1), reserved(2),
// section_length hi nibble(4), followed by section_length lo byte(8).
// Callers that only have a short prefix of a section (e.g. demux
// reassembly, which doesn't yet have a complete Section to ask) use this
// instead of duplicating the bitfield layout.
func PeekSectionLength(flags, lengthLo byte) int {
	r := NewBitReader([]byte{flags, lengthLo})
	r.Bits(4) // syntax, private, reserved(2)
	hi := r.Bits(4)
	return int(hi)<<8 | int(lengthLo)
}

func flagsByte(syntax, private bool, sectionLength int) byte {
	w := NewBitWriter()
	w.WriteBool(syntax)
	w.WriteBool(private)
	w.WriteBits(0x3, 2) // reserved bits set to 1, matching the teacher's convention
	w.WriteBits(uint64(sectionLength>>8)&0xf, 4)
	return w.Bytes()[0]
}

// StartLongSection probes a 3-byte section prefix and reports whether it
// begins a long section: section_syntax_indicator set and the table id is
// not the DVB Stuffing Table, per spec.md §4.2.
func StartLongSection(prefix [3]byte) bool {
	if prefix[0] == StuffingTableID {
		return false
	}
	return prefix[1]&0x80 != 0
}

// TableID returns the section's table id.
func (s *Section) TableID() uint8 { return s.data[offTableID] }

// IsPrivate reports the private_indicator bit.
func (s *Section) IsPrivate() bool { return s.data[offFlags]&0x40 != 0 }

// IsLongSection reports whether this is a long-form section (has
// table_id_extension, version, current/next, section numbering, and CRC32).
func (s *Section) IsLongSection() bool {
	return s.data[offFlags]&0x80 != 0
}

// SectionLength returns the section_length field (bytes following it).
func (s *Section) SectionLength() int {
	return PeekSectionLength(s.data[offFlags], s.data[offLengthLo])
}

// Size returns the total section size, 3+SectionLength().
func (s *Section) Size() int { return len(s.data) }

// TableIDExtension returns the TIDext field; valid only for long sections.
func (s *Section) TableIDExtension() uint16 {
	return uint16(s.data[offLongStart])<<8 | uint16(s.data[offLongStart+1])
}

// Version returns the 5-bit version_number field; valid only for long
// sections.
func (s *Section) Version() uint8 {
	r := NewBitReader([]byte{s.data[offVersionByte]})
	r.Bits(2) // reserved
	return uint8(r.Bits(5))
}

// IsCurrent returns the current_next_indicator bit; valid only for long
// sections.
func (s *Section) IsCurrent() bool {
	r := NewBitReader([]byte{s.data[offVersionByte]})
	r.Bits(7) // reserved, version_number
	return r.Bool()
}

// SectionNumber returns the section_number field; valid only for long
// sections.
func (s *Section) SectionNumber() uint8 { return s.data[offSectionNo] }

// LastSectionNumber returns the last_section_number field; valid only for
// long sections.
func (s *Section) LastSectionNumber() uint8 { return s.data[offLastSectNo] }

// Payload returns the section's semantic payload: everything between the
// header (short or long) and, for long sections, the trailing CRC32.
func (s *Section) Payload() []byte {
	start := 3
	end := len(s.data)
	if s.IsLongSection() {
		start = longHeaderBytes
		end -= 4
	}
	if start > end {
		return nil
	}
	return s.data[start:end]
}

// CRC32 returns the trailing CRC32 of a long section.
func (s *Section) CRC32() uint32 {
	n := len(s.data)
	return uint32(s.data[n-4])<<24 | uint32(s.data[n-3])<<16 | uint32(s.data[n-2])<<8 | uint32(s.data[n-1])
}

// Bytes returns the section's raw wire bytes. Callers must not mutate the
// returned slice directly; use the Set* mutators instead.
func (s *Section) Bytes() []byte { return s.data }

// PID returns the source PID this section was reassembled from. This is
// metadata, not part of the section's wire bytes.
func (s *Section) PID() uint16 { return s.pid }

// SetPID records the source PID.
func (s *Section) SetPID(pid uint16) { s.pid = pid }

// IsValid reports whether the section passed CRC validation at
// construction time (always true for CRCIgnore/CRCCompute).
func (s *Section) IsValid() bool { return s.valid }

// Equal compares two sections' wire bytes. PID is metadata and is not
// compared.
func (s *Section) Equal(o *Section) bool {
	if s == nil || o == nil {
		return s == o
	}
	return bytes.Equal(s.data, o.data)
}

// HasDiversifiedPayload reports whether the payload is not a single
// repeated byte value, used by filters to skip stuffing sections whose
// payload is all-0xFF or similar.
func (s *Section) HasDiversifiedPayload() bool {
	p := s.Payload()
	if len(p) < 2 {
		return len(p) > 0
	}
	first := p[0]
	for _, b := range p[1:] {
		if b != first {
			return true
		}
	}
	return false
}

func (s *Section) recomputeCRC() {
	if !s.IsLongSection() {
		return
	}
	n := len(s.data)
	crc := ComputeCRC32(s.data[:n-4])
	s.data[n-4] = byte(crc >> 24)
	s.data[n-3] = byte(crc >> 16)
	s.data[n-2] = byte(crc >> 8)
	s.data[n-1] = byte(crc)
	s.valid = true
}

// SetVersion patches the version_number field, optionally recomputing the
// trailing CRC32.
func (s *Section) SetVersion(v uint8, recomputeCRC bool) {
	current := s.IsCurrent()
	w := NewBitWriter()
	w.WriteBits(0x3, 2) // reserved
	w.WriteBits(uint64(v&0x1f), 5)
	w.WriteBool(current)
	s.data[offVersionByte] = w.Bytes()[0]
	if recomputeCRC {
		s.recomputeCRC()
	}
}

// SetIsCurrent patches the current_next_indicator bit.
func (s *Section) SetIsCurrent(v bool, recomputeCRC bool) {
	version := s.Version()
	w := NewBitWriter()
	w.WriteBits(0x3, 2) // reserved
	w.WriteBits(uint64(version&0x1f), 5)
	w.WriteBool(v)
	s.data[offVersionByte] = w.Bytes()[0]
	if recomputeCRC {
		s.recomputeCRC()
	}
}

// SetSectionNumber patches the section_number field.
func (s *Section) SetSectionNumber(v uint8, recomputeCRC bool) {
	s.data[offSectionNo] = v
	if recomputeCRC {
		s.recomputeCRC()
	}
}

// SetLastSectionNumber patches the last_section_number field.
func (s *Section) SetLastSectionNumber(v uint8, recomputeCRC bool) {
	s.data[offLastSectNo] = v
	if recomputeCRC {
		s.recomputeCRC()
	}
}

// SetUint8 patches a single payload byte at a payload-relative offset.
func (s *Section) SetUint8(offset int, v uint8, recomputeCRC bool) error {
	p := s.Payload()
	if offset < 0 || offset >= len(p) {
		return fmt.Errorf("tsip: offset %d out of range (payload size %d)", offset, len(p))
	}
	p[offset] = v
	if recomputeCRC {
		s.recomputeCRC()
	}
	return nil
}

// SetUint16 patches a big-endian 16-bit payload field at a payload-relative
// offset.
func (s *Section) SetUint16(offset int, v uint16, recomputeCRC bool) error {
	p := s.Payload()
	if offset < 0 || offset+1 >= len(p) {
		return fmt.Errorf("tsip: offset %d out of range (payload size %d)", offset, len(p))
	}
	p[offset] = byte(v >> 8)
	p[offset+1] = byte(v)
	if recomputeCRC {
		s.recomputeCRC()
	}
	return nil
}

// AppendPayload appends bytes to the payload, growing section_length (and
// the trailing CRC32's position) accordingly.
func (s *Section) AppendPayload(b []byte, recomputeCRC bool) {
	isLong := s.IsLongSection()
	var crcTail []byte
	if isLong {
		n := len(s.data)
		crcTail = append([]byte(nil), s.data[n-4:]...)
		s.data = s.data[:n-4]
	}

	s.data = append(s.data, b...)

	if isLong {
		s.data = append(s.data, crcTail...)
	}

	newSectionLength := len(s.data) - 3
	syntax := s.data[offFlags]&0x80 != 0
	private := s.data[offFlags]&0x40 != 0
	s.data[offFlags] = flagsByte(syntax, private, newSectionLength)
	s.data[offLengthLo] = byte(newSectionLength)

	if recomputeCRC {
		s.recomputeCRC()
	}
}
