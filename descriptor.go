package tsip

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Descriptor size bounds per ISO/IEC 13818-1 §2.6: tag(1) + length(1) +
// payload(0..255).
const (
	minDescriptorSize = 2
	maxDescriptorSize = 2 + 255

	// TagPrivateDataSpecifier is the tag of the private_data_specifier_descriptor
	// (ETSI EN 300 468 §6.2.35) that switches the effective PDS of every
	// following entry in the same DescriptorList.
	TagPrivateDataSpecifier = 0x5f

	// TagExtensionDVB and TagExtensionMPEG are the "escape" tags whose
	// payload starts with a further descriptor_tag_extension byte.
	TagExtensionDVB  = 0x7f
	TagExtensionMPEG = 0x3f

	// TagISO639Language is the ISO_639_language_descriptor tag.
	TagISO639Language = 0x0a
	// TagSubtitling is the DVB subtitling_descriptor tag.
	TagSubtitling = 0x59
	// TagTeletext is the DVB teletext_descriptor tag.
	TagTeletext = 0x56
)

var (
	// ErrDescriptorTooShort is returned when fewer than 2 bytes are supplied.
	ErrDescriptorTooShort = errors.New("tsip: descriptor shorter than 2 bytes")
	// ErrDescriptorLengthMismatch is returned when size != 2+buf[1].
	ErrDescriptorLengthMismatch = errors.New("tsip: descriptor length field does not match buffer size")
	// ErrPDSRemovalIllegal is returned by DescriptorList.RemoveByIndex when
	// removing a private_data_specifier_descriptor would strand a following
	// private (tag>=0x80) descriptor without a PDS.
	ErrPDSRemovalIllegal = errors.New("tsip: removing this private_data_specifier_descriptor would strand a private descriptor")
)

// Descriptor is a single TLV descriptor: tag(1), length(1), payload(0..255).
type Descriptor struct {
	data []byte
}

// NewDescriptorFromBytes validates and wraps a complete descriptor byte
// slice (tag, length, payload).
func NewDescriptorFromBytes(data []byte) (*Descriptor, error) {
	if len(data) < minDescriptorSize {
		return nil, ErrDescriptorTooShort
	}
	want := 2 + int(data[1])
	if want != len(data) {
		return nil, fmt.Errorf("%w: 2+%d != %d", ErrDescriptorLengthMismatch, data[1], len(data))
	}
	return &Descriptor{data: data}, nil
}

// NewDescriptor builds a descriptor from a tag and payload.
func NewDescriptor(tag uint8, payload []byte) (*Descriptor, error) {
	if len(payload) > 255 {
		return nil, fmt.Errorf("tsip: descriptor payload %d bytes exceeds 255", len(payload))
	}
	data := make([]byte, 2+len(payload))
	data[0] = tag
	data[1] = byte(len(payload))
	copy(data[2:], payload)
	return &Descriptor{data: data}, nil
}

// Tag returns the descriptor_tag.
func (d *Descriptor) Tag() uint8 { return d.data[0] }

// PayloadSize returns the descriptor_length field.
func (d *Descriptor) PayloadSize() int { return int(d.data[1]) }

// Payload returns the descriptor payload bytes.
func (d *Descriptor) Payload() []byte { return d.data[2:] }

// Size returns the descriptor's total wire size, 2+PayloadSize().
func (d *Descriptor) Size() int { return len(d.data) }

// Content returns the descriptor's full wire bytes (tag, length, payload).
func (d *Descriptor) Content() []byte { return d.data }

// IsPrivate reports whether the tag is in the private range (>= 0x80).
func (d *Descriptor) IsPrivate() bool { return d.data[0] >= 0x80 }

// IsExtension reports whether this is a DVB or MPEG "extension" descriptor,
// whose payload starts with a descriptor_tag_extension byte.
func (d *Descriptor) IsExtension() bool {
	return d.data[0] == TagExtensionDVB || d.data[0] == TagExtensionMPEG
}

// ExtensionTag returns the descriptor_tag_extension byte of an extension
// descriptor. Callers must check IsExtension first.
func (d *Descriptor) ExtensionTag() uint8 {
	return d.Payload()[0]
}

// EDIDFlavor distinguishes the ways an EDID identifies a descriptor.
type EDIDFlavor int

const (
	// EDIDStandard identifies a descriptor by its plain tag (<0x80).
	EDIDStandard EDIDFlavor = iota
	// EDIDPrivate identifies a descriptor by tag (>=0x80) and PDS.
	EDIDPrivate
	// EDIDTableSpecific identifies a descriptor by tag scoped to an
	// enclosing table id.
	EDIDTableSpecific
	// EDIDExtensionDVB identifies a DVB extension descriptor by its
	// descriptor_tag_extension.
	EDIDExtensionDVB
	// EDIDExtensionMPEG identifies an MPEG extension descriptor by its
	// descriptor_tag_extension.
	EDIDExtensionMPEG
)

// EDID is the Extended Descriptor Id, the full disambiguator used for
// registry dispatch (spec §4.4/§4.6).
type EDID struct {
	Flavor  EDIDFlavor
	Tag     uint8
	PDS     uint32
	TableID uint8
	ExtTag  uint8
}

// NewStandardEDID builds an EDID for a plain, non-private, non-extension
// descriptor tag.
func NewStandardEDID(tag uint8) EDID { return EDID{Flavor: EDIDStandard, Tag: tag} }

// NewPrivateEDID builds an EDID for a private (tag>=0x80) descriptor scoped
// to a PDS.
func NewPrivateEDID(tag uint8, pds uint32) EDID {
	return EDID{Flavor: EDIDPrivate, Tag: tag, PDS: pds}
}

// NewTableSpecificEDID builds an EDID for a tag whose meaning is scoped to
// one enclosing table id.
func NewTableSpecificEDID(tag, tableID uint8) EDID {
	return EDID{Flavor: EDIDTableSpecific, Tag: tag, TableID: tableID}
}

// NewExtensionDVBEDID builds an EDID for a DVB extension descriptor.
func NewExtensionDVBEDID(extTag uint8) EDID {
	return EDID{Flavor: EDIDExtensionDVB, Tag: TagExtensionDVB, ExtTag: extTag}
}

// NewExtensionMPEGEDID builds an EDID for an MPEG extension descriptor.
func NewExtensionMPEGEDID(extTag uint8) EDID {
	return EDID{Flavor: EDIDExtensionMPEG, Tag: TagExtensionMPEG, ExtTag: extTag}
}

// EDIDFor derives the natural EDID of d given the PDS in effect at its
// position in a list; it takes no table id. Per spec §4.4's EDID
// description, a standard-tag descriptor can still resolve to a
// table-specific handler; EDIDFor reports the plain (tag- or
// extension-based) identity, leaving the table-specific upgrade to the
// registry lookup (spec §4.6), which is given tableID separately.
func EDIDFor(d *Descriptor, pds uint32) EDID {
	switch {
	case d.Tag() == TagExtensionDVB && len(d.Payload()) > 0:
		return NewExtensionDVBEDID(d.ExtensionTag())
	case d.Tag() == TagExtensionMPEG && len(d.Payload()) > 0:
		return NewExtensionMPEGEDID(d.ExtensionTag())
	case d.IsPrivate():
		return NewPrivateEDID(d.Tag(), pds)
	default:
		return NewStandardEDID(d.Tag())
	}
}

// descriptorEntry pairs a descriptor with the effective PDS at its position,
// per the DescriptorList invariant (spec §4.4/§8 property 5).
type descriptorEntry struct {
	descriptor *Descriptor
	pds        uint32
}

// DescriptorList is an ordered sequence of descriptors, each carrying the
// private_data_specifier in effect at its position.
type DescriptorList struct {
	entries []descriptorEntry
	tableID uint8
	hasTID  bool
}

// NewDescriptorList returns an empty list. tableID, if supplied via
// SetTableID, scopes table-specific EDID lookups for descriptors added to
// this list.
func NewDescriptorList() *DescriptorList {
	return &DescriptorList{}
}

// SetTableID records the enclosing table id, used for table-specific
// descriptor resolution instead of a back-pointer from the list to its
// parent table (spec §9's cyclic-ownership note).
func (l *DescriptorList) SetTableID(tid uint8) {
	l.tableID = tid
	l.hasTID = true
}

// Count returns the number of descriptors in the list.
func (l *DescriptorList) Count() int { return len(l.entries) }

// At returns the descriptor at index i.
func (l *DescriptorList) At(i int) *Descriptor { return l.entries[i].descriptor }

// PDSAt returns the effective PDS for the descriptor at index i.
func (l *DescriptorList) PDSAt(i int) uint32 { return l.entries[i].pds }

// isPDSDescriptor reports whether d is a private_data_specifier_descriptor
// with a well-formed 4-byte payload.
func isPDSDescriptor(d *Descriptor) bool {
	return d.Tag() == TagPrivateDataSpecifier && d.PayloadSize() == 4
}

func pdsFromPayload(d *Descriptor) uint32 {
	p := d.Payload()
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

// Add appends d, computing its effective PDS per spec §4.4: the new
// descriptor's own PDS if it is a private_data_specifier_descriptor, else
// the previous entry's PDS, else 0.
func (l *DescriptorList) Add(d *Descriptor) {
	var pds uint32
	if isPDSDescriptor(d) {
		pds = pdsFromPayload(d)
	} else if len(l.entries) > 0 {
		pds = l.entries[len(l.entries)-1].pds
	}
	l.entries = append(l.entries, descriptorEntry{descriptor: d, pds: pds})
}

// RemoveByIndex removes the descriptor at index i. If it is a
// private_data_specifier_descriptor, this first checks that no following
// descriptor up to the next PDS descriptor has tag>=0x80 (it would be
// stranded without a PDS), then rewrites the PDS of the entries in that
// span to the new effective PDS.
func (l *DescriptorList) RemoveByIndex(i int) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("tsip: descriptor index %d out of range", i)
	}
	removed := l.entries[i].descriptor
	if !isPDSDescriptor(removed) {
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		return nil
	}

	end := len(l.entries)
	for j := i + 1; j < len(l.entries); j++ {
		if isPDSDescriptor(l.entries[j].descriptor) {
			end = j
			break
		}
	}
	for j := i + 1; j < end; j++ {
		if l.entries[j].descriptor.IsPrivate() {
			return ErrPDSRemovalIllegal
		}
	}

	var newPDS uint32
	if i > 0 {
		newPDS = l.entries[i-1].pds
	}
	for j := i + 1; j < end; j++ {
		l.entries[j].pds = newPDS
	}

	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return nil
}

// SearchByTag returns the index of the first descriptor at or after start
// with the given tag (and, if pds != nil, the given effective PDS), or -1.
func (l *DescriptorList) SearchByTag(tag uint8, pds *uint32, start int) int {
	idx := slices.IndexFunc(l.entries[start:], func(e descriptorEntry) bool {
		if e.descriptor.Tag() != tag {
			return false
		}
		if pds != nil && e.pds != *pds {
			return false
		}
		return true
	})
	if idx < 0 {
		return -1
	}
	return start + idx
}

// SearchByEDID returns the index of the first descriptor whose EDID matches
// e, honoring table-specific scoping: a table-specific EDID only matches
// inside the list's declared table id.
func (l *DescriptorList) SearchByEDID(e EDID) int {
	for i, entry := range l.entries {
		if e.Flavor == EDIDTableSpecific {
			if !l.hasTID || l.tableID != e.TableID {
				continue
			}
			if entry.descriptor.Tag() == e.Tag {
				return i
			}
			continue
		}
		if EDIDFor(entry.descriptor, entry.pds) == e {
			return i
		}
	}
	return -1
}

// SearchByLanguage returns the index of the first ISO_639_language_descriptor
// entry whose payload contains the given 3-letter language code.
func (l *DescriptorList) SearchByLanguage(lang string) int {
	for i, entry := range l.entries {
		d := entry.descriptor
		if d.Tag() != TagISO639Language {
			continue
		}
		p := d.Payload()
		for off := 0; off+4 <= len(p); off += 4 {
			if string(p[off:off+3]) == lang {
				return i
			}
		}
	}
	return -1
}

// SubtitleSearchResult is the three-valued outcome of SearchSubtitles.
type SubtitleSearchResult int

const (
	// SubtitleNotFound means no subtitling/teletext-subtitle descriptor
	// exists at all.
	SubtitleNotFound SubtitleSearchResult = iota
	// SubtitleFoundWrongLanguage means a subtitle descriptor exists but
	// none matches the requested language.
	SubtitleFoundWrongLanguage
	// SubtitleFound means a matching-language subtitle descriptor exists.
	SubtitleFound
)

// teletextSubtitleTypes are the teletext_type values that denote subtitle
// pages rather than plain teletext pages (ETSI EN 300 468 Table 100).
var teletextSubtitleTypes = map[uint8]bool{0x02: true, 0x05: true}

// SearchSubtitles inspects DVB subtitling_descriptor and teletext_descriptor
// entries (teletext types 0x02/0x05 only) for the requested language, per
// spec §4.4.
func (l *DescriptorList) SearchSubtitles(lang string) SubtitleSearchResult {
	found := false
	for _, entry := range l.entries {
		d := entry.descriptor
		switch d.Tag() {
		case TagSubtitling:
			p := d.Payload()
			for off := 0; off+8 <= len(p); off += 8 {
				found = true
				if string(p[off:off+3]) == lang {
					return SubtitleFound
				}
			}
		case TagTeletext:
			p := d.Payload()
			for off := 0; off+5 <= len(p); off += 5 {
				teletextType := p[off+3] >> 3
				if !teletextSubtitleTypes[teletextType] {
					continue
				}
				found = true
				if string(p[off:off+3]) == lang {
					return SubtitleFound
				}
			}
		}
	}
	if found {
		return SubtitleFoundWrongLanguage
	}
	return SubtitleNotFound
}

// Serialize writes as many whole descriptors as fit in buf[start:], returning
// the number of bytes written.
func (l *DescriptorList) Serialize(buf []byte, start int) int {
	pos := start
	for _, entry := range l.entries {
		d := entry.descriptor
		if pos+d.Size() > len(buf) {
			break
		}
		copy(buf[pos:], d.Content())
		pos += d.Size()
	}
	return pos - start
}

// LengthSerialize serializes the list into buf starting at start, preceded
// by a 16-bit field whose low lengthBits bits carry the byte length of the
// serialized descriptors and whose high (16-lengthBits) bits carry
// reserved, caller-supplied bits.
func (l *DescriptorList) LengthSerialize(buf []byte, start int, lengthBits int, reserved uint16) int {
	bodyStart := start + 2
	n := l.Serialize(buf, bodyStart)

	reservedBits := 16 - lengthBits
	w := NewBitWriter()
	w.WriteBits(uint64(reserved>>uint(lengthBits)), uint8(reservedBits))
	w.WriteBits(uint64(n), uint8(lengthBits))
	hdr := w.Bytes()
	buf[start] = hdr[0]
	buf[start+1] = hdr[1]

	return 2 + n
}
