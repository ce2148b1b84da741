package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// SVCT is the ATSC Satellite Virtual Channel Table (A/81 §9.9.1): the
// satellite-delivery counterpart of TVCT/CVCT, carrying polarization,
// symbol rate and FEC alongside the usual channel identity fields.
// Ported from tsduck's atsc/tsSVCT.h/tsSVCT.cpp.
type SVCT struct {
	XMLName         struct{}             `xml:"SVCT"`
	SVCTSubtype     uint8                `xml:"svct_subtype,attr"`
	SVCTID          uint8                `xml:"svct_id,attr"`
	Version         uint8                `xml:"version,attr"`
	Current         bool                 `xml:"current,attr"`
	ProtocolVersion uint8                `xml:"protocol_version,attr"`
	Channels        []*SVCTChannel       `xml:"channel"`
	Descriptors     *tsip.DescriptorList `xml:"-"`
}

// SVCTChannel is one virtual channel entry in an SVCT.
type SVCTChannel struct {
	ShortName          string
	MajorChannelNumber uint16 // 10 bits
	MinorChannelNumber uint16 // 10 bits
	ModulationMode     uint8  // 6 bits
	CarrierFrequencyHz uint64 // stored/wire unit is 100 Hz
	CarrierSymbolRate  uint32
	Polarization       uint8 // 2 bits
	FECInner           uint8
	ChannelTSID        uint16
	ProgramNumber      uint16
	ETMLocation        uint8 // 2 bits
	Hidden             bool
	HideGuide          bool
	ServiceType        uint8 // 6 bits
	SourceID           uint16
	FeedID             uint8
	Descriptors        *tsip.DescriptorList
}

const svctChannelNameBytes = 16 // 8 UTF-16 code units
const svctChannelFixedSize = svctChannelNameBytes + 12 + 1 + 2 + 2 + 2 + 2 + 1

func decodeSVCTChannel(b []byte) *SVCTChannel {
	ch := &SVCTChannel{ShortName: decodeUTF16Fixed(b[0:svctChannelNameBytes])}

	r := tsip.NewBitReader(b[svctChannelNameBytes : svctChannelNameBytes+12])
	r.Bits(4) // reserved
	ch.MajorChannelNumber = uint16(r.Bits(10))
	ch.MinorChannelNumber = uint16(r.Bits(10))
	ch.ModulationMode = uint8(r.Bits(6))
	ch.CarrierFrequencyHz = r.Bits(32) * 100
	ch.CarrierSymbolRate = uint32(r.Bits(32))
	ch.Polarization = uint8(r.Bits(2))

	o := svctChannelNameBytes + 12
	ch.FECInner = b[o]
	ch.ChannelTSID = uint16(b[o+1])<<8 | uint16(b[o+2])
	ch.ProgramNumber = uint16(b[o+3])<<8 | uint16(b[o+4])

	fr := tsip.NewBitReader(b[o+5 : o+7])
	ch.ETMLocation = uint8(fr.Bits(2))
	ch.Hidden = fr.Bool()
	fr.Bits(2) // reserved
	ch.HideGuide = fr.Bool()
	fr.Bits(4) // reserved
	ch.ServiceType = uint8(fr.Bits(6))

	ch.SourceID = uint16(b[o+7])<<8 | uint16(b[o+8])
	ch.FeedID = b[o+9]
	return ch
}

func encodeSVCTChannel(buf []byte, ch *SVCTChannel) {
	copy(buf[0:svctChannelNameBytes], encodeUTF16Fixed(ch.ShortName, svctChannelNameBytes))

	w := tsip.NewBitWriter()
	w.WriteBits(0, 4)
	w.WriteBits(uint64(ch.MajorChannelNumber&0x3ff), 10)
	w.WriteBits(uint64(ch.MinorChannelNumber&0x3ff), 10)
	w.WriteBits(uint64(ch.ModulationMode&0x3f), 6)
	w.WriteBits(ch.CarrierFrequencyHz/100, 32)
	w.WriteBits(uint64(ch.CarrierSymbolRate), 32)
	w.WriteBits(uint64(ch.Polarization&0x3), 2)
	copy(buf[svctChannelNameBytes:svctChannelNameBytes+12], w.Bytes())

	o := svctChannelNameBytes + 12
	buf[o] = ch.FECInner
	buf[o+1] = byte(ch.ChannelTSID >> 8)
	buf[o+2] = byte(ch.ChannelTSID)
	buf[o+3] = byte(ch.ProgramNumber >> 8)
	buf[o+4] = byte(ch.ProgramNumber)

	fw := tsip.NewBitWriter()
	fw.WriteBits(uint64(ch.ETMLocation&0x3), 2)
	fw.WriteBool(ch.Hidden)
	fw.WriteBits(0, 2) // reserved
	fw.WriteBool(ch.HideGuide)
	fw.WriteBits(0, 4) // reserved
	fw.WriteBits(uint64(ch.ServiceType&0x3f), 6)
	copy(buf[o+5:o+7], fw.Bytes())

	buf[o+7] = byte(ch.SourceID >> 8)
	buf[o+8] = byte(ch.SourceID)
	buf[o+9] = ch.FeedID
}

// DeserializeSVCT builds an SVCT from a complete tsip.BinaryTable.
func DeserializeSVCT(t *tsip.BinaryTable) (*SVCT, error) {
	if t.TableID() != TIDSvct {
		return nil, fmt.Errorf("%w: table id %s is not SVCT", ErrTableInvalid, hexByte(t.TableID()))
	}
	tidExt := t.TableIDExtension()
	svct := &SVCT{
		SVCTSubtype: uint8(tidExt >> 8),
		SVCTID:      uint8(tidExt),
		Version:     t.Version(),
		Current:     t.SectionAt(0).IsCurrent(),
	}

	for i := 0; i <= int(t.LastSectionNumber()); i++ {
		sec := t.SectionAt(i)
		if sec == nil {
			return nil, fmt.Errorf("%w: missing section %d", ErrTableInvalid, i)
		}
		payload := sec.Payload()
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: SVCT section payload too short", ErrTableInvalid)
		}
		svct.ProtocolVersion = payload[0]
		numChannels := int(payload[1])
		offset := 2
		for c := 0; c < numChannels; c++ {
			if offset+svctChannelFixedSize > len(payload) {
				return nil, fmt.Errorf("%w: truncated SVCT channel entry", ErrTableInvalid)
			}
			ch := decodeSVCTChannel(payload[offset : offset+svctChannelFixedSize])
			descs, next, err := parseDescriptorListBits10(payload, offset+svctChannelFixedSize)
			if err != nil {
				return nil, err
			}
			ch.Descriptors = descs
			offset = next
			svct.Channels = append(svct.Channels, ch)
		}
		if i == int(t.LastSectionNumber()) {
			descs, _, err := parseDescriptorListBits10(payload, offset)
			if err != nil {
				return nil, err
			}
			svct.Descriptors = descs
		}
	}
	return svct, nil
}

// Serialize splits the SVCT across as many sections as needed, never
// letting a channel entry straddle a section boundary.
func (s *SVCT) Serialize() *tsip.BinaryTable {
	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead

	blobs := make([][]byte, len(s.Channels))
	for i, ch := range s.Channels {
		descBuf := make([]byte, 1024)
		n := serializeDescriptorListBits10(descBuf, svctChannelFixedSize, ch.Descriptors)
		blob := make([]byte, n)
		encodeSVCTChannel(blob, ch)
		copy(blob[svctChannelFixedSize:], descBuf[svctChannelFixedSize:n])
		blobs[i] = blob
	}

	var sections [][]int
	start := 0
	size := 2
	for i := range blobs {
		if size+len(blobs[i])+2 > maxPayload && i > start {
			sections = append(sections, []int{start, i})
			start = i
			size = 2
		}
		size += len(blobs[i])
	}
	sections = append(sections, []int{start, len(blobs)})

	tidExt := uint16(s.SVCTSubtype)<<8 | uint16(s.SVCTID)
	table := tsip.NewBinaryTable()
	for i, rng := range sections {
		payload := make([]byte, 0, maxPayload)
		payload = append(payload, s.ProtocolVersion, byte(rng[1]-rng[0]))
		for _, blob := range blobs[rng[0]:rng[1]] {
			payload = append(payload, blob...)
		}
		trailer := make([]byte, 1024)
		var n int
		if i == len(sections)-1 {
			n = serializeDescriptorListBits10(trailer, 0, s.Descriptors)
		} else {
			n = serializeDescriptorListBits10(trailer, 0, nil)
		}
		payload = append(payload, trailer[:n]...)
		sec := tsip.NewLongSection(TIDSvct, false, tidExt, s.Version, s.Current, uint8(i), uint8(len(sections)-1), payload)
		_ = table.AddSection(sec)
	}
	return table
}

// Display writes a human-readable dump of s to w.
func (s *SVCT) Display(w io.Writer) {
	fmt.Fprintf(w, "SVCT subtype=%d id=%d version=%d channels=%d\n", s.SVCTSubtype, s.SVCTID, s.Version, len(s.Channels))
	for _, ch := range s.Channels {
		fmt.Fprintf(w, "  %d.%d %q program_number=%d source_id=%d\n", ch.MajorChannelNumber, ch.MinorChannelNumber, ch.ShortName, ch.ProgramNumber, ch.SourceID)
	}
}
