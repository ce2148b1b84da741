package tables

import (
	"fmt"
	"io"
	"unicode/utf16"

	tsip "github.com/tsflux/tsip"
)

// VCT is the shared shape of ATSC's Terrestrial and Cable Virtual Channel
// Tables (A/65 §6.3): a channel map from major.minor channel number to
// program_number/PID, ported from tsduck's common VCT base
// (tsVCT.h/tsVCT.cpp) with TVCT/CVCT distinguished by TableID and two
// CVCT-only channel fields.
type VCT struct {
	XMLName           struct{}             `xml:"VCT"`
	TableID           uint8                `xml:"table_id,attr"` // TIDTvct or TIDCvct
	TransportStreamID uint16               `xml:"transport_stream_id,attr"`
	Version           uint8                `xml:"version,attr"`
	Current           bool                 `xml:"current,attr"`
	ProtocolVersion   uint8                `xml:"protocol_version,attr"`
	Channels          []*VCTChannel        `xml:"channel"`
	Descriptors       *tsip.DescriptorList `xml:"-"`
}

// VCTChannel is one virtual channel entry. PathSelect/OutOfBand are
// meaningful only when the enclosing VCT's TableID is TIDCvct.
type VCTChannel struct {
	ShortName          string
	MajorChannelNumber uint16 // 10 bits
	MinorChannelNumber uint16 // 10 bits
	ModulationMode     uint8
	CarrierFrequency   uint32
	ChannelTSID        uint16
	ProgramNumber      uint16
	ETMLocation        uint8 // 2 bits
	AccessControlled   bool
	Hidden             bool
	PathSelect         uint8 // 1 bit, CVCT only
	OutOfBand          bool  // CVCT only
	HideGuide          bool
	ServiceType        uint8 // 6 bits
	SourceID           uint16
	Descriptors        *tsip.DescriptorList
}

const vctChannelFixedSize = 30 // bytes, see field layout in encode/decodeVCTChannel

func decodeUTF16Fixed(b []byte) string {
	units := make([]uint16, len(b)/2)
	n := 0
	for i := range units {
		u := uint16(b[2*i])<<8 | uint16(b[2*i+1])
		if u == 0 {
			break
		}
		units[n] = u
		n++
	}
	return string(utf16.Decode(units[:n]))
}

func encodeUTF16Fixed(s string, width int) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, width)
	for i := 0; i < len(units) && 2*i+1 < width; i++ {
		out[2*i] = byte(units[i] >> 8)
		out[2*i+1] = byte(units[i])
	}
	return out
}

func decodeVCTChannel(b []byte, isCVCT bool) *VCTChannel {
	ch := &VCTChannel{ShortName: decodeUTF16Fixed(b[0:14])}
	cr := tsip.NewBitReader(b[14:17])
	cr.Bits(4) // reserved
	ch.MajorChannelNumber = uint16(cr.Bits(10))
	ch.MinorChannelNumber = uint16(cr.Bits(10))
	ch.ModulationMode = b[17]
	ch.CarrierFrequency = uint32(b[18])<<24 | uint32(b[19])<<16 | uint32(b[20])<<8 | uint32(b[21])
	ch.ChannelTSID = uint16(b[22])<<8 | uint16(b[23])
	ch.ProgramNumber = uint16(b[24])<<8 | uint16(b[25])

	fr := tsip.NewBitReader(b[26:28])
	ch.ETMLocation = uint8(fr.Bits(2))
	ch.AccessControlled = fr.Bool()
	ch.Hidden = fr.Bool()
	fr.Bits(1) // reserved
	if isCVCT {
		ch.PathSelect = uint8(fr.Bits(1))
		ch.OutOfBand = fr.Bool()
	} else {
		fr.Bits(2)
	}
	ch.HideGuide = fr.Bool()
	fr.Bits(2) // reserved
	ch.ServiceType = uint8(fr.Bits(6))
	ch.SourceID = uint16(b[28])<<8 | uint16(b[29])
	return ch
}

func encodeVCTChannel(buf []byte, ch *VCTChannel, isCVCT bool) {
	copy(buf[0:14], encodeUTF16Fixed(ch.ShortName, 14))
	cw := tsip.NewBitWriter()
	cw.WriteBits(0xf, 4) // reserved, forced 1
	cw.WriteBits(uint64(ch.MajorChannelNumber&0x3ff), 10)
	cw.WriteBits(uint64(ch.MinorChannelNumber&0x3ff), 10)
	copy(buf[14:17], cw.Bytes())
	buf[17] = ch.ModulationMode
	buf[18] = byte(ch.CarrierFrequency >> 24)
	buf[19] = byte(ch.CarrierFrequency >> 16)
	buf[20] = byte(ch.CarrierFrequency >> 8)
	buf[21] = byte(ch.CarrierFrequency)
	buf[22] = byte(ch.ChannelTSID >> 8)
	buf[23] = byte(ch.ChannelTSID)
	buf[24] = byte(ch.ProgramNumber >> 8)
	buf[25] = byte(ch.ProgramNumber)

	fw := tsip.NewBitWriter()
	fw.WriteBits(uint64(ch.ETMLocation&0x3), 2)
	fw.WriteBool(ch.AccessControlled)
	fw.WriteBool(ch.Hidden)
	fw.WriteBool(true) // reserved bit, forced 1
	if isCVCT {
		fw.WriteBits(uint64(ch.PathSelect&0x1), 1)
		fw.WriteBool(ch.OutOfBand)
	} else {
		fw.WriteBool(true) // reserved 1, per tsVCT.cpp
		fw.WriteBool(false)
	}
	fw.WriteBool(ch.HideGuide)
	fw.WriteBits(0x3, 2) // reserved, forced 1
	fw.WriteBits(uint64(ch.ServiceType&0x3f), 6)
	copy(buf[26:28], fw.Bytes())

	buf[28] = byte(ch.SourceID >> 8)
	buf[29] = byte(ch.SourceID)
}

func deserializeVCT(t *tsip.BinaryTable, expectTID uint8) (*VCT, error) {
	if t.TableID() != expectTID {
		return nil, fmt.Errorf("%w: table id %s is not the expected VCT variant", ErrTableInvalid, hexByte(t.TableID()))
	}
	isCVCT := expectTID == TIDCvct

	vct := &VCT{TableID: expectTID, TransportStreamID: t.TableIDExtension(), Version: t.Version(), Current: t.SectionAt(0).IsCurrent()}
	for i := 0; i <= int(t.LastSectionNumber()); i++ {
		sec := t.SectionAt(i)
		if sec == nil {
			return nil, fmt.Errorf("%w: missing section %d", ErrTableInvalid, i)
		}
		payload := sec.Payload()
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: VCT section payload too short", ErrTableInvalid)
		}
		vct.ProtocolVersion = payload[0]
		numChannels := int(payload[1])
		offset := 2
		for c := 0; c < numChannels; c++ {
			if offset+vctChannelFixedSize > len(payload) {
				return nil, fmt.Errorf("%w: truncated VCT channel entry", ErrTableInvalid)
			}
			ch := decodeVCTChannel(payload[offset:offset+vctChannelFixedSize], isCVCT)
			descs, next, err := parseDescriptorListBits10(payload, offset+vctChannelFixedSize)
			if err != nil {
				return nil, err
			}
			ch.Descriptors = descs
			offset = next
			vct.Channels = append(vct.Channels, ch)
		}
		if i == int(t.LastSectionNumber()) {
			descs, _, err := parseDescriptorListBits10(payload, offset)
			if err != nil {
				return nil, err
			}
			vct.Descriptors = descs
		}
	}
	return vct, nil
}

// parseDescriptorListBits10 reads a descriptor loop prefixed by a 6-bit
// reserved field and a 10-bit length, the ATSC A/65 convention (as opposed
// to DVB's 4-bit-reserved/12-bit-length).
func parseDescriptorListBits10(data []byte, offset int) (*tsip.DescriptorList, int, error) {
	if offset+2 > len(data) {
		return nil, offset, fmt.Errorf("%w: truncated 10-bit descriptor length field", ErrTableInvalid)
	}
	r := tsip.NewBitReader(data[offset : offset+2])
	r.Bits(6) // reserved
	length := int(r.Bits(10))
	offset += 2
	end := offset + length
	if end > len(data) {
		return nil, offset, fmt.Errorf("%w: 10-bit descriptor loop length %d exceeds available data", ErrTableInvalid, length)
	}
	list := tsip.NewDescriptorList()
	for offset < end {
		if offset+2 > end {
			return nil, offset, fmt.Errorf("%w: truncated descriptor header", ErrTableInvalid)
		}
		size := 2 + int(data[offset+1])
		if offset+size > end {
			return nil, offset, fmt.Errorf("%w: truncated descriptor body", ErrTableInvalid)
		}
		d, err := tsip.NewDescriptorFromBytes(data[offset : offset+size])
		if err != nil {
			return nil, offset, fmt.Errorf("tables: decoding descriptor: %w", err)
		}
		list.Add(d)
		offset += size
	}
	return list, end, nil
}

func serializeDescriptorListBits10(buf []byte, start int, list *tsip.DescriptorList) int {
	if list == nil {
		list = tsip.NewDescriptorList()
	}
	return start + list.LengthSerialize(buf, start, 10, 0xfc00)
}

// serializeVCT splits channels across sections honoring the invariant
// that a channel entry never spans two sections (spec §4.7), always
// using the long-section MAX_PSI payload limit (the standard 1024-byte
// cap, per spec §4.7's ATSC A/65 note).
func serializeVCT(v *VCT) *tsip.BinaryTable {
	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead
	isCVCT := v.TableID == TIDCvct

	type encodedChannel struct{ bytes []byte }
	channelBlobs := make([]encodedChannel, len(v.Channels))
	for i, ch := range v.Channels {
		descBuf := make([]byte, 1024)
		n := serializeDescriptorListBits10(descBuf, vctChannelFixedSize, ch.Descriptors)
		blob := make([]byte, n)
		encodeVCTChannel(blob, ch, isCVCT)
		copy(blob[vctChannelFixedSize:], descBuf[vctChannelFixedSize:n])
		channelBlobs[i] = encodedChannel{bytes: blob}
	}

	var sections [][]int // channel index ranges per section: [start, end)
	start := 0
	size := 2 // protocol_version + num_channels
	for i := range channelBlobs {
		entry := len(channelBlobs[i].bytes)
		if size+entry+2 > maxPayload && i > start {
			sections = append(sections, []int{start, i})
			start = i
			size = 2
		}
		size += entry
	}
	sections = append(sections, []int{start, len(channelBlobs)})

	table := tsip.NewBinaryTable()
	for s, rng := range sections {
		payload := make([]byte, 0, maxPayload)
		payload = append(payload, v.ProtocolVersion, byte(rng[1]-rng[0]))
		for _, blob := range channelBlobs[rng[0]:rng[1]] {
			payload = append(payload, blob.bytes...)
		}
		trailer := make([]byte, 1024)
		var n int
		if s == len(sections)-1 {
			n = serializeDescriptorListBits10(trailer, 0, v.Descriptors)
		} else {
			n = serializeDescriptorListBits10(trailer, 0, nil) // empty trailing descriptor list
		}
		payload = append(payload, trailer[:n]...)
		sec := tsip.NewLongSection(v.TableID, false, v.TransportStreamID, v.Version, v.Current, uint8(s), uint8(len(sections)-1), payload)
		_ = table.AddSection(sec)
	}
	return table
}

// DeserializeTVCT builds a TVCT (terrestrial VCT) from a complete
// tsip.BinaryTable.
func DeserializeTVCT(t *tsip.BinaryTable) (*VCT, error) { return deserializeVCT(t, TIDTvct) }

// DeserializeCVCT builds a CVCT (cable VCT) from a complete
// tsip.BinaryTable.
func DeserializeCVCT(t *tsip.BinaryTable) (*VCT, error) { return deserializeVCT(t, TIDCvct) }

// Serialize splits v across as many sections as needed. v.TableID selects
// TVCT vs. CVCT framing (the CVCT-only path_select/out_of_band bits).
func (v *VCT) Serialize() *tsip.BinaryTable { return serializeVCT(v) }

// Display writes a human-readable dump of v to w.
func (v *VCT) Display(w io.Writer) {
	kind := "TVCT"
	if v.TableID == TIDCvct {
		kind = "CVCT"
	}
	fmt.Fprintf(w, "%s ts_id=%d version=%d channels=%d\n", kind, v.TransportStreamID, v.Version, len(v.Channels))
	for _, ch := range v.Channels {
		fmt.Fprintf(w, "  %d.%d %q program_number=%d source_id=%d\n", ch.MajorChannelNumber, ch.MinorChannelNumber, ch.ShortName, ch.ProgramNumber, ch.SourceID)
	}
}
