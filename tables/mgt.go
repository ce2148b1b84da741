package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// MGT table_type well-known values (ATSC A/65 §6.2, Table 6.3).
const (
	MGTTableTypeTVCTCurrent   uint16 = 0x0000
	MGTTableTypeTVCTNext      uint16 = 0x0001
	MGTTableTypeCVCTCurrent   uint16 = 0x0002
	MGTTableTypeCVCTNext      uint16 = 0x0003
	MGTTableTypeChannelETT    uint16 = 0x0004
	MGTTableTypeDCCSCT        uint16 = 0x0005
	MGTTableTypeEITFirst      uint16 = 0x0100 // 0x0100-0x017F: EIT-0 .. EIT-127
	MGTTableTypeEITLast       uint16 = 0x017f
	MGTTableTypeEventETTFirst uint16 = 0x0200 // 0x0200-0x027F: per-event ETT
	MGTTableTypeEventETTLast  uint16 = 0x027f
)

// MGT is the ATSC Master Guide Table (A/65 §6.2): a directory of every
// other PSIP table carried in the stream, naming each one's PID, version
// and encoded size so a receiver can locate TVCT/CVCT/EIT/ETT/RRT without
// having to scan every PID.
type MGT struct {
	XMLName         struct{}             `xml:"MGT"`
	Version         uint8                `xml:"version,attr"`
	Current         bool                 `xml:"current,attr"`
	ProtocolVersion uint8                `xml:"protocol_version,attr"`
	Tables          []*MGTEntry          `xml:"table"`
	Descriptors     *tsip.DescriptorList `xml:"-"`
}

// MGTEntry is one table_type/table_type_PID entry in an MGT.
type MGTEntry struct {
	TableType     uint16
	PID           uint16
	VersionNumber uint8 // 5 bits
	NumberBytes   uint32
	Descriptors   *tsip.DescriptorList
}

// DeserializeMGT builds an MGT from a complete tsip.BinaryTable.
func DeserializeMGT(t *tsip.BinaryTable) (*MGT, error) {
	if t.TableID() != TIDMgt {
		return nil, fmt.Errorf("%w: table id %s is not MGT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: MGT payload too short", ErrTableInvalid)
	}

	mgt := &MGT{Version: t.Version(), Current: t.SectionAt(0).IsCurrent(), ProtocolVersion: payload[0]}
	tablesDefined := int(payload[1])<<8 | int(payload[2])
	offset := 3
	for i := 0; i < tablesDefined; i++ {
		if offset+11 > len(payload) {
			return nil, fmt.Errorf("%w: truncated MGT table entry", ErrTableInvalid)
		}
		pidReader := tsip.NewBitReader(payload[offset+2 : offset+4])
		pidReader.Bits(3) // reserved
		versionReader := tsip.NewBitReader(payload[offset+4 : offset+5])
		versionReader.Bits(3) // reserved
		e := &MGTEntry{
			TableType:     uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			PID:           uint16(pidReader.Bits(13)),
			VersionNumber: uint8(versionReader.Bits(5)),
			NumberBytes:   uint32(payload[offset+5])<<24 | uint32(payload[offset+6])<<16 | uint32(payload[offset+7])<<8 | uint32(payload[offset+8]),
		}
		descs, next, err := parseDescriptorListBits10(payload, offset+9)
		if err != nil {
			return nil, err
		}
		e.Descriptors = descs
		offset = next
		mgt.Tables = append(mgt.Tables, e)
		// A split MGT ends each non-final section with its own (empty)
		// global descriptor loop, then the next section's protocol_version
		// and tables_defined: step over both and keep reading entries.
		if i == tablesDefined-1 {
			if _, after, err := parseDescriptorListBits10(payload, offset); err == nil && after+3 <= len(payload) {
				tablesDefined += int(payload[after+1])<<8 | int(payload[after+2])
				offset = after + 3
			}
		}
	}

	descs, _, err := parseDescriptorListBits10(payload, offset)
	if err != nil {
		return nil, err
	}
	mgt.Descriptors = descs
	return mgt, nil
}

// Serialize builds the MGT's sections, splitting on the standard 1024-byte
// cap the way A/65 directs (a single section is overwhelmingly the common
// case: most streams carry well under the ~80 entries that would force a
// split).
func (m *MGT) Serialize() *tsip.BinaryTable {
	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead

	var entries [][]byte
	for _, e := range m.Tables {
		buf := make([]byte, 1024)
		buf[0] = byte(e.TableType >> 8)
		buf[1] = byte(e.TableType)
		pidWriter := tsip.NewBitWriter()
		pidWriter.WriteBits(0x7, 3) // reserved
		pidWriter.WriteBits(uint64(e.PID&0x1fff), 13)
		copy(buf[2:4], pidWriter.Bytes())
		versionWriter := tsip.NewBitWriter()
		versionWriter.WriteBits(0x7, 3) // reserved
		versionWriter.WriteBits(uint64(e.VersionNumber&0x1f), 5)
		buf[4] = versionWriter.Bytes()[0]
		buf[5] = byte(e.NumberBytes >> 24)
		buf[6] = byte(e.NumberBytes >> 16)
		buf[7] = byte(e.NumberBytes >> 8)
		buf[8] = byte(e.NumberBytes)
		n := serializeDescriptorListBits10(buf, 9, e.Descriptors)
		entries = append(entries, buf[:n])
	}

	globalDescBuf := make([]byte, 1024)
	globalDescLen := serializeDescriptorListBits10(globalDescBuf, 0, m.Descriptors)

	type section struct {
		body  []byte
		count int
	}
	var sections []section
	cur := section{}
	for _, e := range entries {
		if 3+len(cur.body)+len(e)+globalDescLen > maxPayload && cur.count > 0 {
			sections = append(sections, cur)
			cur = section{}
		}
		cur.body = append(cur.body, e...)
		cur.count++
	}
	sections = append(sections, cur)

	table := tsip.NewBinaryTable()
	for i, s := range sections {
		payload := make([]byte, 0, maxPayload)
		payload = append(payload, m.ProtocolVersion, byte(s.count>>8), byte(s.count))
		payload = append(payload, s.body...)
		if i == len(sections)-1 {
			payload = append(payload, globalDescBuf[:globalDescLen]...)
		} else {
			payload = append(payload, 0xfc, 0x00)
		}
		sec := tsip.NewLongSection(TIDMgt, false, 0xffff, m.Version, m.Current, uint8(i), uint8(len(sections)-1), payload)
		_ = table.AddSection(sec)
	}
	return table
}

// Display writes a human-readable dump of m to w.
func (m *MGT) Display(w io.Writer) {
	fmt.Fprintf(w, "MGT version=%d tables=%d\n", m.Version, len(m.Tables))
	for _, e := range m.Tables {
		fmt.Fprintf(w, "  table_type=0x%04x pid=0x%04x version=%d bytes=%d\n", e.TableType, e.PID, e.VersionNumber, e.NumberBytes)
	}
}
