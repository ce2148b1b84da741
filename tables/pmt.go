package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// PIDNone marks PCRPID as "no PCR in this program" (ISO/IEC 13818-1
// §2.4.4.8: PCR_PID = 0x1FFF).
const PIDNone uint16 = 0x1fff

// PMT is the Program Map Table (ISO/IEC 13818-1 §2.4.4.8): one per
// program_number, listing the program's elementary streams.
type PMT struct {
	XMLName           struct{}             `xml:"PMT"`
	ProgramNumber     uint16               `xml:"program_number,attr"`
	Version           uint8                `xml:"version,attr"`
	Current           bool                 `xml:"current,attr"`
	PCRPID            uint16               `xml:"pcr_pid,attr"`
	Descriptors       *tsip.DescriptorList `xml:"-"`
	ElementaryStreams []*PMTStream         `xml:"stream"`
}

// PMTStream is one elementary_PID entry in a PMT's stream loop.
type PMTStream struct {
	StreamType  uint8                `xml:"type,attr"`
	PID         uint16               `xml:"pid,attr"`
	Descriptors *tsip.DescriptorList `xml:"-"`
}

// Stream types relevant to audio/video/subtitle classification (ISO/IEC
// 13818-1 table 2-34 and ETSI EN 300 468 annex A).
const (
	StreamTypeMPEG2Video  uint8 = 0x02
	StreamTypeMPEG1Audio  uint8 = 0x03
	StreamTypeMPEG2Audio  uint8 = 0x04
	StreamTypePrivateSect uint8 = 0x05
	StreamTypePESPrivate  uint8 = 0x06
	StreamTypeAACAudio    uint8 = 0x0f
	StreamTypeAVCVideo    uint8 = 0x1b
	StreamTypeHEVCVideo   uint8 = 0x24
	StreamTypeAC3Audio    uint8 = 0x81 // ATSC private, registered via registration_descriptor in practice
)

// DeserializePMT builds a PMT from a complete tsip.BinaryTable.
func DeserializePMT(t *tsip.BinaryTable) (*PMT, error) {
	if t.TableID() != TIDPmt {
		return nil, fmt.Errorf("%w: table id %s is not PMT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := singleSectionPayload(t)
	if err != nil {
		return nil, fmt.Errorf("%w: a PMT is always exactly one section", err)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: PMT payload too short", ErrTableInvalid)
	}

	pcrReader := tsip.NewBitReader(payload[0:2])
	pcrReader.Bits(3) // reserved
	pmt := &PMT{
		ProgramNumber: t.TableIDExtension(),
		Version:       t.Version(),
		Current:       t.SectionAt(0).IsCurrent(),
		PCRPID:        uint16(pcrReader.Bits(13)),
	}

	descs, offset, err := parseDescriptorList(payload, 2, TIDPmt)
	if err != nil {
		return nil, err
	}
	pmt.Descriptors = descs

	for offset < len(payload) {
		if offset+5 > len(payload) {
			return nil, fmt.Errorf("%w: truncated PMT stream entry", ErrTableInvalid)
		}
		streamType := payload[offset]
		pidReader := tsip.NewBitReader(payload[offset+1 : offset+3])
		pidReader.Bits(3) // reserved
		pid := uint16(pidReader.Bits(13))
		esDescs, next, err := parseDescriptorList(payload, offset+3, TIDPmt)
		if err != nil {
			return nil, err
		}
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTStream{StreamType: streamType, PID: pid, Descriptors: esDescs})
		offset = next
	}
	return pmt, nil
}

// Serialize builds the PMT's single section. A PMT that would exceed the
// 1024-byte section cap after all streams are included is invalid per
// spec §4.7 (PMT is defined to always be one section); Serialize returns
// the oversize section as-is rather than silently truncating streams, so
// callers can detect the violation from Section.Size().
func (p *PMT) Serialize() *tsip.BinaryTable {
	buf := make([]byte, 65536)
	pcrWriter := tsip.NewBitWriter()
	pcrWriter.WriteBits(0x7, 3) // reserved
	pcrWriter.WriteBits(uint64(p.PCRPID), 13)
	copy(buf[0:2], pcrWriter.Bytes())
	offset := serializeDescriptorList(buf, 2, p.Descriptors)

	for _, es := range p.ElementaryStreams {
		buf[offset] = es.StreamType
		pidWriter := tsip.NewBitWriter()
		pidWriter.WriteBits(0x7, 3) // reserved
		pidWriter.WriteBits(uint64(es.PID), 13)
		copy(buf[offset+1:offset+3], pidWriter.Bytes())
		offset = serializeDescriptorList(buf, offset+3, es.Descriptors)
	}

	table := tsip.NewBinaryTable()
	s := tsip.NewLongSection(TIDPmt, false, p.ProgramNumber, p.Version, p.Current, 0, 0, buf[:offset])
	_ = table.AddSection(s)
	return table
}

// Display writes a human-readable dump of p to w.
func (p *PMT) Display(w io.Writer) {
	fmt.Fprintf(w, "PMT program_number=%d version=%d current=%t pcr_pid=%#x\n", p.ProgramNumber, p.Version, p.Current, p.PCRPID)
	for _, es := range p.ElementaryStreams {
		fmt.Fprintf(w, "  stream_type=%s pid=%#x descriptors=%d\n", hexByte(es.StreamType), es.PID, es.Descriptors.Count())
	}
}
