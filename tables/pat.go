package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// PAT is the Program Association Table (ISO/IEC 13818-1 §2.4.4.3): the
// PID 0x0000 map from program_number to the PMT PID that describes it
// (program_number 0 instead names the NIT PID).
type PAT struct {
	XMLName           struct{}      `xml:"PAT"`
	TransportStreamID uint16        `xml:"transport_stream_id,attr"`
	Version           uint8         `xml:"version,attr"`
	Current           bool          `xml:"current,attr"`
	NITPID            uint16        `xml:"nit_pid,attr"`
	Programs          []*PATProgram `xml:"program"`
}

// PATProgram is one program_number/program_map_PID pair.
type PATProgram struct {
	ProgramNumber uint16 `xml:"number,attr"`
	ProgramMapPID uint16 `xml:"pmt_pid,attr"`
}

const defaultNITPID uint16 = 0x0010

// DeserializePAT builds a PAT from a complete tsip.BinaryTable.
func DeserializePAT(t *tsip.BinaryTable) (*PAT, error) {
	if t.TableID() != TIDPat {
		return nil, fmt.Errorf("%w: table id %s is not PAT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: PAT payload length %d is not a multiple of 4", ErrTableInvalid, len(payload))
	}

	pat := &PAT{
		TransportStreamID: t.TableIDExtension(),
		Version:           t.Version(),
		Current:           t.SectionAt(0).IsCurrent(),
		NITPID:            defaultNITPID,
	}
	for off := 0; off < len(payload); off += 4 {
		programNumber := uint16(payload[off])<<8 | uint16(payload[off+1])
		pr := tsip.NewBitReader(payload[off+2 : off+4])
		pr.Bits(3) // reserved
		pid := uint16(pr.Bits(13))
		if programNumber == 0 {
			pat.NITPID = pid
			continue
		}
		pat.Programs = append(pat.Programs, &PATProgram{ProgramNumber: programNumber, ProgramMapPID: pid})
	}
	return pat, nil
}

// Serialize splits the PAT across as many sections as needed to respect
// the 1024-byte standard section size cap (spec §4.7).
func (p *PAT) Serialize() *tsip.BinaryTable {
	entries := make([][4]byte, 0, len(p.Programs)+1)
	if p.NITPID != 0 {
		entries = append(entries, packPATEntry(0, p.NITPID))
	}
	for _, prog := range p.Programs {
		entries = append(entries, packPATEntry(prog.ProgramNumber, prog.ProgramMapPID))
	}

	const maxEntriesPerSection = (tsip.MaxSectionSizeStandard - longSectionOverhead) / 4

	table := tsip.NewBinaryTable()
	total := len(entries)
	sectionCount := 1
	if total > 0 {
		sectionCount = (total + maxEntriesPerSection - 1) / maxEntriesPerSection
	}
	for i := 0; i < sectionCount; i++ {
		start := i * maxEntriesPerSection
		end := start + maxEntriesPerSection
		if end > total {
			end = total
		}
		payload := make([]byte, 0, (end-start)*4)
		for _, e := range entries[start:end] {
			payload = append(payload, e[:]...)
		}
		s := tsip.NewLongSection(TIDPat, false, p.TransportStreamID, p.Version, p.Current, uint8(i), uint8(sectionCount-1), payload)
		_ = table.AddSection(s)
	}
	return table
}

func packPATEntry(programNumber, pid uint16) [4]byte {
	w := tsip.NewBitWriter()
	w.WriteBits(0x7, 3) // reserved
	w.WriteBits(uint64(pid), 13)
	pidBytes := w.Bytes()
	return [4]byte{
		byte(programNumber >> 8), byte(programNumber),
		pidBytes[0], pidBytes[1],
	}
}

// longSectionOverhead is the bytes every long section spends on its
// syntax header (5, after the 3-byte short header) and trailing CRC32 (4).
const longSectionOverhead = 3 + 5 + 4

// Display writes a human-readable dump of p to w (spec §4.7's display()).
func (p *PAT) Display(w io.Writer) {
	fmt.Fprintf(w, "PAT transport_stream_id=%d version=%d current=%t nit_pid=%#x\n", p.TransportStreamID, p.Version, p.Current, p.NITPID)
	for _, prog := range p.Programs {
		fmt.Fprintf(w, "  program %d -> PMT PID %#x\n", prog.ProgramNumber, prog.ProgramMapPID)
	}
}
