package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// DCT is the ISDB Download Control Table (ARIB STD-B16): per transport
// stream, the PIDs carrying the data-carousel download service (DLT) and
// its ECM stream, consumed by analyzer-style tooling to follow software
// download PIDs. Its exact wire layout isn't in the filtered tsduck
// reference used for this package (only its consumers, exposing
// `streams[].transport_stream_id/DL_PID/ECM_PID`, survived filtering);
// the per-stream loop below follows the general ARIB/DVB length-prefixed
// descriptor-loop convention used throughout this package.
type DCT struct {
	XMLName     struct{}             `xml:"DCT"`
	Version     uint8                `xml:"version,attr"`
	Current     bool                 `xml:"current,attr"`
	Streams     []*DCTStream         `xml:"stream"`
	Descriptors *tsip.DescriptorList `xml:"-"`
}

// DCTStream is one transport_stream_id entry in a DCT.
type DCTStream struct {
	TransportStreamID uint16
	DLPID             uint16 // 13 bits, PID_NULL (0x1fff) if absent
	ECMPID            uint16 // 13 bits, PID_NULL if absent
	Descriptors       *tsip.DescriptorList
}

// DeserializeDCT builds a DCT from a complete tsip.BinaryTable.
func DeserializeDCT(t *tsip.BinaryTable) (*DCT, error) {
	if t.TableID() != TIDDcct {
		return nil, fmt.Errorf("%w: table id %s is not DCT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}

	dct := &DCT{Version: t.Version(), Current: t.SectionAt(0).IsCurrent()}
	offset := 0
	for offset+6 <= len(payload) {
		dlReader := tsip.NewBitReader(payload[offset+2 : offset+4])
		dlReader.Bits(3) // reserved
		ecmReader := tsip.NewBitReader(payload[offset+4 : offset+6])
		ecmReader.Bits(3) // reserved
		str := &DCTStream{
			TransportStreamID: uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			DLPID:             uint16(dlReader.Bits(13)),
			ECMPID:            uint16(ecmReader.Bits(13)),
		}
		descs, next, err := parseDescriptorList(payload, offset+6, TIDDcct)
		if err != nil {
			return nil, err
		}
		str.Descriptors = descs
		offset = next
		dct.Streams = append(dct.Streams, str)
	}
	return dct, nil
}

// Serialize splits the DCT across as many sections as needed.
func (d *DCT) Serialize() *tsip.BinaryTable {
	var entries [][]byte
	for _, str := range d.Streams {
		buf := make([]byte, 65536)
		buf[0] = byte(str.TransportStreamID >> 8)
		buf[1] = byte(str.TransportStreamID)
		dlWriter := tsip.NewBitWriter()
		dlWriter.WriteBits(0x7, 3) // reserved
		dlWriter.WriteBits(uint64(str.DLPID), 13)
		copy(buf[2:4], dlWriter.Bytes())
		ecmWriter := tsip.NewBitWriter()
		ecmWriter.WriteBits(0x7, 3) // reserved
		ecmWriter.WriteBits(uint64(str.ECMPID), 13)
		copy(buf[4:6], ecmWriter.Bytes())
		n := serializeDescriptorList(buf, 6, str.Descriptors)
		entries = append(entries, buf[:n])
	}
	return packIntoSections(TIDDcct, 0x0000, d.Version, d.Current, nil, entries)
}

// Display writes a human-readable dump of d to w.
func (d *DCT) Display(w io.Writer) {
	fmt.Fprintf(w, "DCT version=%d streams=%d\n", d.Version, len(d.Streams))
	for _, str := range d.Streams {
		fmt.Fprintf(w, "  ts_id=%d dl_pid=0x%04x ecm_pid=0x%04x\n", str.TransportStreamID, str.DLPID, str.ECMPID)
	}
}
