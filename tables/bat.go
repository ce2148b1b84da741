package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// BAT is the Bouquet Association Table (ETSI EN 300 468 §5.2.2): wire-
// shape identical to NIT's (a descriptor loop, then a transport_stream
// loop) but keyed by bouquet_id instead of network_id, always table id
// 0x4A (there is no "actual"/"other" split for BAT).
type BAT struct {
	XMLName     struct{}             `xml:"BAT"`
	BouquetID   uint16               `xml:"bouquet_id,attr"`
	Version     uint8                `xml:"version,attr"`
	Current     bool                 `xml:"current,attr"`
	Descriptors *tsip.DescriptorList `xml:"-"`
	Streams     []*NITStream         `xml:"transport_stream"`
}

// DeserializeBAT builds a BAT from a complete tsip.BinaryTable.
func DeserializeBAT(t *tsip.BinaryTable) (*BAT, error) {
	if t.TableID() != TIDBat {
		return nil, fmt.Errorf("%w: table id %s is not BAT", ErrTableInvalid, hexByte(t.TableID()))
	}
	// BAT shares NIT's exact wire shape; decode it as a NIT-shaped payload
	// and relabel the result.
	nit, err := decodeNITShape(t, TIDBat)
	if err != nil {
		return nil, err
	}
	return &BAT{BouquetID: t.TableIDExtension(), Version: nit.Version, Current: nit.Current, Descriptors: nit.Descriptors, Streams: nit.Streams}, nil
}

// decodeNITShape decodes a NIT-shaped payload from a table whose table id
// isn't TID_NIT_ACTUAL/TID_NIT_OTHER (i.e. a BAT). It is a copy of
// DeserializeNIT's decoding, checking expectTID instead of the NIT ids.
func decodeNITShape(t *tsip.BinaryTable, expectTID uint8) (*NIT, error) {
	if t.TableID() != expectTID {
		return nil, fmt.Errorf("%w: table id %s unexpected", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}

	nit := &NIT{NetworkID: t.TableIDExtension(), Version: t.Version(), Current: t.SectionAt(0).IsCurrent()}

	descs, offset, err := parseDescriptorList(payload, 0, t.TableID())
	if err != nil {
		return nil, err
	}
	nit.Descriptors = descs

	if offset+2 > len(payload) {
		return nil, fmt.Errorf("%w: truncated transport stream loop length", ErrTableInvalid)
	}
	r := tsip.NewBitReader(payload[offset : offset+2])
	r.Bits(4) // reserved
	loopLength := int(r.Bits(12))
	offset += 2
	end := offset + loopLength
	if end > len(payload) {
		return nil, fmt.Errorf("%w: transport stream loop length %d exceeds payload", ErrTableInvalid, loopLength)
	}

	for offset < end {
		if offset+4 > end {
			return nil, fmt.Errorf("%w: truncated transport stream entry", ErrTableInvalid)
		}
		ts := &NITStream{
			TransportStreamID: uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			OriginalNetworkID: uint16(payload[offset+2])<<8 | uint16(payload[offset+3]),
		}
		descs, next, err := parseDescriptorList(payload, offset+4, t.TableID())
		if err != nil {
			return nil, err
		}
		ts.Descriptors = descs
		offset = next
		nit.Streams = append(nit.Streams, ts)
	}
	return nit, nil
}

// Serialize splits the BAT across as many sections as needed, reusing
// NIT's section-packing helper (the two tables share a wire shape).
func (b *BAT) Serialize() *tsip.BinaryTable {
	descBuf := make([]byte, 65536)
	descLen := serializeDescriptorList(descBuf, 0, b.Descriptors)

	var entries [][]byte
	for _, ts := range b.Streams {
		buf := make([]byte, 65536)
		buf[0] = byte(ts.TransportStreamID >> 8)
		buf[1] = byte(ts.TransportStreamID)
		buf[2] = byte(ts.OriginalNetworkID >> 8)
		buf[3] = byte(ts.OriginalNetworkID)
		written := serializeDescriptorList(buf, 4, ts.Descriptors)
		entries = append(entries, buf[:written])
	}

	return packIntoSectionsWithTSLoop(TIDBat, b.BouquetID, b.Version, b.Current, descBuf[:descLen], entries)
}

// Display writes a human-readable dump of b to w.
func (b *BAT) Display(w io.Writer) {
	fmt.Fprintf(w, "BAT bouquet_id=%d version=%d streams=%d\n", b.BouquetID, b.Version, len(b.Streams))
}
