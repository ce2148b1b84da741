package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// NIT is the Network Information Table (ETSI EN 300 468 §5.2.1): network-
// wide descriptors plus, per transport stream, the descriptors that locate
// and describe it (delivery system, LCN, service list, ...).
type NIT struct {
	XMLName     struct{}             `xml:"NIT"`
	NetworkID   uint16               `xml:"network_id,attr"`
	Version     uint8                `xml:"version,attr"`
	Current     bool                 `xml:"current,attr"`
	Actual      bool                 `xml:"actual,attr"` // true for TID_NIT_ACTUAL, false for TID_NIT_OTHER
	Descriptors *tsip.DescriptorList `xml:"-"`
	Streams     []*NITStream         `xml:"transport_stream"`
}

// NITStream is one transport_stream_id/original_network_id entry in a
// NIT's transport stream loop.
type NITStream struct {
	TransportStreamID uint16               `xml:"transport_stream_id,attr"`
	OriginalNetworkID uint16               `xml:"original_network_id,attr"`
	Descriptors       *tsip.DescriptorList `xml:"-"`
}

// DeserializeNIT builds a NIT from a complete tsip.BinaryTable.
func DeserializeNIT(t *tsip.BinaryTable) (*NIT, error) {
	actual := t.TableID() == TIDNitActual
	if !actual && t.TableID() != TIDNitOther {
		return nil, fmt.Errorf("%w: table id %s is not NIT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}

	nit := &NIT{NetworkID: t.TableIDExtension(), Version: t.Version(), Current: t.SectionAt(0).IsCurrent(), Actual: actual}

	descs, offset, err := parseDescriptorList(payload, 0, t.TableID())
	if err != nil {
		return nil, err
	}
	nit.Descriptors = descs

	if offset+2 > len(payload) {
		return nil, fmt.Errorf("%w: truncated NIT transport stream loop length", ErrTableInvalid)
	}
	r := tsip.NewBitReader(payload[offset : offset+2])
	r.Bits(4) // reserved
	loopLength := int(r.Bits(12))
	offset += 2
	end := offset + loopLength
	if end > len(payload) {
		return nil, fmt.Errorf("%w: NIT transport stream loop length %d exceeds payload", ErrTableInvalid, loopLength)
	}

	for offset < end {
		if offset+4 > end {
			return nil, fmt.Errorf("%w: truncated NIT transport stream entry", ErrTableInvalid)
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

// Serialize splits the NIT across as many sections as needed. The network
// descriptor loop is repeated verbatim on every section generated (a
// single-section NIT is by far the common case in practice; a header that
// must itself be split across sections is out of scope here, matching the
// teacher's own PAT/PMT muxer which never splits a descriptor loop mid-list).
func (n *NIT) Serialize() *tsip.BinaryTable {
	tid := TIDNitOther
	if n.Actual {
		tid = TIDNitActual
	}

	networkDescBuf := make([]byte, 65536)
	networkDescLen := serializeDescriptorList(networkDescBuf, 0, n.Descriptors)

	var entries [][]byte
	for _, ts := range n.Streams {
		buf := make([]byte, 65536)
		buf[0] = byte(ts.TransportStreamID >> 8)
		buf[1] = byte(ts.TransportStreamID)
		buf[2] = byte(ts.OriginalNetworkID >> 8)
		buf[3] = byte(ts.OriginalNetworkID)
		written := serializeDescriptorList(buf, 4, ts.Descriptors)
		entries = append(entries, buf[:written])
	}

	return packIntoSectionsWithTSLoop(tid, n.NetworkID, n.Version, n.Current, networkDescBuf[:networkDescLen], entries)
}

// packIntoSectionsWithTSLoop handles the NIT/BAT payload shape: a network/
// bouquet descriptor loop, then a length-prefixed transport_stream loop,
// split across sections on the 1024-byte standard cap.
func packIntoSectionsWithTSLoop(tid uint8, tidExt uint16, version uint8, current bool, networkDescs []byte, entries [][]byte) *tsip.BinaryTable {
	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead

	buildSection := func(body []byte) []byte {
		out := make([]byte, 0, len(networkDescs)+2+len(body))
		out = append(out, networkDescs...)
		out = append(out, byte(len(body)>>8)&0x0f|0xf0, byte(len(body)))
		out = append(out, body...)
		return out
	}

	table := tsip.NewBinaryTable()
	var bodies [][]byte
	var cur []byte
	for _, e := range entries {
		if len(networkDescs)+2+len(cur)+len(e) > maxPayload && len(cur) > 0 {
			bodies = append(bodies, cur)
			cur = nil
		}
		cur = append(cur, e...)
	}
	bodies = append(bodies, cur)

	for i, body := range bodies {
		sec := tsip.NewLongSection(tid, false, tidExt, version, current, uint8(i), uint8(len(bodies)-1), buildSection(body))
		_ = table.AddSection(sec)
	}
	return table
}

// Display writes a human-readable dump of n to w.
func (n *NIT) Display(w io.Writer) {
	fmt.Fprintf(w, "NIT network_id=%d version=%d actual=%t streams=%d\n", n.NetworkID, n.Version, n.Actual, len(n.Streams))
	for _, ts := range n.Streams {
		fmt.Fprintf(w, "  ts_id=%d onid=%d descriptors=%d\n", ts.TransportStreamID, ts.OriginalNetworkID, ts.Descriptors.Count())
	}
}
