package tables

import (
	"fmt"
	"io"

	"github.com/tsflux/tsip/lcn"

	tsip "github.com/tsflux/tsip"
)

// SGT is SES Astra's private Service Guide Table, broadcast on its own
// PID to carry logical channel numbers outside the standard DVB LCN
// descriptors. Only its consumer is visible in the filtered tsduck
// reference (TSScanner/TSAnalyzer calling `_lcn.addFromSGT(sgt, ts_id)`
// against a flat per-service entry list) — not its own header/source — so
// the wire shape below is a flat loop of fixed 4-byte entries following
// this package's general private-table convention rather than a bit-for-
// bit port; see lcn.AddFromSGT, the consumer this feeds.
type SGT struct {
	XMLName struct{}    `xml:"SGT"`
	Version uint8       `xml:"version,attr"`
	Current bool        `xml:"current,attr"`
	Entries []*SGTEntry `xml:"entry"`
}

// SGTEntry is one service's logical channel assignment in an SGT.
type SGTEntry struct {
	ServiceID uint16 `xml:"service_id,attr"`
	Channel   uint16 `xml:"channel,attr"`
}

// DeserializeSGT builds an SGT from a complete tsip.BinaryTable.
func DeserializeSGT(t *tsip.BinaryTable) (*SGT, error) {
	if t.TableID() != TIDSgt {
		return nil, fmt.Errorf("%w: table id %s is not SGT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	sgt := &SGT{Version: t.Version(), Current: t.SectionAt(0).IsCurrent()}
	for offset := 0; offset+4 <= len(payload); offset += 4 {
		sgt.Entries = append(sgt.Entries, &SGTEntry{
			ServiceID: uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			Channel:   uint16(payload[offset+2])<<8 | uint16(payload[offset+3]),
		})
	}
	return sgt, nil
}

// Serialize splits the SGT across as many sections as needed.
func (s *SGT) Serialize() *tsip.BinaryTable {
	var entries [][]byte
	for _, e := range s.Entries {
		entries = append(entries, []byte{
			byte(e.ServiceID >> 8), byte(e.ServiceID),
			byte(e.Channel >> 8), byte(e.Channel),
		})
	}
	return packIntoSections(TIDSgt, 0x0000, s.Version, s.Current, nil, entries)
}

// ToLCNEntries adapts s's entries for lcn.Map.AddFromSGT, which additionally
// wants the transport_stream_id/original_network_id the SGT was received
// on (the real table names these once per call, not per entry, mirroring
// tsTSAnalyzer.cpp's `_lcn.addFromSGT(sgt, ts_id)`).
func (s *SGT) ToLCNEntries() []lcn.AstraSGTEntry {
	out := make([]lcn.AstraSGTEntry, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = lcn.AstraSGTEntry{ServiceID: e.ServiceID, Channel: e.Channel}
	}
	return out
}

// Display writes a human-readable dump of s to w.
func (s *SGT) Display(w io.Writer) {
	fmt.Fprintf(w, "SGT version=%d entries=%d\n", s.Version, len(s.Entries))
	for _, e := range s.Entries {
		fmt.Fprintf(w, "  service_id=%d channel=%d\n", e.ServiceID, e.Channel)
	}
}
