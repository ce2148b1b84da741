package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// CAT is the Conditional Access Table (ISO/IEC 13818-1 §2.4.4.6): carries
// only EMM-locating CA_descriptors on PID 0x0001, no table-specific body.
type CAT struct {
	XMLName     struct{}             `xml:"CAT"`
	Version     uint8                `xml:"version,attr"`
	Current     bool                 `xml:"current,attr"`
	Descriptors *tsip.DescriptorList `xml:"-"`
}

// DeserializeCAT builds a CAT from a complete tsip.BinaryTable.
func DeserializeCAT(t *tsip.BinaryTable) (*CAT, error) {
	if t.TableID() != TIDCat {
		return nil, fmt.Errorf("%w: table id %s is not CAT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	list, _, err := parseDescriptorList(prefixLengthField(payload), 0, TIDCat)
	if err != nil {
		return nil, err
	}
	return &CAT{Version: t.Version(), Current: t.SectionAt(0).IsCurrent(), Descriptors: list}, nil
}

// prefixLengthField re-adds the 4-reserved-bit + 12-bit-length prefix
// parseDescriptorList expects, for payloads (like CAT's) that are nothing
// but a bare descriptor loop with no length prefix of their own in the
// section body — the "length" here is simply the whole remaining payload.
func prefixLengthField(payload []byte) []byte {
	n := len(payload)
	out := make([]byte, 2+n)
	w := tsip.NewBitWriter()
	w.WriteBits(0xf, 4) // reserved
	w.WriteBits(uint64(n), 12)
	copy(out[0:2], w.Bytes())
	copy(out[2:], payload)
	return out
}

// Serialize splits the CAT across as many sections as needed to respect
// the 1024-byte standard section size cap.
func (c *CAT) Serialize() *tsip.BinaryTable {
	table := tsip.NewBinaryTable()
	buf := make([]byte, 4096)
	n := serializeDescriptorListBare(buf, c.Descriptors)
	payload := buf[:n]

	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead
	sectionCount := 1
	if len(payload) > maxPayload {
		sectionCount = (len(payload) + maxPayload - 1) / maxPayload
	}
	for i := 0; i < sectionCount; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		s := tsip.NewLongSection(TIDCat, false, 0xffff, c.Version, c.Current, uint8(i), uint8(sectionCount-1), payload[start:end])
		_ = table.AddSection(s)
	}
	return table
}

// serializeDescriptorListBare writes list's descriptors back-to-back with
// no length prefix, the inverse of prefixLengthField's bare-loop reading.
func serializeDescriptorListBare(buf []byte, list *tsip.DescriptorList) int {
	if list == nil {
		return 0
	}
	return list.Serialize(buf, 0)
}

// Display writes a human-readable dump of c to w.
func (c *CAT) Display(w io.Writer) {
	fmt.Fprintf(w, "CAT version=%d current=%t descriptors=%d\n", c.Version, c.Current, c.Descriptors.Count())
}
