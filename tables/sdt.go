package tables

import (
	"fmt"
	"io"

	tsip "github.com/tsflux/tsip"
)

// Running statuses (ETSI EN 300 468 table 6).
const (
	RunningStatusUndefined           uint8 = 0
	RunningStatusNotRunning          uint8 = 1
	RunningStatusStartsInAFewSeconds uint8 = 2
	RunningStatusPausing             uint8 = 3
	RunningStatusRunning             uint8 = 4
	RunningStatusServiceOffAir       uint8 = 5
)

// SDT is the Service Description Table (ETSI EN 300 468 §5.2.3): per
// service_id, the running status and free-CA flags visible to a receiver.
type SDT struct {
	XMLName           struct{}      `xml:"SDT"`
	TransportStreamID uint16        `xml:"transport_stream_id,attr"`
	OriginalNetworkID uint16        `xml:"original_network_id,attr"`
	Version           uint8         `xml:"version,attr"`
	Current           bool          `xml:"current,attr"`
	Actual            bool          `xml:"actual,attr"` // true for TID_SDT_ACTUAL, false for TID_SDT_OTHER
	Services          []*SDTService `xml:"service"`
}

// SDTService is one service_id entry in an SDT.
type SDTService struct {
	ServiceID           uint16               `xml:"service_id,attr"`
	EITSchedule         bool                 `xml:"eit_schedule,attr"`
	EITPresentFollowing bool                 `xml:"eit_present_following,attr"`
	RunningStatus       uint8                `xml:"running_status,attr"`
	FreeCAMode          bool                 `xml:"free_ca_mode,attr"`
	Descriptors         *tsip.DescriptorList `xml:"-"`
}

// DeserializeSDT builds an SDT from a complete tsip.BinaryTable.
func DeserializeSDT(t *tsip.BinaryTable) (*SDT, error) {
	actual := t.TableID() == TIDSdtActual
	if !actual && t.TableID() != TIDSdtOther {
		return nil, fmt.Errorf("%w: table id %s is not SDT", ErrTableInvalid, hexByte(t.TableID()))
	}
	_, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	// Every section repeats original_network_id + reserved_future_use ahead
	// of its own service loop; keep only the first section's copy.
	payload := append([]byte(nil), t.SectionAt(0).Payload()...)
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: SDT payload too short", ErrTableInvalid)
	}
	for i := 1; i <= int(t.LastSectionNumber()); i++ {
		p := t.SectionAt(i).Payload()
		if len(p) < 3 {
			return nil, fmt.Errorf("%w: SDT payload too short", ErrTableInvalid)
		}
		payload = append(payload, p[3:]...)
	}

	sdt := &SDT{
		TransportStreamID: t.TableIDExtension(),
		OriginalNetworkID: uint16(payload[0])<<8 | uint16(payload[1]),
		Version:           t.Version(),
		Current:           t.SectionAt(0).IsCurrent(),
		Actual:            actual,
	}

	offset := 3 // original_network_id(16) + reserved_future_use(8)
	for offset < len(payload) {
		if offset+5 > len(payload) {
			return nil, fmt.Errorf("%w: truncated SDT service entry", ErrTableInvalid)
		}
		fr := tsip.NewBitReader(payload[offset+2 : offset+3])
		runningStatus := uint8(fr.Bits(3))
		freeCAMode := fr.Bool()
		fr.Bits(2) // reserved_future_use
		eitSchedule := fr.Bool()
		eitPresentFollowing := fr.Bool()
		s := &SDTService{
			ServiceID:           uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			EITSchedule:         eitSchedule,
			EITPresentFollowing: eitPresentFollowing,
			RunningStatus:       runningStatus,
			FreeCAMode:          freeCAMode,
		}
		descs, next, err := parseDescriptorList(payload, offset+3, t.TableID())
		if err != nil {
			return nil, err
		}
		s.Descriptors = descs
		offset = next
		sdt.Services = append(sdt.Services, s)
	}
	return sdt, nil
}

// Serialize splits the SDT across as many sections as needed.
func (s *SDT) Serialize() *tsip.BinaryTable {
	tid := TIDSdtOther
	if s.Actual {
		tid = TIDSdtActual
	}

	var entries [][]byte
	for _, svc := range s.Services {
		buf := make([]byte, 65536)
		buf[0] = byte(svc.ServiceID >> 8)
		buf[1] = byte(svc.ServiceID)
		fw := tsip.NewBitWriter()
		fw.WriteBits(uint64(svc.RunningStatus&0x7), 3)
		fw.WriteBool(svc.FreeCAMode)
		fw.WriteBits(0x0, 2) // reserved_future_use
		fw.WriteBool(svc.EITSchedule)
		fw.WriteBool(svc.EITPresentFollowing)
		buf[2] = fw.Bytes()[0]
		n := serializeDescriptorList(buf, 3, svc.Descriptors)
		entries = append(entries, buf[:n])
	}

	header := []byte{byte(s.OriginalNetworkID >> 8), byte(s.OriginalNetworkID), 0xff}
	return packIntoSections(tid, s.TransportStreamID, s.Version, s.Current, header, entries)
}

func boolBit(b bool, mask byte) byte {
	if b {
		return mask
	}
	return 0
}

// packIntoSections is the common splitter for long tables whose payload
// is a fixed header followed by a sequence of independently-sized entries
// (SDT, EIT, DCT, SGT), repeating the header in every section and
// respecting the standard 1024-byte section cap.
func packIntoSections(tid uint8, tidExt uint16, version uint8, current bool, header []byte, entries [][]byte) *tsip.BinaryTable {
	const maxPayload = tsip.MaxSectionSizeStandard - longSectionOverhead

	table := tsip.NewBinaryTable()
	var sections [][]byte
	cur := append([]byte(nil), header...)
	for _, e := range entries {
		if len(cur)+len(e) > maxPayload && len(cur) > len(header) {
			sections = append(sections, cur)
			cur = append([]byte(nil), header...)
		}
		cur = append(cur, e...)
	}
	sections = append(sections, cur)

	for i, payload := range sections {
		sec := tsip.NewLongSection(tid, false, tidExt, version, current, uint8(i), uint8(len(sections)-1), payload)
		_ = table.AddSection(sec)
	}
	return table
}

// Display writes a human-readable dump of s to w.
func (s *SDT) Display(w io.Writer) {
	fmt.Fprintf(w, "SDT ts_id=%d onid=%d version=%d actual=%t\n", s.TransportStreamID, s.OriginalNetworkID, s.Version, s.Actual)
	for _, svc := range s.Services {
		fmt.Fprintf(w, "  service_id=%d running_status=%d free_ca=%t\n", svc.ServiceID, svc.RunningStatus, svc.FreeCAMode)
	}
}
