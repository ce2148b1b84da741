package tables

import (
	"fmt"
	"io"
	"time"

	tsip "github.com/tsflux/tsip"
)

// EIT is the Event Information Table (ETSI EN 300 468 §5.2.4): per
// service_id, a list of scheduled or present/following events. TableID
// distinguishes present/following from schedule, and actual from other,
// per spec.md's table id ranges (0x4E/0x4F present/following,
// 0x50-0x5F/0x60-0x6F schedule).
type EIT struct {
	XMLName                  struct{}    `xml:"EIT"`
	ServiceID                uint16      `xml:"service_id,attr"`
	TransportStreamID        uint16      `xml:"transport_stream_id,attr"`
	OriginalNetworkID        uint16      `xml:"original_network_id,attr"`
	TableID                  uint8       `xml:"table_id,attr"`
	Version                  uint8       `xml:"version,attr"`
	Current                  bool        `xml:"current,attr"`
	SegmentLastSectionNumber uint8       `xml:"segment_last_section_number,attr"`
	LastTableID              uint8       `xml:"last_table_id,attr"`
	Events                   []*EITEvent `xml:"event"`
}

// EITEvent is one event_id entry in an EIT.
type EITEvent struct {
	EventID       uint16               `xml:"event_id,attr"`
	StartTime     time.Time            `xml:"start_time,attr"`
	Duration      time.Duration        `xml:"-"`
	RunningStatus uint8                `xml:"running_status,attr"`
	FreeCAMode    bool                 `xml:"free_ca_mode,attr"`
	Descriptors   *tsip.DescriptorList `xml:"-"`
}

// IsPresentFollowing reports whether tid is a present/following EIT table
// id (as opposed to a schedule one).
func IsPresentFollowing(tid uint8) bool { return tid == TIDEitPFActual || tid == TIDEitPFOther }

// IsSchedule reports whether tid falls in either EIT schedule range
// (0x50-0x5F actual, 0x60-0x6F other).
func IsSchedule(tid uint8) bool { return tid >= 0x50 && tid <= 0x6f }

// IsActual reports whether tid is an "actual TS" EIT variant (present/
// following or schedule, in the 0x4E/0x50-0x5F range) as opposed to
// "other TS" (0x4F/0x60-0x6F).
func IsActual(tid uint8) bool { return tid == TIDEitPFActual || (tid >= 0x50 && tid <= 0x5f) }

// DeserializeEIT builds an EIT from a complete tsip.BinaryTable.
func DeserializeEIT(t *tsip.BinaryTable) (*EIT, error) {
	tid := t.TableID()
	if !IsPresentFollowing(tid) && !IsSchedule(tid) {
		return nil, fmt.Errorf("%w: table id %s is not an EIT variant", ErrTableInvalid, hexByte(tid))
	}
	_, err := concatenatedPayload(t)
	if err != nil {
		return nil, err
	}
	// Every section repeats the 6-byte header (transport_stream_id through
	// last_table_id) ahead of its own events; keep only the first copy.
	payload := append([]byte(nil), t.SectionAt(0).Payload()...)
	if len(payload) < 6 {
		return nil, fmt.Errorf("%w: EIT payload too short", ErrTableInvalid)
	}
	for i := 1; i <= int(t.LastSectionNumber()); i++ {
		p := t.SectionAt(i).Payload()
		if len(p) < 6 {
			return nil, fmt.Errorf("%w: EIT payload too short", ErrTableInvalid)
		}
		payload = append(payload, p[6:]...)
	}

	eit := &EIT{
		ServiceID:                t.TableIDExtension(),
		TableID:                  tid,
		Version:                  t.Version(),
		Current:                  t.SectionAt(0).IsCurrent(),
		TransportStreamID:        uint16(payload[0])<<8 | uint16(payload[1]),
		OriginalNetworkID:        uint16(payload[2])<<8 | uint16(payload[3]),
		SegmentLastSectionNumber: payload[4],
		LastTableID:              payload[5],
	}

	offset := 6
	for offset < len(payload) {
		if offset+12 > len(payload) {
			return nil, fmt.Errorf("%w: truncated EIT event entry", ErrTableInvalid)
		}
		fr := tsip.NewBitReader(payload[offset+10 : offset+11])
		runningStatus := uint8(fr.Bits(3))
		freeCAMode := fr.Bool()
		ev := &EITEvent{
			EventID:       uint16(payload[offset])<<8 | uint16(payload[offset+1]),
			StartTime:     parseDVBTime(payload[offset+2:]),
			Duration:      parseBCDDuration(payload[offset+7 : offset+10]),
			RunningStatus: runningStatus,
			FreeCAMode:    freeCAMode,
		}
		descs, next, err := parseDescriptorList(payload, offset+10, tid)
		if err != nil {
			return nil, err
		}
		ev.Descriptors = descs
		offset = next
		eit.Events = append(eit.Events, ev)
	}
	return eit, nil
}

// Serialize splits the EIT across as many sections as needed.
func (e *EIT) Serialize() *tsip.BinaryTable {
	var entries [][]byte
	for _, ev := range e.Events {
		buf := make([]byte, 65536)
		buf[0] = byte(ev.EventID >> 8)
		buf[1] = byte(ev.EventID)
		timeBytes := serializeDVBTime(ev.StartTime)
		copy(buf[2:7], timeBytes[:])
		durBytes := serializeBCDDuration(ev.Duration)
		copy(buf[7:10], durBytes[:])
		// running_status(3) and free_CA_mode(1) share the same two bytes as
		// descriptor_loop_length; fold them into the length prefix's would-be
		// reserved bits instead of writing buf[10] separately, which the
		// length patch below would otherwise clobber.
		reserved := uint16(ev.RunningStatus&0x7)<<13 | uint16(boolBit(ev.FreeCAMode, 1))<<12
		n := serializeDescriptorListReserved(buf, 10, ev.Descriptors, reserved)
		entries = append(entries, buf[:n])
	}

	header := []byte{
		byte(e.TransportStreamID >> 8), byte(e.TransportStreamID),
		byte(e.OriginalNetworkID >> 8), byte(e.OriginalNetworkID),
		e.SegmentLastSectionNumber, e.LastTableID,
	}
	return packIntoSections(e.TableID, e.ServiceID, e.Version, e.Current, header, entries)
}

// Display writes a human-readable dump of e to w.
func (e *EIT) Display(w io.Writer) {
	fmt.Fprintf(w, "EIT table_id=%s service_id=%d ts_id=%d events=%d\n", hexByte(e.TableID), e.ServiceID, e.TransportStreamID, len(e.Events))
	for _, ev := range e.Events {
		fmt.Fprintf(w, "  event_id=%d start=%s duration=%s\n", ev.EventID, ev.StartTime.Format(time.RFC3339), ev.Duration)
	}
}
