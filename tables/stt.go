package tables

import (
	"fmt"
	"io"
	"time"

	tsip "github.com/tsflux/tsip"
)

// gpsEpoch is the origin of ATSC's GPS-second system_time field (ATSC
// A/65 §6.1), distinct from DVB's Modified Julian Date epoch used
// elsewhere in this package.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// STT is the ATSC System Time Table (A/65 §6.1): a single-section table
// broadcasting the current GPS time, the GPS-to-UTC leap-second offset,
// and the next daylight-saving transition.
type STT struct {
	XMLName         struct{}             `xml:"STT"`
	Version         uint8                `xml:"version,attr"`
	Current         bool                 `xml:"current,attr"`
	ProtocolVersion uint8                `xml:"protocol_version,attr"`
	SystemTime      time.Time            `xml:"system_time,attr"` // GPS time, not UTC
	GPSUTCOffset    uint8                `xml:"gps_utc_offset,attr"`
	DSStatus        bool                 `xml:"ds_status,attr"`
	DSDayOfMonth    uint8                `xml:"ds_day_of_month,attr"` // 5 bits
	DSHour          uint8                `xml:"ds_hour,attr"`
	Descriptors     *tsip.DescriptorList `xml:"-"`
}

// UTCTime returns the current UTC time implied by SystemTime and
// GPSUTCOffset (GPS time runs ahead of UTC by the accumulated leap
// second count).
func (s *STT) UTCTime() time.Time {
	return s.SystemTime.Add(-time.Duration(s.GPSUTCOffset) * time.Second)
}

// DeserializeSTT builds an STT from its sole section.
func DeserializeSTT(t *tsip.BinaryTable) (*STT, error) {
	if t.TableID() != TIDStt {
		return nil, fmt.Errorf("%w: table id %s is not STT", ErrTableInvalid, hexByte(t.TableID()))
	}
	payload, err := singleSectionPayload(t)
	if err != nil {
		return nil, err
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: STT payload too short", ErrTableInvalid)
	}

	systemTimeSecs := uint32(payload[1])<<24 | uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
	dsReader := tsip.NewBitReader(payload[6:7])
	dsStatus := dsReader.Bool()
	dsReader.Bits(2) // reserved
	dsDayOfMonth := uint8(dsReader.Bits(5))
	stt := &STT{
		Version:         t.Version(),
		Current:         t.SectionAt(0).IsCurrent(),
		ProtocolVersion: payload[0],
		SystemTime:      gpsEpoch.Add(time.Duration(systemTimeSecs) * time.Second),
		GPSUTCOffset:    payload[5],
		DSStatus:        dsStatus,
		DSDayOfMonth:    dsDayOfMonth,
		DSHour:          payload[7],
	}
	descs, _, err := parseDescriptorList(payload, 8, TIDStt)
	if err != nil {
		return nil, err
	}
	stt.Descriptors = descs
	return stt, nil
}

// Serialize builds the STT's single section.
func (s *STT) Serialize() *tsip.BinaryTable {
	secs := uint32(s.SystemTime.Sub(gpsEpoch).Seconds())
	buf := make([]byte, 65536)
	buf[0] = s.ProtocolVersion
	buf[1] = byte(secs >> 24)
	buf[2] = byte(secs >> 16)
	buf[3] = byte(secs >> 8)
	buf[4] = byte(secs)
	buf[5] = s.GPSUTCOffset
	dsWriter := tsip.NewBitWriter()
	dsWriter.WriteBool(s.DSStatus)
	dsWriter.WriteBits(0x3, 2) // reserved
	dsWriter.WriteBits(uint64(s.DSDayOfMonth&0x1f), 5)
	buf[6] = dsWriter.Bytes()[0]
	buf[7] = s.DSHour
	n := serializeDescriptorList(buf, 8, s.Descriptors)

	table := tsip.NewBinaryTable()
	_ = table.AddSection(tsip.NewLongSection(TIDStt, false, 0x0000, s.Version, s.Current, 0, 0, buf[:n]))
	return table
}

// Display writes a human-readable dump of s to w.
func (s *STT) Display(w io.Writer) {
	fmt.Fprintf(w, "STT system_time=%s gps_utc_offset=%d utc=%s\n", s.SystemTime.Format(time.RFC3339), s.GPSUTCOffset, s.UTCTime().Format(time.RFC3339))
}
