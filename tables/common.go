// Package tables implements the concrete PSI/SI table types named by
// spec.md §4.7: each type knows how to deserialize itself from a
// tsip.BinaryTable, serialize back into one, round-trip through XML, and
// display itself for human inspection.
package tables

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"time"

	tsip "github.com/tsflux/tsip"
)

// ErrTableInvalid is returned by a concrete type's Deserialize when the
// source BinaryTable's sections are inconsistent for that table's own
// invariants (spec §4.7: "a VCT/SVCT channel entry must fit wholly in one
// section", cross-section fields must agree, etc).
var ErrTableInvalid = errors.New("tables: invalid or incomplete source table")

// Table ids for the concrete types this package implements (ISO/IEC
// 13818-1, ETSI EN 300 468, ATSC A/65, ARIB STD-B10).
const (
	TIDPat           uint8 = 0x00
	TIDCat           uint8 = 0x01
	TIDPmt           uint8 = 0x02
	TIDNitActual     uint8 = 0x40
	TIDNitOther      uint8 = 0x41
	TIDSdtActual     uint8 = 0x42
	TIDSdtOther      uint8 = 0x46
	TIDBat           uint8 = 0x4a
	TIDEitPFActual   uint8 = 0x4e
	TIDEitPFOther    uint8 = 0x4f
	TIDEitSchedStart uint8 = 0x50
	TIDEitSchedEnd   uint8 = 0x5f
	TIDTdt           uint8 = 0x70
	TIDTot           uint8 = 0x73
	TIDMgt           uint8 = 0xc7
	TIDTvct          uint8 = 0xc8
	TIDCvct          uint8 = 0xc9
	TIDStt           uint8 = 0xcd
	TIDSvct          uint8 = 0xc4 // ATSC Satellite Virtual Channel Table (svct.go)
	TIDSgt           uint8 = 0xc3
	TIDDcct          uint8 = 0xcb
)

// parseDescriptorList reads a "reserved(4 bits) + descriptors_loop_length
// (12 bits)" prefixed descriptor loop from data at offset, the layout the
// PMT/NIT/BAT/SDT/EIT/TOT/STT/DCT decoders read (CAT's bare loop gets this
// prefix from prefixLengthField first; PAT has no loop), mirroring the
// teacher's parseDescriptors loop in descriptor.go/data_psi.go but built on
// this module's own tsip.Descriptor/DescriptorList types.
func parseDescriptorList(data []byte, offset int, tableID uint8) (*tsip.DescriptorList, int, error) {
	if offset+2 > len(data) {
		return nil, offset, fmt.Errorf("%w: descriptor loop length field truncated", ErrTableInvalid)
	}
	r := tsip.NewBitReader(data[offset : offset+2])
	r.Bits(4) // reserved
	length := int(r.Bits(12))
	offset += 2
	end := offset + length
	if end > len(data) {
		return nil, offset, fmt.Errorf("%w: descriptor loop length %d exceeds available data", ErrTableInvalid, length)
	}

	list := tsip.NewDescriptorList()
	list.SetTableID(tableID)
	for offset < end {
		if offset+2 > end {
			return nil, offset, fmt.Errorf("%w: truncated descriptor header", ErrTableInvalid)
		}
		size := 2 + int(data[offset+1])
		if offset+size > end {
			return nil, offset, fmt.Errorf("%w: truncated descriptor body", ErrTableInvalid)
		}
		d, err := tsip.NewDescriptorFromBytes(data[offset : offset+size])
		if err != nil {
			return nil, offset, fmt.Errorf("tables: decoding descriptor: %w", err)
		}
		list.Add(d)
		offset += size
	}
	return list, end, nil
}

// serializeDescriptorList writes list into buf at start using the same
// reserved(4)+length(12) prefix parseDescriptorList reads, returning the
// new write offset.
func serializeDescriptorList(buf []byte, start int, list *tsip.DescriptorList) int {
	return serializeDescriptorListReserved(buf, start, list, 0xf000)
}

// serializeDescriptorListReserved is serializeDescriptorList with a caller-
// supplied value for the prefix's reserved(4) bits, for the rare layouts
// (EIT's running_status/free_CA_mode) where those bits aren't actually
// reserved but carry sibling fields packed into the same two bytes as
// descriptor_loop_length.
func serializeDescriptorListReserved(buf []byte, start int, list *tsip.DescriptorList, reserved uint16) int {
	if list == nil {
		list = tsip.NewDescriptorList()
	}
	return start + list.LengthSerialize(buf, start, 12, reserved)
}

// parseDVBTime decodes the 5-byte MJD + BCD UTC time field used by DVB time
// encoding (ETSI EN 300 468 annex C), ported from the teacher's
// parseDVBTime/dvb.go.
func parseDVBTime(b []byte) time.Time {
	mjd := uint16(b[0])<<8 | uint16(b[1])
	yt := int((float64(mjd) - 15078.2) / 365.25)
	mt := int((float64(mjd) - 14956.1 - float64(uint16(float64(yt)*365.25))) / 30.6001)
	d := int(mjd) - 14956 - int(float64(yt)*365.25) - int(float64(mt)*30.6001)
	k := 0
	if mt == 14 || mt == 15 {
		k = 1
	}
	y := yt + k
	m := mt - 1 - k*12

	dateStr := fmt.Sprintf("%02d-%02d-%02d", y, m, d)
	date, _ := time.Parse("06-01-02", dateStr)
	return date.Add(parseBCDDuration(b[2:5]))
}

func bcdByteToDuration(b byte, unit time.Duration) time.Duration {
	return (time.Duration(b>>4)*10 + time.Duration(b&0x0f)) * unit
}

// parseBCDDuration decodes a 3-byte (hours, minutes, seconds) BCD duration,
// the field shape used by both the DVB time field's time-of-day tail and
// EIT's event duration.
func parseBCDDuration(b []byte) time.Duration {
	return bcdByteToDuration(b[0], time.Hour) + bcdByteToDuration(b[1], time.Minute) + bcdByteToDuration(b[2], time.Second)
}

func toBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

// serializeDVBTime is the inverse of parseDVBTime.
func serializeDVBTime(t time.Time) [5]byte {
	u := t.UTC()
	y, m, d := u.Date()
	l := 0
	if m == time.January || m == time.February {
		l = 1
	}
	mjd := 14956 + d + int(float64(y-l)*365.25) + int(float64(int(m)+1+l*12)*30.6001)
	var out [5]byte
	out[0] = byte(mjd >> 8)
	out[1] = byte(mjd)
	out[2] = toBCD(u.Hour())
	out[3] = toBCD(u.Minute())
	out[4] = toBCD(u.Second())
	return out
}

// serializeBCDDuration is the inverse of parseBCDDuration.
func serializeBCDDuration(d time.Duration) [3]byte {
	total := int(d.Seconds())
	return [3]byte{
		toBCD((total / 3600) % 100),
		toBCD((total / 60) % 60),
		toBCD(total % 60),
	}
}

// singleSectionPayload returns the payload of a table's sole section,
// failing if the table has more than one or isn't valid. Single-section
// tables (TDT, TOT, STT, PMT) use this.
func singleSectionPayload(t *tsip.BinaryTable) ([]byte, error) {
	if !t.IsValid() || t.SectionCount() != 1 {
		return nil, fmt.Errorf("%w: expected exactly one section, got %d", ErrTableInvalid, t.SectionCount())
	}
	return t.SectionAt(0).Payload(), nil
}

// concatenatedPayload joins every section's payload of a long table in
// section_number order, failing unless the table is complete, per spec
// §4.3's BinaryTable model. Reading the result as one flat loop is exact
// for tables whose sections carry nothing but entries (PAT, CAT); it is not
// for tables that repeat a header or trailer in every section (NIT, BAT,
// SDT, EIT, MGT). The SDT and EIT decoders build their own payload instead,
// and the MGT decoder steps over each section's trailer and header.
func concatenatedPayload(t *tsip.BinaryTable) ([]byte, error) {
	if !t.IsComplete() {
		return nil, fmt.Errorf("%w: table incomplete (%d/%d sections)", ErrTableInvalid, t.SectionCount(), int(t.LastSectionNumber())+1)
	}
	var out []byte
	for i := 0; i <= int(t.LastSectionNumber()); i++ {
		out = append(out, t.SectionAt(i).Payload()...)
	}
	return out, nil
}

// ToXML marshals any concrete table value to an indented XML document, the
// generic half of spec §4.7's to_xml()/from_xml() pair.
func ToXML[T any](v *T) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tables: marshaling XML: %w", err)
	}
	return out, nil
}

// FromXML unmarshals an XML document produced by ToXML back into a value
// of type T.
func FromXML[T any](data []byte) (*T, error) {
	var v T
	if err := xml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("tables: unmarshaling XML: %w", err)
	}
	return &v, nil
}

func hexByte(b uint8) string { return "0x" + strconv.FormatUint(uint64(b), 16) }
