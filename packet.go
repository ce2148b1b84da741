package tsip

import "errors"

// Packet sizes and sync byte, ISO/IEC 13818-1 §2.4.3.2.
const (
	PacketSize             = 188
	PacketSizeWithTrailer  = 204
	isdbtTrailerSize       = PacketSizeWithTrailer - PacketSize
	isdbtInformationSize   = 8 // ARIB STD-B31 §5.5.2, ISDBTInformation.BINARY_SIZE
	SyncByte          byte = 0x47
)

var (
	// ErrPacketMustStartWithASyncByte is returned when the first byte isn't
	// the TS sync byte.
	ErrPacketMustStartWithASyncByte = errors.New("tsip: packet must start with a sync byte")
	// ErrPacketInvalidSize is returned for any length other than 188 or 204.
	ErrPacketInvalidSize = errors.New("tsip: packet must be 188 or 204 bytes")
)

// ScramblingControl is the transport_scrambling_control field.
type ScramblingControl uint8

const (
	ScramblingControlNotScrambled      ScramblingControl = 0
	ScramblingControlReserved          ScramblingControl = 1
	ScramblingControlScrambledEvenKey  ScramblingControl = 2
	ScramblingControlScrambledOddKey   ScramblingControl = 3
)

// Packet is a single 188- or 204-byte MPEG-TS packet.
type Packet struct {
	data []byte
}

// NewPacketFromBytes wraps and validates one TS packet, auto-detecting
// 188- vs 204-byte framing from the buffer length.
func NewPacketFromBytes(data []byte) (*Packet, error) {
	if len(data) != PacketSize && len(data) != PacketSizeWithTrailer {
		return nil, ErrPacketInvalidSize
	}
	if data[0] != SyncByte {
		return nil, ErrPacketMustStartWithASyncByte
	}
	return &Packet{data: data}, nil
}

// Bytes returns the packet's raw wire bytes.
func (p *Packet) Bytes() []byte { return p.data }

// HasTrailer reports whether this is a 204-byte packet with an ISDB-T
// trailer.
func (p *Packet) HasTrailer() bool { return len(p.data) == PacketSizeWithTrailer }

// headerBits reads the TEI/PUSI/priority/PID group from bytes 1-2: TEI(1),
// PUSI(1), transport_priority(1), PID(13).
func (p *Packet) headerBits() *BitReader { return NewBitReader(p.data[1:3]) }

// TransportErrorIndicator reports the TEI bit.
func (p *Packet) TransportErrorIndicator() bool { return p.headerBits().Bool() }

// PayloadUnitStartIndicator reports the PUSI bit.
func (p *Packet) PayloadUnitStartIndicator() bool {
	r := p.headerBits()
	r.Bits(1)
	return r.Bool()
}

// TransportPriority reports the transport_priority bit.
func (p *Packet) TransportPriority() bool {
	r := p.headerBits()
	r.Bits(2)
	return r.Bool()
}

// PID returns the 13-bit packet identifier.
func (p *Packet) PID() uint16 {
	r := p.headerBits()
	r.Bits(3)
	return uint16(r.Bits(13))
}

// flagsBits reads the scrambling_control/adaptation_field_control/
// continuity_counter group from byte 3: scrambling_control(2),
// adaptation_field_control(2), continuity_counter(4).
func (p *Packet) flagsBits() *BitReader { return NewBitReader(p.data[3:4]) }

// ScramblingControl returns the 2-bit transport_scrambling_control field.
func (p *Packet) ScramblingControl() ScramblingControl {
	return ScramblingControl(p.flagsBits().Bits(2))
}

// HasAdaptationField reports the adaptation_field_control bit 0x2.
func (p *Packet) HasAdaptationField() bool {
	r := p.flagsBits()
	r.Bits(2)
	return r.Bool()
}

// HasPayload reports the adaptation_field_control bit 0x1.
func (p *Packet) HasPayload() bool {
	r := p.flagsBits()
	r.Bits(3)
	return r.Bool()
}

// ContinuityCounter returns the 4-bit continuity_counter field.
func (p *Packet) ContinuityCounter() uint8 {
	r := p.flagsBits()
	r.Bits(4)
	return uint8(r.Bits(4))
}

// PCR is a 42-bit program clock reference: a 33-bit 90kHz base and a 9-bit
// 27MHz extension.
type PCR struct {
	Base      uint64
	Extension uint16
}

// Value returns the PCR in 27MHz clock ticks: base*300+extension.
func (c PCR) Value() uint64 { return c.Base*300 + uint64(c.Extension) }

func parsePCR(b []byte) PCR {
	base := uint64(b[0])<<25 | uint64(b[1])<<17 | uint64(b[2])<<9 | uint64(b[3])<<1 | uint64(b[4])>>7
	ext := uint16(b[4]&0x1) <<8 | uint16(b[5])
	return PCR{Base: base, Extension: ext}
}

// AdaptationField is the optional 188-byte-packet adaptation field (ISO/IEC
// 13818-1 §2.4.3.5).
type AdaptationField struct {
	Length                            int
	DiscontinuityIndicator            bool
	RandomAccessIndicator             bool
	ElementaryStreamPriorityIndicator bool
	PCR                               *PCR
	OPCR                              *PCR
	SplicingPointFlag                 bool
	SpliceCountdown                   int8
	TransportPrivateData              []byte
}

// AdaptationField parses and returns the packet's adaptation field, if
// present.
func (p *Packet) AdaptationField() *AdaptationField {
	if !p.HasAdaptationField() {
		return nil
	}
	b := p.data[4:]
	if len(b) == 0 {
		return nil
	}
	length := int(b[0])
	af := &AdaptationField{Length: length}
	if length == 0 {
		return af
	}

	flags := b[1]
	af.DiscontinuityIndicator = flags&0x80 != 0
	af.RandomAccessIndicator = flags&0x40 != 0
	af.ElementaryStreamPriorityIndicator = flags&0x20 != 0
	hasPCR := flags&0x10 != 0
	hasOPCR := flags&0x08 != 0
	af.SplicingPointFlag = flags&0x04 != 0
	hasPrivateData := flags&0x02 != 0

	pos := 2
	if hasPCR && pos+6 <= len(b) {
		pcr := parsePCR(b[pos : pos+6])
		af.PCR = &pcr
		pos += 6
	}
	if hasOPCR && pos+6 <= len(b) {
		opcr := parsePCR(b[pos : pos+6])
		af.OPCR = &opcr
		pos += 6
	}
	if af.SplicingPointFlag && pos < len(b) {
		af.SpliceCountdown = int8(b[pos])
		pos++
	}
	if hasPrivateData && pos < len(b) {
		n := int(b[pos])
		pos++
		if pos+n <= len(b) {
			af.TransportPrivateData = b[pos : pos+n]
		}
	}

	return af
}

// Payload returns the packet's payload bytes, after sync/header and any
// adaptation field.
func (p *Packet) Payload() []byte {
	if !p.HasPayload() {
		return nil
	}
	start := 4
	if p.HasAdaptationField() {
		afLen := int(p.data[4])
		start = 5 + afLen
	}
	end := PacketSize
	if start > end {
		return nil
	}
	return p.data[start:end]
}

// ISDBTInfo is the 8-byte ISDB-T Information block carried in the trailer
// of a 204-byte packet (ARIB STD-B31 §5.5.2).
type ISDBTInfo struct {
	IsValid                          bool
	TMCCIdentifier                    uint8
	BufferResetControlFlag            bool
	SwitchOnControlFlag               bool
	InitializationTimingHeadPacketFlag bool
	FrameHeadPacketFlag               bool
	FrameIndicator                    bool
	LayerIndicator                    uint8
	CountdownIndex                    uint8
	ACDataInvalidFlag                 bool
	ACDataEffectiveBytes              uint8
	TSPCounter                        uint16
	ACData                            uint32
}

// HasACData reports whether ACData carries real data rather than the
// 0xFFFFFFFF sentinel used when ACDataInvalidFlag is set.
func (i ISDBTInfo) HasACData() bool { return !i.ACDataInvalidFlag }

// Trailer returns the raw 16-byte ISDB-T trailer for a 204-byte packet, or
// nil.
func (p *Packet) Trailer() []byte {
	if !p.HasTrailer() {
		return nil
	}
	return p.data[PacketSize:]
}

// ISDBTInformation parses the trailer's 8-byte ISDBTInformation block. It
// returns a zero-value, invalid ISDBTInfo if this is not a 204-byte packet.
func (p *Packet) ISDBTInformation() ISDBTInfo {
	trailer := p.Trailer()
	if len(trailer) < isdbtInformationSize {
		return ISDBTInfo{}
	}
	b := trailer[:isdbtInformationSize]

	// Byte 0: TMCC_identifier(2), reserved(1), buffer_reset(1), switch_on(1),
	// initialization_timing_head_packet(1), frame_head_packet(1), frame_indicator(1).
	var info ISDBTInfo
	info.TMCCIdentifier = b[0] >> 6
	info.BufferResetControlFlag = b[0]&0x10 != 0
	info.SwitchOnControlFlag = b[0]&0x08 != 0
	info.InitializationTimingHeadPacketFlag = b[0]&0x04 != 0
	info.FrameHeadPacketFlag = b[0]&0x02 != 0
	info.FrameIndicator = b[0]&0x01 != 0

	// Byte 1: layer_indicator(4), countdown(4).
	info.LayerIndicator = b[1] >> 4
	info.CountdownIndex = b[1] & 0xf

	// Byte 2 (+1 bit of byte 3): AC_data_invalid(1), AC_data_effective_bytes(2),
	// TSP_counter(13, low 5 bits of byte 2 + all of byte 3).
	r := NewBitReader(b[2:4])
	info.ACDataInvalidFlag = r.Bool()
	info.ACDataEffectiveBytes = uint8(r.Bits(2))
	info.TSPCounter = uint16(r.Bits(13))

	// Bytes 4..7: AC_data, byte-aligned; forced to the sentinel when invalid.
	if info.ACDataInvalidFlag {
		info.ACData = 0xffffffff
	} else {
		info.ACData = uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	}
	info.IsValid = true
	return info
}
