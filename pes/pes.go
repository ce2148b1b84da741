// Package pes carries just enough of ISO/IEC 13818-1's PES packet header
// to classify a PID's payload kind (audio/video) from its stream_id when
// PMT stream_type classification alone is ambiguous; it does not decode
// PES payload. Used by the analyzer.
package pes

// Well-known PES stream_id ranges (ISO/IEC 13818-1 Table 2-22).
const (
	StreamIDProgramStreamMap uint8 = 0xbc
	StreamIDPrivateStream1   uint8 = 0xbd
	StreamIDPaddingStream    uint8 = 0xbe
	StreamIDPrivateStream2   uint8 = 0xbf
	StreamIDAudioMin uint8 = 0xc0
	StreamIDAudioMax uint8 = 0xdf
	StreamIDVideoMin uint8 = 0xe0
	StreamIDVideoMax uint8 = 0xef
)

// IsAudioStreamID reports whether id falls in the MPEG audio stream_id range.
func IsAudioStreamID(id uint8) bool { return id >= StreamIDAudioMin && id <= StreamIDAudioMax }

// IsVideoStreamID reports whether id falls in the MPEG video stream_id range.
func IsVideoStreamID(id uint8) bool { return id >= StreamIDVideoMin && id <= StreamIDVideoMax }

// StartCode is the 3-byte prefix (0x00 0x00 0x01) every PES packet header
// begins with, following the packet's optional pointer_field/section
// start; used to tell a PES payload apart from a section payload on a
// PID whose carried content isn't yet known from PMT.
var StartCode = [3]byte{0x00, 0x00, 0x01}

// HasStartCode reports whether b begins with the PES start code prefix.
func HasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == StartCode[0] && b[1] == StartCode[1] && b[2] == StartCode[2]
}

// Header is the fixed 6-byte PES packet header: start code, stream_id,
// and PES_packet_length. Only this much is parsed; optional header
// fields (PTS/DTS, flags) are left to the elementary-stream decoder this
// package deliberately doesn't implement.
type Header struct {
	StreamID     uint8
	PacketLength uint16 // 0 means "unbounded", valid only for video
}

// ParseHeader reads the fixed 6-byte PES header from b, returning false if
// b is too short or doesn't begin with the PES start code.
func ParseHeader(b []byte) (Header, bool) {
	if !HasStartCode(b) || len(b) < 6 {
		return Header{}, false
	}
	return Header{
		StreamID:     b[3],
		PacketLength: uint16(b[4])<<8 | uint16(b[5]),
	}, true
}
