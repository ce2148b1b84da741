package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/lcn"
)

// sectionPacket wraps one complete section's bytes into a single 188-byte
// packet on pid, pointer_field-prefixed as PUSI demands — the same shape
// demux's own tests use to drive a SectionDemux from constructed sections.
func sectionPacket(t *testing.T, pid uint16, cc uint8, s *tsip.Section) *tsip.Packet {
	t.Helper()
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	data[1] = 0x40 | byte(pid>>8)
	data[2] = byte(pid)
	data[3] = 0x10 | (cc & 0xf)

	payload := data[4:]
	payload[0] = 0 // pointer_field
	n := copy(payload[1:], s.Bytes())
	for i := 1 + n; i < len(payload); i++ {
		payload[i] = 0xff
	}
	p, err := tsip.NewPacketFromBytes(data)
	require.NoError(t, err)
	return p
}

// pcrPacket builds an adaptation-field-only packet (no payload) carrying
// just a PCR, on pid with continuity counter cc.
func pcrPacket(t *testing.T, pid uint16, cc uint8, pcr uint64) *tsip.Packet {
	t.Helper()
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	data[1] = byte(pid >> 8)
	data[2] = byte(pid)
	data[3] = 0x20 | (cc & 0xf) // adaptation field only

	af := data[4:]
	af[0] = 183  // adaptation_field_length (rest of packet minus this byte)
	af[1] = 0x10 // PCR_flag
	base := pcr / 300
	ext := pcr % 300
	af[2] = byte(base >> 25)
	af[3] = byte(base >> 17)
	af[4] = byte(base >> 9)
	af[5] = byte(base >> 1)
	af[6] = byte((base&1)<<7) | byte(ext>>8)
	af[7] = byte(ext)
	for i := 8; i < len(af); i++ {
		af[i] = 0xff
	}
	p, err := tsip.NewPacketFromBytes(data)
	require.NoError(t, err)
	return p
}

func patSection(tsID uint16, programs map[uint16]uint16) *tsip.Section {
	var payload []byte
	for program, pid := range programs {
		payload = append(payload, byte(program>>8), byte(program), byte(0xe0|pid>>8), byte(pid))
	}
	return tsip.NewLongSection(0x00, false, tsID, 0, true, 0, 0, payload)
}

func pmtSection(programNumber, pcrPID uint16, streams []struct {
	Type uint8
	PID  uint16
}) *tsip.Section {
	payload := []byte{byte(0xe0 | pcrPID>>8), byte(pcrPID), 0xf0, 0x00}
	for _, st := range streams {
		payload = append(payload, st.Type, byte(0xe0|st.PID>>8), byte(st.PID), 0xf0, 0x00)
	}
	return tsip.NewLongSection(0x02, false, programNumber, 0, true, 0, 0, payload)
}

func TestAnalyzerPATPMTDiscovery(t *testing.T) {
	a := NewAnalyzer()

	pat := patSection(0x1234, map[uint16]uint16{1: 0x0100})
	a.Feed(sectionPacket(t, 0x0000, 0, pat))

	pmt := pmtSection(1, 0x0101, []struct {
		Type uint8
		PID  uint16
	}{
		{Type: 0x02, PID: 0x0101}, // video, also PCR pid
		{Type: 0x04, PID: 0x0102}, // audio
	})
	a.Feed(sectionPacket(t, 0x0100, 0, pmt))

	r := a.Report()
	require.NotNil(t, r.TransportStreamID)
	assert.Equal(t, uint16(0x1234), *r.TransportStreamID)
	require.Len(t, r.Services, 1)
	assert.Equal(t, uint16(1), r.Services[0].ServiceID)
	assert.Equal(t, uint16(0x0101), r.Services[0].PCRPID)
	assert.ElementsMatch(t, []uint16{0x0101, 0x0102}, r.Services[0].PIDs)

	var video, audio, pmtReport *PIDReport
	for i := range r.Service {
		switch r.Service[i].PID {
		case 0x0101:
			video = &r.Service[i]
		case 0x0102:
			audio = &r.Service[i]
		case 0x0100:
			pmtReport = &r.Service[i]
		}
	}
	require.NotNil(t, video)
	require.NotNil(t, audio)
	require.NotNil(t, pmtReport)
	assert.True(t, video.CarryVideo)
	assert.True(t, audio.CarryAudio)
	assert.True(t, pmtReport.CarrySection)
}

func TestAnalyzerUnreferencedPIDClassification(t *testing.T) {
	a := NewAnalyzer()
	pat := patSection(0x1, map[uint16]uint16{})
	a.Feed(sectionPacket(t, 0x0000, 0, pat))

	// Nothing ever claims 0x0200: should land in Unreferenced, not Global.
	junk := tsip.NewShortSection(0x7f, false, []byte{0x01, 0x02})
	a.Feed(sectionPacket(t, 0x0200, 0, junk))

	r := a.Report()
	var found bool
	for _, p := range r.Unreferenced {
		if p.PID == 0x0200 {
			found = true
		}
	}
	assert.True(t, found, "PID carrying an unrecognized section should be unreferenced, not claimed by any service")
}

func TestAnalyzerContinuityDiscontinuities(t *testing.T) {
	a := NewAnalyzer()
	pat := patSection(0x1, map[uint16]uint16{1: 0x0100})
	a.Feed(sectionPacket(t, 0x0000, 0, pat))
	a.Feed(sectionPacket(t, 0x0000, 1, pat)) // cc 0 -> 1, fine

	// jump from 1 to 5: unexpected discontinuity, no AF discontinuity flag.
	a.Feed(sectionPacket(t, 0x0000, 5, pat))

	r := a.Report()
	var patPID *PIDReport
	for i := range r.Global {
		if r.Global[i].PID == 0x0000 {
			patPID = &r.Global[i]
		}
	}
	require.NotNil(t, patPID)
	assert.Equal(t, uint64(1), patPID.UnexpectedDiscontinuities)
	assert.Equal(t, uint64(0), patPID.ExpectedDiscontinuities)

	// repeating the same cc counts as a duplicate, not a discontinuity.
	a.Feed(sectionPacket(t, 0x0000, 5, pat))
	r = a.Report()
	for i := range r.Global {
		if r.Global[i].PID == 0x0000 {
			assert.Equal(t, uint64(1), r.Global[i].Duplicated)
		}
	}
}

func TestAnalyzerPCRBitrate(t *testing.T) {
	a := NewAnalyzer()
	pat := patSection(0x1, map[uint16]uint16{1: 0x0100})
	a.Feed(sectionPacket(t, 0x0000, 0, pat))
	pmt := pmtSection(1, 0x0200, []struct {
		Type uint8
		PID  uint16
	}{{Type: 0x02, PID: 0x0200}})
	a.Feed(sectionPacket(t, 0x0100, 0, pmt))

	// Two PCR hits one second apart (27,000,000 ticks), 100 packets in
	// between at 188 bytes each: bitrate = 100*188*8 / 1s = 150400 bps.
	a.Feed(pcrPacket(t, 0x0200, 0, 0))
	for i := 0; i < 99; i++ {
		a.Feed(sectionPacket(t, 0x0000, 0, pat))
	}
	a.Feed(pcrPacket(t, 0x0200, 1, systemClockFreq))

	r := a.Report()
	var pcrPID *PIDReport
	for i := range r.Service {
		if r.Service[i].PID == 0x0200 {
			pcrPID = &r.Service[i]
		}
	}
	require.NotNil(t, pcrPID)
	assert.InDelta(t, 150400, pcrPID.BitrateMean, 1)
	assert.InDelta(t, 150400, r.TSBitrateMean, 1)
}

func TestAnalyzerPCRLeapDetection(t *testing.T) {
	var b bitrateEstimator
	b.Observe(1000, 0)
	b.Observe(500, 10) // goes backwards: a leap
	count, largest := b.LeapStats()
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, uint64(500), largest)
}

func TestAnalyzerCATEMMDiscovery(t *testing.T) {
	a := NewAnalyzer()
	caDescriptor := []byte{0x09, 0x06, 0x01, 0x00, 0xe0, 0x20, 0xaa, 0xbb} // Mediaguard CASID 0x0100, ca_pid 0x0020
	cat := tsip.NewLongSection(0x01, false, 0xffff, 0, true, 0, 0, caDescriptor)
	a.Feed(sectionPacket(t, 0x0001, 0, cat))

	r := a.Report()
	var emmPID *PIDReport
	for i := range r.Global {
		if r.Global[i].PID == 0x0020 {
			emmPID = &r.Global[i]
		}
	}
	require.NotNil(t, emmPID)
	assert.True(t, emmPID.CarryEMM)
	assert.Equal(t, "Mediaguard", emmPID.CASFamily)
}

func TestAnalyzerNITLCNDiscovery(t *testing.T) {
	a := NewAnalyzer()

	// PAT establishes the default NIT PID (0x0010) in the demux filter;
	// without it the NIT packet below would never reach the section demux.
	pat := patSection(0x99, map[uint16]uint16{})
	a.Feed(sectionPacket(t, 0x0000, 0, pat))

	lcnDescriptor := []byte{0x83, 0x04, 0x00, 0x07, 0x80, 0x05} // service_id=7, visible, lcn=5
	tsEntry := []byte{0x00, 0x01, 0x00, 0x02, 0xf0, byte(len(lcnDescriptor))}
	tsEntry = append(tsEntry, lcnDescriptor...)

	payload := []byte{0xf0, 0x00} // empty network_descriptors loop
	payload = append(payload, 0xf0, byte(len(tsEntry)))
	payload = append(payload, tsEntry...)

	nit := tsip.NewLongSection(0x40, false, 0x99, 0, true, 0, 0, payload)
	a.Feed(sectionPacket(t, 0x0010, 0, nit))

	got := a.LCNMap().GetLCN(lcn.Key{ServiceID: 7, TransportStreamID: 1, OriginalNetworkID: 2})
	assert.Equal(t, uint16(5), got)
}
