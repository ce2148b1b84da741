package zap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/tables"
)

func sectionPacket(t *testing.T, pid uint16, cc uint8, s *tsip.Section) *tsip.Packet {
	t.Helper()
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	data[1] = 0x40 | byte(pid>>8)
	data[2] = byte(pid)
	data[3] = 0x10 | (cc & 0xf)

	payload := data[4:]
	payload[0] = 0
	n := copy(payload[1:], s.Bytes())
	for i := 1 + n; i < len(payload); i++ {
		payload[i] = 0xff
	}
	p, err := tsip.NewPacketFromBytes(data)
	require.NoError(t, err)
	return p
}

func pesPacket(t *testing.T, pid uint16, cc uint8) *tsip.Packet {
	t.Helper()
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	data[1] = 0x40 | byte(pid>>8)
	data[2] = byte(pid)
	data[3] = 0x10 | (cc & 0xf)
	for i := 4; i < len(data); i++ {
		data[i] = 0xaa
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
	return tsip.NewLongSection(tables.TIDPat, false, tsID, 0, true, 0, 0, payload)
}

type testStream struct {
	Type uint8
	PID  uint16
}

func pmtSection(programNumber, pcrPID uint16, streams []testStream) *tsip.Section {
	payload := []byte{byte(0xe0 | pcrPID>>8), byte(pcrPID), 0xf0, 0x00}
	for _, st := range streams {
		payload = append(payload, st.Type, byte(0xe0|st.PID>>8), byte(st.PID), 0xf0, 0x00)
	}
	return tsip.NewLongSection(tables.TIDPmt, false, programNumber, 0, true, 0, 0, payload)
}

func sdtSection(tsID, onID uint16, serviceIDs []uint16) *tsip.Section {
	payload := []byte{byte(onID >> 8), byte(onID), 0xff}
	for _, id := range serviceIDs {
		payload = append(payload, byte(id>>8), byte(id), 0x80, 0xf0, 0x00)
	}
	return tsip.NewLongSection(tables.TIDSdtActual, false, tsID, 0, true, 0, 0, payload)
}

// TestProcessorRewritesPATAndSDTToSelectedService replicates spec.md's
// zap scenario: a PAT with services {1,2,3} and PMT PIDs
// {0x101,0x102,0x103}; service 2 is selected by id. The output PAT should
// keep only program 2 -> PID 0x102, PIDs 0x101/0x103 should stop passing,
// and the SDT should be rewritten down to the single service.
func TestProcessorRewritesPATAndSDTToSelectedService(t *testing.T) {
	p := NewProcessor(Config{Stuffing: StuffingReplaceWithNull}, []Selector{ByID(2)})
	ctx := context.Background()

	pat := patSection(0x1234, map[uint16]uint16{1: 0x101, 2: 0x102, 3: 0x103})
	out, err := p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))
	require.NoError(t, err)
	require.NotNil(t, out)

	gotPAT, err := tables.DeserializePAT(reassembleSingleSection(t, out))
	require.NoError(t, err)
	require.Len(t, gotPAT.Programs, 1)
	assert.Equal(t, uint16(2), gotPAT.Programs[0].ProgramNumber)
	assert.Equal(t, uint16(0x102), gotPAT.Programs[0].ProgramMapPID)

	sdt := sdtSection(0x1234, 0x1, []uint16{1, 2, 3})
	out, err = p.Feed(ctx, sectionPacket(t, pidSDT, 1, sdt))
	require.NoError(t, err)
	require.NotNil(t, out)
	gotSDT, err := tables.DeserializeSDT(reassembleSingleSection(t, out))
	require.NoError(t, err)
	require.Len(t, gotSDT.Services, 1)
	assert.Equal(t, uint16(2), gotSDT.Services[0].ServiceID)

	pmt2 := pmtSection(2, 0x0201, []testStream{{Type: tables.StreamTypeMPEG2Video, PID: 0x0201}})
	out, err = p.Feed(ctx, sectionPacket(t, 0x0102, 0, pmt2))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, ClassPes, p.classOf(0x0201))

	unselectedPMT := pmtSection(1, 0x0111, []testStream{{Type: tables.StreamTypeMPEG2Video, PID: 0x0111}})
	p.Feed(ctx, sectionPacket(t, 0x0101, 0, unselectedPMT))
	assert.Equal(t, ClassDrop, p.classOf(0x0111))

	pes, err := p.Feed(ctx, pesPacket(t, 0x0201, 0))
	require.NoError(t, err)
	require.NotNil(t, pes)
	assert.Equal(t, uint16(0x0201), pes.PID())

	drop101, err := p.Feed(ctx, pesPacket(t, 0x0101, 0))
	require.NoError(t, err)
	require.NotNil(t, drop101)
	assert.Equal(t, uint16(0x1fff), drop101.PID())

	drop103, err := p.Feed(ctx, pesPacket(t, 0x0103, 0))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1fff), drop103.PID())
}

func TestProcessorIgnoreAbsentToleratesMissingService(t *testing.T) {
	p := NewProcessor(Config{IgnoreAbsent: true}, []Selector{ByID(9)})
	ctx := context.Background()

	pat := patSection(0x1, map[uint16]uint16{1: 0x101})
	_, err := p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))
	require.NoError(t, err)
	assert.False(t, p.Abort)
}

func TestProcessorAbortsWhenServiceMissingAndNotIgnored(t *testing.T) {
	p := NewProcessor(Config{IgnoreAbsent: false}, []Selector{ByID(9)})
	ctx := context.Background()

	pat := patSection(0x1, map[uint16]uint16{1: 0x101})
	_, err := p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))
	require.NoError(t, err)
	assert.True(t, p.Abort)

	_, err = p.Feed(ctx, pesPacket(t, 0x0101, 0))
	assert.Error(t, err)
}

func TestProcessorNoECMStripsCADescriptors(t *testing.T) {
	p := NewProcessor(Config{NoECM: true}, []Selector{ByID(1)})
	ctx := context.Background()

	pat := patSection(0x1, map[uint16]uint16{1: 0x101})
	p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))

	caDescriptor := []byte{0x09, 0x06, 0x01, 0x00, 0xe0, 0x20, 0xaa, 0xbb}
	pmtPayload := []byte{0xff, 0xff, 0xf0, byte(len(caDescriptor))}
	pmtPayload = append(pmtPayload, caDescriptor...)
	pmt := tsip.NewLongSection(tables.TIDPmt, false, 1, 0, true, 0, 0, pmtPayload)
	p.Feed(ctx, sectionPacket(t, 0x0101, 0, pmt))

	assert.Equal(t, ClassDrop, p.classOf(0x0020), "CA_descriptor's ECM pid should not be registered under --no-ecm")
}

func TestProcessorECMDiscoversDataPID(t *testing.T) {
	p := NewProcessor(Config{}, []Selector{ByID(1)})
	ctx := context.Background()

	pat := patSection(0x1, map[uint16]uint16{1: 0x101})
	p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))

	caDescriptor := []byte{0x09, 0x06, 0x01, 0x00, 0xe0, 0x20, 0xaa, 0xbb}
	pmtPayload := []byte{0xff, 0xff, 0xf0, byte(len(caDescriptor))}
	pmtPayload = append(pmtPayload, caDescriptor...)
	pmt := tsip.NewLongSection(tables.TIDPmt, false, 1, 0, true, 0, 0, pmtPayload)
	p.Feed(ctx, sectionPacket(t, 0x0101, 0, pmt))

	assert.Equal(t, ClassData, p.classOf(0x0020))
}

func TestProcessorAudioLanguageFilter(t *testing.T) {
	p := NewProcessor(Config{AudioLangs: []string{"eng"}}, []Selector{ByID(1)})
	ctx := context.Background()

	pat := patSection(0x1, map[uint16]uint16{1: 0x101})
	p.Feed(ctx, sectionPacket(t, pidPAT, 0, pat))

	langDesc := []byte{0x65, 0x6e, 0x67, 0x00} // "eng" + audio_type
	frePayload := []byte{0x66, 0x72, 0x61, 0x00}

	payload := []byte{0xff, 0xff, 0xf0, 0x00}
	payload = append(payload, tables.StreamTypeMPEG2Audio, 0xe0, 0x02, 0xf0, byte(len(langDesc)+2))
	payload = append(payload, 0x0a, byte(len(langDesc)))
	payload = append(payload, langDesc...)
	payload = append(payload, tables.StreamTypeMPEG2Audio, 0xe0, 0x03, 0xf0, byte(len(frePayload)+2))
	payload = append(payload, 0x0a, byte(len(frePayload)))
	payload = append(payload, frePayload...)

	pmt := tsip.NewLongSection(tables.TIDPmt, false, 1, 0, true, 0, 0, payload)
	p.Feed(ctx, sectionPacket(t, 0x0101, 0, pmt))

	assert.Equal(t, ClassPes, p.classOf(0x0002), "English audio component should be kept")
	assert.Equal(t, ClassDrop, p.classOf(0x0003), "French audio component should be dropped")
}

// reassembleSingleSection wraps the output packet's section bytes back
// into a BinaryTable for a PAT/SDT section that fits entirely in one
// packet, as every fixture in this file does.
func reassembleSingleSection(t *testing.T, pkt *tsip.Packet) *tsip.BinaryTable {
	t.Helper()
	payload := pkt.Payload()
	require.NotEmpty(t, payload)
	pointer := int(payload[0])
	body := payload[1+pointer:]
	require.GreaterOrEqual(t, len(body), 3)
	sectionLength := int(body[1]&0xf)<<8 | int(body[2])
	total := 3 + sectionLength
	require.LessOrEqual(t, total, len(body))
	sec, err := tsip.NewSectionFromBytes(body[:total], pkt.PID(), tsip.CRCIgnore)
	require.NoError(t, err)
	table := tsip.NewBinaryTable()
	require.NoError(t, table.AddSection(sec))
	return table
}
