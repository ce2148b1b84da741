package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

// packetizeOnePerPacket wraps each section into its own 188-byte packet on
// pid, one section fully per packet (the simple case used by these tests:
// every section starts at the beginning of its own packet's payload).
func packetizeOnePerPacket(t *testing.T, pid uint16, cc *uint8, sections ...*tsip.Section) []*tsip.Packet {
	t.Helper()
	var packets []*tsip.Packet
	for _, s := range sections {
		data := make([]byte, tsip.PacketSize)
		data[0] = tsip.SyncByte
		data[1] = 0x40 | byte(pid>>8) // PUSI + PID high bits
		data[2] = byte(pid)
		data[3] = 0x10 | (*cc & 0xf) // payload only

		payload := data[4:]
		payload[0] = 0 // pointer_field = 0
		n := copy(payload[1:], s.Bytes())
		for i := 1 + n; i < len(payload); i++ {
			payload[i] = 0xff
		}

		*cc = (*cc + 1) % 16
		p, err := tsip.NewPacketFromBytes(data)
		require.NoError(t, err)
		packets = append(packets, p)
	}
	return packets
}

func patSection(tsID uint16, version uint8, programs map[uint16]uint16) *tsip.Section {
	payload := make([]byte, 0, 4*len(programs))
	for program, pid := range programs {
		payload = append(payload, byte(program>>8), byte(program), byte(0xe0|pid>>8), byte(pid))
	}
	return tsip.NewLongSection(0x00, false, tsID, version, true, 0, 0, payload)
}

func TestSectionDemuxPATAlone(t *testing.T) {
	var tables []*tsip.BinaryTable
	var sections []*tsip.Section

	d := NewSectionDemux(
		WithPIDs(0x00),
		WithTableHandler(func(table *tsip.BinaryTable) { tables = append(tables, table) }),
		WithSectionHandler(func(s *tsip.Section) { sections = append(sections, s) }),
	)

	sec := patSection(0x1234, 5, map[uint16]uint16{0x0001: 0x1001, 0x0002: 0x1002})
	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x00, &cc, sec) {
		d.Push(p)
	}

	require.Len(t, sections, 1)
	require.Len(t, tables, 1)
	table := tables[0]
	assert.Equal(t, uint8(0x00), table.TableID())
	assert.Equal(t, uint16(0x1234), table.TableIDExtension())
	assert.True(t, table.IsComplete())
}

func TestSectionDemuxLongTableSplit(t *testing.T) {
	var tables []*tsip.BinaryTable
	var sectionCount int

	d := NewSectionDemux(
		WithPIDs(0x20),
		WithTableHandler(func(table *tsip.BinaryTable) { tables = append(tables, table) }),
		WithSectionHandler(func(s *tsip.Section) { sectionCount++ }),
	)

	s0 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 0, 2, []byte{0x01})
	s1 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 1, 2, []byte{0x02})
	s2 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 2, 2, []byte{0x03})

	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x20, &cc, s0, s1, s2) {
		d.Push(p)
	}

	assert.Equal(t, 3, sectionCount)
	require.Len(t, tables, 1)
	assert.True(t, tables[0].IsComplete())
	assert.Equal(t, 3, tables[0].SectionCount())
}

func TestSectionDemuxVersionChangeMidStream(t *testing.T) {
	var tables []*tsip.BinaryTable

	d := NewSectionDemux(
		WithPIDs(0x20),
		WithTableHandler(func(table *tsip.BinaryTable) { tables = append(tables, table) }),
	)

	v7s0 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 0, 2, []byte{0x01})
	v8s0 := tsip.NewLongSection(0x42, false, 0x1, 8, true, 0, 0, []byte{0xff})
	v7s1 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 1, 2, []byte{0x02})
	v7s2 := tsip.NewLongSection(0x42, false, 0x1, 7, true, 2, 2, []byte{0x03})

	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x20, &cc, v7s0, v8s0, v7s1, v7s2) {
		d.Push(p)
	}

	// v8s0 alone completes a 1-section table (last=0); v7's table is
	// discarded when the interleaved version appears, so v7 never
	// completes (v7s1/v7s2 reopen a fresh, now-incomplete version-7 table).
	require.Len(t, tables, 1)
	assert.Equal(t, uint8(8), tables[0].Version())
}

func TestSectionDemuxCRCError(t *testing.T) {
	var invalid []error
	var sectionCount int

	d := NewSectionDemux(
		WithPIDs(0x20),
		WithSectionHandler(func(s *tsip.Section) { sectionCount++ }),
		WithInvalidSectionHandler(func(data []byte, reason error) { invalid = append(invalid, reason) }),
	)

	sec := tsip.NewLongSection(0x42, false, 0x1, 0, true, 0, 0, []byte{0x01, 0x02})
	tampered := append([]byte(nil), sec.Bytes()...)
	tampered[len(tampered)-1] ^= 0xff
	badSec, err := tsip.NewSectionFromBytes(tampered, 0, tsip.CRCIgnore)
	require.NoError(t, err)

	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x20, &cc, badSec) {
		d.Push(p)
	}

	assert.Equal(t, 0, sectionCount)
	require.Len(t, invalid, 1)
	assert.Equal(t, 1, d.InvalidSectionCount(0x20))
}

func TestSectionDemuxUnfilteredPIDIgnored(t *testing.T) {
	var tables []*tsip.BinaryTable
	d := NewSectionDemux(
		WithPIDs(0x00),
		WithTableHandler(func(table *tsip.BinaryTable) { tables = append(tables, table) }),
	)

	sec := patSection(0x1, 0, map[uint16]uint16{0x1: 0x100})
	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x01, &cc, sec) {
		d.Push(p)
	}

	assert.Empty(t, tables)
}

func TestSectionDemuxPackAndFlush(t *testing.T) {
	var tables []*tsip.BinaryTable
	d := NewSectionDemux(
		WithPIDs(0x20),
		WithTableHandler(func(table *tsip.BinaryTable) { tables = append(tables, table) }),
	)

	s0 := tsip.NewLongSection(0x42, false, 0x1, 1, true, 0, 2, []byte{0x01})
	s2 := tsip.NewLongSection(0x42, false, 0x1, 1, true, 2, 2, []byte{0x03})

	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x20, &cc, s0, s2) {
		d.Push(p)
	}
	assert.Empty(t, tables)

	d.PackAndFlush()
	require.Len(t, tables, 1)
	assert.Equal(t, 2, tables[0].SectionCount())
	assert.Equal(t, uint8(1), tables[0].LastSectionNumber())
}

func TestSectionDemuxReset(t *testing.T) {
	d := NewSectionDemux(WithPIDs(0x20))
	s0 := tsip.NewLongSection(0x42, false, 0x1, 1, true, 0, 1, []byte{0x01})
	cc := uint8(0)
	for _, p := range packetizeOnePerPacket(t, 0x20, &cc, s0) {
		d.Push(p)
	}
	assert.NotEmpty(t, d.states[0x20].openTables)

	d.Reset()
	assert.Empty(t, d.states[0x20].openTables)
}
