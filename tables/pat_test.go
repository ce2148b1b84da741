package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPATSerializeDeserializeRoundTrip(t *testing.T) {
	pat := &PAT{
		TransportStreamID: 1,
		Version:           3,
		Current:           true,
		NITPID:            0x0010,
		Programs: []*PATProgram{
			{ProgramNumber: 0, ProgramMapPID: 0x0010},
			{ProgramNumber: 100, ProgramMapPID: 0x0101},
			{ProgramNumber: 101, ProgramMapPID: 0x0102},
		},
	}

	table := pat.Serialize()
	require.True(t, table.IsComplete())

	got, err := DeserializePAT(table)
	require.NoError(t, err)
	assert.Equal(t, pat.TransportStreamID, got.TransportStreamID)
	assert.Equal(t, pat.Version, got.Version)
	assert.Equal(t, pat.NITPID, got.NITPID)
	require.Len(t, got.Programs, 2)
	assert.Equal(t, uint16(100), got.Programs[0].ProgramNumber)
	assert.Equal(t, uint16(0x0102), got.Programs[1].ProgramMapPID)
}

func TestPATSplitsAcrossSectionsWhenOversized(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	for i := 0; i < 300; i++ {
		pat.Programs = append(pat.Programs, &PATProgram{ProgramNumber: uint16(i + 1), ProgramMapPID: uint16(0x100 + i)})
	}

	table := pat.Serialize()
	assert.Greater(t, table.SectionCount(), 1)

	got, err := DeserializePAT(table)
	require.NoError(t, err)
	assert.Len(t, got.Programs, 300)
}

func TestDeserializePATRejectsWrongTableID(t *testing.T) {
	cat := &CAT{Version: 0, Current: true}
	_, err := DeserializePAT(cat.Serialize())
	require.Error(t, err)
}
