package tsip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longSec(secNo, lastSecNo uint8, version uint8, payload []byte) *Section {
	return NewLongSection(0x02, false, 0x1234, version, true, secNo, lastSecNo, payload)
}

func TestBinaryTableAddSectionAndComplete(t *testing.T) {
	table := NewBinaryTable()
	require.NoError(t, table.AddSection(longSec(0, 1, 3, []byte{0x01})))
	assert.False(t, table.IsComplete())
	require.NoError(t, table.AddSection(longSec(1, 1, 3, []byte{0x02})))
	assert.True(t, table.IsComplete())
	assert.Equal(t, 2, table.SectionCount())
}

func TestBinaryTableIdempotentReAdd(t *testing.T) {
	table := NewBinaryTable()
	s := longSec(0, 0, 3, []byte{0x01})
	require.NoError(t, table.AddSection(s))
	require.NoError(t, table.AddSection(s))
	assert.Equal(t, 1, table.SectionCount())
}

func TestBinaryTableConflictRejectedByDefault(t *testing.T) {
	table := NewBinaryTable()
	require.NoError(t, table.AddSection(longSec(0, 0, 3, []byte{0x01})))
	err := table.AddSection(longSec(0, 0, 3, []byte{0x02}))
	require.ErrorIs(t, err, ErrTableSectionConflict)
}

func TestBinaryTableConflictReplacedWithOption(t *testing.T) {
	table := NewBinaryTable(BinaryTableOptReplaceOnConflict())
	require.NoError(t, table.AddSection(longSec(0, 0, 3, []byte{0x01})))
	require.NoError(t, table.AddSection(longSec(0, 0, 3, []byte{0x02})))
	assert.Equal(t, []byte{0x02}, table.SectionAt(0).Payload())
}

func TestBinaryTableMismatchRejected(t *testing.T) {
	table := NewBinaryTable()
	require.NoError(t, table.AddSection(longSec(0, 1, 3, []byte{0x01})))
	mismatched := NewLongSection(0x02, false, 0x9999, 3, true, 1, 1, []byte{0x02})
	err := table.AddSection(mismatched)
	require.ErrorIs(t, err, ErrTableMismatch)
}

func TestBinaryTablePackSectionsIdempotent(t *testing.T) {
	table := NewBinaryTable()
	require.NoError(t, table.AddSection(longSec(0, 2, 1, []byte{0x01})))
	require.NoError(t, table.AddSection(longSec(2, 2, 1, []byte{0x03})))

	packed := table.PackSections()
	assert.Equal(t, 2, packed.SectionCount())
	assert.Equal(t, uint8(1), packed.LastSectionNumber())
	assert.Equal(t, []byte{0x01}, packed.SectionAt(0).Payload())
	assert.Equal(t, []byte{0x03}, packed.SectionAt(1).Payload())

	repacked := packed.PackSections()
	assert.Equal(t, packed.SectionCount(), repacked.SectionCount())
	assert.Equal(t, packed.LastSectionNumber(), repacked.LastSectionNumber())
}

func TestBinaryTableShortSectionSingleton(t *testing.T) {
	table := NewBinaryTable()
	s := NewShortSection(0x70, false, []byte{0xaa})
	require.NoError(t, table.AddSection(s))
	assert.True(t, table.IsComplete())
	assert.False(t, table.IsLongTable())
}

func TestBinaryTableTotalSize(t *testing.T) {
	table := NewBinaryTable()
	s0 := longSec(0, 1, 1, []byte{0x01, 0x02})
	s1 := longSec(1, 1, 1, []byte{0x03})
	require.NoError(t, table.AddSection(s0))
	require.NoError(t, table.AddSection(s1))
	assert.Equal(t, s0.Size()+s1.Size(), table.TotalSize())
}
