package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func TestEITSerializeDeserializeRoundTrip(t *testing.T) {
	nameDesc, err := tsip.NewDescriptor(0x4d, []byte{0x65, 0x6e, 0x67, 0x01, 'A', 0x01, 'B'})
	require.NoError(t, err)
	evDescs := tsip.NewDescriptorList()
	evDescs.Add(nameDesc)

	eit := &EIT{
		ServiceID:                100,
		TransportStreamID:        1,
		OriginalNetworkID:        2,
		TableID:                  TIDEitPFActual,
		Version:                  3,
		Current:                  true,
		SegmentLastSectionNumber: 0,
		LastTableID:              TIDEitPFActual,
		Events: []*EITEvent{
			{
				EventID:       1,
				StartTime:     time.Date(2026, time.July, 31, 20, 0, 0, 0, time.UTC),
				Duration:      90 * time.Minute,
				RunningStatus: RunningStatusRunning,
				FreeCAMode:    false,
				Descriptors:   evDescs,
			},
			{
				EventID:       2,
				StartTime:     time.Date(2026, time.July, 31, 21, 30, 0, 0, time.UTC),
				Duration:      30 * time.Minute,
				RunningStatus: RunningStatusUndefined,
				FreeCAMode:    true,
				Descriptors:   tsip.NewDescriptorList(),
			},
		},
	}

	table := eit.Serialize()
	assert.Equal(t, TIDEitPFActual, table.TableID())
	assert.True(t, IsPresentFollowing(table.TableID()))
	assert.True(t, IsActual(table.TableID()))

	got, err := DeserializeEIT(table)
	require.NoError(t, err)
	assert.Equal(t, eit.ServiceID, got.ServiceID)
	assert.Equal(t, eit.TransportStreamID, got.TransportStreamID)
	assert.Equal(t, eit.OriginalNetworkID, got.OriginalNetworkID)
	require.Len(t, got.Events, 2)
	assert.Equal(t, uint16(1), got.Events[0].EventID)
	assert.Equal(t, eit.Events[0].StartTime.Unix(), got.Events[0].StartTime.Unix())
	assert.InDelta(t, eit.Events[0].Duration.Seconds(), got.Events[0].Duration.Seconds(), 1)
	assert.Equal(t, RunningStatusRunning, got.Events[0].RunningStatus)
	require.Equal(t, 1, got.Events[0].Descriptors.Count())
	assert.True(t, got.Events[1].FreeCAMode)
}

func TestEITScheduleTableIDRanges(t *testing.T) {
	assert.True(t, IsSchedule(TIDEitSchedStart))
	assert.True(t, IsSchedule(TIDEitSchedEnd))
	assert.False(t, IsSchedule(TIDEitPFActual))
	assert.True(t, IsActual(TIDEitSchedStart))
	assert.False(t, IsActual(TIDEitPFOther))
}

func TestDeserializeEITRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeEIT(pat.Serialize())
	require.Error(t, err)
}
