package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func TestSTTSerializeDeserializeRoundTrip(t *testing.T) {
	systemTime := gpsEpoch.Add(1_400_000_000 * time.Second)
	stt := &STT{
		Version:         2,
		Current:         true,
		ProtocolVersion: 0,
		SystemTime:      systemTime,
		GPSUTCOffset:    18,
		DSStatus:        true,
		DSDayOfMonth:    15,
		DSHour:          2,
		Descriptors:     tsip.NewDescriptorList(),
	}

	table := stt.Serialize()
	assert.Equal(t, TIDStt, table.TableID())

	got, err := DeserializeSTT(table)
	require.NoError(t, err)
	assert.Equal(t, stt.SystemTime.Unix(), got.SystemTime.Unix())
	assert.Equal(t, stt.GPSUTCOffset, got.GPSUTCOffset)
	assert.True(t, got.DSStatus)
	assert.Equal(t, uint8(15), got.DSDayOfMonth)
	assert.Equal(t, uint8(2), got.DSHour)

	wantUTC := systemTime.Add(-18 * time.Second)
	assert.Equal(t, wantUTC.Unix(), got.UTCTime().Unix())
}

func TestDeserializeSTTRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeSTT(pat.Serialize())
	require.Error(t, err)
}
