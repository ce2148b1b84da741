package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func TestSVCTSerializeDeserializeRoundTrip(t *testing.T) {
	svct := &SVCT{
		SVCTSubtype:     1,
		SVCTID:          2,
		Version:         1,
		Current:         true,
		ProtocolVersion: 0,
		Descriptors:     tsip.NewDescriptorList(),
		Channels: []*SVCTChannel{
			{
				ShortName:          "ASTRA1",
				MajorChannelNumber: 99,
				MinorChannelNumber: 4,
				ModulationMode:     3,
				CarrierFrequencyHz: 12345600000,
				CarrierSymbolRate:  27500000,
				Polarization:       2,
				FECInner:           5,
				ChannelTSID:        500,
				ProgramNumber:      600,
				ETMLocation:        1,
				Hidden:             false,
				HideGuide:          true,
				ServiceType:        2,
				SourceID:           700,
				FeedID:             9,
				Descriptors:        tsip.NewDescriptorList(),
			},
		},
	}

	table := svct.Serialize()
	assert.Equal(t, TIDSvct, table.TableID())

	got, err := DeserializeSVCT(table)
	require.NoError(t, err)
	assert.Equal(t, svct.SVCTSubtype, got.SVCTSubtype)
	assert.Equal(t, svct.SVCTID, got.SVCTID)
	require.Len(t, got.Channels, 1)
	ch := got.Channels[0]
	assert.Equal(t, "ASTRA1", ch.ShortName)
	assert.Equal(t, uint16(99), ch.MajorChannelNumber)
	assert.Equal(t, uint16(4), ch.MinorChannelNumber)
	assert.Equal(t, uint8(3), ch.ModulationMode)
	assert.Equal(t, uint64(12345600000), ch.CarrierFrequencyHz)
	assert.Equal(t, uint32(27500000), ch.CarrierSymbolRate)
	assert.Equal(t, uint8(2), ch.Polarization)
	assert.Equal(t, uint16(500), ch.ChannelTSID)
	assert.Equal(t, uint16(700), ch.SourceID)
	assert.True(t, ch.HideGuide)
	assert.Equal(t, uint8(9), ch.FeedID)
}

func TestDeserializeSVCTRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeSVCT(pat.Serialize())
	require.Error(t, err)
}
