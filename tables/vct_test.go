package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func TestTVCTSerializeDeserializeRoundTrip(t *testing.T) {
	chanDesc, err := tsip.NewDescriptor(0xa1, []byte{0x01, 0x02})
	require.NoError(t, err)
	chanDescs := tsip.NewDescriptorList()
	chanDescs.Add(chanDesc)

	globalDesc, err := tsip.NewDescriptor(0xa0, []byte{0x03})
	require.NoError(t, err)
	globalDescs := tsip.NewDescriptorList()
	globalDescs.Add(globalDesc)

	vct := &VCT{
		TableID:           TIDTvct,
		TransportStreamID: 10,
		Version:           1,
		Current:           true,
		ProtocolVersion:   0,
		Descriptors:       globalDescs,
		Channels: []*VCTChannel{
			{
				ShortName:          "KABC",
				MajorChannelNumber: 7,
				MinorChannelNumber: 1,
				ModulationMode:     4,
				CarrierFrequency:   123456,
				ChannelTSID:        10,
				ProgramNumber:      1,
				ETMLocation:        1,
				AccessControlled:   false,
				Hidden:             false,
				HideGuide:          false,
				ServiceType:        2,
				SourceID:           100,
				Descriptors:        chanDescs,
			},
			{
				ShortName:          "KABC2",
				MajorChannelNumber: 7,
				MinorChannelNumber: 2,
				ProgramNumber:      2,
				ServiceType:        2,
				SourceID:           101,
				Descriptors:        tsip.NewDescriptorList(),
			},
		},
	}

	table := vct.Serialize()
	assert.Equal(t, TIDTvct, table.TableID())

	got, err := DeserializeTVCT(table)
	require.NoError(t, err)
	assert.Equal(t, vct.TransportStreamID, got.TransportStreamID)
	require.Len(t, got.Channels, 2)
	assert.Equal(t, "KABC", got.Channels[0].ShortName)
	assert.Equal(t, uint16(7), got.Channels[0].MajorChannelNumber)
	assert.Equal(t, uint16(1), got.Channels[0].MinorChannelNumber)
	assert.Equal(t, uint32(123456), got.Channels[0].CarrierFrequency)
	assert.Equal(t, uint16(100), got.Channels[0].SourceID)
	require.Equal(t, 1, got.Channels[0].Descriptors.Count())
	require.Equal(t, 1, got.Descriptors.Count())
}

func TestCVCTChannelFieldsRoundTrip(t *testing.T) {
	cvct := &VCT{
		TableID:           TIDCvct,
		TransportStreamID: 20,
		Version:           0,
		Current:           true,
		Descriptors:       tsip.NewDescriptorList(),
		Channels: []*VCTChannel{
			{
				ShortName:          "HBO",
				MajorChannelNumber: 2,
				MinorChannelNumber: 5,
				ProgramNumber:      3,
				PathSelect:         1,
				OutOfBand:          true,
				ServiceType:        2,
				SourceID:           200,
				Descriptors:        tsip.NewDescriptorList(),
			},
		},
	}

	got, err := DeserializeCVCT(cvct.Serialize())
	require.NoError(t, err)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, uint8(1), got.Channels[0].PathSelect)
	assert.True(t, got.Channels[0].OutOfBand)
}

func TestVCTSplitsAcrossSectionsWhenOversized(t *testing.T) {
	vct := &VCT{TableID: TIDTvct, TransportStreamID: 1, Version: 0, Current: true, Descriptors: tsip.NewDescriptorList()}
	for i := 0; i < 60; i++ {
		vct.Channels = append(vct.Channels, &VCTChannel{
			ShortName:          "CH",
			MajorChannelNumber: uint16(i + 1),
			MinorChannelNumber: 1,
			ProgramNumber:      uint16(i + 1),
			SourceID:           uint16(i + 1),
			Descriptors:        tsip.NewDescriptorList(),
		})
	}
	table := vct.Serialize()
	assert.Greater(t, table.SectionCount(), 1)

	got, err := DeserializeTVCT(table)
	require.NoError(t, err)
	assert.Len(t, got.Channels, 60)
}

func TestDeserializeTVCTRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeTVCT(pat.Serialize())
	require.Error(t, err)
}
