package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func TestCATSerializeDeserializeRoundTrip(t *testing.T) {
	list := tsip.NewDescriptorList()
	d, err := tsip.NewDescriptor(0x09, []byte{0x00, 0x01, 0xe0, 0x10})
	require.NoError(t, err)
	list.Add(d)

	cat := &CAT{Version: 5, Current: true, Descriptors: list}
	got, err := DeserializeCAT(cat.Serialize())
	require.NoError(t, err)
	assert.Equal(t, uint8(5), got.Version)
	require.Equal(t, 1, got.Descriptors.Count())
	assert.Equal(t, uint8(0x09), got.Descriptors.At(0).Tag())
}

func TestCATTableIDExtensionIsAlwaysFFFF(t *testing.T) {
	cat := &CAT{Version: 0, Current: true, Descriptors: tsip.NewDescriptorList()}
	table := cat.Serialize()
	assert.Equal(t, uint16(0xffff), table.TableIDExtension())
}

func TestDeserializeCATRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeCAT(pat.Serialize())
	require.Error(t, err)
}
