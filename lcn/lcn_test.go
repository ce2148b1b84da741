package lcn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsip "github.com/tsflux/tsip"
)

func descEntry(serviceID uint16, visible bool, channel uint16) []byte {
	b := make([]byte, 4)
	b[0] = byte(serviceID >> 8)
	b[1] = byte(serviceID)
	b[2] = byte(channel >> 8 & 0x7f)
	if visible {
		b[2] |= 0x80
	}
	b[3] = byte(channel)
	return b
}

func TestGetLCNUnknownByDefault(t *testing.T) {
	m := New()
	assert.Equal(t, Unknown, m.GetLCN(Key{ServiceID: 1, TransportStreamID: 2, OriginalNetworkID: 3}))
}

func TestGetVisibleDefaultsTrue(t *testing.T) {
	m := New()
	assert.True(t, m.GetVisible(Key{ServiceID: 1, TransportStreamID: 2, OriginalNetworkID: 3}))
}

func TestAddFromDescriptorDecodesAllEntries(t *testing.T) {
	payload := append(descEntry(100, true, 5), descEntry(101, false, 6)...)
	d, err := tsip.NewDescriptor(TagLogicalChannel, payload)
	require.NoError(t, err)

	m := New()
	m.AddFromDescriptor(d, 1000, 2, FlavourDVB)

	k1 := Key{ServiceID: 100, TransportStreamID: 1000, OriginalNetworkID: 2}
	k2 := Key{ServiceID: 101, TransportStreamID: 1000, OriginalNetworkID: 2}
	assert.Equal(t, uint16(5), m.GetLCN(k1))
	assert.True(t, m.GetVisible(k1))
	assert.Equal(t, uint16(6), m.GetLCN(k2))
	assert.False(t, m.GetVisible(k2))
}

func TestHigherPriorityFlavourOverridesLowerPriority(t *testing.T) {
	m := New()
	key := Key{ServiceID: 100, TransportStreamID: 1000, OriginalNetworkID: 2}
	m.Add(key, 5, true, FlavourAstraSGT)
	m.Add(key, 9, true, FlavourDVBHD)
	assert.Equal(t, uint16(9), m.GetLCN(key))
}

func TestLowerPriorityFlavourDoesNotOverrideHigherPriority(t *testing.T) {
	m := New()
	key := Key{ServiceID: 100, TransportStreamID: 1000, OriginalNetworkID: 2}
	m.Add(key, 9, true, FlavourNordigV2)
	m.Add(key, 5, true, FlavourAstraSGT)
	assert.Equal(t, uint16(9), m.GetLCN(key))
}

func TestAddFromSGT(t *testing.T) {
	m := New()
	m.AddFromSGT([]AstraSGTEntry{{ServiceID: 7, Channel: 42}}, 1, 2)
	key := Key{ServiceID: 7, TransportStreamID: 1, OriginalNetworkID: 2}
	assert.Equal(t, uint16(42), m.GetLCN(key))
	assert.True(t, m.GetVisible(key))
}

func TestResetClearsEntries(t *testing.T) {
	m := New()
	key := Key{ServiceID: 7, TransportStreamID: 1, OriginalNetworkID: 2}
	m.Add(key, 42, true, FlavourDVB)
	m.Reset()
	assert.Equal(t, Unknown, m.GetLCN(key))
}
