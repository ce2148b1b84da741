package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsflux/tsip/lcn"
)

func TestSGTSerializeDeserializeRoundTrip(t *testing.T) {
	sgt := &SGT{
		Version: 1,
		Current: true,
		Entries: []*SGTEntry{
			{ServiceID: 10, Channel: 101},
			{ServiceID: 11, Channel: 102},
		},
	}

	table := sgt.Serialize()
	assert.Equal(t, TIDSgt, table.TableID())

	got, err := DeserializeSGT(table)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, uint16(10), got.Entries[0].ServiceID)
	assert.Equal(t, uint16(101), got.Entries[0].Channel)
	assert.Equal(t, uint16(102), got.Entries[1].Channel)
}

func TestSGTToLCNEntriesFeedsLCNMap(t *testing.T) {
	sgt := &SGT{Entries: []*SGTEntry{{ServiceID: 7, Channel: 42}}}
	m := lcn.New()
	m.AddFromSGT(sgt.ToLCNEntries(), 1, 2)

	key := lcn.Key{ServiceID: 7, TransportStreamID: 1, OriginalNetworkID: 2}
	assert.Equal(t, uint16(42), m.GetLCN(key))
	assert.True(t, m.GetVisible(key))
}

func TestDeserializeSGTRejectsWrongTableID(t *testing.T) {
	pat := &PAT{TransportStreamID: 1, Version: 0, Current: true}
	_, err := DeserializeSGT(pat.Serialize())
	require.Error(t, err)
}
