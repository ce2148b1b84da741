package tsip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptorFromBytes(t *testing.T) {
	d, err := NewDescriptorFromBytes([]byte{0x09, 0x04, 0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x09), d.Tag())
	assert.Equal(t, 4, d.PayloadSize())
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, d.Payload())
	assert.Equal(t, 6, d.Size())

	_, err = NewDescriptorFromBytes([]byte{0x09, 0x05, 0x01})
	require.Error(t, err)
}

func TestNewDescriptor(t *testing.T) {
	d, err := NewDescriptor(0x48, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0x02, 0xaa, 0xbb}, d.Content())
}

func pdsDescriptor(pds uint32) *Descriptor {
	d, _ := NewDescriptor(TagPrivateDataSpecifier, []byte{
		byte(pds >> 24), byte(pds >> 16), byte(pds >> 8), byte(pds),
	})
	return d
}

func TestDescriptorListPDSPropagation(t *testing.T) {
	l := NewDescriptorList()

	generic, _ := NewDescriptor(0x09, []byte{0x01})
	l.Add(generic)
	assert.Equal(t, uint32(0), l.PDSAt(0))

	l.Add(pdsDescriptor(0xabcdef01))
	assert.Equal(t, uint32(0xabcdef01), l.PDSAt(1))

	private, _ := NewDescriptor(0x80, []byte{0x02})
	l.Add(private)
	assert.Equal(t, uint32(0xabcdef01), l.PDSAt(2))
}

func TestDescriptorListRemovePDSLegality(t *testing.T) {
	l := NewDescriptorList()
	l.Add(pdsDescriptor(0x1))
	private, _ := NewDescriptor(0x80, nil)
	l.Add(private)

	err := l.RemoveByIndex(0)
	require.ErrorIs(t, err, ErrPDSRemovalIllegal)

	l2 := NewDescriptorList()
	l2.Add(pdsDescriptor(0x1))
	generic, _ := NewDescriptor(0x09, nil)
	l2.Add(generic)
	require.NoError(t, l2.RemoveByIndex(0))
	assert.Equal(t, 1, l2.Count())
	assert.Equal(t, uint32(0), l2.PDSAt(0))
}

func TestDescriptorListSearchByTag(t *testing.T) {
	l := NewDescriptorList()
	a, _ := NewDescriptor(0x09, []byte{0x01})
	b, _ := NewDescriptor(0x0a, []byte{0x02})
	l.Add(a)
	l.Add(b)

	assert.Equal(t, 0, l.SearchByTag(0x09, nil, 0))
	assert.Equal(t, 1, l.SearchByTag(0x0a, nil, 0))
	assert.Equal(t, -1, l.SearchByTag(0xff, nil, 0))
}

func TestDescriptorListSearchByLanguage(t *testing.T) {
	l := NewDescriptorList()
	payload := []byte("eng")
	payload = append(payload, 0x00)
	d, _ := NewDescriptor(TagISO639Language, payload)
	l.Add(d)

	assert.Equal(t, 0, l.SearchByLanguage("eng"))
	assert.Equal(t, -1, l.SearchByLanguage("fra"))
}

func TestDescriptorListSearchSubtitles(t *testing.T) {
	l := NewDescriptorList()
	assert.Equal(t, SubtitleNotFound, l.SearchSubtitles("eng"))

	payload := append([]byte("fra"), 0x10, 0x00, 0x01, 0x00, 0x01)
	d, _ := NewDescriptor(TagSubtitling, payload)
	l.Add(d)

	assert.Equal(t, SubtitleFoundWrongLanguage, l.SearchSubtitles("eng"))
	assert.Equal(t, SubtitleFound, l.SearchSubtitles("fra"))
}

func TestDescriptorListEDIDTableSpecific(t *testing.T) {
	l := NewDescriptorList()
	l.SetTableID(0x42)
	d, _ := NewDescriptor(0x09, nil)
	l.Add(d)

	assert.Equal(t, 0, l.SearchByEDID(NewTableSpecificEDID(0x09, 0x42)))
	assert.Equal(t, -1, l.SearchByEDID(NewTableSpecificEDID(0x09, 0x43)))
}

func TestDescriptorListSerialize(t *testing.T) {
	l := NewDescriptorList()
	a, _ := NewDescriptor(0x09, []byte{0x01})
	l.Add(a)

	buf := make([]byte, 10)
	n := l.Serialize(buf, 2)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x09, 0x01, 0x01}, buf[2:5])
}

func TestDescriptorListLengthSerialize(t *testing.T) {
	l := NewDescriptorList()
	a, _ := NewDescriptor(0x09, []byte{0x01})
	l.Add(a)

	buf := make([]byte, 10)
	n := l.LengthSerialize(buf, 0, 12, 0xf000)
	assert.Equal(t, 5, n)
	assert.Equal(t, uint16(0xf000|3), (uint16(buf[0])<<8)|uint16(buf[1]))
}
