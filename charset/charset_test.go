package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDesignatorKnown(t *testing.T) {
	cs, err := ForDesignator(0x05)
	require.NoError(t, err)
	assert.Equal(t, "ISO-8859-9", cs.Name())
}

func TestForDesignatorUnknown(t *testing.T) {
	_, err := ForDesignator(0xff)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDefaultRoundTrip(t *testing.T) {
	encoded, err := Default.Encode("Café")
	require.NoError(t, err)
	decoded, err := Default.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Café", decoded)
}

func TestISO8859_5RoundTrip(t *testing.T) {
	cs, err := ForDesignator(0x01)
	require.NoError(t, err)
	encoded, err := cs.Encode("Привет")
	require.NoError(t, err)
	decoded, err := cs.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Привет", decoded)
}
