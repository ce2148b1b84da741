package tsip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func freshRegistry() *Registry { return &Registry{} }

func TestLookupTableExactPIDWins(t *testing.T) {
	r := freshRegistry()
	r.tables = []TableRegistration{
		{TID: 0xc7, Standards: StandardISDB, HasPID: false},
		{TID: 0xc7, Standards: StandardATSC, HasPID: true, PID: 0x1ffb},
	}

	reg, ok := r.LookupTable(0xc7, StandardATSC, 0x1ffb, CASIDAny)
	assert.True(t, ok)
	assert.True(t, reg.HasPID)
	assert.Equal(t, StandardATSC, reg.Standards)
}

func TestLookupTableStandardsFallback(t *testing.T) {
	r := freshRegistry()
	r.tables = []TableRegistration{
		{TID: 0x02, Standards: StandardMPEG},
	}

	reg, ok := r.LookupTable(0x02, StandardMPEG|StandardDVB, 0x100, CASIDAny)
	assert.True(t, ok)
	assert.Equal(t, StandardMPEG, reg.Standards)
}

func TestLookupTableCASRange(t *testing.T) {
	r := freshRegistry()
	r.tables = []TableRegistration{
		{TID: 0x80, Standards: StandardDVB, HasCASRange: true, CASIDMin: 0x500, CASIDMax: 0x5ff},
	}

	_, ok := r.LookupTable(0x80, StandardDVB, 0x100, 0x510)
	assert.True(t, ok)

	_, ok = r.LookupTable(0x80, StandardDVB, 0x100, 0x600)
	assert.False(t, ok)
}

func TestLookupTableCASAgnosticSingleton(t *testing.T) {
	r := freshRegistry()
	r.tables = []TableRegistration{
		{TID: 0x90, Standards: StandardDVB, HasCASRange: true, CASIDMin: 0x500, CASIDMax: 0x5ff},
		{TID: 0x90, Standards: StandardNone},
	}

	reg, ok := r.LookupTable(0x90, StandardDVB, 0x100, 0x600)
	assert.True(t, ok)
	assert.False(t, reg.HasCASRange)
}

func TestLookupTableAmbiguousCASAgnosticFails(t *testing.T) {
	r := freshRegistry()
	r.tables = []TableRegistration{
		{TID: 0x90, Standards: StandardNone},
		{TID: 0x90, Standards: StandardNone},
	}

	_, ok := r.LookupTable(0x90, StandardDVB, 0x100, CASIDAny)
	assert.False(t, ok)
}

func TestLookupDescriptorTableSpecific(t *testing.T) {
	r := freshRegistry()
	r.descriptors = []DescriptorRegistration{
		{EDID: NewTableSpecificEDID(0x41, 0x42)},
		{EDID: NewStandardEDID(0x41)},
	}

	reg, ok := r.LookupDescriptor(NewStandardEDID(0x41), 0x42, true)
	assert.True(t, ok)
	assert.Equal(t, EDIDTableSpecific, reg.EDID.Flavor)
}

func TestLookupDescriptorTableSpecificNoFallback(t *testing.T) {
	r := freshRegistry()
	r.descriptors = []DescriptorRegistration{
		{EDID: NewTableSpecificEDID(0x41, 0x99)},
		{EDID: NewStandardEDID(0x41)},
	}

	_, ok := r.LookupDescriptor(NewStandardEDID(0x41), 0x42, true)
	assert.False(t, ok)
}

func TestLookupDescriptorPlainEDID(t *testing.T) {
	r := freshRegistry()
	r.descriptors = []DescriptorRegistration{
		{EDID: NewStandardEDID(0x09)},
	}

	reg, ok := r.LookupDescriptor(NewStandardEDID(0x09), 0, false)
	assert.True(t, ok)
	assert.Equal(t, uint8(0x09), reg.EDID.Tag)
}
