package tsip

import "sync"

// Standards is a bitmask of the signalling standards a table or descriptor
// registration applies to.
type Standards uint32

const (
	StandardNone Standards = 0
	StandardMPEG Standards = 1 << 0
	StandardDVB  Standards = 1 << 1
	StandardATSC Standards = 1 << 2
	StandardISDB Standards = 1 << 3
	StandardSCTE Standards = 1 << 4
	// StandardAny matches regardless of the standards mask in effect.
	StandardAny Standards = 0xffffffff
)

// PIDAny is the sentinel PID meaning "not tied to a specific PID".
const PIDAny uint16 = 0xffff

// CASIDAny disables CAS-range restriction on a table registration.
const CASIDAny = -1

// TableFactory constructs a typed table value from a complete BinaryTable.
// The concrete return type is defined by the tables sub-package; this
// package only stores and dispatches the constructor.
type TableFactory func(*BinaryTable) (interface{}, error)

// TableDisplayFunc renders a human-readable view of a table section.
type TableDisplayFunc func(table *BinaryTable, depth int) string

// TableRegistration describes one (tid, standards, pid, cas) table binding.
type TableRegistration struct {
	TID         uint8
	Standards   Standards
	PID         uint16 // meaningful only if HasPID
	HasPID      bool
	CASIDMin    int
	CASIDMax    int
	HasCASRange bool
	Factory     TableFactory
	Display     TableDisplayFunc
	XMLNames    []string
}

func (r TableRegistration) casInRange(casID int) bool {
	if !r.HasCASRange {
		return true
	}
	return casID >= r.CASIDMin && casID <= r.CASIDMax
}

// DescriptorFactory constructs a typed descriptor value from a Descriptor.
type DescriptorFactory func(*Descriptor) (interface{}, error)

// DescriptorDisplayFunc renders a human-readable view of a descriptor.
type DescriptorDisplayFunc func(d *Descriptor, depth int) string

// DescriptorRegistration describes one EDID(+tid) descriptor binding.
type DescriptorRegistration struct {
	EDID     EDID
	Factory  DescriptorFactory
	Display  DescriptorDisplayFunc
	XMLNames []string
}

// RegistryContext holds process-wide defaults kept alongside the registry,
// mirroring the original's DuckContext (SPEC_FULL §6). Nothing in this
// module reads it: lookups take their standards mask as an argument, and
// the charset package does not consult it.
type RegistryContext struct {
	DefaultStandards Standards
	DefaultPDS       uint32
	DefaultCharset   string
}

// Registry is a process-wide singleton of table and descriptor factories,
// built once at program start and read-only thereafter (spec §4.6, §9).
type Registry struct {
	mu          sync.RWMutex
	tables      []TableRegistration
	descriptors []DescriptorRegistration
	Context     RegistryContext
}

// defaultRegistry is the single process-wide Registry instance.
var defaultRegistry = &Registry{}

// DefaultRegistry returns the process-wide Registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// RegisterTable adds a table registration to the default registry. The
// tables sub-package does not call it.
func RegisterTable(reg TableRegistration) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.tables = append(defaultRegistry.tables, reg)
}

// RegisterDescriptor adds a descriptor registration to the default registry.
func RegisterDescriptor(reg DescriptorRegistration) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.descriptors = append(defaultRegistry.descriptors, reg)
}

// LookupTable resolves a table registration per spec §4.6: exact
// (tid, pid) match wins first; otherwise the first registration whose
// standards mask intersects the caller's and whose CAS range (if any)
// contains casID; otherwise, if exactly one CAS-agnostic registration for
// this tid exists, that one; otherwise none.
func (r *Registry) LookupTable(tid uint8, standards Standards, pid uint16, casID int) (TableRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.tables {
		if reg.TID == tid && reg.HasPID && reg.PID == pid {
			return reg, true
		}
	}

	for _, reg := range r.tables {
		if reg.TID != tid || reg.HasPID {
			continue
		}
		if reg.Standards != StandardAny && standards&reg.Standards == 0 {
			continue
		}
		if !reg.casInRange(casID) {
			continue
		}
		return reg, true
	}

	var onlyMatch TableRegistration
	matches := 0
	for _, reg := range r.tables {
		if reg.TID != tid || reg.HasPID || reg.HasCASRange {
			continue
		}
		matches++
		onlyMatch = reg
	}
	if matches == 1 {
		return onlyMatch, true
	}

	return TableRegistration{}, false
}

// LookupDescriptor resolves a descriptor registration per spec §4.6: if tag
// is standard (non-private) and a tid is supplied, a table-specific
// registration for that tid wins; if a table-specific registration exists
// for this tag under a *different* tid, no fallback to the plain EDID
// occurs. Otherwise the plain EDID is used.
func (r *Registry) LookupDescriptor(edid EDID, tid uint8, hasTID bool) (DescriptorRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if edid.Flavor == EDIDStandard && hasTID {
		tableSpecificExistsElsewhere := false
		for _, reg := range r.descriptors {
			if reg.EDID.Flavor != EDIDTableSpecific || reg.EDID.Tag != edid.Tag {
				continue
			}
			if reg.EDID.TableID == tid {
				return reg, true
			}
			tableSpecificExistsElsewhere = true
		}
		if tableSpecificExistsElsewhere {
			return DescriptorRegistration{}, false
		}
	}

	for _, reg := range r.descriptors {
		if reg.EDID == edid {
			return reg, true
		}
	}
	return DescriptorRegistration{}, false
}
