package demux

import tsip "github.com/tsflux/tsip"

// SectionFilter is a predicate over sections, used by tooling (cmd/tsprobe)
// to decide which sections/tables get displayed. Grounded on tsduck's
// TablesLoggerFilter: filter by PID, table id, or first-occurrence-only
// (SPEC_FULL §6). A CAS id can be recorded (WithCASID) but Accept does not
// apply it.
type SectionFilter struct {
	PIDs          map[uint16]bool
	TableIDs      map[uint8]bool
	CASID         int
	HasCASID      bool
	FirstOnly     bool

	seen map[tableKey]bool
}

// NewSectionFilter returns a filter that accepts everything until narrowed
// by the With* methods.
func NewSectionFilter() *SectionFilter {
	return &SectionFilter{seen: make(map[tableKey]bool)}
}

// WithPIDs restricts the filter to the given PIDs.
func (f *SectionFilter) WithPIDs(pids ...uint16) *SectionFilter {
	f.PIDs = make(map[uint16]bool, len(pids))
	for _, pid := range pids {
		f.PIDs[pid] = true
	}
	return f
}

// WithTableIDs restricts the filter to the given table ids.
func (f *SectionFilter) WithTableIDs(tids ...uint8) *SectionFilter {
	f.TableIDs = make(map[uint8]bool, len(tids))
	for _, tid := range tids {
		f.TableIDs[tid] = true
	}
	return f
}

// WithCASID records a single CAS id of interest. A Section carries no CAS
// context of its own (that comes from a CA descriptor inside a CAT/PMT), so
// Accept does not consult this field directly; callers that have resolved
// a section's CAS id out of band compare it against CASID themselves.
func (f *SectionFilter) WithCASID(casID int) *SectionFilter {
	f.CASID = casID
	f.HasCASID = true
	return f
}

// WithFirstOccurrenceOnly makes Accept return true only the first time a
// given (tid, tidext) key is seen (tid alone for short sections). The PID is
// not part of the key: the same table on two PIDs is accepted once.
func (f *SectionFilter) WithFirstOccurrenceOnly() *SectionFilter {
	f.FirstOnly = true
	return f
}

// Accept reports whether section passes the filter.
func (f *SectionFilter) Accept(section *tsip.Section) bool {
	if f.PIDs != nil && !f.PIDs[section.PID()] {
		return false
	}
	if f.TableIDs != nil && !f.TableIDs[section.TableID()] {
		return false
	}

	if f.FirstOnly {
		key := tableKey{tid: section.TableID()}
		if section.IsLongSection() {
			key.tidext = section.TableIDExtension()
		}
		if f.seen[key] {
			return false
		}
		f.seen[key] = true
	}

	return true
}
