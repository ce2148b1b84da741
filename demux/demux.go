// Package demux implements the stateful, per-PID section and table
// reassembler described by spec.md §4.5 (the hardest part of the core).
package demux

import (
	"errors"
	"fmt"

	tsip "github.com/tsflux/tsip"
)

// EIT table id range, ETSI EN 300 468 §5.2.4: present/following and
// schedule tables, this TS and other TS.
const (
	EITTableIDMin uint8 = 0x4e
	EITTableIDMax uint8 = 0x6f
)

var (
	// ErrContinuityError signals a PID's continuity counter skipped a value.
	ErrContinuityError = errors.New("demux: continuity error")
	// ErrTruncatedSection signals a PUSI pointer field claiming more prior
	// bytes than were actually available.
	ErrTruncatedSection = errors.New("demux: truncated section")
	// ErrSectionTooLarge signals a section_length implying a size beyond the
	// private-section cap.
	ErrSectionTooLarge = errors.New("demux: section too large")
)

// SectionHandler is invoked for every complete, validated section on a
// filtered PID.
type SectionHandler func(section *tsip.Section)

// TableHandler is invoked for every complete, new-version table.
type TableHandler func(table *tsip.BinaryTable)

// InvalidSectionHandler is invoked when bytes that looked like the start of
// a section failed validation.
type InvalidSectionHandler func(data []byte, reason error)

// Option configures a SectionDemux at construction.
type Option func(*SectionDemux)

// WithPIDs seeds the initial PID filter set.
func WithPIDs(pids ...uint16) Option {
	return func(d *SectionDemux) {
		for _, pid := range pids {
			d.AddPID(pid)
		}
	}
}

// WithSectionHandler sets the on_section callback.
func WithSectionHandler(h SectionHandler) Option {
	return func(d *SectionDemux) { d.onSection = h }
}

// WithTableHandler sets the on_table callback.
func WithTableHandler(h TableHandler) Option {
	return func(d *SectionDemux) { d.onTable = h }
}

// WithInvalidSectionHandler sets the on_invalid_section callback.
func WithInvalidSectionHandler(h InvalidSectionHandler) Option {
	return func(d *SectionDemux) { d.onInvalidSection = h }
}

// WithCurrentNext controls acceptance of current/next sections
// (current_next_indicator). Both default to true.
func WithCurrentNext(useCurrent, useNext bool) Option {
	return func(d *SectionDemux) {
		d.useCurrent = useCurrent
		d.useNext = useNext
	}
}

// WithAllVersionsMode makes on_table fire for every completed table version,
// instead of suppressing re-delivery of an already-seen version. Used for
// logging tools that want to see version churn.
func WithAllVersionsMode(allVersions bool) Option {
	return func(d *SectionDemux) { d.allVersions = allVersions }
}

type tableKey struct {
	tid    uint8
	tidext uint16
}

type pidState struct {
	hasCC      bool
	lastCC     uint8
	expectedCC uint8
	pending    []byte

	openTables map[tableKey]*tsip.BinaryTable
	delivered  map[tableKey]uint8

	continuityErrors int
	invalidSections  int
}

func newPIDState() *pidState {
	return &pidState{
		openTables: make(map[tableKey]*tsip.BinaryTable),
		delivered:  make(map[tableKey]uint8),
	}
}

// SectionDemux is a stateful, PID-filtered packet consumer that reassembles
// TS payload into sections and tables (spec §4.5). It is not safe for
// concurrent use by multiple goroutines; spec §5 models it as owned by
// exactly one packet-processing task.
type SectionDemux struct {
	filter map[uint16]bool
	states map[uint16]*pidState

	onSection        SectionHandler
	onTable          TableHandler
	onInvalidSection InvalidSectionHandler

	useCurrent  bool
	useNext     bool
	allVersions bool
}

// NewSectionDemux returns a SectionDemux configured by opts.
func NewSectionDemux(opts ...Option) *SectionDemux {
	d := &SectionDemux{
		filter:     make(map[uint16]bool),
		states:     make(map[uint16]*pidState),
		useCurrent: true,
		useNext:    true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddPID starts reassembling the given PID immediately.
func (d *SectionDemux) AddPID(pid uint16) {
	d.filter[pid] = true
	if _, ok := d.states[pid]; !ok {
		d.states[pid] = newPIDState()
	}
}

// RemovePID stops reassembling pid and discards its buffered state.
func (d *SectionDemux) RemovePID(pid uint16) {
	delete(d.filter, pid)
	delete(d.states, pid)
}

// Reset clears all per-PID state and the delivered-version map, for every
// filtered PID.
func (d *SectionDemux) Reset() {
	for pid := range d.states {
		d.states[pid] = newPIDState()
	}
}

func (d *SectionDemux) invalid(data []byte, reason error) {
	if d.onInvalidSection != nil {
		d.onInvalidSection(data, reason)
	}
}

// Push feeds one TS packet through the demultiplexer, per the packet
// ingestion algorithm of spec §4.5.
func (d *SectionDemux) Push(pkt *tsip.Packet) {
	pid := pkt.PID()
	if !d.filter[pid] {
		return
	}
	if pkt.TransportErrorIndicator() {
		return
	}
	if pkt.ScramblingControl() != tsip.ScramblingControlNotScrambled {
		return
	}

	st := d.states[pid]
	if st == nil {
		st = newPIDState()
		d.states[pid] = st
	}

	if d.checkContinuity(pid, st, pkt) {
		// Duplicate packet: already accounted for in checkContinuity, and
		// its payload must not be appended again or it would double-count
		// bytes and corrupt section reassembly (spec §4.5/§7).
		return
	}

	payload := pkt.Payload()
	if payload == nil || len(payload) == 0 {
		return
	}

	if pkt.PayloadUnitStartIndicator() {
		pointer := int(payload[0])
		if pointer+1 > len(payload) {
			st.pending = nil
			st.invalidSections++
			d.invalid(payload, fmt.Errorf("%w: pointer_field %d exceeds payload", ErrTruncatedSection, pointer))
			return
		}
		before := payload[1 : 1+pointer]
		after := payload[1+pointer:]

		st.pending = append(st.pending, before...)
		d.extractSections(pid, st)

		st.pending = append([]byte(nil), after...)
		d.extractSections(pid, st)
	} else {
		st.pending = append(st.pending, payload...)
		d.extractSections(pid, st)
	}
}

// checkContinuity validates pkt's continuity_counter against st and updates
// st accordingly. It reports whether pkt is a duplicate of the last packet
// on this PID and must be dropped before any payload processing.
func (d *SectionDemux) checkContinuity(pid uint16, st *pidState, pkt *tsip.Packet) bool {
	cc := pkt.ContinuityCounter()
	hasPayload := pkt.HasPayload()

	if st.hasCC {
		if hasPayload && cc == st.lastCC {
			// Duplicate packet: silently ignored, per spec §7.
			return true
		}
		if cc != st.expectedCC {
			st.pending = nil
			st.continuityErrors++
			d.invalid(nil, ErrContinuityError)
		}
	}

	if hasPayload {
		st.lastCC = cc
		st.expectedCC = (cc + 1) % 16
		st.hasCC = true
	}
	return false
}

// extractSections pulls as many complete sections as possible out of
// st.pending, per spec §4.5 step 5.
func (d *SectionDemux) extractSections(pid uint16, st *pidState) {
	for {
		if len(st.pending) == 0 {
			return
		}
		if st.pending[0] == 0xff {
			// Stuffing: this byte and all trailing 0xFF end extraction.
			st.pending = nil
			return
		}
		if len(st.pending) < 3 {
			return
		}

		sectionLength := tsip.PeekSectionLength(st.pending[1], st.pending[2])
		expected := 3 + sectionLength
		if expected > tsip.MaxSectionSizePrivate {
			data := st.pending
			st.pending = nil
			st.invalidSections++
			d.invalid(data, ErrSectionTooLarge)
			return
		}
		if len(st.pending) < expected {
			return
		}

		data := st.pending[:expected]
		st.pending = st.pending[expected:]

		section, err := tsip.NewSectionFromBytes(data, pid, tsip.CRCCheck)
		if err != nil {
			st.invalidSections++
			d.invalid(data, err)
			continue
		}

		if d.onSection != nil {
			d.onSection(section)
		}
		d.reassembleTable(st, section)
	}
}

// reassembleTable implements spec §4.5.1.
func (d *SectionDemux) reassembleTable(st *pidState, section *tsip.Section) {
	if !section.IsLongSection() {
		table := tsip.NewBinaryTable()
		_ = table.AddSection(section)
		if d.onTable != nil {
			d.onTable(table)
		}
		return
	}

	if !d.useCurrent && section.IsCurrent() {
		return
	}
	if !d.useNext && !section.IsCurrent() {
		return
	}

	key := tableKey{tid: section.TableID(), tidext: section.TableIDExtension()}

	if !d.allVersions {
		if v, ok := st.delivered[key]; ok && v == section.Version() {
			return
		}
	}

	open := st.openTables[key]
	if open == nil || open.Version() != section.Version() {
		open = tsip.NewBinaryTable(tsip.BinaryTableOptReplaceOnConflict())
		st.openTables[key] = open
	}

	if err := open.AddSection(section); err != nil {
		return
	}

	if open.IsComplete() {
		if d.onTable != nil {
			d.onTable(open)
		}
		st.delivered[key] = section.Version()
		delete(st.openTables, key)
	}
}

// PackAndFlush delivers every still-partial table across every filtered PID
// as a best-effort, packed (renumbered, possibly inconsistent) BinaryTable,
// then clears the partial-table state.
func (d *SectionDemux) PackAndFlush() {
	for _, st := range d.states {
		for key, table := range st.openTables {
			packed := table.PackSections()
			if d.onTable != nil {
				d.onTable(packed)
			}
			delete(st.openTables, key)
		}
	}
}

// FillAndFlushEITs materializes missing sections of still-partial EIT
// tables as empty sections so each becomes complete, delivers it, then
// clears the partial-table state. Non-EIT partial tables are untouched.
func (d *SectionDemux) FillAndFlushEITs() {
	for _, st := range d.states {
		for key, table := range st.openTables {
			if key.tid < EITTableIDMin || key.tid > EITTableIDMax {
				continue
			}
			filled := fillMissingSections(table)
			if d.onTable != nil {
				d.onTable(filled)
			}
			delete(st.openTables, key)
		}
	}
}

func fillMissingSections(table *tsip.BinaryTable) *tsip.BinaryTable {
	filled := tsip.NewBinaryTable(tsip.BinaryTableOptReplaceOnConflict())
	last := table.LastSectionNumber()
	for i := 0; i <= int(last); i++ {
		if s := table.SectionAt(i); s != nil {
			_ = filled.AddSection(s)
			continue
		}
		empty := tsip.NewLongSection(table.TableID(), false, table.TableIDExtension(), table.Version(), true, uint8(i), last, nil)
		_ = filled.AddSection(empty)
	}
	return filled
}

// ContinuityErrorCount returns the running continuity-error count for pid.
func (d *SectionDemux) ContinuityErrorCount(pid uint16) int {
	if st, ok := d.states[pid]; ok {
		return st.continuityErrors
	}
	return 0
}

// InvalidSectionCount returns the running invalid-section count for pid.
func (d *SectionDemux) InvalidSectionCount(pid uint16) int {
	if st, ok := d.states[pid]; ok {
		return st.invalidSections
	}
	return 0
}
