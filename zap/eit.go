package zap

import (
	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/tables"
)

// pidEIT is the standard DVB/ISDB EIT PID (ETSI EN 300 468 table 1).
const pidEIT uint16 = 0x0012

// eitFilter implements spec.md §4.10 point 5: keep present/following and
// schedule events for the selected services' "actual TS" EIT variants,
// drop every "other TS" EIT entirely. It inspects each EIT packet's
// section header directly rather than running a full SectionDemux, since
// a dropped packet must be replaced immediately and in place — waiting
// for a complete table to reassemble would mean passing through the very
// packets that should have been suppressed.
//
// Packets that don't start a new section (no payload_unit_start_indicator)
// inherit the previous packet's keep/drop decision: EIT sections on a
// well-formed stream rarely straddle more than a couple of packets, and
// tsduck's own zap plugin makes the same simplifying assumption.
type eitFilter struct {
	keepServices map[uint16]bool
	lastKeep     bool
}

func newEITFilter() *eitFilter {
	return &eitFilter{keepServices: make(map[uint16]bool)}
}

func (f *eitFilter) matchesPID(pid uint16) bool { return pid == pidEIT }

func (f *eitFilter) keepService(id uint16)   { f.keepServices[id] = true }
func (f *eitFilter) removeService(id uint16) { delete(f.keepServices, id) }

// process returns the packet to emit (always pkt itself) and whether the
// caller should treat it as dropped.
func (f *eitFilter) process(pkt *tsip.Packet) (*tsip.Packet, bool) {
	if !pkt.PayloadUnitStartIndicator() {
		return pkt, !f.lastKeep
	}
	payload := pkt.Payload()
	if len(payload) < 1 {
		return pkt, !f.lastKeep
	}
	pointer := int(payload[0])
	hdr := payload[1:]
	if pointer > len(hdr) {
		return pkt, !f.lastKeep
	}
	hdr = hdr[pointer:]
	if len(hdr) < 8 {
		return pkt, !f.lastKeep
	}

	tableID := hdr[0]
	serviceID := uint16(hdr[3])<<8 | uint16(hdr[4])

	if !tables.IsPresentFollowing(tableID) && !tables.IsSchedule(tableID) {
		return pkt, !f.lastKeep
	}
	if !tables.IsActual(tableID) {
		f.lastKeep = false
		return pkt, true
	}
	f.lastKeep = f.keepServices[serviceID]
	return pkt, !f.lastKeep
}
