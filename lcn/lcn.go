// Package lcn implements the logical channel number aggregator described by
// spec.md §6: accumulating per-service channel numbers and visibility from
// several descriptor flavours (DVB LCN, DVB HD LCN, Nordig v1/v2, EACEM,
// Astra SGT), keyed by (service_id, ts_id, original_network_id).
package lcn

import tsip "github.com/tsflux/tsip"

// Unknown is the sentinel LCN value meaning "no channel number known",
// matching spec §6's 0xFFFF.
const Unknown uint16 = 0xffff

// Flavour identifies which descriptor (or private table) contributed an
// entry, for diagnostics and priority-breaking on conflicting entries.
type Flavour int

const (
	// FlavourDVB is the plain DVB logical_channel_descriptor (private,
	// descriptor_tag 0x83 under a DVB-registered private_data_specifier).
	FlavourDVB Flavour = iota
	// FlavourDVBHD is the DVB HD_simulcast_logical_channel_descriptor.
	FlavourDVBHD
	// FlavourNordigV1 is the Nordig v1 logical channel descriptor.
	FlavourNordigV1
	// FlavourNordigV2 is the Nordig v2 logical channel descriptor
	// (adds a visible_service_flag per entry, same as DVB LCN).
	FlavourNordigV2
	// FlavourEACEM is the EACEM/CENELEC logical channel descriptor.
	FlavourEACEM
	// FlavourAstraSGT is an entry contributed by an Astra SGT private
	// section rather than a descriptor.
	FlavourAstraSGT
)

// Tags for the private logical-channel-number descriptors this package
// recognizes. All are descriptor_tag 0x83, 0x87 or 0x88 scoped by the private
// data specifier in effect at the descriptor's position in a
// DescriptorList (see tsip.DescriptorList/EDIDFor) — the tag alone is
// ambiguous across operators, so callers pass the Flavour explicitly
// rather than this package re-deriving it from tag+PDS.
const (
	TagLogicalChannel uint8 = 0x83
	TagHDSimulcastLCN uint8 = 0x88
	TagNordigV2LCN    uint8 = 0x87
)

// Key identifies one service across the three identifiers that, together,
// are unique within a broadcast: its own service_id plus the ts_id and
// original_network_id of the transport stream announcing it.
type Key struct {
	ServiceID         uint16
	TransportStreamID uint16
	OriginalNetworkID uint16
}

type entry struct {
	lcn     uint16
	visible bool
	flavour Flavour
}

// Map accumulates logical channel number entries across however many
// NIT/SGT/private tables a scan observes, keyed by Key. Later entries from
// a higher-priority flavour (DVB HD LCN and Nordig v2 override plain DVB
// LCN; Astra SGT is lowest priority) replace earlier same-key entries;
// entries from the same flavour simply overwrite (last one wins, matching
// a rescan picking up a new NIT version).
type Map struct {
	entries map[Key]entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[Key]entry)}
}

// priority ranks flavours for conflict resolution: higher wins.
func priority(f Flavour) int {
	switch f {
	case FlavourDVBHD, FlavourNordigV2:
		return 3
	case FlavourNordigV1, FlavourEACEM:
		return 2
	case FlavourDVB:
		return 1
	default: // FlavourAstraSGT
		return 0
	}
}

// Add records one service's logical channel number and visibility. visible
// defaults to true per spec §6 when a flavour's wire format carries no
// visibility flag (Nordig v1, EACEM, Astra SGT) — callers pass true for
// those.
func (m *Map) Add(key Key, lcnValue uint16, visible bool, flavour Flavour) {
	if existing, ok := m.entries[key]; ok && priority(existing.flavour) > priority(flavour) {
		return
	}
	m.entries[key] = entry{lcn: lcnValue, visible: visible, flavour: flavour}
}

// GetLCN returns the accumulated logical channel number for key, or
// Unknown if no flavour has reported one.
func (m *Map) GetLCN(key Key) uint16 {
	e, ok := m.entries[key]
	if !ok {
		return Unknown
	}
	return e.lcn
}

// GetVisible returns the accumulated visibility for key, defaulting to
// true (per spec §6) when the service has no recorded entry at all.
func (m *Map) GetVisible(key Key) bool {
	e, ok := m.entries[key]
	if !ok {
		return true
	}
	return e.visible
}

// Reset discards every accumulated entry, e.g. on a fresh scan.
func (m *Map) Reset() {
	m.entries = make(map[Key]entry)
}

// AddFromDescriptor decodes a DVB/Nordig/EACEM logical-channel-number
// descriptor payload and records every (service_id, lcn, visible) triple
// it carries against tsID/onID. The wire format is common to all four
// flavours covered here: a flat repetition of
//
//	service_id:16, visible_service_flag:1, reserved:5, logical_channel_number:10
//
// (4 bytes per entry; Nordig v1/EACEM set the flag bit to 1 and ignore it
// on read, so treating it uniformly as the visibility flag is safe across
// flavours per ETSI TS 101 162 and the CENELEC/EACEM profile it derives
// from).
func (m *Map) AddFromDescriptor(d *tsip.Descriptor, tsID, onID uint16, flavour Flavour) {
	payload := d.Payload()
	for i := 0; i+4 <= len(payload); i += 4 {
		serviceID := uint16(payload[i])<<8 | uint16(payload[i+1])
		visible := payload[i+2]&0x80 != 0
		channel := uint16(payload[i+2]&0x03)<<8 | uint16(payload[i+3])
		key := Key{ServiceID: serviceID, TransportStreamID: tsID, OriginalNetworkID: onID}
		m.Add(key, channel, visible, flavour)
	}
}

// AstraSGTEntry is one decoded Astra Service Guide Table LCN record.
type AstraSGTEntry struct {
	ServiceID uint16
	Channel   uint16
}

// AddFromSGT records every entry an already-decoded Astra SGT has
// produced, against the tsID/onID of the transport stream it was
// received on. Astra SGT carries LCN in a private section (stream_type
// 0x05), not a descriptor, and — unlike the NIT-style flavours above —
// names its owning transport stream once for the whole table rather than
// per entry, mirroring tsTSScanner.cpp/tsTSAnalyzer.cpp's
// `_lcn.addFromSGT(sgt, ts_id)` call shape. Visibility is always true for
// this flavour, matching spec §6.
func (m *Map) AddFromSGT(entries []AstraSGTEntry, tsID, onID uint16) {
	for _, e := range entries {
		key := Key{ServiceID: e.ServiceID, TransportStreamID: tsID, OriginalNetworkID: onID}
		m.Add(key, e.Channel, true, FlavourAstraSGT)
	}
}
