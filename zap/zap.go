// Package zap implements spec.md §4.10's service filter: given one or more
// selected services, it rewrites the PAT and SDT to name only those
// services, drops everything else by default, and optionally strips ECM/
// CAS/subtitle/audio components per caller-supplied filters. Ported in
// spirit from tsplugin_zap.cpp (libtsduck), generalized from a single-TS
// CLI plugin into a reusable Processor.
package zap

import (
	"context"
	"fmt"
	"sort"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/charset"
	"github.com/tsflux/tsip/demux"
	"github.com/tsflux/tsip/packetizer"
	"github.com/tsflux/tsip/tables"
)

// wellKnownPIDs the processor always knows the meaning of regardless of
// which services are selected, per tsplugin_zap.cpp's start().
const (
	pidPAT uint16 = 0x0000
	pidCAT uint16 = 0x0001
	pidSDT uint16 = 0x0011
	pidTOT uint16 = 0x0014
)

// PIDClass is the per-PID disposition tsplugin_zap.cpp's _pid_state array
// assigns, spec.md §4.10's {Drop,Pass,Pat,Sdt,Pmt,Pes,Data,Emm} set.
type PIDClass int

const (
	ClassDrop PIDClass = iota
	ClassPass
	ClassPat
	ClassSdt
	ClassPmt
	ClassPes
	ClassData
	ClassEmm
)

func (c PIDClass) String() string {
	switch c {
	case ClassDrop:
		return "drop"
	case ClassPass:
		return "pass"
	case ClassPat:
		return "pat"
	case ClassSdt:
		return "sdt"
	case ClassPmt:
		return "pmt"
	case ClassPes:
		return "pes"
	case ClassData:
		return "data"
	case ClassEmm:
		return "emm"
	default:
		return "unknown"
	}
}

// StuffingMode controls what replaces a dropped packet in the output
// stream, per spec.md §6's `stuffing_mode` collaborator option.
type StuffingMode int

const (
	// StuffingDrop removes the packet from the output entirely: Feed
	// returns (nil, nil).
	StuffingDrop StuffingMode = iota
	// StuffingReplaceWithNull emits a null packet (PID 0x1FFF) in place
	// of the dropped one, preserving the stream's overall bitrate.
	StuffingReplaceWithNull
)

// Selector names a service to keep, either by its numeric service_id or
// by the name broadcast in its SDT service_descriptor.
type Selector struct {
	ID   uint16
	Name string
	byID bool
}

// ByID selects a service by its numeric service_id (known up front).
func ByID(id uint16) Selector { return Selector{ID: id, byID: true} }

// ByName selects a service by the name carried in its SDT
// service_descriptor, resolved to an id once an SDT is seen.
func ByName(name string) Selector { return Selector{Name: name} }

// Config is the set of filters a Processor applies, spec.md §6's
// "Configuration options exposed to collaborators" for the service filter.
type Config struct {
	IncludeCAS    bool
	IncludeEIT    bool
	NoECM         bool
	NoSubtitles   bool
	IgnoreAbsent  bool
	PESOnly       bool
	Stuffing      StuffingMode
	AudioLangs    []string
	AudioPIDs     []uint16
	SubtitleLangs []string
	SubtitlePIDs  []uint16
}

// serviceContext is the per-selected-service working state, the Go
// counterpart of tsplugin_zap.cpp's ServiceContext.
type serviceContext struct {
	selector  Selector
	serviceID uint16
	idKnown   bool
	pmtPID    uint16
	pids      map[uint16]bool
	pzerPMT   *packetizer.CyclingPacketizer
}

func newServiceContext(sel Selector) *serviceContext {
	return &serviceContext{selector: sel, serviceID: sel.ID, idKnown: sel.byID, pids: make(map[uint16]bool)}
}

// Processor is a reusable spec §4.10 service filter: feed it every packet
// of an incoming TS via Feed, emit whatever it returns (nil meaning
// "dropped"). Not safe for concurrent use, per spec §5's single-owner
// model.
type Processor struct {
	cfg Config

	demux *demux.SectionDemux
	eit   *eitFilter

	services []*serviceContext
	allKnown bool

	pidClass map[uint16]PIDClass

	pzerPAT *packetizer.CyclingPacketizer
	pzerSDT *packetizer.CyclingPacketizer

	patVersion uint8
	sdtVersion uint8
	lastPAT    *tables.PAT

	logger *tsip.PrefixedLogger

	// Abort is set when a selected service is missing and IgnoreAbsent is
	// false; once true, Feed refuses further packets.
	Abort bool
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithLogger overrides the processor's diagnostic logger.
func WithLogger(l *tsip.PrefixedLogger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor returns a Processor selecting the given services under cfg.
func NewProcessor(cfg Config, selectors []Selector, opts ...Option) *Processor {
	p := &Processor{
		cfg:      cfg,
		pidClass: make(map[uint16]PIDClass),
		eit:      newEITFilter(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = tsip.NewPrefixedLogger("[zap] ", nil)
	}

	p.allKnown = true
	for _, sel := range selectors {
		ctx := newServiceContext(sel)
		p.services = append(p.services, ctx)
		p.allKnown = p.allKnown && ctx.idKnown
		if ctx.idKnown && cfg.IncludeEIT {
			p.eit.keepService(ctx.serviceID)
		}
	}

	p.demux = demux.NewSectionDemux(demux.WithTableHandler(p.onTable))
	p.pidClass[pidTOT] = ClassPass
	if p.allKnown {
		p.demux.AddPID(pidPAT)
	} else {
		// Service(s) named, not yet numbered: name resolution runs only
		// off the DVB SDT's service_descriptor (see handleSDT); the
		// processor does not read ATSC VCTs.
		p.demux.AddPID(pidSDT)
	}
	p.pidClass[pidPAT] = ClassPat
	p.demux.AddPID(pidSDT)
	p.pidClass[pidSDT] = ClassSdt
	if cfg.IncludeCAS {
		p.demux.AddPID(pidCAT)
		p.pidClass[pidCAT] = ClassPass
	}

	p.pzerPAT = packetizer.NewCyclingPacketizer(pidPAT, nil, packetizer.WithStuffingPolicy(packetizer.StuffingAlways))
	p.pzerSDT = packetizer.NewCyclingPacketizer(pidSDT, nil, packetizer.WithStuffingPolicy(packetizer.StuffingAlways))

	return p
}

func (p *Processor) classOf(pid uint16) PIDClass {
	c, ok := p.pidClass[pid]
	if !ok {
		return ClassDrop
	}
	return c
}

// Feed processes one incoming packet and returns the packet to emit in its
// place, or nil if it should be dropped from the output entirely (distinct
// from a StuffingReplaceWithNull substitute, which is returned as an
// actual null packet).
func (p *Processor) Feed(ctx context.Context, pkt *tsip.Packet) (*tsip.Packet, error) {
	if p.Abort {
		return nil, fmt.Errorf("zap: a selected service is permanently missing")
	}

	pid := pkt.PID()
	p.demux.Push(pkt)
	if p.Abort {
		return nil, fmt.Errorf("zap: a selected service is permanently missing")
	}

	if p.cfg.IncludeEIT && p.eit.matchesPID(pid) {
		out, dropped := p.eit.process(pkt)
		if dropped {
			return p.stuff(ctx)
		}
		return out, nil
	}

	class := p.classOf(pid)
	if p.cfg.PESOnly && class != ClassPes {
		return p.stuff(ctx)
	}

	switch class {
	case ClassDrop:
		return p.stuff(ctx)
	case ClassPass, ClassData, ClassPes, ClassEmm:
		return pkt, nil
	case ClassPmt:
		for _, s := range p.services {
			if s.pmtPID == pid && s.pzerPMT != nil {
				return s.pzerPMT.Next(ctx)
			}
		}
		return p.stuff(ctx)
	case ClassPat:
		return p.pzerPAT.Next(ctx)
	case ClassSdt:
		return p.pzerSDT.Next(ctx)
	default:
		return p.stuff(ctx)
	}
}

// stuff applies the configured StuffingMode to a packet that would
// otherwise be dropped.
func (p *Processor) stuff(ctx context.Context) (*tsip.Packet, error) {
	if p.cfg.Stuffing == StuffingReplaceWithNull {
		return nullPacket(), nil
	}
	return nil, nil
}

func nullPacket() *tsip.Packet {
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	data[1] = 0x1f // PID 0x1FFF high bits
	data[2] = 0xff
	data[3] = 0x10 // payload present, cc 0
	for i := 4; i < len(data); i++ {
		data[i] = 0xff
	}
	p, _ := tsip.NewPacketFromBytes(data) // always well-formed by construction
	return p
}

func (p *Processor) onTable(t *tsip.BinaryTable) {
	switch t.TableID() {
	case tables.TIDPat:
		if pat, err := tables.DeserializePAT(t); err == nil {
			p.handlePAT(pat)
		}
	case tables.TIDCat:
		if cat, err := tables.DeserializeCAT(t); err == nil {
			p.handleCAT(cat)
		}
	case tables.TIDPmt:
		if pmt, err := tables.DeserializePMT(t); err == nil {
			p.handlePMT(pmt)
		}
	case tables.TIDSdtActual:
		if sdt, err := tables.DeserializeSDT(t); err == nil {
			p.handleSDT(sdt)
		}
	}
}

// findService returns the selected service matching id, or nil.
func (p *Processor) findService(id uint16) *serviceContext {
	for _, s := range p.services {
		if s.idKnown && s.serviceID == id {
			return s
		}
	}
	return nil
}

// handlePAT locates each selected service's PMT PID, following
// tsplugin_zap.cpp's handlePAT.
func (p *Processor) handlePAT(pat *tables.PAT) {
	p.lastPAT = pat
	needNewPAT := false
	for _, ctx := range p.services {
		if !ctx.idKnown {
			continue
		}
		pmtPID, found := patPMTPID(pat, ctx.serviceID)
		if !found {
			p.serviceNotPresent(ctx, "PAT")
			continue
		}
		if ctx.pmtPID != pmtPID {
			if ctx.pmtPID != 0 {
				p.forgetServiceComponents(ctx)
			}
			ctx.pmtPID = pmtPID
			p.demux.AddPID(pmtPID)
			needNewPAT = true
		}
	}
	if needNewPAT {
		p.sendNewPAT()
	}
}

func patPMTPID(pat *tables.PAT, serviceID uint16) (uint16, bool) {
	for _, prog := range pat.Programs {
		if prog.ProgramNumber == serviceID {
			return prog.ProgramMapPID, true
		}
	}
	return 0, false
}

// handleCAT re-derives EMM PID classification from scratch on every new
// CAT, per tsplugin_zap.cpp's handleCAT.
func (p *Processor) handleCAT(cat *tables.CAT) {
	for pid, class := range p.pidClass {
		if class == ClassEmm {
			p.pidClass[pid] = ClassDrop
		}
	}
	if cat.Descriptors == nil {
		return
	}
	p.analyzeCADescriptors(nil, cat.Descriptors, ClassEmm)
}

// handleSDT resolves any by-name selectors, rewrites the SDT to carry only
// the selected services, and requeues it onto the SDT packetizer, per
// tsplugin_zap.cpp's handleSDT.
func (p *Processor) handleSDT(sdt *tables.SDT) {
	for _, ctx := range p.services {
		if ctx.selector.byID {
			continue
		}
		id, ok := findServiceByName(sdt, ctx.selector.Name)
		if ok {
			p.setServiceID(ctx, id)
		} else {
			p.serviceNotPresent(ctx, "SDT")
		}
	}

	kept := sdt.Services[:0:0]
	for _, svc := range sdt.Services {
		if p.isSelected(svc.ServiceID, svc.Descriptors) {
			kept = append(kept, svc)
		}
	}
	sdt.Services = kept

	p.sdtVersion = (p.sdtVersion + 1) & 0x1f
	sdt.Version = p.sdtVersion
	p.pzerSDT.SetTables([]*tsip.BinaryTable{sdt.Serialize()})
}

func (p *Processor) isSelected(serviceID uint16, descs *tsip.DescriptorList) bool {
	for _, ctx := range p.services {
		if ctx.selector.byID {
			if ctx.idKnown && ctx.serviceID == serviceID {
				return true
			}
			continue
		}
		if name, ok := serviceName(descs); ok && similar(name, ctx.selector.Name) {
			return true
		}
	}
	return false
}

// handlePMT filters a selected service's PMT down to its PCR PID and the
// elementary streams the audio/subtitle/ECM filters keep, then requeues it
// on that service's own PMT packetizer, per tsplugin_zap.cpp's handlePMT.
func (p *Processor) handlePMT(pmt *tables.PMT) {
	ctx := p.findService(pmt.ProgramNumber)
	if ctx == nil {
		return
	}

	p.forgetServiceComponents(ctx)

	if pmt.PCRPID != tables.PIDNone {
		p.pidClass[pmt.PCRPID] = ClassPes
		ctx.pids[pmt.PCRPID] = true
	}

	p.processECM(ctx, pmt.Descriptors)

	kept := pmt.ElementaryStreams[:0:0]
	for _, st := range pmt.ElementaryStreams {
		keep := true
		switch {
		case isAudioStreamType(st.StreamType):
			keep = keepComponent(st.PID, st.Descriptors, p.cfg.AudioLangs, p.cfg.AudioPIDs)
		case hasSubtitleDescriptor(st.Descriptors):
			keep = !p.cfg.NoSubtitles && keepComponent(st.PID, st.Descriptors, p.cfg.SubtitleLangs, p.cfg.SubtitlePIDs)
		}
		if !keep {
			continue
		}
		if isPESStreamType(st.StreamType) {
			p.pidClass[st.PID] = ClassPes
		} else {
			p.pidClass[st.PID] = ClassData
		}
		ctx.pids[st.PID] = true
		p.processECM(ctx, st.Descriptors)
		kept = append(kept, st)
	}
	pmt.ElementaryStreams = kept

	if ctx.pzerPMT == nil {
		ctx.pzerPMT = packetizer.NewCyclingPacketizer(ctx.pmtPID, nil, packetizer.WithStuffingPolicy(packetizer.StuffingAlways))
	}
	ctx.pzerPMT.SetTables([]*tsip.BinaryTable{pmt.Serialize()})
	p.pidClass[ctx.pmtPID] = ClassPmt
}

func hasSubtitleDescriptor(descs *tsip.DescriptorList) bool {
	if descs == nil {
		return false
	}
	for i := 0; i < descs.Count(); i++ {
		if descs.At(i).Tag() == tsip.TagSubtitling {
			return true
		}
	}
	return false
}

func isAudioStreamType(t uint8) bool {
	switch t {
	case tables.StreamTypeMPEG1Audio, tables.StreamTypeMPEG2Audio, tables.StreamTypeAACAudio, tables.StreamTypeAC3Audio:
		return true
	default:
		return false
	}
}

func isPESStreamType(t uint8) bool {
	switch t {
	case tables.StreamTypeMPEG2Video, tables.StreamTypeAVCVideo, tables.StreamTypeHEVCVideo,
		tables.StreamTypeMPEG1Audio, tables.StreamTypeMPEG2Audio, tables.StreamTypeAACAudio,
		tables.StreamTypeAC3Audio, tables.StreamTypePESPrivate:
		return true
	default:
		return false
	}
}

// processECM either strips CA_descriptors from descs (NoECM) or records
// their PIDs as kept components of ctx's service, per tsplugin_zap.cpp's
// processECM/analyzeCADescriptors.
func (p *Processor) processECM(ctx *serviceContext, descs *tsip.DescriptorList) {
	if descs == nil {
		return
	}
	if p.cfg.NoECM {
		removeByTag(descs, didConditionalAccess)
		return
	}
	p.analyzeCADescriptors(ctx.pids, descs, ClassData)
}

// analyzeCADescriptors scans descs for CA_descriptor entries, recording
// each one's ca_pid both in pids (if non-nil, a service's component set)
// and in the processor's global pidClass map, per tsplugin_zap.cpp's
// analyzeCADescriptors.
func (p *Processor) analyzeCADescriptors(pids map[uint16]bool, descs *tsip.DescriptorList, class PIDClass) {
	for i := 0; i < descs.Count(); i++ {
		d := descs.At(i)
		if d.Tag() != didConditionalAccess {
			continue
		}
		payload := d.Payload()
		if len(payload) < 4 {
			continue
		}
		caPID := uint16(payload[2]&0x1f)<<8 | uint16(payload[3])
		if pids != nil {
			pids[caPID] = true
		}
		p.pidClass[caPID] = class
	}
}

// keepComponent mirrors tsplugin_zap.cpp's keepComponent: with no language
// or PID filter configured, every component is kept; otherwise an
// explicitly-listed PID or a matching ISO_639_language_descriptor entry
// keeps it.
func keepComponent(pid uint16, descs *tsip.DescriptorList, langs []string, pidList []uint16) bool {
	if len(langs) == 0 && len(pidList) == 0 {
		return true
	}
	for _, p := range pidList {
		if p == pid {
			return true
		}
	}
	if descs == nil {
		return false
	}
	for _, lang := range langs {
		if descs.SearchByLanguage(lang) >= 0 {
			return true
		}
	}
	return false
}

// sendNewPAT rebuilds the PAT packetizer's table with a fresh version,
// naming every selected service whose PMT PID is currently known, per
// tsplugin_zap.cpp's sendNewPAT. Services still unresolved are simply
// absent from the rewritten PAT rather than blocking it, consistent with
// --ignore-absent's "pass an empty stream" behavior.
func (p *Processor) sendNewPAT() {
	p.patVersion = (p.patVersion + 1) & 0x1f

	var tsID uint16
	if p.lastPAT != nil {
		tsID = p.lastPAT.TransportStreamID
	}
	// NITPID 0 means "no NIT" to PAT.Serialize: this processor emits a
	// single-program-shaped PAT and never carries a NIT pid of its own.
	pat := &tables.PAT{TransportStreamID: tsID, Version: p.patVersion, Current: true, NITPID: 0}

	ids := make([]uint16, 0, len(p.services))
	byID := make(map[uint16]uint16, len(p.services))
	for _, ctx := range p.services {
		if ctx.idKnown && ctx.pmtPID != 0 {
			byID[ctx.serviceID] = ctx.pmtPID
			ids = append(ids, ctx.serviceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pat.Programs = append(pat.Programs, &tables.PATProgram{ProgramNumber: id, ProgramMapPID: byID[id]})
	}

	p.pzerPAT.SetTables([]*tsip.BinaryTable{pat.Serialize()})
}

// forgetServiceComponents stops passing any of ctx's component PIDs that
// no other selected service shares, per tsplugin_zap.cpp's
// forgetServiceComponents.
func (p *Processor) forgetServiceComponents(ctx *serviceContext) {
	for pid := range ctx.pids {
		shared := false
		for _, other := range p.services {
			if other == ctx || !other.idKnown || other.serviceID == ctx.serviceID {
				continue
			}
			if other.pids[pid] {
				shared = true
				break
			}
		}
		if !shared {
			delete(p.pidClass, pid)
		}
	}
	ctx.pids = make(map[uint16]bool)
}

// serviceNotPresent implements tsplugin_zap.cpp's serviceNotPresent:
// either tolerate the absence (IgnoreAbsent) and keep emitting a
// PAT/SDT without that service, or flag a fatal abort.
func (p *Processor) serviceNotPresent(ctx *serviceContext, table string) {
	if p.cfg.IgnoreAbsent {
		p.logger.Printf("service %v not found in %s, waiting", ctx.selector, table)
		if ctx.pmtPID != 0 {
			p.demux.RemovePID(ctx.pmtPID)
			ctx.pmtPID = 0
		}
		p.forgetServiceComponents(ctx)
		ctx.idKnown = ctx.selector.byID
		p.sendNewPAT()
		return
	}
	p.logger.Printf("service %v not found in %s", ctx.selector, table)
	p.Abort = true
}

// setServiceID implements tsplugin_zap.cpp's setServiceId: once a
// by-name selector's id is learned (or changes), forget its old
// components, register the new id, and reprocess the last PAT.
func (p *Processor) setServiceID(ctx *serviceContext, id uint16) {
	if ctx.idKnown && ctx.serviceID == id {
		return
	}
	ctx.pmtPID = 0
	p.forgetServiceComponents(ctx)
	if ctx.idKnown && p.cfg.IncludeEIT {
		p.eit.removeService(ctx.serviceID)
	}
	ctx.serviceID = id
	ctx.idKnown = true
	if p.cfg.IncludeEIT {
		p.eit.keepService(id)
	}
	p.demux.AddPID(pidPAT)
	p.pidClass[pidPAT] = ClassPat
	if p.lastPAT != nil {
		p.handlePAT(p.lastPAT)
	}
}

func removeByTag(descs *tsip.DescriptorList, tag uint8) {
	for i := 0; i < descs.Count(); {
		if descs.At(i).Tag() == tag {
			_ = descs.RemoveByIndex(i)
			continue
		}
		i++
	}
}

// didConditionalAccess is the MPEG/ISDB CA_descriptor tag (ISO/IEC
// 13818-1 §2.6.16); ISDB's CA_descriptor reuses the same tag value.
const didConditionalAccess uint8 = 0x09

// serviceName decodes an SDT service_descriptor's (tag 0x48) service_name
// field via decodeDVBText, which resolves a leading designator byte with
// charset.ForDesignator.
func serviceName(descs *tsip.DescriptorList) (string, bool) {
	if descs == nil {
		return "", false
	}
	for i := 0; i < descs.Count(); i++ {
		d := descs.At(i)
		if d.Tag() != tagServiceDescriptor {
			continue
		}
		p := d.Payload()
		if len(p) < 2 {
			continue
		}
		providerLen := int(p[1])
		if 2+providerLen >= len(p) {
			continue
		}
		nameLenOffset := 2 + providerLen
		nameLen := int(p[nameLenOffset])
		nameStart := nameLenOffset + 1
		if nameStart+nameLen > len(p) {
			continue
		}
		return decodeDVBText(p[nameStart : nameStart+nameLen]), true
	}
	return "", false
}

// tagServiceDescriptor is the DVB service_descriptor tag (ETSI EN 300 468
// §6.2.33), which carries the human-readable name a by-name Selector
// resolves against.
const tagServiceDescriptor uint8 = 0x48

// decodeDVBText decodes a DVB text field (ETSI EN 300 468 annex A): a
// leading byte below 0x20 selects an alternate character table via
// charset.ForDesignator, otherwise the field is ISO-8859-1 (charset.Default).
func decodeDVBText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	cs := charset.Default
	if b[0] < 0x20 {
		if c, err := charset.ForDesignator(b[0]); err == nil {
			cs = c
		}
		b = b[1:]
	}
	s, err := cs.Decode(b)
	if err != nil {
		return ""
	}
	return s
}

func findServiceByName(sdt *tables.SDT, name string) (uint16, bool) {
	for _, svc := range sdt.Services {
		if n, ok := serviceName(svc.Descriptors); ok && similar(n, name) {
			return svc.ServiceID, true
		}
	}
	return 0, false
}

// similar compares two service names case-insensitively, ignoring blanks,
// mirroring UString::similar's comparison used by tsplugin_zap.cpp's
// service name matching.
func similar(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}

func normalizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
