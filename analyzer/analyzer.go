// Package analyzer implements a PSI/SI-aware transport stream analyzer:
// per-PID traffic statistics, PSI/SI-driven PID classification and CAS/
// ISDB-download discovery, and per-service aggregation, following the
// shape of tsTSAnalyzer.cpp (libtsduck) while expressing it through this
// module's demux/tables packages. Optionally exports its counters over
// Prometheus.
package analyzer

import (
	"sync"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/demux"
	"github.com/tsflux/tsip/lcn"
	"github.com/tsflux/tsip/pes"
	"github.com/tsflux/tsip/tables"
)

// Well-known PIDs an analyzer always tracks the meaning of, regardless of
// whether a PAT/PMT ever turns up (ISO/IEC 13818-1 Table 2-3).
const (
	pidPAT  uint16 = 0x0000
	pidCAT  uint16 = 0x0001
	pidNull uint16 = 0x1fff
)

// PIDInfo is one PID's accumulated traffic and PSI/SI-derived state,
// following the field set tsTSAnalyzer.cpp's PIDContext keeps (its
// header didn't survive filtering; this is reconstructed from the
// .cpp's field usage).
type PIDInfo struct {
	PID uint16

	FirstPacket uint64
	LastPacket  uint64
	PacketCount uint64

	Description string
	Referenced  bool
	ServiceID   *uint16 // nil until a PAT (PMT PIDs) or a PMT claims this PID

	CarrySection bool
	CarryAudio   bool
	CarryVideo   bool
	CarryPES     bool
	CarryECM     bool
	CarryEMM     bool

	IsPMTPID bool
	IsPCRPID bool

	StreamType uint8

	PESStreamID     uint8
	pesStreamIDSeen bool
	SameStreamID    bool
	InvalidPESStart uint64

	continuityValid            bool
	curContinuity               uint8
	Duplicated                  uint64
	ExpectedDiscontinuities     uint64
	UnexpectedDiscontinuities   uint64

	Scrambled uint64

	bitrate bitrateEstimator

	CASID     uint16
	CASFamily CASFamily
}

// Class reports which of the spec's three PID-reporting buckets info
// falls into: a service PID, a global (referenced but serviceless) PID,
// or one seen on the wire but never named by any PSI/SI table.
func (info *PIDInfo) Class() string {
	switch {
	case info.ServiceID != nil:
		return "service"
	case info.Referenced:
		return "global"
	default:
		return "unreferenced"
	}
}

// ServiceInfo is one program_number's aggregated view, built by folding
// its PMT's elementary streams' PIDInfo into one record — the Go
// equivalent of tsTSAnalyzer.cpp's recompute_statistics() flattening
// per-PID data into per-service aggregates.
type ServiceInfo struct {
	ServiceID uint16
	TSID      uint16
	ONID      uint16
	PMTPID    uint16
	PCRPID    uint16
	PIDs      []uint16
}

// Option configures an Analyzer at construction time.
type Option func(*Analyzer)

// WithLogger overrides the analyzer's diagnostic logger (defaults to a
// PrefixedLogger wrapping the package-level tsip.Logger()).
func WithLogger(l *tsip.PrefixedLogger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics attaches a Prometheus metrics set the analyzer updates as
// it processes packets. Pass the result of NewMetrics(registerer).
func WithMetrics(m *Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer consumes every packet of a transport stream (regardless of
// PID) plus the tables its internal SectionDemux reassembles from them,
// and maintains the per-PID/per-service state described by spec.md §4.9.
type Analyzer struct {
	mu     sync.Mutex
	logger *tsip.PrefixedLogger
	demux  *demux.SectionDemux

	packetIndex uint64
	pids        map[uint16]*PIDInfo
	services    map[uint16]*ServiceInfo

	tsID       *uint16
	onID       uint16
	lcnMap     *lcn.Map
	pendingDCT *tables.DCT

	tsBitrate bitrateEstimator
	metrics   *Metrics
}

// NewAnalyzer returns an Analyzer ready to Feed packets to.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		pids:     make(map[uint16]*PIDInfo),
		services: make(map[uint16]*ServiceInfo),
		lcnMap:   lcn.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = tsip.NewPrefixedLogger("[analyzer] ", nil)
	}

	a.demux = demux.NewSectionDemux(
		demux.WithPIDs(pidPAT, pidCAT),
		demux.WithTableHandler(a.onTable),
	)
	return a
}

// LCNMap returns the logical-channel-number accumulator fed by any NIT/
// SGT tables this analyzer has observed.
func (a *Analyzer) LCNMap() *lcn.Map { return a.lcnMap }

// pidInfo returns (creating if necessary) the PIDInfo for pid.
func (a *Analyzer) pidInfo(pid uint16) *PIDInfo {
	info, ok := a.pids[pid]
	if !ok {
		info = &PIDInfo{PID: pid, FirstPacket: a.packetIndex}
		a.pids[pid] = info
	}
	return info
}

// Feed processes one transport stream packet: traffic statistics,
// continuity/duplicate tracking, PCR-based bitrate, and handing the
// packet to the internal section demux for PSI/SI discovery.
func (a *Analyzer) Feed(pkt *tsip.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pid := pkt.PID()
	info := a.pidInfo(pid)
	info.LastPacket = a.packetIndex
	info.PacketCount++
	if pkt.ScramblingControl() != tsip.ScramblingControlNotScrambled {
		info.Scrambled++
	}

	a.trackContinuity(info, pkt)
	a.trackPCR(info, pkt)
	if pkt.PayloadUnitStartIndicator() {
		a.trackPESHeuristic(info, pkt)
	}

	if a.metrics != nil {
		a.metrics.observePacket(info)
	}

	a.packetIndex++
	a.demux.Push(pkt)
}

// trackContinuity updates Duplicated/ExpectedDiscontinuities/
// UnexpectedDiscontinuities from the packet's continuity_counter,
// splitting genuine loss from the broadcaster's own signaled
// discontinuities (adaptation_field.discontinuity_indicator) per
// spec.md §4.9.
func (a *Analyzer) trackContinuity(info *PIDInfo, pkt *tsip.Packet) {
	if pid := pkt.PID(); pid == pidNull {
		return
	}
	expected := false
	if af := pkt.AdaptationField(); af != nil && af.DiscontinuityIndicator {
		expected = true
	}
	cc := pkt.ContinuityCounter()
	if !info.continuityValid {
		info.curContinuity = cc
		info.continuityValid = true
		return
	}
	switch {
	case !pkt.HasPayload():
		// Adaptation-field-only packets don't advance continuity_counter.
		if cc != info.curContinuity && !expected {
			info.UnexpectedDiscontinuities++
			if a.metrics != nil {
				a.metrics.incDiscontinuity(info.PID, false)
			}
		}
	case cc == info.curContinuity:
		info.Duplicated++
		if a.metrics != nil {
			a.metrics.incDuplicate(info.PID)
		}
	case cc != (info.curContinuity+1)&0xf:
		if expected {
			info.ExpectedDiscontinuities++
		} else {
			info.UnexpectedDiscontinuities++
		}
		if a.metrics != nil {
			a.metrics.incDiscontinuity(info.PID, expected)
		}
	}
	info.curContinuity = cc
}

// trackPCR feeds any PCR this packet carries into info's bitrate
// estimator and, when this is the PCR-reference PID for some service,
// the transport-stream-wide estimator too.
func (a *Analyzer) trackPCR(info *PIDInfo, pkt *tsip.Packet) {
	af := pkt.AdaptationField()
	if af == nil || af.PCR == nil {
		return
	}
	pcr := af.PCR.Value()
	info.bitrate.Observe(pcr, a.packetIndex)
	if info.IsPCRPID {
		a.tsBitrate.Observe(pcr, a.packetIndex)
	}
}

// trackPESHeuristic classifies a PID's content on a PUSI-set packet by
// checking for the PES start code, the same heuristic
// tsTSAnalyzer.cpp applies when a PID's stream_type didn't already
// settle the question: pid 0 (PAT) is excluded since its pointer_field
// framing can coincidentally resemble a start code.
func (a *Analyzer) trackPESHeuristic(info *PIDInfo, pkt *tsip.Packet) {
	if info.PID == pidPAT || info.CarrySection {
		return
	}
	payload := pkt.Payload()
	if len(payload) == 0 {
		return
	}
	h, ok := pes.ParseHeader(payload)
	if !ok {
		info.InvalidPESStart++
		return
	}
	info.CarryPES = true
	if pes.IsAudioStreamID(h.StreamID) {
		info.CarryAudio = true
	}
	if pes.IsVideoStreamID(h.StreamID) {
		info.CarryVideo = true
	}
	if info.pesStreamIDSeen {
		info.SameStreamID = info.SameStreamID && h.StreamID == info.PESStreamID
	} else {
		info.pesStreamIDSeen = true
		info.SameStreamID = true
	}
	info.PESStreamID = h.StreamID
}

// onTable dispatches a freshly completed table to the handler for its
// table_id, implementing spec.md §4.9's PAT -> PMT -> elementary stream
// discovery chain plus CAS/ISDB-download/LCN discovery. Always invoked
// synchronously from within Feed's demux.Push call, so it runs under the
// lock Feed already holds — it must not re-lock a.mu itself.
func (a *Analyzer) onTable(t *tsip.BinaryTable) {
	switch t.TableID() {
	case tables.TIDPat:
		a.onPAT(t)
	case tables.TIDCat:
		a.onCAT(t)
	case tables.TIDPmt:
		a.onPMT(t)
	case tables.TIDNitActual, tables.TIDNitOther:
		a.onNIT(t)
	case tables.TIDSdtActual, tables.TIDSdtOther:
		a.onSDT(t)
	case tables.TIDSgt:
		a.onSGT(t)
	case tables.TIDDcct:
		a.onDCT(t)
	case tables.TIDMgt:
		a.onMGT(t)
	}
}

func (a *Analyzer) onPAT(t *tsip.BinaryTable) {
	pat, err := tables.DeserializePAT(t)
	if err != nil {
		a.logger.Printf("invalid PAT: %v", err)
		return
	}
	tsID := pat.TransportStreamID
	a.tsID = &tsID
	a.pidInfo(pidPAT).Description = "PAT"
	a.pidInfo(pidPAT).CarrySection = true
	a.pidInfo(pidPAT).Referenced = true

	nitInfo := a.pidInfo(pat.NITPID)
	nitInfo.Description = "NIT"
	nitInfo.CarrySection = true
	nitInfo.Referenced = true
	a.demux.AddPID(pat.NITPID)

	for _, prog := range pat.Programs {
		svcID := prog.ProgramNumber
		svc, ok := a.services[svcID]
		if !ok {
			svc = &ServiceInfo{ServiceID: svcID, TSID: tsID, PMTPID: prog.ProgramMapPID}
			a.services[svcID] = svc
		}
		info := a.pidInfo(prog.ProgramMapPID)
		info.Description = "PMT"
		info.CarrySection = true
		info.Referenced = true
		info.IsPMTPID = true
		info.ServiceID = &svcID
		a.demux.AddPID(prog.ProgramMapPID)
	}

	if a.pendingDCT != nil {
		a.applyDCT(a.pendingDCT)
		a.pendingDCT = nil
	}
}

func (a *Analyzer) onCAT(t *tsip.BinaryTable) {
	cat, err := tables.DeserializeCAT(t)
	if err != nil {
		a.logger.Printf("invalid CAT: %v", err)
		return
	}
	if cat.Descriptors == nil {
		return
	}
	for i := 0; i < cat.Descriptors.Count(); i++ {
		d := cat.Descriptors.At(i)
		if d.Tag() != DIDConditionalAccess {
			continue
		}
		ca, ok := parseCADescriptor(d.Payload())
		if !ok {
			continue
		}
		family := CASFamilyOf(ca.CASID)
		info := a.pidInfo(ca.CAPID)
		info.CarrySection = true
		info.Referenced = true
		info.CASID = ca.CASID
		info.CASFamily = family
		if recognized(family, contextCAT, len(ca.Private)) {
			info.CarryEMM = true
			info.Description = family.String() + " EMM"
		} else {
			info.Description = "EMM"
		}
		a.demux.AddPID(ca.CAPID)
	}
}

func (a *Analyzer) onPMT(t *tsip.BinaryTable) {
	pmt, err := tables.DeserializePMT(t)
	if err != nil {
		a.logger.Printf("invalid PMT: %v", err)
		return
	}
	// The PMT's own table_id_extension *is* the program_number, which is
	// the most reliable way back to the ServiceInfo regardless of PID
	// bookkeeping order.
	programNumber := t.TableIDExtension()
	svc, exists := a.services[programNumber]
	if !exists {
		svc = &ServiceInfo{ServiceID: programNumber}
		a.services[programNumber] = svc
	}
	svc.PCRPID = pmt.PCRPID
	if a.tsID != nil {
		svc.TSID = *a.tsID
	}

	if pmt.PCRPID != tables.PIDNone {
		pcrInfo := a.pidInfo(pmt.PCRPID)
		pcrInfo.IsPCRPID = true
		pcrInfo.Referenced = true
		programNumberCopy := programNumber
		pcrInfo.ServiceID = &programNumberCopy
	}

	for _, stream := range pmt.ElementaryStreams {
		info := a.pidInfo(stream.PID)
		info.StreamType = stream.StreamType
		info.Referenced = true
		programNumberCopy := programNumber
		info.ServiceID = &programNumberCopy
		svc.PIDs = append(svc.PIDs, stream.PID)
		classifyStreamType(info, stream.StreamType)
		a.demux.AddPID(stream.PID)

		if stream.Descriptors == nil {
			continue
		}
		for i := 0; i < stream.Descriptors.Count(); i++ {
			d := stream.Descriptors.At(i)
			if d.Tag() != DIDConditionalAccess {
				continue
			}
			ca, ok := parseCADescriptor(d.Payload())
			if !ok {
				continue
			}
			family := CASFamilyOf(ca.CASID)
			ecmInfo := a.pidInfo(ca.CAPID)
			ecmInfo.CarrySection = true
			ecmInfo.Referenced = true
			ecmInfo.CASID = ca.CASID
			ecmInfo.CASFamily = family
			ecmInfoCopy := programNumber
			ecmInfo.ServiceID = &ecmInfoCopy
			if recognized(family, contextPMT, len(ca.Private)) {
				ecmInfo.CarryECM = true
				ecmInfo.Description = family.String() + " ECM"
			} else {
				ecmInfo.Description = "ECM"
			}
			a.demux.AddPID(ca.CAPID)
		}
	}
}

// classifyStreamType sets info's Carry{Audio,Video} flags from a PMT
// stream_type, for PIDs where that alone settles the question (the PUSI
// start-code heuristic in trackPESHeuristic covers what stream_type
// can't, e.g. private/ISO-13818-6 data streams carrying PES anyway).
func classifyStreamType(info *PIDInfo, streamType uint8) {
	switch streamType {
	case tables.StreamTypeMPEG2Video, tables.StreamTypeAVCVideo, tables.StreamTypeHEVCVideo:
		info.CarryVideo = true
		info.CarryPES = true
	case tables.StreamTypeMPEG1Audio, tables.StreamTypeMPEG2Audio, tables.StreamTypeAACAudio, tables.StreamTypeAC3Audio:
		info.CarryAudio = true
		info.CarryPES = true
	case tables.StreamTypePrivateSect:
		info.CarrySection = true
	case tables.StreamTypePESPrivate:
		info.CarryPES = true
	}
}

func (a *Analyzer) onNIT(t *tsip.BinaryTable) {
	nit, err := tables.DeserializeNIT(t)
	if err != nil {
		a.logger.Printf("invalid NIT: %v", err)
		return
	}
	a.onID = nit.NetworkID
	for _, ts := range nit.Streams {
		if ts.Descriptors == nil {
			continue
		}
		for i := 0; i < ts.Descriptors.Count(); i++ {
			d := ts.Descriptors.At(i)
			flavour, ok := lcnFlavourForTag(d.Tag())
			if !ok {
				continue
			}
			a.lcnMap.AddFromDescriptor(d, ts.TransportStreamID, ts.OriginalNetworkID, flavour)
		}
	}
}

// lcnFlavourForTag maps a descriptor_tag to the lcn.Flavour it encodes.
// 0x83 is ambiguous between plain DVB LCN and the Nordig v1/EACEM
// variants (same wire shape, different registration authority) — without
// the private_data_specifier in scope here, it's treated as plain DVB,
// the common case; 0x87/0x88 are distinguishable by tag alone.
func lcnFlavourForTag(tag uint8) (lcn.Flavour, bool) {
	switch tag {
	case lcn.TagLogicalChannel:
		return lcn.FlavourDVB, true
	case lcn.TagNordigV2LCN:
		return lcn.FlavourNordigV2, true
	case lcn.TagHDSimulcastLCN:
		return lcn.FlavourDVBHD, true
	default:
		return 0, false
	}
}

func (a *Analyzer) onSDT(t *tsip.BinaryTable) {
	sdt, err := tables.DeserializeSDT(t)
	if err != nil {
		a.logger.Printf("invalid SDT: %v", err)
		return
	}
	for _, s := range sdt.Services {
		svc, ok := a.services[s.ServiceID]
		if !ok {
			svc = &ServiceInfo{ServiceID: s.ServiceID, TSID: sdt.TransportStreamID, ONID: sdt.OriginalNetworkID}
			a.services[s.ServiceID] = svc
		} else {
			svc.ONID = sdt.OriginalNetworkID
		}
	}
}

func (a *Analyzer) onSGT(t *tsip.BinaryTable) {
	sgt, err := tables.DeserializeSGT(t)
	if err != nil {
		a.logger.Printf("invalid SGT: %v", err)
		return
	}
	tsID := uint16(0xffff)
	if a.tsID != nil {
		tsID = *a.tsID
	}
	// The original only names one id for the whole call
	// (tsTSAnalyzer.cpp: `_lcn.addFromSGT(sgt, _ts_id.value_or(0xFFFF))`);
	// this toolkit's Map keys on (service, ts, on) so the same id is
	// supplied for both until a source of a distinct original_network_id
	// for Astra SGT surfaces.
	a.lcnMap.AddFromSGT(sgt.ToLCNEntries(), tsID, tsID)
}

func (a *Analyzer) onDCT(t *tsip.BinaryTable) {
	dct, err := tables.DeserializeDCT(t)
	if err != nil {
		a.logger.Printf("invalid DCT: %v", err)
		return
	}
	if a.tsID == nil {
		a.pendingDCT = dct
		return
	}
	a.applyDCT(dct)
}

// applyDCT marks a transport stream's ISDB download-carousel (DLT) and
// ECM PIDs once both the DCT and the owning transport_stream_id (from
// PAT) are known, per tsTSAnalyzer.cpp's analyzeDCT.
func (a *Analyzer) applyDCT(dct *tables.DCT) {
	for _, s := range dct.Streams {
		if s.TransportStreamID != *a.tsID {
			continue
		}
		if s.DLPID != tables.PIDNone {
			info := a.pidInfo(s.DLPID)
			info.Description = "ISDB download (DLT)"
			info.CarrySection = true
			info.Referenced = true
			a.demux.AddPID(s.DLPID)
		}
		if s.ECMPID != tables.PIDNone {
			info := a.pidInfo(s.ECMPID)
			info.Description = "ECM for ISDB download (DLT scrambling)"
			info.CarrySection = true
			info.Referenced = true
			a.demux.AddPID(s.ECMPID)
		}
	}
}

func (a *Analyzer) onMGT(t *tsip.BinaryTable) {
	mgt, err := tables.DeserializeMGT(t)
	if err != nil {
		a.logger.Printf("invalid MGT: %v", err)
		return
	}
	for _, e := range mgt.Tables {
		info := a.pidInfo(e.PID)
		info.CarrySection = true
		info.Referenced = true
		switch {
		case e.TableType == tables.MGTTableTypeTVCTCurrent || e.TableType == tables.MGTTableTypeTVCTNext:
			info.Description = "ATSC TVCT"
		case e.TableType == tables.MGTTableTypeCVCTCurrent || e.TableType == tables.MGTTableTypeCVCTNext:
			info.Description = "ATSC CVCT"
		case e.TableType >= tables.MGTTableTypeEITFirst && e.TableType <= tables.MGTTableTypeEITLast:
			info.Description = "ATSC EIT"
		case e.TableType >= tables.MGTTableTypeEventETTFirst && e.TableType <= tables.MGTTableTypeEventETTLast:
			info.Description = "ATSC event ETT"
		case e.TableType == tables.MGTTableTypeChannelETT:
			info.Description = "ATSC channel ETT"
		case e.TableType == tables.MGTTableTypeDCCSCT:
			info.Description = "ATSC DCCSCT"
		}
		a.demux.AddPID(e.PID)
	}
}
