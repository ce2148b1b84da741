package analyzer

import "sort"

// PIDReport is the point-in-time snapshot of one PID's PIDInfo exposed
// to a caller of Analyzer.Report, with the running bitrate/leap state
// flattened out of the unexported estimator.
type PIDReport struct {
	PID         uint16
	Class       string
	Description string
	PacketCount uint64
	FirstPacket uint64
	LastPacket  uint64

	CarrySection bool
	CarryAudio   bool
	CarryVideo   bool
	CarryPES     bool
	CarryECM     bool
	CarryEMM     bool

	Duplicated                uint64
	ExpectedDiscontinuities   uint64
	UnexpectedDiscontinuities uint64
	Scrambled                 uint64
	InvalidPESStart           uint64

	BitrateMean     float64
	BitrateVariance float64
	PCRLeapCount    uint64
	PCRLargestLeap  uint64

	CASID     uint16
	CASFamily string
}

// ServiceReport is a program_number's aggregated view.
type ServiceReport struct {
	ServiceID uint16
	TSID      uint16
	ONID      uint16
	PMTPID    uint16
	PCRPID    uint16
	PIDs      []uint16
}

// Report is the full point-in-time snapshot spec.md §4.9 calls for:
// every PID split into its three reporting classes, plus per-service
// aggregation and the transport-stream-wide bitrate estimate.
type Report struct {
	TransportStreamID *uint16
	OriginalNetworkID uint16

	Service      []PIDReport
	Global       []PIDReport
	Unreferenced []PIDReport

	Services []ServiceReport

	TSBitrateMean     float64
	TSBitrateVariance float64
	TSPCRLeapCount    uint64
	TSPCRLargestLeap  uint64
}

// Report builds a Report from the analyzer's current accumulated state.
func (a *Analyzer) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Report{TransportStreamID: a.tsID, OriginalNetworkID: a.onID}
	r.TSBitrateMean, r.TSBitrateVariance = a.tsBitrate.MeanVariance()
	r.TSPCRLeapCount, r.TSPCRLargestLeap = a.tsBitrate.LeapStats()

	pids := make([]uint16, 0, len(a.pids))
	for pid := range a.pids {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		info := a.pids[pid]
		pr := pidReportFrom(info)
		switch info.Class() {
		case "service":
			r.Service = append(r.Service, pr)
		case "global":
			r.Global = append(r.Global, pr)
		default:
			r.Unreferenced = append(r.Unreferenced, pr)
		}
	}

	svcIDs := make([]uint16, 0, len(a.services))
	for id := range a.services {
		svcIDs = append(svcIDs, id)
	}
	sort.Slice(svcIDs, func(i, j int) bool { return svcIDs[i] < svcIDs[j] })
	for _, id := range svcIDs {
		svc := a.services[id]
		r.Services = append(r.Services, ServiceReport{
			ServiceID: svc.ServiceID,
			TSID:      svc.TSID,
			ONID:      svc.ONID,
			PMTPID:    svc.PMTPID,
			PCRPID:    svc.PCRPID,
			PIDs:      append([]uint16(nil), svc.PIDs...),
		})
	}
	return r
}

func pidReportFrom(info *PIDInfo) PIDReport {
	mean, variance := info.bitrate.MeanVariance()
	leapCount, largestLeap := info.bitrate.LeapStats()
	return PIDReport{
		PID:                       info.PID,
		Class:                     info.Class(),
		Description:               info.Description,
		PacketCount:               info.PacketCount,
		FirstPacket:               info.FirstPacket,
		LastPacket:                info.LastPacket,
		CarrySection:              info.CarrySection,
		CarryAudio:                info.CarryAudio,
		CarryVideo:                info.CarryVideo,
		CarryPES:                  info.CarryPES,
		CarryECM:                  info.CarryECM,
		CarryEMM:                  info.CarryEMM,
		Duplicated:                info.Duplicated,
		ExpectedDiscontinuities:   info.ExpectedDiscontinuities,
		UnexpectedDiscontinuities: info.UnexpectedDiscontinuities,
		Scrambled:                 info.Scrambled,
		InvalidPESStart:           info.InvalidPESStart,
		BitrateMean:               mean,
		BitrateVariance:           variance,
		PCRLeapCount:              leapCount,
		PCRLargestLeap:            largestLeap,
		CASID:                     info.CASID,
		CASFamily:                 info.CASFamily.String(),
	}
}
