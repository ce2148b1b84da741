package analyzer

// DIDConditionalAccess is the MPEG CA_descriptor tag (ISO/IEC 13818-1
// §2.6.16), the one descriptor this package decodes structurally rather
// than leaving to tsip.Descriptor's generic tag/payload view: it is how
// every CAS family — Mediaguard, SafeAccess, Viaccess and the rest —
// locates its ECM/EMM PIDs.
const DIDConditionalAccess uint8 = 0x09

// CASFamily groups CA_system_id values into the operator family
// tsTSAnalyzer.cpp special-cases (analyzeCADescriptor). The exact
// dispatch function (CASFamilyOf in the original) didn't survive
// filtering, only its call sites; the ranges below follow the public
// DVB SimulCrypt CA_system_id registry, documented here rather than
// ported from a source file that wasn't available.
type CASFamily int

const (
	CASUnknown CASFamily = iota
	CASMediaguard
	CASViaccess
	CASSafeAccess
)

// CASFamilyOf classifies a CA_system_id into the family whose ECM/EMM
// payload shape analyzeCADescriptor special-cases, or CASUnknown for
// anything else (still tracked, just without family-specific payload
// interpretation).
func CASFamilyOf(casID uint16) CASFamily {
	switch {
	case casID >= 0x0100 && casID <= 0x01ff:
		return CASMediaguard
	case casID >= 0x0500 && casID <= 0x05ff:
		return CASViaccess
	case casID == 0x4adc:
		return CASSafeAccess
	default:
		return CASUnknown
	}
}

func (f CASFamily) String() string {
	switch f {
	case CASMediaguard:
		return "Mediaguard"
	case CASViaccess:
		return "Viaccess"
	case CASSafeAccess:
		return "SafeAccess"
	default:
		return "unknown"
	}
}

// caDescriptorContext distinguishes a CA_descriptor found in a CAT
// (locates an EMM, stream-wide) from one found in a PMT (locates an
// ECM, program-specific) — the two contexts tsTSAnalyzer.cpp's
// analyzeCADescriptor dispatches on before applying family-specific
// payload-size gating.
type caDescriptorContext int

const (
	contextCAT caDescriptorContext = iota
	contextPMT
)

// caDescriptor is a decoded CA_descriptor: ca_system_id:16, reserved:3,
// ca_pid:13, followed by CA-private data this package doesn't interpret
// beyond the family-specific size gate below.
type caDescriptor struct {
	CASID   uint16
	CAPID   uint16
	Private []byte
}

func parseCADescriptor(payload []byte) (caDescriptor, bool) {
	if len(payload) < 4 {
		return caDescriptor{}, false
	}
	return caDescriptor{
		CASID:   uint16(payload[0])<<8 | uint16(payload[1]),
		CAPID:   uint16(payload[2]&0x1f)<<8 | uint16(payload[3]),
		Private: payload[4:],
	}, true
}

// recognized reports whether a CA_descriptor's private payload matches
// the size gating its family is known to use in the given context —
// Mediaguard ECMs in a PMT need at least 13 private bytes, its EMMs in a
// CAT are either a bare 4-byte stub or carry at least one byte;
// SafeAccess EMMs need at least one byte; Viaccess imposes no further
// gating here (its ECM/EMM share one shape in both contexts). Anything
// that doesn't match is still recorded as "carries CA", just without the
// family label.
func recognized(family CASFamily, ctx caDescriptorContext, privateLen int) bool {
	switch family {
	case CASMediaguard:
		if ctx == contextPMT {
			return privateLen >= 13
		}
		return privateLen == 0 || privateLen >= 1
	case CASSafeAccess:
		if ctx == contextCAT {
			return privateLen >= 1
		}
		return true
	case CASViaccess:
		return true
	default:
		return false
	}
}
