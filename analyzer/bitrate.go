package analyzer

import "gonum.org/v1/gonum/stat"

// systemClockFreq is MPEG-2 TS's 27MHz system clock, the unit PCR values
// are expressed in once base*300+extension is combined (ISO/IEC 13818-1
// §2.4.2). pktSizeBits is the bit length of one 188-byte TS packet.
const (
	systemClockFreq = 27_000_000
	pktSizeBits     = 188 * 8
	bitrateWindow   = 64
)

// bitrateEstimator derives a PID's or transport stream's bitrate from
// consecutive PCR observations, following tsTSAnalyzer.cpp's br_last_pcr/
// br_last_pcr_pkt bookkeeping: bitrate = (packets since last PCR) *
// systemClockFreq * pktSizeBits / (PCR ticks since last PCR). A PCR that
// goes backwards or jumps more than one second forward is a "leap" —
// counted separately rather than folded into the mean, per spec.md's
// Open Question #2 on drift detection.
type bitrateEstimator struct {
	samples []float64

	haveLast   bool
	lastPCR    uint64
	lastPCRPkt uint64

	leapCount   uint64
	largestLeap uint64
}

// Observe records one PCR sighting at the given packet index and returns
// the instantaneous bitrate sample it produced, if any (none on the
// first observation, or right after a leap resets the reference point).
func (b *bitrateEstimator) Observe(pcr, pktIndex uint64) (bitsPerSecond float64, ok bool) {
	if b.haveLast {
		leapDistance := uint64(0)
		leaped := false
		switch {
		case pcr < b.lastPCR:
			leapDistance = b.lastPCR - pcr
			leaped = true
		case pcr-b.lastPCR > systemClockFreq:
			leapDistance = pcr - b.lastPCR
			leaped = true
		}
		if leaped {
			b.leapCount++
			if leapDistance > b.largestLeap {
				b.largestLeap = leapDistance
			}
			b.haveLast = false
		}
	}

	if b.haveLast && pcr > b.lastPCR {
		deltaPkts := pktIndex - b.lastPCRPkt
		bitsPerSecond = float64(deltaPkts) * systemClockFreq * pktSizeBits / float64(pcr-b.lastPCR)
		ok = true
		b.samples = append(b.samples, bitsPerSecond)
		if len(b.samples) > bitrateWindow {
			b.samples = b.samples[len(b.samples)-bitrateWindow:]
		}
	}

	b.lastPCR = pcr
	b.lastPCRPkt = pktIndex
	b.haveLast = true
	return bitsPerSecond, ok
}

// MeanVariance returns the rolling mean and variance of the estimator's
// recent bitrate samples (zero, zero if none yet observed).
func (b *bitrateEstimator) MeanVariance() (mean, variance float64) {
	if len(b.samples) == 0 {
		return 0, 0
	}
	if len(b.samples) == 1 {
		return b.samples[0], 0
	}
	return stat.MeanVariance(b.samples, nil)
}

// LeapStats returns the count of detected PCR leaps and the largest leap
// distance seen so far, in 27MHz clock ticks.
func (b *bitrateEstimator) LeapStats() (count, largest uint64) {
	return b.leapCount, b.largestLeap
}
