package webrtcsink

import "time"

// CCMode selects which congestion feedback loop a session runs, per §4.5
// and the `congestion-control` setting in §6.
type CCMode string

const (
	CCDisabled               CCMode = "disabled"
	CCHomegrown              CCMode = "homegrown"
	CCGoogleCongestionControl CCMode = "gcc"
)

// doFECThreshold is the bits/s point above which forward error correction
// starts being allocated, per §4.5.
const doFECThreshold = 2_000_000

// CCInfo bundles one encoder's congestion-control bookkeeping into a
// single struct, grounded on the original source's CCInfo (imp.rs:65):
// the distributed bitrate, the FEC percentage applied alongside it, and
// when the controller last recomputed both. Distribute and
// DistributeDisabled return one per encoder; the `stats` property (§6)
// does not read CCInfo but reads bitrate and FEC percentage off each
// VideoEncoder.
type CCInfo struct {
	VideoBitrate  int
	FECPercentage int
	LastUpdate    time.Time
}

// Distribute implements §4.5's bitrate/FEC distribution formula: given a
// total target bitrate B and the bitrate ceiling per encoder, it computes
// the FEC ratio, then splits B across N encoders, applying both to every
// encoder and returning each one's CCInfo. Disabled mode is not handled
// here but by DistributeDisabled below.
func Distribute(encoders []*VideoEncoder, totalBitrate, maxBitratePerEncoder int, doFEC bool) map[*VideoEncoder]CCInfo {
	n := len(encoders)
	results := make(map[*VideoEncoder]CCInfo, n)
	if n == 0 {
		return results
	}

	fecPercentage := 0
	if doFEC {
		denominator := n*maxBitratePerEncoder - doFECThreshold
		if totalBitrate > doFECThreshold && denominator > 0 {
			fecRatio := float64(totalBitrate-doFECThreshold) / float64(denominator)
			fecPercentage = clampInt(int(fecRatio*50+0.5), 0, 100)
		}
	}

	perEncoder := int(float64(totalBitrate) / (1 + float64(fecPercentage)/100) / float64(n))
	if perEncoder < 1 {
		perEncoder = 1
	}

	now := time.Now()
	for _, enc := range encoders {
		info := CCInfo{VideoBitrate: perEncoder, FECPercentage: fecPercentage, LastUpdate: now}
		if err := enc.SetDistribution(perEncoder, fecPercentage); err != nil {
			log.Warn("failed to apply distributed bitrate", "encoder", enc.FactoryName, "error", err)
		}
		results[enc] = info
	}
	return results
}

// DistributeDisabled pins every encoder at its max bitrate with FEC fixed
// at 50%, per §4.5's "Disabled mode pins each encoder at max_bitrate and
// FEC at 50%."
func DistributeDisabled(encoders []*VideoEncoder, maxBitratePerEncoder int) map[*VideoEncoder]CCInfo {
	results := make(map[*VideoEncoder]CCInfo, len(encoders))
	now := time.Now()
	for _, enc := range encoders {
		if err := enc.SetDistribution(maxBitratePerEncoder, 50); err != nil {
			log.Warn("failed to pin disabled-mode bitrate", "encoder", enc.FactoryName, "error", err)
		}
		results[enc] = CCInfo{VideoBitrate: maxBitratePerEncoder, FECPercentage: 50, LastUpdate: now}
	}
	return results
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
