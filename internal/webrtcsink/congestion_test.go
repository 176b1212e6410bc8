package webrtcsink

import "testing"

func newTestEncoder(session, pad string) *VideoEncoder {
	backend := &passthroughEncoder{name: "vp8enc", bitrate: 1}
	return NewVideoEncoder("vp8enc", "VP8", session, pad, backend,
		VideoInfo{Width: 1920, Height: 1080, FPSNum: 30, FPSDen: 1}, 1)
}

// TestDistributeMatchesLiteralScenario reproduces §4.5's worked example:
// two encoders, max_bitrate=4,000,000, total=6,000,000 -> fec=33%,
// per-encoder ≈ 2,250,000.
func TestDistributeMatchesLiteralScenario(t *testing.T) {
	encoders := []*VideoEncoder{
		newTestEncoder("s1", "video_0"),
		newTestEncoder("s2", "video_0"),
	}

	results := Distribute(encoders, 6_000_000, 4_000_000, true)
	if len(results) != 2 {
		t.Fatalf("expected 2 distribution entries, got %d", len(results))
	}

	for enc, info := range results {
		if info.FECPercentage != 33 {
			t.Fatalf("fec percentage = %d, want 33", info.FECPercentage)
		}
		const want = 2_255_639
		if diff := info.VideoBitrate - want; diff < -25_000 || diff > 25_000 {
			t.Fatalf("per-encoder bitrate = %d, want ~%d", info.VideoBitrate, want)
		}
		if enc.Bitrate() != info.VideoBitrate {
			t.Fatalf("encoder bitrate not applied: encoder=%d info=%d", enc.Bitrate(), info.VideoBitrate)
		}
		if enc.FECPercentage() != 33 {
			t.Fatalf("encoder FEC percentage not applied: %d", enc.FECPercentage())
		}
	}
}

func TestDistributeBelowFECThresholdAppliesNoFEC(t *testing.T) {
	encoders := []*VideoEncoder{newTestEncoder("s1", "video_0")}
	results := Distribute(encoders, 1_000_000, 4_000_000, true)
	for _, info := range results {
		if info.FECPercentage != 0 {
			t.Fatalf("expected 0%% FEC below threshold, got %d", info.FECPercentage)
		}
		if info.VideoBitrate != 1_000_000 {
			t.Fatalf("per-encoder bitrate = %d, want 1000000", info.VideoBitrate)
		}
	}
}

func TestDistributeDisabledPinsMaxBitrateAndFiftyPercentFEC(t *testing.T) {
	encoders := []*VideoEncoder{newTestEncoder("s1", "video_0"), newTestEncoder("s2", "video_0")}
	results := DistributeDisabled(encoders, 3_000_000)
	for enc, info := range results {
		if info.FECPercentage != 50 {
			t.Fatalf("FEC percentage = %d, want 50", info.FECPercentage)
		}
		if info.VideoBitrate != 3_000_000 {
			t.Fatalf("bitrate = %d, want 3000000", info.VideoBitrate)
		}
		if enc.Bitrate() != 3_000_000 {
			t.Fatalf("encoder bitrate not pinned: %d", enc.Bitrate())
		}
	}
}

func TestDistributeWithNoEncodersReturnsEmpty(t *testing.T) {
	results := Distribute(nil, 1_000_000, 2_000_000, true)
	if len(results) != 0 {
		t.Fatalf("expected empty map, got %d entries", len(results))
	}
}
