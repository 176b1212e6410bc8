package webrtcsink

import "testing"

func TestHomegrownControllerDecreasesTargetOnCongestion(t *testing.T) {
	c := NewHomegrownController(500_000, 8_000_000, 4_000_000, true)

	before := c.EffectiveTarget()
	c.OnStatsTick(400_000_000) // 400ms RTT, above the 300ms congestion threshold
	after := c.EffectiveTarget()

	if after >= before {
		t.Fatalf("target after congestion = %d, want < %d", after, before)
	}
}

func TestHomegrownControllerIncreasesDelayTargetWhenClean(t *testing.T) {
	c := NewHomegrownController(500_000, 8_000_000, 1_000_000, true)

	before := c.targetOnDelay
	c.OnStatsTick(10_000_000) // 10ms RTT, well under the congestion threshold
	after := c.targetOnDelay

	if after <= before {
		t.Fatalf("delay target after clean tick = %d, want > %d", after, before)
	}
}

func TestHomegrownControllerEffectiveTargetIsMinOfDelayAndLoss(t *testing.T) {
	c := NewHomegrownController(500_000, 8_000_000, 4_000_000, true)
	c.OnTWCCFeedback(0.10) // 10% loss, above the 5% congestion threshold
	if got := c.EffectiveTarget(); got != c.targetOnLoss {
		t.Fatalf("EffectiveTarget() = %d, want targetOnLoss %d (the lower of the two)", got, c.targetOnLoss)
	}
}

func TestHomegrownControllerReportsSmoothedStatsToSession(t *testing.T) {
	c := NewHomegrownController(500_000, 8_000_000, 4_000_000, true)
	var stats SessionStats
	c.SetStats(&stats)

	c.OnStatsTick(150_000_000) // 150ms
	c.OnTWCCFeedback(0.02)

	rtt, loss := stats.Snapshot()
	if rtt == 0 {
		t.Fatalf("expected RTT to be reported to session stats, got 0")
	}
	if loss == 0 {
		t.Fatalf("expected loss to be reported to session stats, got 0")
	}
}

func TestHomegrownControllerStopIsIdempotent(t *testing.T) {
	c := NewHomegrownController(500_000, 8_000_000, 4_000_000, true)
	c.Stop()
	c.Stop() // must not panic (double close)
}
