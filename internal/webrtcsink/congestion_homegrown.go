package webrtcsink

import (
	"context"
	"sync"
	"time"
)

// homegrownTick is the stats poll interval the controller runs at, per
// §4.5 ("On periodic stats (100 ms tick)") and §5's suspension-point list.
const homegrownTick = 100 * time.Millisecond

const ewmaAlpha = 0.3

// HomegrownController is the delay+loss feedback loop of §4.5, generalized
// from the teacher's single-encoder AdaptiveBitrate (adaptive.go) into two
// independent estimators — delay_control from RTT/jitter stats,
// loss_control from TWCC/RTCP loss feedback — whose minimum becomes the
// session's effective target before Distribute splits it across encoders.
type HomegrownController struct {
	mu sync.Mutex

	minBitrate, maxBitrate int
	encoders               []*VideoEncoder
	doFEC                  bool

	smoothedRTT  time.Duration
	smoothedLoss float64
	samples      int

	targetOnDelay int
	targetOnLoss  int

	stats *SessionStats

	stopCh chan struct{}
	stopOnce sync.Once
}

// NewHomegrownController builds a per-session controller seeded at the
// configured start bitrate.
func NewHomegrownController(minBitrate, maxBitrate, startBitrate int, doFEC bool) *HomegrownController {
	start := clampInt(startBitrate, minBitrate, maxBitrate)
	return &HomegrownController{
		minBitrate:    minBitrate,
		maxBitrate:    maxBitrate,
		doFEC:         doFEC,
		targetOnDelay: start,
		targetOnLoss:  start,
		stopCh:        make(chan struct{}),
	}
}

// SetEncoders updates which encoders this session's controller distributes
// bitrate across; called whenever the session's encoder set changes.
func (c *HomegrownController) SetEncoders(encoders []*VideoEncoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoders = encoders
}

// SetStats attaches the session's rolling stats structure so every tick's
// RTT/loss sample is reflected there too, readable through
// SessionStats.Snapshot. The element's `stats` property does not include
// these numbers; it reports per-encoder bitrate/FEC only.
func (c *HomegrownController) SetStats(stats *SessionStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
}

// OnStatsTick feeds one RTT/jitter sample into delay_control, per the
// periodic 100ms stats poll named in §4.5.
func (c *HomegrownController) OnStatsTick(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateEWMA(rtt, c.smoothedLoss)
	c.targetOnDelay = c.aimd(c.targetOnDelay, rttCongested(c.smoothedRTT))
	c.reportLocked()
}

// OnTWCCFeedback feeds one loss-rate sample into loss_control. It is
// invoked by congestion_rtcp.go's loop once per RTCP receiver report, with
// that report's average fraction lost.
func (c *HomegrownController) OnTWCCFeedback(lossRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateEWMA(c.smoothedRTT, lossRate)
	c.targetOnLoss = c.aimd(c.targetOnLoss, lossCongested(c.smoothedLoss))
	c.reportLocked()
}

// reportLocked mirrors the latest smoothed samples into the session's
// rolling stats. Caller must hold c.mu.
func (c *HomegrownController) reportLocked() {
	if c.stats == nil {
		return
	}
	c.stats.mu.Lock()
	c.stats.RTT = c.smoothedRTT
	c.stats.Loss = c.smoothedLoss
	c.stats.mu.Unlock()
}

func (c *HomegrownController) updateEWMA(rtt time.Duration, loss float64) {
	c.samples++
	if c.samples == 1 {
		c.smoothedRTT = rtt
		c.smoothedLoss = loss
		return
	}
	c.smoothedRTT = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(c.smoothedRTT))
	c.smoothedLoss = ewmaAlpha*loss + (1-ewmaAlpha)*c.smoothedLoss
}

// aimd applies the same multiplicative-decrease/additive-increase shape as
// the teacher's AdaptiveBitrate.Update: 0.70x on congestion, +5%-of-max
// probe when clean.
func (c *HomegrownController) aimd(current int, congested bool) int {
	if congested {
		return clampInt(int(float64(current)*0.70), c.minBitrate, c.maxBitrate)
	}
	step := c.maxBitrate / 20
	if step < 100_000 {
		step = 100_000
	}
	return clampInt(current+step, c.minBitrate, c.maxBitrate)
}

func rttCongested(rtt time.Duration) bool  { return rtt >= 300*time.Millisecond }
func lossCongested(loss float64) bool      { return loss >= 0.05 }

// EffectiveTarget returns min(delay, loss), the value Distribute uses.
func (c *HomegrownController) EffectiveTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.targetOnDelay < c.targetOnLoss {
		return c.targetOnDelay
	}
	return c.targetOnLoss
}

// Run starts the 100ms distribution loop; statsFn supplies the latest
// RTT sample for delay_control (loss samples arrive asynchronously via
// OnTWCCFeedback instead, matching §4.5's two independent triggers).
func (c *HomegrownController) Run(ctx context.Context, statsFn func() time.Duration) {
	ticker := time.NewTicker(homegrownTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.OnStatsTick(statsFn())
			target := c.EffectiveTarget()

			c.mu.Lock()
			encoders := append([]*VideoEncoder(nil), c.encoders...)
			maxPer := c.maxBitrate
			doFEC := c.doFEC
			c.mu.Unlock()

			if len(encoders) == 0 {
				continue
			}
			Distribute(encoders, target, maxPer, doFEC)
		}
	}
}

// Stop ends the distribution loop. Safe to call more than once.
func (c *HomegrownController) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
