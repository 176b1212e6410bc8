package webrtcsink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DiscoveryKind distinguishes the lazy first-buffer probe from the
// per-session codec-selection probe run against an inbound offer, per §3.
type DiscoveryKind int

const (
	DiscoveryInitial DiscoveryKind = iota
	DiscoveryCodecSelection
)

// DiscoveryInfo is a correlation token for one active discovery, per §3:
// a unique id, its kind, the caps being probed, and the consumer links the
// transient probe pipeline feeds from the real producer.
type DiscoveryInfo struct {
	ID   string
	Kind DiscoveryKind
	Caps Caps

	mu       sync.Mutex
	aborted  bool
	abortCh  chan struct{}
	links    []*ProducerLink
}

// NewDiscoveryInfo allocates a token for a new probe.
func NewDiscoveryInfo(id string, kind DiscoveryKind, caps Caps) *DiscoveryInfo {
	return &DiscoveryInfo{
		ID:      id,
		Kind:    kind,
		Caps:    caps,
		abortCh: make(chan struct{}),
	}
}

// Abort cancels the probe; DiscoverCaps observes this and returns early
// without producing a result. Safe to call more than once.
func (d *DiscoveryInfo) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aborted {
		return
	}
	d.aborted = true
	close(d.abortCh)
}

// IsAborted reports whether Abort has been called.
func (d *DiscoveryInfo) IsAborted() bool {
	select {
	case <-d.abortCh:
		return true
	default:
		return false
	}
}

// addLink records a fan-out link this probe is feeding from, so it can be
// inspected by tests/stats; the producer owns the link's lifecycle.
func (d *DiscoveryInfo) addLink(l *ProducerLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links = append(d.links, l)
}

// discoveryProbeSamples is how many real buffers from the producer the
// transient pipeline drains before declaring a result, mirroring the
// source's "tee'd to feed it real buffers" probe without needing an
// indefinite media-framework pipeline.
const discoveryProbeSamples = 4

// DiscoverCaps runs one candidate codec's transient encode pipeline against
// live samples forwarded from the stream's producer: raw samples in,
// through the candidate's encoder, scrubbed and payload-type-injected caps
// out. Candidates are tried sequentially by the caller (never in parallel)
// to avoid contention on a shared hardware/software encoder, per §4.2.
func DiscoverCaps(ctx context.Context, stream *InputStream, candidate Codec, cfg EncoderConfig) (Caps, error) {
	if candidate.NewEncoder == nil {
		return Caps{}, fmt.Errorf("%w: %s has no encoder factory", ErrCodecNotFound, candidate.Name)
	}

	info := NewDiscoveryInfo(uuid.NewString(), DiscoveryInitial, NewCaps(""))
	stream.AddDiscovery(info)
	defer stream.RemoveDiscovery(info.ID)

	link := stream.Producer.AddConsumer()
	info.addLink(link)
	defer link.Remove()

	enc, err := candidate.NewEncoder(cfg)
	if err != nil {
		return Caps{}, fmt.Errorf("webrtcsink: building %s encoder for discovery: %w", candidate.Name, err)
	}
	defer enc.Close()

	received := 0
	for received < discoveryProbeSamples {
		select {
		case <-ctx.Done():
			return Caps{}, ctx.Err()
		case <-info.abortCh:
			return Caps{}, fmt.Errorf("webrtcsink: discovery of %s aborted", candidate.Name)
		case sample, ok := <-link.Samples():
			if !ok {
				return Caps{}, fmt.Errorf("webrtcsink: producer closed during discovery of %s", candidate.Name)
			}
			if sample.Caps != nil {
				// Caps-only replay sample: not a real buffer, doesn't count
				// toward the probe quota.
				continue
			}
			if _, err := enc.Encode(sample.Data); err != nil {
				return Caps{}, fmt.Errorf("webrtcsink: encoding during discovery of %s: %w", candidate.Name, err)
			}
			received++
		}
	}

	probed := NewCaps("application/x-rtp")
	probed.Fields["media"] = candidate.Kind.String()
	probed.Fields["encoding-name"] = candidate.Name
	probed.Fields["clock-rate"] = int(candidate.ClockRate)
	// timestamp-offset/seqnum-offset/ssrc are what a live payloader would
	// have stamped on the caps event; scrubbed immediately below so the
	// result is deterministic for tests and for the write-once out_caps.
	probed.Fields["timestamp-offset"] = 0
	probed.Fields["seqnum-offset"] = 0
	probed.Fields["ssrc"] = 0

	return ScrubProbedCaps(probed, int(candidate.PayloadType)), nil
}

// DiscoverFirstWorking runs DiscoverCaps over candidates in order and
// returns the first one that succeeds, discarding failures as recoverable
// warnings (§4.2: "On error, that candidate is discarded; overall
// discovery succeeds if at least one caps set was produced.").
func DiscoverFirstWorking(ctx context.Context, stream *InputStream, candidates []Codec, cfg EncoderConfig) (Codec, Caps, error) {
	for _, candidate := range candidates {
		caps, err := DiscoverCaps(ctx, stream, candidate, cfg)
		if err != nil {
			log.Warn("discovery candidate failed", "codec", candidate.Name, "error", err)
			continue
		}
		return candidate, caps, nil
	}
	return Codec{}, Caps{}, ErrCodecNotFound
}
