package webrtcsink

import (
	"sync"
	"time"
)

var log = newComponentLogger("webrtcsink")

// Sample is the Go-native stand-in for a timestamped GStreamer buffer
// flowing out of an appsink: encoded or raw payload bytes plus a duration.
// A Caps-only sample (Data nil) is the in-band stand-in for a GStreamer
// caps/segment event, replayed to newly added consumers ahead of live data.
type Sample struct {
	Data     []byte
	Duration time.Duration
	KeyFrame bool
	Caps     *Caps
}

// consumerLinkBuffer is how many samples a slow consumer can buffer before
// the fan-out starts dropping the oldest one, keeping one peer's backlog
// from growing without bound or stalling the ingress.
const consumerLinkBuffer = 8

// ProducerLink is the handle returned by StreamProducer.AddConsumer. Closing
// it (via Remove) detaches that consumer; it is the fan-out analogue of
// dropping an appsrc pad probe.
type ProducerLink struct {
	id       uint64
	samples  chan Sample
	producer *StreamProducer
	done     chan struct{}
	closeOne sync.Once
}

// Samples returns the channel the consumer should range over.
func (l *ProducerLink) Samples() <-chan Sample { return l.samples }

// Remove detaches this consumer from the producer. Safe to call more than
// once and safe to call concurrently with fan-out.
func (l *ProducerLink) Remove() {
	l.closeOne.Do(func() {
		l.producer.removeLink(l.id)
		close(l.done)
	})
}

// StreamProducer is the appsink-equivalent ingress side of one InputStream:
// it broadcasts every pushed sample to all currently registered consumer
// links. Each link has independent, forward-dropping backpressure so one
// slow remote peer cannot stall the ingress or any other peer, per §4.1.
// The last-seen caps are replayed, sticky-event style, to any consumer
// added after streaming has already started.
type StreamProducer struct {
	mu       sync.Mutex
	nextID   uint64
	links    map[uint64]*ProducerLink
	lastCaps *Caps
	started  bool
}

// NewStreamProducer creates an empty fan-out point for one ingress stream.
func NewStreamProducer() *StreamProducer {
	return &StreamProducer{links: make(map[uint64]*ProducerLink)}
}

// SetCaps records the ingress caps so they can be replayed, as a sticky
// caps event, to consumers added after streaming has already started.
func (p *StreamProducer) SetCaps(caps Caps) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := caps.Clone()
	p.lastCaps = &c
	p.started = true
}

// AddConsumer registers a new fan-out destination and returns its link
// handle. If caps have already been observed, a caps-only Sample is queued
// immediately so the new consumer sees them before any live data, mirroring
// "caps and segment events are replayed to newly added consumers."
func (p *StreamProducer) AddConsumer() *ProducerLink {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	link := &ProducerLink{
		id:       p.nextID,
		samples:  make(chan Sample, consumerLinkBuffer),
		producer: p,
		done:     make(chan struct{}),
	}
	if p.lastCaps != nil {
		c := p.lastCaps.Clone()
		link.samples <- Sample{Caps: &c}
	}
	p.links[link.id] = link
	return link
}

// Push broadcasts a sample to every registered consumer. A consumer whose
// buffer is full has its oldest sample dropped in favor of the new one
// (forward-drop), rather than blocking the broadcaster.
func (p *StreamProducer) Push(sample Sample) {
	p.mu.Lock()
	links := make([]*ProducerLink, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	for _, l := range links {
		select {
		case l.samples <- sample:
		default:
			select {
			case <-l.samples:
			default:
			}
			select {
			case l.samples <- sample:
			default:
				log.Debug("dropping sample, consumer link still full after eviction", "link", l.id)
			}
		}
	}
}

// ConsumerCount reports the number of currently registered links, mainly
// for stats and tests.
func (p *StreamProducer) ConsumerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

func (p *StreamProducer) removeLink(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.links, id)
}
