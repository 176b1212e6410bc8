package webrtcsink

import (
	"sync"
)

// InputStream is per-ingress-pad state, per §3: a serial index, whether it
// carries video or audio, the caps fixed on first buffer, the discovered
// payloadable caps (write-once), a producer handle, and any in-flight
// discoveries.
type InputStream struct {
	Serial int
	Kind   MediaKind
	Name   string // e.g. "video_0", "audio_0"

	Producer *StreamProducer

	mu          sync.Mutex
	ingressCaps *Caps
	outCaps     *Caps
	inFlight    map[string]*DiscoveryInfo
}

// NewInputStream creates the table entry for a newly requested pad. Per
// §3's lifecycle, this only ever happens while the element is Ready or
// below; the producer is attached separately when the element reaches
// Paused.
func NewInputStream(serial int, kind MediaKind, name string) *InputStream {
	return &InputStream{
		Serial:   serial,
		Kind:     kind,
		Name:     name,
		Producer: NewStreamProducer(),
		inFlight: make(map[string]*DiscoveryInfo),
	}
}

// SetIngressCaps fixes the caps for the first buffer on this pad. A second,
// different caps event is rejected per the write-once invariant on ingress
// renegotiation.
func (s *InputStream) SetIngressCaps(caps Caps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingressCaps != nil && !s.ingressCaps.Equal(caps) {
		return ErrRenegotiationRefused
	}
	c := caps.Clone()
	s.ingressCaps = &c
	s.Producer.SetCaps(caps)
	return nil
}

// IngressCaps returns the fixed ingress caps, if any.
func (s *InputStream) IngressCaps() (Caps, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingressCaps == nil {
		return Caps{}, false
	}
	return *s.ingressCaps, true
}

// SetOutCaps records the discovered payloadable caps, exactly once. A
// second call with different caps is rejected (§3 invariant: "discovered
// caps are write-once"); a second call with identical caps is a no-op.
func (s *InputStream) SetOutCaps(caps Caps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outCaps != nil {
		if s.outCaps.Equal(caps) {
			return nil
		}
		return ErrRenegotiationRefused
	}
	c := caps.Clone()
	s.outCaps = &c
	return nil
}

// OutCaps returns the discovered payloadable caps, if set.
func (s *InputStream) OutCaps() (Caps, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outCaps == nil {
		return Caps{}, false
	}
	return *s.outCaps, true
}

// AddDiscovery registers an in-flight probe against this stream.
func (s *InputStream) AddDiscovery(d *DiscoveryInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[d.ID] = d
}

// RemoveDiscovery clears a completed or aborted probe.
func (s *InputStream) RemoveDiscovery(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// AbortAll cancels every in-flight discovery against this stream, used
// from element teardown (§5: "unprepare aborts them all").
func (s *InputStream) AbortAll() {
	s.mu.Lock()
	pending := make([]*DiscoveryInfo, 0, len(s.inFlight))
	for _, d := range s.inFlight {
		pending = append(pending, d)
	}
	s.mu.Unlock()

	for _, d := range pending {
		d.Abort()
	}
}

// PendingDiscoveryCount reports the number of in-flight probes, used by the
// teardown-completeness testable property.
func (s *InputStream) PendingDiscoveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}
