package webrtcsink

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// SessionState is the negotiation state machine of §4.3:
// Fresh → PadsRequested → LocalDescriptionCreated → RemoteDescriptionSet →
// Connected → (Closing → Closed).
type SessionState int

const (
	SessionFresh SessionState = iota
	SessionPadsRequested
	SessionLocalDescriptionCreated
	SessionRemoteDescriptionSet
	SessionConnected
	SessionClosing
	SessionClosed
)

// WebRTCPad is one m-line's worth of session state, per §3: the
// transceiver, fixed ingress caps, media index, chosen ssrc, optional
// stream name (absent ⇒ inactive placeholder), and payload type filled in
// after the answer is applied.
type WebRTCPad struct {
	MediaIndex  int
	Kind        MediaKind
	SSRC        uint32
	StreamName  string // "" for an inactive placeholder pad
	PayloadType *uint8
	Codec       Codec // populated alongside PayloadType once negotiation picks a codec
	Direction   webrtc.RTPTransceiverDirection
	Transceiver *webrtc.RTPTransceiver
}

// Active reports whether this pad carries real media (has a stream name).
func (p *WebRTCPad) Active() bool { return p.StreamName != "" }

// SessionStats is the rolling per-session stats structure named in §3: the
// homegrown controller's latest smoothed RTT/loss samples (per-encoder
// bitrate/FEC/mitigation numbers live on the VideoEncoders themselves and
// are read directly by the element's `stats` property).
type SessionStats struct {
	mu   sync.Mutex
	RTT  time.Duration
	Loss float64
}

// Snapshot returns a copy of the current RTT/loss sample.
func (s *SessionStats) Snapshot() (rtt time.Duration, loss float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RTT, s.Loss
}

// Session is the per-peer pipeline of §3: a PeerConnection, a map of
// ssrc→WebRTCPad, the session's VideoEncoders, at most one congestion
// controller, rolling stats, and (for the inbound path) a codec table
// built from the remote offer.
type Session struct {
	mu sync.Mutex

	ID     string
	PeerID string

	PC    *webrtc.PeerConnection
	Pads  map[uint32]*WebRTCPad
	State SessionState

	Encoders  []*VideoEncoder
	Homegrown *HomegrownController
	GCC       *GCCController

	Stats SessionStats

	// codecsByPT is populated only on the inbound (remote-offer) path:
	// the codec table negotiated from that specific offer.
	codecsByPT map[uint8]Codec

	links      []*ProducerLink
	navChannel *webrtc.DataChannel

	ctx       context.Context
	cancel    context.CancelFunc
	finalized chan struct{}
}

// NewSession constructs an empty session shell; negotiation functions
// below populate Pads/Encoders/controllers as they run.
func NewSession(id, peerID string, pc *webrtc.PeerConnection) *Session {
	return &Session{
		ID:         id,
		PeerID:     peerID,
		PC:         pc,
		Pads:       make(map[uint32]*WebRTCPad),
		State:      SessionFresh,
		codecsByPT: make(map[uint8]Codec),
		finalized:  make(chan struct{}),
	}
}

// allocateSSRC implements the §3 WebRTCPad invariant — "ssrc is unique
// within the session, generated by retry-until-unique random selection" —
// by drawing random uint32s (never zero, which RTP reserves) until one
// isn't already a key in Pads. Caller must hold s.mu.
func (s *Session) allocateSSRC() (uint32, error) {
	for attempt := 0; attempt < 64; attempt++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		ssrc := binary.BigEndian.Uint32(buf[:])
		if ssrc == 0 {
			continue
		}
		if _, taken := s.Pads[ssrc]; !taken {
			return ssrc, nil
		}
	}
	return 0, fmt.Errorf("webrtcsink: could not allocate a unique ssrc for session %s", s.ID)
}

// RequestActivePad adds a Sendonly transceiver for one InputStream, per
// the pad-per-m-line policy in §4.3. doFEC/doNACK are accepted from the
// element Settings but not applied: no FEC type or NACK option is set on
// the transceiver.
func (s *Session) RequestActivePad(mediaIndex int, stream *InputStream, doFEC, doNACK bool) (*WebRTCPad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ssrc, err := s.allocateSSRC()
	if err != nil {
		return nil, err
	}

	kind := webrtc.RTPCodecTypeVideo
	if stream.Kind == MediaAudio {
		kind = webrtc.RTPCodecTypeAudio
	}

	transceiver, err := s.PC.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, fmt.Errorf("webrtcsink: requesting transceiver for %s: %w", stream.Name, err)
	}

	pad := &WebRTCPad{
		MediaIndex:  mediaIndex,
		Kind:        stream.Kind,
		SSRC:        ssrc,
		StreamName:  stream.Name,
		Direction:   webrtc.RTPTransceiverDirectionSendonly,
		Transceiver: transceiver,
	}
	s.Pads[ssrc] = pad
	s.State = SessionPadsRequested
	_ = doFEC // unused
	_ = doNACK
	return pad, nil
}

// RequestInactivePad records an m-line that has no matching local stream:
// direction Inactive, empty stream name, no-op for connect_input_stream,
// per §4.3's pad-per-m-line policy.
func (s *Session) RequestInactivePad(mediaIndex int, kind MediaKind) *WebRTCPad {
	s.mu.Lock()
	defer s.mu.Unlock()
	pad := &WebRTCPad{
		MediaIndex: mediaIndex,
		Kind:       kind,
		Direction:  webrtc.RTPTransceiverDirectionInactive,
	}
	// Inactive pads aren't keyed by ssrc (they never send), so they're
	// tracked by a synthetic key derived from media index to keep Pads a
	// single lookup table. allocateSSRC skips keys already in Pads, so an
	// active pad added later never reuses one.
	s.Pads[inactivePadKey(mediaIndex)] = pad
	return pad
}

func inactivePadKey(mediaIndex int) uint32 {
	// 0 is reserved (never a valid allocated ssrc), so offsetting by one
	// keeps inactive placeholder keys off 0; the keys 1, 2, ... are still
	// values a random ssrc draw could produce.
	return uint32(mediaIndex) + 1
}

// ActivePads returns every pad carrying real media, for the payload-
// completeness invariant check and for stats.
func (s *Session) ActivePads() []*WebRTCPad {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WebRTCPad, 0, len(s.Pads))
	for _, p := range s.Pads {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// SSRCs returns the set of ssrcs in use by active pads, for the ssrc-
// uniqueness testable property.
func (s *Session) SSRCs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.Pads))
	for ssrc, p := range s.Pads {
		if p.Active() {
			out = append(out, ssrc)
		}
	}
	return out
}

// SetEncoders records this session's VideoEncoders and wires them into
// whichever congestion controller is active.
func (s *Session) SetEncoders(encoders []*VideoEncoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Encoders = encoders
	if s.Homegrown != nil {
		s.Homegrown.SetEncoders(encoders)
	}
	if s.GCC != nil {
		s.GCC.SetEncoders(encoders)
	}
}

// EncodersSnapshot returns a copy of this session's current VideoEncoders,
// for the `stats` read-only property (§6).
func (s *Session) EncodersSnapshot() []*VideoEncoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*VideoEncoder, len(s.Encoders))
	copy(out, s.Encoders)
	return out
}

// PadByMid finds the active pad whose negotiated transceiver mid matches,
// for routing a navigation event (§4.7) that named a specific mid.
func (s *Session) PadByMid(mid string) *WebRTCPad {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Pads {
		if p.Active() && p.Transceiver != nil && p.Transceiver.Mid() == mid {
			return p
		}
	}
	return nil
}

// SetNavChannel records the session's navigation data channel once opened.
func (s *Session) SetNavChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navChannel = dc
}

// Close begins asynchronous teardown: State moves to Closing immediately,
// the PeerConnection is closed on the caller's goroutine (pion's Close is
// itself non-blocking on network I/O), controllers are stopped, and fan-
// out links are released. State moves to Closed and the finalized channel
// closes once everything above has run, matching §3's "teardown is
// asynchronous...tracked in a finalizing set".
func (s *Session) Close() {
	s.mu.Lock()
	if s.State == SessionClosing || s.State == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.State = SessionClosing
	cancel := s.cancel
	links := s.links
	homegrown := s.Homegrown
	gcc := s.GCC
	pc := s.PC
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if homegrown != nil {
		homegrown.Stop()
	}
	if gcc != nil {
		gcc.Stop()
	}
	for _, l := range links {
		l.Remove()
	}
	if pc != nil {
		_ = pc.Close()
	}

	s.mu.Lock()
	s.State = SessionClosed
	s.mu.Unlock()
	close(s.finalized)
}

// Finalized returns a channel closed once Close has fully run, for
// Element.Unprepare's condvar-equivalent wait.
func (s *Session) Finalized() <-chan struct{} { return s.finalized }
