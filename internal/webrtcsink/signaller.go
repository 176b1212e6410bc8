package webrtcsink

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaller is the abstract transport contract of §4.6: a narrow interface
// the core drives through method calls, with a matching set of events the
// signaller raises back into the core via the EventHandler it's given.
// Concrete transports implement this same interface — "dynamic-dispatch
// signaller...tagged variants behind the same interface object" per §9;
// the one in this repository is the "custom" variant in internal/signalws.
type Signaller interface {
	// Start begins the signaller's connection/listen loop.
	Start(ctx context.Context) error
	// Stop tears the signaller down.
	Stop() error
	// SendSDP forwards a local offer or answer for a session to the peer.
	SendSDP(sessionID string, sdp webrtc.SessionDescription) error
	// AddICECandidate forwards a locally gathered ICE candidate.
	AddICECandidate(sessionID string, candidate webrtc.ICECandidateInit) error
	// EndSession tells the remote transport a session has ended locally.
	EndSession(sessionID string) error
	// SetEventHandler registers the core's callbacks. Implementations must
	// support this being called again (e.g. SetSignaller while Ready) and
	// should disconnect any previously attached handler first.
	SetEventHandler(EventHandler)
}

// EventHandler is the set of signals a Signaller emits to the core, per
// §4.6. Plain func fields stand in for GObject signals: Go has no signal
// bus, so each is called synchronously at the point the Rust source would
// have emitted it. A nil field means the core doesn't care about that
// event for the caller's use case.
type EventHandler struct {
	OnError func(msg string)
	// OnRequestMeta lets the signaller ask the core for free-form metadata
	// to attach to a session request.
	OnRequestMeta func() map[string]any
	// OnSessionRequested fires when a peer wants a session. offer is nil
	// for the outbound path, where the core creates the offer itself.
	OnSessionRequested func(sessionID, peerID string, offer *webrtc.SessionDescription)
	// OnSessionDescription delivers the remote answer for an outbound
	// session, or (less commonly) a fresh offer mid-session.
	OnSessionDescription func(sessionID string, sdp webrtc.SessionDescription)
	OnHandleICE          func(sessionID string, mLineIndex uint16, mid *string, candidate string)
	// OnSessionEnded fires when the remote side ended a session; the bool
	// return tells the signaller whether the core accepted the end.
	OnSessionEnded func(sessionID string) bool
	OnShutdown     func()
}
