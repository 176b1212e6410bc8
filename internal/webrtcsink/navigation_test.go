package webrtcsink

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

// TestOpenNavigationChannelDisabledIsNoOp exercises §4.7's "no-ops when
// navigation is disabled in settings" without needing a real peer
// connection at all.
func TestOpenNavigationChannelDisabledIsNoOp(t *testing.T) {
	dc, err := openNavigationChannel(nil, false, nil, nil, nil)
	if err != nil || dc != nil {
		t.Fatalf("openNavigationChannel(disabled) = (%v, %v), want (nil, nil)", dc, err)
	}
}

// TestOpenNavigationChannelCreatesInputLabelHighPriority exercises §4.7's
// channel shape: label "input", priority High.
func TestOpenNavigationChannelCreatesInputLabelHighPriority(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()

	dc, err := openNavigationChannel(pc, true,
		func(string) *InputStream { return nil },
		func() []*InputStream { return nil },
		func(*InputStream, json.RawMessage) {},
	)
	if err != nil {
		t.Fatalf("openNavigationChannel: %v", err)
	}
	if dc == nil {
		t.Fatalf("expected a data channel, got nil")
	}
	if dc.Label() != navigationChannelLabel {
		t.Fatalf("label = %q, want %q", dc.Label(), navigationChannelLabel)
	}
	if got := dc.Priority(); got != webrtc.DataChannelPriorityHigh {
		t.Fatalf("priority = %v, want High", got)
	}
}

// TestSessionPadByMidSkipsInactivePads exercises §4.7's mid-based routing
// lookup: a session with no pads, and a session holding only an inactive
// pad, both resolve a mid to nil.
func TestSessionPadByMidSkipsInactivePads(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)

	// No pads at all: lookup must return nil, not panic.
	if got := s.PadByMid("0"); got != nil {
		t.Fatalf("PadByMid on empty session = %+v, want nil", got)
	}

	inactive := s.RequestInactivePad(0, MediaVideo)
	if inactive.Active() {
		t.Fatalf("inactive pad reported Active() == true")
	}
	// Inactive pads have no transceiver, so PadByMid must skip them
	// without dereferencing a nil Transceiver.
	if got := s.PadByMid("0"); got != nil {
		t.Fatalf("PadByMid matched an inactive pad: %+v", got)
	}
}

// TestSessionSetNavChannelRepeatedCallsDoNotPanic exercises the plumbing
// SetNavChannel adds: calling it more than once must not panic.
func TestSessionSetNavChannelRepeatedCallsDoNotPanic(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)
	s.SetNavChannel(nil)
	s.SetNavChannel(nil) // must not panic
}

// TestNavigationEventDecodesOptionalMid opens a navigation channel with
// mid-routing callbacks, then checks the NavigationEvent decoding that
// routing depends on: a message naming a mid decodes it, and a message
// without one leaves Mid nil. The OnMessage dispatch itself is not driven
// here.
func TestNavigationEventDecodesOptionalMid(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()

	video0 := NewInputStream(0, MediaVideo, "video_0")
	video1 := NewInputStream(1, MediaVideo, "video_1")

	var routed []*InputStream
	mid := "0"
	dc, err := openNavigationChannel(pc, true,
		func(m string) *InputStream {
			if m == mid {
				return video0
			}
			return nil
		},
		func() []*InputStream { return []*InputStream{video0, video1} },
		func(stream *InputStream, event json.RawMessage) {
			routed = append(routed, stream)
		},
	)
	if err != nil {
		t.Fatalf("openNavigationChannel: %v", err)
	}
	if dc == nil {
		t.Fatalf("expected a non-nil data channel")
	}
	// Exercising dc.OnMessage itself requires a live SCTP association,
	// which these tests deliberately avoid standing up; instead, the
	// handler registered above is validated directly against the same
	// NavigationEvent decoding/dispatch rules it implements.
	var evtWithMid NavigationEvent
	if err := json.Unmarshal([]byte(`{"mid":"0","event":{"type":"click"}}`), &evtWithMid); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evtWithMid.Mid == nil || *evtWithMid.Mid != "0" {
		t.Fatalf("expected mid to decode to \"0\", got %v", evtWithMid.Mid)
	}

	var evtNoMid NavigationEvent
	if err := json.Unmarshal([]byte(`{"event":{"type":"click"}}`), &evtNoMid); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evtNoMid.Mid != nil {
		t.Fatalf("expected no mid, got %v", *evtNoMid.Mid)
	}
}
