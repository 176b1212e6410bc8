package webrtcsink

import (
	"errors"
	"testing"
)

// TestSetOutCapsIsWriteOnce exercises §3's "discovered caps are write-once"
// invariant: the first call records the caps, a second call with identical
// caps is a no-op, and a second call with different caps is rejected.
func TestSetOutCapsIsWriteOnce(t *testing.T) {
	s := NewInputStream(0, MediaVideo, "video_0")

	first := NewCaps("application/x-rtp").With("encoding-name", "VP8").With("payload", 96)
	if err := s.SetOutCaps(first); err != nil {
		t.Fatalf("first SetOutCaps: %v", err)
	}

	if err := s.SetOutCaps(first.Clone()); err != nil {
		t.Fatalf("repeating identical caps should be a no-op, got: %v", err)
	}
	got, ok := s.OutCaps()
	if !ok || !got.Equal(first) {
		t.Fatalf("OutCaps = %v, want %v", got, first)
	}

	different := NewCaps("application/x-rtp").With("encoding-name", "H264").With("payload", 104)
	if err := s.SetOutCaps(different); !errors.Is(err, ErrRenegotiationRefused) {
		t.Fatalf("SetOutCaps(different) = %v, want ErrRenegotiationRefused", err)
	}

	// The rejected write must not have clobbered the original caps.
	got, ok = s.OutCaps()
	if !ok || !got.Equal(first) {
		t.Fatalf("OutCaps after rejected write = %v, want unchanged %v", got, first)
	}
}

func TestSetIngressCapsIsWriteOnce(t *testing.T) {
	s := NewInputStream(0, MediaVideo, "video_0")
	first := NewCaps("video/x-raw").With("width", 1920).With("height", 1080)
	if err := s.SetIngressCaps(first); err != nil {
		t.Fatalf("first SetIngressCaps: %v", err)
	}

	different := NewCaps("video/x-raw").With("width", 1280).With("height", 720)
	if err := s.SetIngressCaps(different); !errors.Is(err, ErrRenegotiationRefused) {
		t.Fatalf("SetIngressCaps(different) = %v, want ErrRenegotiationRefused", err)
	}
}

func TestDiscoveryBookkeepingTracksPendingCount(t *testing.T) {
	s := NewInputStream(0, MediaVideo, "video_0")
	if s.PendingDiscoveryCount() != 0 {
		t.Fatalf("expected 0 pending discoveries initially")
	}

	d := NewDiscoveryInfo("probe-1", DiscoveryInitial, NewCaps("video/x-raw"))
	s.AddDiscovery(d)
	if s.PendingDiscoveryCount() != 1 {
		t.Fatalf("expected 1 pending discovery after AddDiscovery")
	}

	s.RemoveDiscovery("probe-1")
	if s.PendingDiscoveryCount() != 0 {
		t.Fatalf("expected 0 pending discoveries after RemoveDiscovery")
	}
}

// TestDiscoveryInfoAbortIsIdempotentAndObservable exercises the cancellation
// handshake DiscoverCaps relies on: IsAborted reports false until Abort
// runs, true afterwards, and a second Abort call must not panic (closing an
// already-closed channel).
func TestDiscoveryInfoAbortIsIdempotentAndObservable(t *testing.T) {
	d := NewDiscoveryInfo("probe-1", DiscoveryInitial, NewCaps("video/x-raw"))
	if d.IsAborted() {
		t.Fatalf("expected IsAborted() == false before Abort is called")
	}
	d.Abort()
	if !d.IsAborted() {
		t.Fatalf("expected IsAborted() == true after Abort is called")
	}
	d.Abort() // must not panic (double close of abortCh)
}
