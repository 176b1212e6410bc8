package webrtcsink

import "testing"

// TestAllocateSSRCNeverCollidesWithExisting exercises the §3 WebRTCPad
// invariant that ssrc is unique within a session: mark every drawn ssrc as
// taken in Pads and confirm allocateSSRC never returns one of them again,
// across many draws (retry-until-unique is probabilistic, so this asserts
// the contract rather than a single sample).
func TestAllocateSSRCNeverCollidesWithExisting(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)

	seen := make(map[uint32]bool)
	for i := 0; i < 500; i++ {
		ssrc, err := s.allocateSSRC()
		if err != nil {
			t.Fatalf("allocateSSRC: %v", err)
		}
		if ssrc == 0 {
			t.Fatalf("allocateSSRC returned reserved ssrc 0")
		}
		if seen[ssrc] {
			t.Fatalf("allocateSSRC returned a duplicate ssrc %d", ssrc)
		}
		seen[ssrc] = true
		// Mark it taken, as RequestActivePad would, so the next draw has to
		// retry past it.
		s.Pads[ssrc] = &WebRTCPad{SSRC: ssrc, StreamName: "video_0"}
	}
}

// TestSessionSSRCsReflectsOnlyActivePads exercises the ssrc-uniqueness
// testable property's read side: SSRCs() must report every active pad's
// ssrc, each exactly once, and must not report inactive placeholder pads
// (which aren't keyed by ssrc at all).
func TestSessionSSRCsReflectsOnlyActivePads(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)
	s.Pads[1001] = &WebRTCPad{SSRC: 1001, StreamName: "video_0"}
	s.Pads[1002] = &WebRTCPad{SSRC: 1002, StreamName: "video_1"}
	s.RequestInactivePad(2, MediaVideo)

	ssrcs := s.SSRCs()
	if len(ssrcs) != 2 {
		t.Fatalf("SSRCs() = %v, want exactly the 2 active pads' ssrcs", ssrcs)
	}
	seen := map[uint32]bool{}
	for _, ssrc := range ssrcs {
		if seen[ssrc] {
			t.Fatalf("SSRCs() returned duplicate ssrc %d", ssrc)
		}
		seen[ssrc] = true
	}
	if !seen[1001] || !seen[1002] {
		t.Fatalf("SSRCs() = %v, want to include 1001 and 1002", ssrcs)
	}
}

func TestInactivePadKeyNeverCollidesWithReservedZero(t *testing.T) {
	for i := 0; i < 10; i++ {
		if k := inactivePadKey(i); k == 0 {
			t.Fatalf("inactivePadKey(%d) = 0, collides with the reserved ssrc", i)
		}
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)
	s.Close()
	select {
	case <-s.Finalized():
	default:
		t.Fatalf("expected Finalized channel to be closed after Close")
	}
	// A second Close must not panic (double-close of the finalized channel)
	// or block.
	s.Close()
}

func TestSessionCloseConcurrentCallsDoNotDoubleClose(t *testing.T) {
	s := NewSession("sess-1", "peer-1", nil)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			s.Close()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	select {
	case <-s.Finalized():
	default:
		t.Fatalf("expected Finalized channel to be closed")
	}
}
