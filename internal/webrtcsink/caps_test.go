package webrtcsink

import "testing"

func TestScrubProbedCapsRoundTripIsIdempotent(t *testing.T) {
	raw := NewCaps("application/x-rtp").
		With("media", "video").
		With("encoding-name", "VP8").
		With("timestamp-offset", 1234).
		With("seqnum-offset", 5).
		With("ssrc", 999).
		With("sprop-parameter-sets", "abcd").
		With("a-framerate", "30/1")

	once := ScrubProbedCaps(raw, 96)
	twice := ScrubProbedCaps(once, 96)

	if !once.Equal(twice) {
		t.Fatalf("scrubbing twice changed caps: once=%v twice=%v", once, twice)
	}
	for _, f := range fieldsToScrub {
		if _, ok := once.Get(f); ok {
			t.Fatalf("expected %q to be scrubbed, still present in %v", f, once)
		}
	}
	if pt, ok := once.Get("payload"); !ok || pt != 96 {
		t.Fatalf("expected payload=96, got %v", once.Fields)
	}
}

func TestCapsEqualIgnoresFieldOrderingOfMapIteration(t *testing.T) {
	a := NewCaps("video/x-raw").With("width", 640).With("height", 480)
	b := NewCaps("video/x-raw").With("height", 480).With("width", 640)
	if !a.Equal(b) {
		t.Fatalf("expected caps with same fields to be equal regardless of insertion order")
	}
}

func TestCapsWithoutRemovesOnlyTheNamedField(t *testing.T) {
	full := NewCaps("video/x-raw").With("width", 640).With("height", 480)
	trimmed := full.Without("height")

	if _, ok := trimmed.Get("height"); ok {
		t.Fatalf("expected height to be removed, got %v", trimmed.Fields)
	}
	if w, ok := trimmed.Get("width"); !ok || w != 640 {
		t.Fatalf("expected width to survive Without, got %v", trimmed.Fields)
	}
	if _, ok := full.Get("height"); !ok {
		t.Fatalf("Without must not mutate the receiver, but height is gone from the original")
	}
}
