package webrtcsink

import "testing"

func TestRegistryLookupFindsRegisteredCodecByName(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Lookup("H264"); !ok {
		t.Fatalf("expected H264 to be registered by NewRegistry's defaults")
	}
	if _, ok := r.Lookup("does-not-exist"); ok {
		t.Fatalf("expected lookup of an unregistered codec to report false")
	}

	custom := Codec{Name: "CUSTOM", Kind: MediaVideo, PayloadType: 120}
	r.Register(custom)
	got, ok := r.Lookup("CUSTOM")
	if !ok || got.PayloadType != 120 {
		t.Fatalf("Lookup(%q) = (%+v, %v), want the just-registered codec", "CUSTOM", got, ok)
	}
}
