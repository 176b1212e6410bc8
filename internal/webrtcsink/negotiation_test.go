package webrtcsink

import (
	"reflect"
	"testing"
)

func codecNames(cs []Codec) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// TestBucketPreferenceHonorsUserOrderThenRegistryOrder exercises §9's
// ordered-bucket codec preference: named codecs come first in the caller's
// order, anything unnamed falls back to registry (narrowest-first) order.
func TestBucketPreferenceHonorsUserOrderThenRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	candidates := reg.ForKind(MediaVideo)

	ordered := bucketPreference(candidates, []string{"H264", "VP8"})
	want := []string{"H264", "VP8", "VP9", "H265", "AV1"}
	if got := codecNames(ordered); !reflect.DeepEqual(got, want) {
		t.Fatalf("bucketPreference order = %v, want %v", got, want)
	}
}

func TestBucketPreferenceWithEmptyOrderReturnsCandidatesUnchanged(t *testing.T) {
	reg := NewRegistry()
	candidates := reg.ForKind(MediaVideo)
	ordered := bucketPreference(candidates, nil)
	if !reflect.DeepEqual(codecNames(ordered), codecNames(candidates)) {
		t.Fatalf("bucketPreference(nil) changed order: got %v, want %v", codecNames(ordered), codecNames(candidates))
	}
}

func TestBucketPreferenceIsCaseInsensitiveAndDeduplicates(t *testing.T) {
	reg := NewRegistry()
	candidates := reg.ForKind(MediaVideo)

	ordered := bucketPreference(candidates, []string{"h264", "H264", "vp8"})
	want := []string{"H264", "VP8", "VP9", "H265", "AV1"}
	if got := codecNames(ordered); !reflect.DeepEqual(got, want) {
		t.Fatalf("bucketPreference order = %v, want %v", got, want)
	}

	seen := make(map[string]int)
	for _, n := range codecNames(ordered) {
		seen[n]++
	}
	for name, count := range seen {
		if count != 1 {
			t.Fatalf("codec %s appeared %d times, want exactly once", name, count)
		}
	}
}

func TestBucketPreferenceIgnoresUnknownCodecNames(t *testing.T) {
	reg := NewRegistry()
	candidates := reg.ForKind(MediaVideo)
	ordered := bucketPreference(candidates, []string{"AV1", "NOT-A-REAL-CODEC"})
	if len(ordered) != len(candidates) {
		t.Fatalf("expected unknown codec name to be ignored without dropping candidates: got %d, want %d", len(ordered), len(candidates))
	}
	if ordered[0].Name != "AV1" {
		t.Fatalf("expected AV1 first, got %s", ordered[0].Name)
	}
}
