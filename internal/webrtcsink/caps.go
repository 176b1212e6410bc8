package webrtcsink

import (
	"fmt"
	"sort"
	"strings"
)

// MediaKind distinguishes video from audio ingress streams and codecs.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

func (k MediaKind) String() string {
	if k == MediaAudio {
		return "audio"
	}
	return "video"
}

// Caps is the Go-native stand-in for a GStreamer caps structure: a media
// type name plus an unordered set of key/value fields. The WebRTC sink core
// never needs caps intersection or multi-structure caps, only the single-
// structure equality/scrub operations the spec names, so this stays a flat
// map rather than a full caps-negotiation type.
type Caps struct {
	Name   string
	Fields map[string]any
}

// NewCaps returns an empty caps value for the given structure name.
func NewCaps(name string) Caps {
	return Caps{Name: name, Fields: map[string]any{}}
}

// Clone returns a deep-enough copy (fields map is copied, values are not).
func (c Caps) Clone() Caps {
	fields := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	return Caps{Name: c.Name, Fields: fields}
}

// With returns a copy of c with field set to value.
func (c Caps) With(field string, value any) Caps {
	out := c.Clone()
	out.Fields[field] = value
	return out
}

// Without returns a copy of c with field removed.
func (c Caps) Without(field string) Caps {
	out := c.Clone()
	delete(out.Fields, field)
	return out
}

// Get returns the field value and whether it was present.
func (c Caps) Get(field string) (any, bool) {
	v, ok := c.Fields[field]
	return v, ok
}

// Equal reports whether two caps have the same name and fields. Used by the
// caps-scrub idempotence property and by InputStream's write-once check.
func (c Caps) Equal(other Caps) bool {
	if c.Name != other.Name || len(c.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range c.Fields {
		ov, ok := other.Fields[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// fieldsToScrub are the attributes discovery strips from a probed caps set
// before it is recorded as an InputStream's out_caps or handed to a
// negotiating session, per §4.2.
var fieldsToScrub = []string{
	"timestamp-offset",
	"seqnum-offset",
	"ssrc",
	"sprop-parameter-sets",
	"a-framerate",
}

// ScrubProbedCaps removes the discovery-internal fields and injects the
// codec's assigned payload type. Scrubbing twice is a no-op (idempotent),
// since every scrubbed field is simply absent on the second pass.
func ScrubProbedCaps(c Caps, payloadType int) Caps {
	out := c.Clone()
	for _, f := range fieldsToScrub {
		delete(out.Fields, f)
	}
	out.Fields["payload"] = payloadType
	return out
}

// String renders caps the way GstCaps::to_string would, for logging.
func (c Caps) String() string {
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(c.Name)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(toFieldString(c.Fields[k]))
	}
	return b.String()
}

func toFieldString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
