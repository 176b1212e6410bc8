package webrtcsink

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Encoder is the minimal contract the codec registry and discovery need
// from a video/audio encoder: push raw samples in, get encoded samples
// out. VideoEncoder (encoder.go) wraps this with the property dialect and
// mitigation ladder; EncoderFactory builds the bare backend.
type Encoder interface {
	Encode(raw []byte) ([]byte, error)
	SetBitrate(bitsPerSecond int) error
	Close() error
}

// EncoderFactory constructs an Encoder for a codec. Each registry row
// carries exactly one factory, the software implementation; there is no
// hardware factory list, and EncoderConfig.PreferHardware is not consulted.
type EncoderFactory func(cfg EncoderConfig) (Encoder, error)

// EncoderConfig mirrors the teacher's EncoderConfig but is codec-agnostic;
// the per-encoder factory name used for the bitrate-unit dialect (§4.4) is
// carried on the Codec, not here.
type EncoderConfig struct {
	Bitrate        int
	Width, Height  int
	FPS            int
	PreferHardware bool
}

// Codec is the registry's descriptive record for one encoding, per §3/§4.2:
// a caps template, payload-type assignment, and the encoder/payloader
// builders discovery and negotiation both use.
type Codec struct {
	// Name is the RTP encoding-name, e.g. "VP8", "H264", "OPUS".
	Name string
	Kind MediaKind
	// PayloadType is injected into discovered caps (§4.2) and recorded on
	// the pad on both the outbound and inbound paths; the payload type
	// numbers in a remote offer are not read.
	PayloadType uint8
	// MimeType and SDPFmtpLine feed pion's RTPCodecCapability directly,
	// grounded on mediamtx's incomingVideoCodecs/incomingAudioCodecs table.
	MimeType     string
	ClockRate    uint32
	Channels     uint16
	SDPFmtpLine  string
	// FactoryName selects the bitrate-unit/property dialect in encoder.go.
	FactoryName string
	// NewEncoder builds an encoder backend for this codec; nil for codecs
	// the registry only uses to describe a remote-offered payload type.
	NewEncoder EncoderFactory
}

// RTPCodecParameters adapts this Codec into the pion type used to register
// it on a MediaEngine for outbound negotiation.
func (c Codec) RTPCodecParameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    c.MimeType,
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			SDPFmtpLine: c.SDPFmtpLine,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// Registry is the codec catalog, built once at element construction time
// and consulted by both discovery and negotiation.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	// order preserves the narrower-first registration order used as the
	// default video/audio-caps preference, per §6.
	order []string
}

// NewRegistry returns a registry seeded with the default codec table, in
// the narrowest/most-compatible-first default preference order: VP8, H264,
// VP9, H265, AV1 on video; Opus on audio. Unlike mediamtx's
// internal/protocols/webrtc table (which hands out a fixed PT per codec
// name), payload types here are dynamic PTs assigned sequentially in this
// registration order, reproducing the original source's discovery-order
// assignment — the first video codec registered gets 96.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range defaultCodecs() {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a codec entry.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codecs[c.Name]; !exists {
		r.order = append(r.order, c.Name)
	}
	r.codecs[c.Name] = c
}

// Lookup returns the codec registered under name.
func (r *Registry) Lookup(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// ForKind returns all codecs of the given media kind, in registration
// order (the default preference order, narrowest/most-compatible first).
func (r *Registry) ForKind(kind MediaKind) []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Codec, 0, len(r.order))
	for _, name := range r.order {
		if c := r.codecs[name]; c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// defaultCodecs is the built-in payload-type table. Payload types are
// assigned sequentially from 96 in registration order, the way the
// original source's discovery stamps the first candidate codec it finds
// caps for with PT 96: VP8, H264, VP9, H265, AV1 on video, then Opus.
func defaultCodecs() []Codec {
	return []Codec{
		{
			Name: "VP8", Kind: MediaVideo, PayloadType: 96,
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
			FactoryName: "vp8enc",
			NewEncoder:  newSoftwarePassthroughEncoder("vp8enc"),
		},
		{
			Name: "H264", Kind: MediaVideo, PayloadType: 97,
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			FactoryName: "openh264enc",
			NewEncoder:  newOpenH264Encoder,
		},
		{
			Name: "VP9", Kind: MediaVideo, PayloadType: 98,
			MimeType: webrtc.MimeTypeVP9, ClockRate: 90000,
			SDPFmtpLine: "profile-id=0",
			FactoryName: "vp9enc",
			NewEncoder:  newSoftwarePassthroughEncoder("vp9enc"),
		},
		{
			Name: "H265", Kind: MediaVideo, PayloadType: 99,
			MimeType: "video/H265", ClockRate: 90000,
			FactoryName: "x265enc",
			NewEncoder:  newSoftwarePassthroughEncoder("x265enc"),
		},
		{
			Name: "AV1", Kind: MediaVideo, PayloadType: 100,
			MimeType: webrtc.MimeTypeAV1, ClockRate: 90000,
			FactoryName: "av1enc",
			NewEncoder:  newSoftwarePassthroughEncoder("av1enc"),
		},
		{
			Name: "OPUS", Kind: MediaAudio, PayloadType: 101,
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
			FactoryName: "opusenc",
			NewEncoder:  newSoftwarePassthroughEncoder("opusenc"),
		},
	}
}
