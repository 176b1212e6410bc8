package webrtcsink

import (
	"errors"
	"sync"

	"github.com/y9o/go-openh264"
)

// passthroughEncoder is the stand-in backend for codecs whose encoded
// samples already arrive from the ingress pipeline pre-encoded (the common
// case for a producer sink: VP8/VP9/AV1/H265/Opus samples are pushed in
// already encoded, same as the teacher's placeholder softwareEncoder in
// encoder_software.go pending real codec bindings). It exists so every
// registry entry has a working EncoderFactory for discovery and tests
// without requiring a cgo codec for each one.
type passthroughEncoder struct {
	mu      sync.Mutex
	name    string
	bitrate int
}

func newSoftwarePassthroughEncoder(name string) EncoderFactory {
	return func(cfg EncoderConfig) (Encoder, error) {
		return &passthroughEncoder{name: name, bitrate: cfg.Bitrate}, nil
	}
}

func (p *passthroughEncoder) Encode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("webrtcsink: empty frame")
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (p *passthroughEncoder) SetBitrate(bps int) error {
	if bps <= 0 {
		return errors.New("webrtcsink: invalid bitrate")
	}
	p.mu.Lock()
	p.bitrate = bps
	p.mu.Unlock()
	return nil
}

func (p *passthroughEncoder) Close() error { return nil }

// openH264Backend is the real software H264 encoder backend, grounded on
// github.com/y9o/go-openh264 — declared in the teacher's go.mod but never
// wired to any encode call there (encoder_software.go is a byte
// passthrough). This is the one registry row that does real compression:
// the H264 row is the only one a browser peer is likely to negotiate when
// no hardware encoder is registered.
type openH264Backend struct {
	mu  sync.Mutex
	enc *openh264.Encoder
}

func newOpenH264Encoder(cfg EncoderConfig) (Encoder, error) {
	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	bitrate := cfg.Bitrate
	if bitrate <= 0 {
		bitrate = 2_500_000
	}

	enc, err := openh264.NewEncoder(openh264.Config{
		Width:     width,
		Height:    height,
		BitrateBps: bitrate,
		MaxFPS:    fps,
	})
	if err != nil {
		return nil, err
	}
	return &openH264Backend{enc: enc}, nil
}

// Encode takes an I420 frame and returns Annex-B encoded NAL units, ready
// for pion's TrackLocalStaticSample H264 payloader.
func (b *openH264Backend) Encode(raw []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return nil, errors.New("webrtcsink: openh264 encoder closed")
	}
	return b.enc.Encode(raw)
}

func (b *openH264Backend) SetBitrate(bps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return errors.New("webrtcsink: openh264 encoder closed")
	}
	b.enc.SetBitrate(bps)
	return nil
}

func (b *openH264Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return nil
	}
	err := b.enc.Close()
	b.enc = nil
	return err
}
