package webrtcsink

import (
	"errors"
	"fmt"
	"sync"
)

// MitigationMode names the combination of downgrade actions a
// VideoEncoder's raw capsfilter currently applies in response to low
// bandwidth, per §4.4 and the GLOSSARY's "Mitigation mode" entry. The three
// values are plain enumerators (none, downscaled, downsampled+downscaled),
// not independent bit flags.
type MitigationMode int

const (
	MitigationNone MitigationMode = iota
	MitigationDownscaled
	MitigationDownsampledDownscaled
)

func (m MitigationMode) String() string {
	switch m {
	case MitigationDownscaled:
		return "downscaled"
	case MitigationDownsampledDownscaled:
		return "downsampled|downscaled"
	default:
		return "none"
	}
}

// bitrateDialect describes how one encoder factory exposes its bitrate
// property: the unit to convert bits/s into, and the property name, so
// stats/logging can describe what was actually written to the backend.
// This is the "small table keyed by factory name" the design notes call
// for instead of a trait per encoder (§9), grounded on the teacher's
// encoderBackend/backendFactory dispatch in encoder.go.
type bitrateDialect struct {
	Unit     string // "bps" or "kbps"
	Property string
}

var dialectTable = map[string]bitrateDialect{
	"vp8enc":      {Unit: "bps", Property: "target-bitrate"},
	"vp9enc":      {Unit: "bps", Property: "target-bitrate"},
	"av1enc":      {Unit: "bps", Property: "target-bitrate"},
	"x265enc":     {Unit: "kbps", Property: "bitrate"},
	"x264enc":     {Unit: "kbps", Property: "bitrate"},
	"openh264enc": {Unit: "kbps", Property: "bitrate"},
	"nvh264enc":   {Unit: "kbps", Property: "bitrate"},
	"vaapih264enc": {Unit: "kbps", Property: "bitrate"},
	"nvv4l2h264enc": {Unit: "bps", Property: "bitrate"},
	"opusenc":     {Unit: "bps", Property: "bitrate"},
}

// dialectFor looks up the dialect for a factory name, defaulting to a
// bits/s "bitrate" property for anything unregistered (e.g. a caller-added
// hardware encoder that didn't add its own row).
func dialectFor(factoryName string) bitrateDialect {
	if d, ok := dialectTable[factoryName]; ok {
		return d
	}
	return bitrateDialect{Unit: "bps", Property: "bitrate"}
}

// convert converts a bits/s value into the unit the dialect expects
// before it reaches the underlying backend's native property.
func (d bitrateDialect) convert(bps int) int {
	if d.Unit == "kbps" {
		return bps / 1000
	}
	return bps
}

// VideoInfo is the native (undownscaled) resolution and framerate of one
// video ingress stream, used as the ceiling the mitigation ladder scales
// down from.
type VideoInfo struct {
	Width, Height int
	FPSNum, FPSDen int
}

func (v VideoInfo) dar() float64 {
	if v.Height == 0 {
		return 16.0 / 9.0
	}
	return float64(v.Width) / float64(v.Height)
}

// VideoEncoder wraps one encoder element plus its raw-side capsfilter, per
// §3's VideoEncoder data-model entry: factory name (selects the dialect),
// codec name, current mitigation mode, and the session it belongs to.
type VideoEncoder struct {
	mu sync.Mutex

	FactoryName string
	CodecName   string
	SessionID   string
	PadName     string

	backend Encoder
	native  VideoInfo

	bitrate       int
	fecPercentage int
	mode          MitigationMode
	caps          Caps // the raw capsfilter's current caps

	halvedFramerate bool
}

// NewVideoEncoder wraps an already-built Encoder backend (obtained from a
// Codec's EncoderFactory) with dialect and mitigation-ladder bookkeeping.
func NewVideoEncoder(factoryName, codecName, sessionID, padName string, backend Encoder, native VideoInfo, initialBitrate int) *VideoEncoder {
	return &VideoEncoder{
		FactoryName: factoryName,
		CodecName:   codecName,
		SessionID:   sessionID,
		PadName:     padName,
		backend:     backend,
		native:      native,
		bitrate:     initialBitrate,
		caps:        NewCaps("video/x-raw"),
	}
}

// Encode pushes one raw frame through the backend.
func (v *VideoEncoder) Encode(raw []byte) ([]byte, error) {
	v.mu.Lock()
	backend := v.backend
	v.mu.Unlock()
	if backend == nil {
		return nil, errors.New("webrtcsink: encoder closed")
	}
	return backend.Encode(raw)
}

// Close releases the backend.
func (v *VideoEncoder) Close() error {
	v.mu.Lock()
	backend := v.backend
	v.backend = nil
	v.mu.Unlock()
	if backend == nil {
		return nil
	}
	return backend.Close()
}

// Bitrate returns the last bitrate this encoder was asked to run at.
func (v *VideoEncoder) Bitrate() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bitrate
}

// MitigationMode returns the currently applied ladder band.
func (v *VideoEncoder) MitigationMode() MitigationMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// FECPercentage returns the forward-error-correction percentage the
// congestion controller last computed for this encoder's transceiver.
func (v *VideoEncoder) FECPercentage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fecPercentage
}

// SetDistribution applies one congestion-controller tick's result: the
// per-encoder bitrate share and the FEC percentage computed alongside it
// (§4.5's Distribute formula), recording both for the `stats` property.
func (v *VideoEncoder) SetDistribution(bps, fecPercentage int) error {
	if err := v.SetBitrate(bps); err != nil {
		return err
	}
	v.mu.Lock()
	v.fecPercentage = fecPercentage
	v.mu.Unlock()
	return nil
}

// SetBitrate applies a new target bitrate (bits/s) to the backend, using
// this encoder's dialect to convert units, and recomputes the mitigation
// ladder's caps, writing them back to the raw capsfilter only if they
// differ from the caps currently applied (§4.4: "Caps are only written
// back if strictly different from current.").
func (v *VideoEncoder) SetBitrate(bps int) error {
	if bps <= 0 {
		return fmt.Errorf("webrtcsink: invalid bitrate %d", bps)
	}

	v.mu.Lock()
	backend := v.backend
	native := v.native
	v.mu.Unlock()

	if backend != nil {
		d := dialectFor(v.FactoryName)
		if err := backend.SetBitrate(d.convert(bps)); err != nil {
			return fmt.Errorf("webrtcsink: set bitrate via %s.%s: %w", v.FactoryName, d.Property, err)
		}
	}

	newCaps, mode := mitigationCaps(native, bps)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.bitrate = bps
	if !newCaps.Equal(v.caps) {
		v.caps = newCaps
		v.mode = mode
		v.halvedFramerate = mode == MitigationDownsampledDownscaled
	}
	return nil
}

// Mitigation bitrate-band thresholds, bits/s, per §4.4.
const (
	mitigationBandLowest = 500_000
	mitigationBandLow     = 1_000_000
	mitigationBandMid     = 2_000_000
)

// mitigationCaps implements the four-band bitrate→caps ladder verbatim.
// Width is always derived from the clamped height, preserving the native
// display-aspect-ratio and rounded up to an even number (required by most
// hardware/software H264 encoders).
func mitigationCaps(native VideoInfo, bitrate int) (Caps, MitigationMode) {
	caps := NewCaps("video/x-raw")

	switch {
	case bitrate < mitigationBandLowest:
		h := minInt(360, native.Height)
		w := scaleWidth(h, native.dar())
		caps.Fields["height"] = h
		caps.Fields["width"] = w
		if native.FPSDen == 0 {
			native.FPSDen = 1
		}
		caps.Fields["framerate"] = fmt.Sprintf("%d/%d", native.FPSNum, native.FPSDen*2)
		return caps, MitigationDownsampledDownscaled

	case bitrate < mitigationBandLow:
		h := minInt(360, native.Height)
		w := scaleWidth(h, native.dar())
		caps.Fields["height"] = h
		caps.Fields["width"] = w
		return caps, MitigationDownscaled

	case bitrate < mitigationBandMid:
		h := minInt(720, native.Height)
		w := scaleWidth(h, native.dar())
		caps.Fields["height"] = h
		caps.Fields["width"] = w
		return caps, MitigationDownscaled

	default:
		return caps, MitigationNone
	}
}

func scaleWidth(height int, dar float64) int {
	w := int(float64(height)*dar + 0.5)
	if w%2 != 0 {
		w++
	}
	return w
}

func minInt(a, b int) int {
	if b > 0 && b < a {
		return b
	}
	return a
}
