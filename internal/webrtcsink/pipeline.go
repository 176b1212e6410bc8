package webrtcsink

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// startSessionPipeline attaches every active pad's VideoEncoder to its RTP
// sender and begins pumping samples from the matching InputStream's
// producer, once payload types are fixed by the applied answer. This is
// the core's half of connecting an ingress pad to a session, the
// webrtcbin-pad-added counterpart of the original source's
// connect_input_stream.
func (e *Element) startSessionPipeline(session *Session, streams []*InputStream) {
	byName := make(map[string]*InputStream, len(streams))
	for _, s := range streams {
		byName[s.Name] = s
	}

	settings := e.GetSettings()
	var encoders []*VideoEncoder

	for _, pad := range session.ActivePads() {
		stream, ok := byName[pad.StreamName]
		if !ok || pad.Codec.NewEncoder == nil {
			continue
		}

		native := videoInfoFromCaps(stream)
		backend, err := pad.Codec.NewEncoder(EncoderConfig{
			Bitrate: settings.StartBitrate,
			Width:   native.Width,
			Height:  native.Height,
			FPS:     native.fps(),
		})
		if err != nil {
			log.Warn("building encoder for session", "session", session.ID, "pad", pad.StreamName, "error", err)
			continue
		}

		encoder := NewVideoEncoder(pad.Codec.FactoryName, pad.Codec.Name, session.ID, pad.StreamName, backend, native, settings.StartBitrate)
		if e.Hooks.EncoderSetupHook != nil {
			e.Hooks.EncoderSetupHook(session.PeerID, pad.StreamName, encoder)
		}

		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:    pad.Codec.MimeType,
			ClockRate:   pad.Codec.ClockRate,
			Channels:    pad.Codec.Channels,
			SDPFmtpLine: pad.Codec.SDPFmtpLine,
		}, stream.Name, session.ID)
		if err != nil {
			log.Warn("building local track for pad", "session", session.ID, "pad", pad.StreamName, "error", err)
			_ = encoder.Close()
			continue
		}
		if err := pad.Transceiver.Sender().ReplaceTrack(track); err != nil {
			log.Warn("attaching track to sender", "session", session.ID, "pad", pad.StreamName, "error", err)
			_ = encoder.Close()
			continue
		}

		link := stream.Producer.AddConsumer()
		go pumpSampleLink(session, pad.StreamName, link, encoder, track)
		encoders = append(encoders, encoder)
	}

	session.SetEncoders(encoders)
	startRTCPLossLoop(session)

	// Disabled congestion control has no feedback loop to run (§4.5):
	// pin every encoder at max-bitrate/50%-FEC once, up front, rather than
	// ticking a controller that would just recompute the same constant.
	if settings.CongestionControl == CCDisabled && len(encoders) > 0 {
		DistributeDisabled(encoders, settings.MaxBitrate)
	}
}

// openSessionNavigationChannel opens the "input" data channel (§4.7) on a
// session, routing parsed events either to the named mid's stream (resolved
// lazily, since mids aren't assigned until the offer/answer exchange that
// follows this call completes) or, absent a mid, to every video InputStream.
// Must run before create-offer/create-answer: adding a data channel after
// the first answer would require renegotiation, which is out of scope
// (§1 Non-goals).
func (e *Element) openSessionNavigationChannel(session *Session, settings Settings) {
	dc, err := openNavigationChannel(session.PC, settings.EnableDataChannelNavigation,
		func(mid string) *InputStream {
			pad := session.PadByMid(mid)
			if pad == nil {
				return nil
			}
			stream, _ := e.Stream(pad.StreamName)
			return stream
		},
		func() []*InputStream {
			var out []*InputStream
			for _, s := range e.Streams() {
				if s.Kind == MediaVideo {
					out = append(out, s)
				}
			}
			return out
		},
		func(stream *InputStream, event json.RawMessage) {
			if e.Hooks.OnNavigationEvent != nil {
				e.Hooks.OnNavigationEvent(session.PeerID, stream, event)
			}
		},
	)
	if err != nil {
		log.Warn("opening navigation channel", "session", session.ID, "error", err)
		return
	}
	if dc != nil {
		session.SetNavChannel(dc)
	}
}

// pumpSampleLink runs until the session's context is cancelled (via
// Session.Close), forwarding every sample the producer pushes through the
// encoder and onto the local track pion packetizes and sends.
func pumpSampleLink(session *Session, padName string, link *ProducerLink, encoder *VideoEncoder, track *webrtc.TrackLocalStaticSample) {
	defer link.Remove()
	defer encoder.Close()

	for {
		select {
		case <-session.ctx.Done():
			return
		case sample, ok := <-link.Samples():
			if !ok {
				return
			}
			if sample.Caps != nil {
				// Caps-only replay sample: media caps are already fixed via
				// the InputStream's write-once out_caps, so there is
				// nothing further to apply here.
				continue
			}
			encoded, err := encoder.Encode(sample.Data)
			if err != nil {
				log.Warn("encode failed", "session", session.ID, "pad", padName, "error", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: encoded, Duration: sample.Duration}); err != nil {
				log.Warn("writing sample to track", "session", session.ID, "pad", padName, "error", err)
			}
		}
	}
}

// videoInfoFromCaps reads width/height/framerate off an InputStream's fixed
// ingress caps, defaulting to 1280x720@30 when the upstream caps are absent
// or incomplete, which is the same ceiling mitigationCaps clamps down from.
func videoInfoFromCaps(stream *InputStream) VideoInfo {
	info := VideoInfo{Width: 1280, Height: 720, FPSNum: 30, FPSDen: 1}
	caps, ok := stream.IngressCaps()
	if !ok {
		return info
	}
	if w, ok := caps.Get("width"); ok {
		if wi, ok := w.(int); ok {
			info.Width = wi
		}
	}
	if h, ok := caps.Get("height"); ok {
		if hi, ok := h.(int); ok {
			info.Height = hi
		}
	}
	if fr, ok := caps.Get("framerate"); ok {
		if frs, ok := fr.(string); ok {
			num, den, ok := parseFraction(frs)
			if ok && den > 0 {
				info.FPSNum, info.FPSDen = num, den
			}
		}
	}
	return info
}

func (v VideoInfo) fps() int {
	if v.FPSDen == 0 {
		return v.FPSNum
	}
	return v.FPSNum / v.FPSDen
}

func parseFraction(s string) (num, den int, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	n, err1 := strconv.Atoi(parts[0])
	d, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return n, d, true
}

// sessionRTT reads the current nominated ICE candidate pair's round-trip
// time off the session's live stats, for HomegrownController's delay
// estimator. Grounded on mediamtx's own localCandidate/remoteCandidate
// GetStats() walk.
func sessionRTT(pc *webrtc.PeerConnection) time.Duration {
	for _, s := range pc.GetStats() {
		if pair, ok := s.(webrtc.ICECandidatePairStats); ok && pair.Nominated {
			return time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		}
	}
	return 0
}
