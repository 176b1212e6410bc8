package webrtcsink

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// NegotiationController drives the offer/answer state transitions of
// §4.3 for one element, coordinating the registry, the InputStream table,
// and a Signaller. It holds no per-session state itself — everything it
// needs is passed in or read off the Session/InputStream it's negotiating.
type NegotiationController struct {
	Registry *Registry
	Settings Settings
}

// NewNegotiationController builds a controller bound to one element's
// codec registry and settings.
func NewNegotiationController(registry *Registry, settings Settings) *NegotiationController {
	return &NegotiationController{Registry: registry, Settings: settings}
}

// bucketPreference orders a registry's codecs into "ordered buckets of
// user-caps" per §9: each Codec name named in preferredOrder becomes a
// bucket of one; every candidate not named there keeps its order in
// candidates, appended after. Used both for the outbound video-caps/audio-caps
// preference and, on the inbound path, to prioritize the user's order over
// the remote offer's order.
func bucketPreference(candidates []Codec, preferredOrder []string) []Codec {
	if len(preferredOrder) == 0 {
		return candidates
	}
	byName := make(map[string]Codec, len(candidates))
	for _, c := range candidates {
		byName[c.Name] = c
	}
	seen := make(map[string]bool, len(candidates))
	ordered := make([]Codec, 0, len(candidates))
	for _, name := range preferredOrder {
		if c, ok := byName[strings.ToUpper(name)]; ok && !seen[c.Name] {
			ordered = append(ordered, c)
			seen[c.Name] = true
		}
	}
	for _, c := range candidates {
		if !seen[c.Name] {
			ordered = append(ordered, c)
			seen[c.Name] = true
		}
	}
	return ordered
}

// Negotiate runs the outbound path of §4.3: for each InputStream, request
// an active pad with codec-preferences = the discovery-derived candidate
// order, create-offer, set-local-description, and return the local offer.
// Sending it to the signaller is left to the caller, as is feeding back
// the remote answer via ApplyAnswer.
func (n *NegotiationController) Negotiate(ctx context.Context, session *Session, streams []*InputStream) (webrtc.SessionDescription, error) {
	mediaIndex := 0
	for _, stream := range streams {
		candidates := bucketPreference(n.Registry.ForKind(stream.Kind), n.preferenceFor(stream.Kind))
		if len(candidates) == 0 {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: no registered codecs for %s", ErrCodecNotFound, stream.Kind)
		}

		codec, caps, err := DiscoverFirstWorking(ctx, stream, candidates, EncoderConfig{Bitrate: n.Settings.StartBitrate})
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: %s: %w", stream.Name, err)
		}
		if err := stream.SetOutCaps(caps); err != nil {
			return webrtc.SessionDescription{}, err
		}

		pad, err := session.RequestActivePad(mediaIndex, stream, n.Settings.DoFEC, n.Settings.DoRetransmission)
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
		pad.PayloadType = &codec.PayloadType
		pad.Codec = codec
		mediaIndex++
	}

	offer, err := session.PC.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(session.PC)
	if err := session.PC.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: set local description: %w", err)
	}
	<-gatherComplete

	session.mu.Lock()
	session.State = SessionLocalDescriptionCreated
	session.mu.Unlock()

	return *session.PC.LocalDescription(), nil
}

// ApplyAnswer sets the remote answer and wires the payload-type/caps
// bookkeeping, per §4.3's "on answer: apply, then on_remote_description_set
// wires the payloader chain." Returns ErrAnswerRefusedMedia if the answer
// marked any active m-line inactive.
func (n *NegotiationController) ApplyAnswer(session *Session, answer webrtc.SessionDescription) error {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(answer.SDP)); err != nil {
		return fmt.Errorf("webrtcsink: parsing answer SDP: %w", err)
	}

	if err := session.PC.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("webrtcsink: set remote description: %w", err)
	}

	session.mu.Lock()
	session.State = SessionRemoteDescriptionSet
	session.mu.Unlock()

	return onRemoteDescriptionSet(session, &parsed)
}

// onRemoteDescriptionSet is the shared tail of both the outbound-answer
// and inbound-answer paths: it walks the negotiated SDP media, rejects any
// active pad whose media is now inactive, and confirms the §8 payload-
// completeness invariant ("every active WebRTCPad in that session has
// Some(payload)").
func onRemoteDescriptionSet(session *Session, parsed *sdp.SessionDescription) error {
	for i, media := range parsed.MediaDescriptions {
		inactive := false
		for _, attr := range media.Attributes {
			if attr.Key == "inactive" {
				inactive = true
				break
			}
		}

		pad := padForMediaIndex(session, i)
		if pad == nil || !pad.Active() {
			continue
		}
		if inactive {
			return ErrAnswerRefusedMedia
		}
	}

	for _, pad := range session.ActivePads() {
		if pad.PayloadType == nil {
			return ErrMissingPayloadType
		}
	}

	session.mu.Lock()
	session.State = SessionConnected
	session.mu.Unlock()
	return nil
}

func padForMediaIndex(session *Session, index int) *WebRTCPad {
	session.mu.Lock()
	defer session.mu.Unlock()
	for _, p := range session.Pads {
		if p.MediaIndex == index {
			return p
		}
	}
	return nil
}

// NegotiateInbound runs the inbound path of §4.3: for each m-line in a
// remote offer, pair it with one unmatched InputStream of the same media
// kind and run CodecSelection discovery restricted to the codecs the
// remote listed, preferring the user's codec order over the remote's.
// Unmatched m-lines become inactive placeholder pads. Then
// set-remote-description, create-answer, set-local-description.
func (n *NegotiationController) NegotiateInbound(ctx context.Context, session *Session, offer webrtc.SessionDescription, streams []*InputStream) (webrtc.SessionDescription, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: parsing offer SDP: %w", err)
	}

	used := make(map[*InputStream]bool, len(streams))

	for mediaIndex, media := range parsed.MediaDescriptions {
		kind := MediaVideo
		if media.MediaName.Media == "audio" {
			kind = MediaAudio
		}

		var matched *InputStream
		for _, stream := range streams {
			if !used[stream] && stream.Kind == kind {
				matched = stream
				break
			}
		}
		if matched == nil {
			session.RequestInactivePad(mediaIndex, kind)
			continue
		}
		used[matched] = true

		remoteOrder := remoteCodecNames(media)
		candidates := bucketPreference(
			intersectByName(n.Registry.ForKind(kind), remoteOrder),
			n.preferenceFor(kind),
		)
		if len(candidates) == 0 {
			session.RequestInactivePad(mediaIndex, kind)
			continue
		}

		codec, caps, err := DiscoverCapsForInbound(ctx, matched, candidates, EncoderConfig{Bitrate: n.Settings.StartBitrate})
		if err != nil {
			log.Warn("inbound codec selection failed", "stream", matched.Name, "error", err)
			session.RequestInactivePad(mediaIndex, kind)
			continue
		}
		if err := matched.SetOutCaps(caps); err != nil {
			return webrtc.SessionDescription{}, err
		}

		pad, err := session.RequestActivePad(mediaIndex, matched, n.Settings.DoFEC, n.Settings.DoRetransmission)
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
		pad.PayloadType = &codec.PayloadType
		pad.Codec = codec
		session.mu.Lock()
		session.codecsByPT[codec.PayloadType] = codec
		session.mu.Unlock()
	}

	if err := session.PC.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: set remote description: %w", err)
	}
	session.mu.Lock()
	session.State = SessionRemoteDescriptionSet
	session.mu.Unlock()

	answer, err := session.PC.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(session.PC)
	if err := session.PC.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtcsink: set local description: %w", err)
	}
	<-gatherComplete

	local := *session.PC.LocalDescription()
	return local, onRemoteDescriptionSet(session, &parsed)
}

// DiscoverCapsForInbound is DiscoverFirstWorking under the inbound
// CodecSelection discovery kind name (§3's DiscoveryInfo.kind), kept as a
// distinct entry point so call sites read the way §4.3 describes them.
func DiscoverCapsForInbound(ctx context.Context, stream *InputStream, candidates []Codec, cfg EncoderConfig) (Codec, Caps, error) {
	return DiscoverFirstWorking(ctx, stream, candidates, cfg)
}

func (n *NegotiationController) preferenceFor(kind MediaKind) []string {
	if kind == MediaAudio {
		return n.Settings.AudioCodecOrder
	}
	return n.Settings.VideoCodecOrder
}

// remoteCodecNames extracts the RTP encoding names an offer's m-line
// lists, in the order the remote sent them, from its rtpmap attributes.
func remoteCodecNames(media *sdp.MediaDescription) []string {
	var names []string
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		nameParts := strings.SplitN(parts[1], "/", 2)
		names = append(names, strings.ToUpper(nameParts[0]))
	}
	return names
}

// intersectByName keeps only the candidates whose name appears in names,
// preserving candidates' registry order.
func intersectByName(candidates []Codec, names []string) []Codec {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	out := make([]Codec, 0, len(candidates))
	for _, c := range candidates {
		if allowed[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
