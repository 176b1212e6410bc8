package webrtcsink

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// buildEventHandler wires the Signaller's events back into this element:
// session creation on both the outbound (we offer) and inbound (remote
// offers) paths, answer application, remote ICE, and session teardown
// requested by the far side. Returned fresh each time SetSignaller runs so
// a reattached signaller always calls back into the current element.
func (e *Element) buildEventHandler() EventHandler {
	return EventHandler{
		OnRequestMeta: func() map[string]any {
			settings := e.GetSettings()
			return settings.Meta
		},
		OnSessionRequested: func(sessionID, peerID string, offer *webrtc.SessionDescription) {
			e.handleSessionRequested(sessionID, peerID, offer)
		},
		OnSessionDescription: func(sessionID string, sdp webrtc.SessionDescription) {
			e.handleSessionDescription(sessionID, sdp)
		},
		OnHandleICE: func(sessionID string, _ uint16, _ *string, candidate string) {
			e.handleRemoteICE(sessionID, candidate)
		},
		OnSessionEnded: func(sessionID string) bool {
			e.endSession(sessionID)
			return true
		},
		OnError: func(msg string) {
			log.Warn("signaller reported an error", "error", msg)
		},
	}
}

// handleSessionRequested creates a fresh Session and drives it through
// either the outbound (offer == nil, core creates the offer) or inbound
// (offer given, core answers) negotiation path of §4.3.
func (e *Element) handleSessionRequested(sessionID, peerID string, offer *webrtc.SessionDescription) {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	settings := e.GetSettings()

	pc, gcc, err := e.newPeerConnection(settings)
	if err != nil {
		log.Error("failed to create peer connection", "session", sessionID, "error", err)
		return
	}

	session := NewSession(sessionID, peerID, pc)
	session.ctx, session.cancel = context.WithCancel(e.runCtx)
	e.wireConnectionEvents(session)
	e.registerSession(session)

	switch {
	case gcc != nil:
		session.GCC = gcc
		gcc.SetLimits(settings.MaxBitrate, settings.DoFEC)
		go gcc.Run(session.ctx)
	case settings.CongestionControl == CCHomegrown:
		hg := NewHomegrownController(settings.MinBitrate, settings.MaxBitrate, settings.StartBitrate, settings.DoFEC)
		hg.SetStats(&session.Stats)
		session.Homegrown = hg
		go hg.Run(session.ctx, func() time.Duration { return sessionRTT(pc) })
	}

	streams := e.Streams()
	e.openSessionNavigationChannel(session, settings)
	negotiator := NewNegotiationController(e.Registry, settings)

	if offer == nil {
		localSDP, err := negotiator.Negotiate(session.ctx, session, streams)
		if err != nil {
			log.Error("negotiation failed", "session", sessionID, "error", err)
			e.endSession(sessionID)
			return
		}
		if e.Hooks.OnConsumerAdded != nil {
			e.Hooks.OnConsumerAdded(peerID, pc)
		}
		e.sendSDP(sessionID, localSDP)
		return
	}

	answer, err := negotiator.NegotiateInbound(session.ctx, session, *offer, streams)
	if err != nil {
		log.Error("inbound negotiation failed", "session", sessionID, "error", err)
		e.endSession(sessionID)
		return
	}
	if e.Hooks.OnConsumerAdded != nil {
		e.Hooks.OnConsumerAdded(peerID, pc)
	}
	e.startSessionPipeline(session, streams)
	if e.Hooks.OnConsumerPipelineCreated != nil {
		e.Hooks.OnConsumerPipelineCreated(peerID, session)
	}
	e.sendSDP(sessionID, answer)
}

// handleSessionDescription applies a remote answer on the outbound path
// (the only path on which the core waits for one back from the signaller),
// then starts the session's media pipeline now that payload types are
// fixed.
func (e *Element) handleSessionDescription(sessionID string, sdp webrtc.SessionDescription) {
	e.sessionsMu.Lock()
	session, ok := e.sessions[sessionID]
	e.sessionsMu.Unlock()
	if !ok {
		log.Warn("session description for unknown session", "session", sessionID)
		return
	}

	negotiator := NewNegotiationController(e.Registry, e.GetSettings())
	if err := negotiator.ApplyAnswer(session, sdp); err != nil {
		log.Error("applying remote answer", "session", sessionID, "error", err)
		e.endSession(sessionID)
		return
	}

	e.startSessionPipeline(session, e.Streams())
	if e.Hooks.OnConsumerPipelineCreated != nil {
		e.Hooks.OnConsumerPipelineCreated(session.PeerID, session)
	}
}

func (e *Element) handleRemoteICE(sessionID, candidate string) {
	e.sessionsMu.Lock()
	session, ok := e.sessions[sessionID]
	e.sessionsMu.Unlock()
	if !ok {
		return
	}
	if err := session.PC.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		log.Warn("adding remote ice candidate", "session", sessionID, "error", err)
	}
}

// wireConnectionEvents forwards locally gathered ICE candidates to the
// signaller and ends the session fatally once its connection drops, per
// §4.8's fatal-per-session list.
func (e *Element) wireConnectionEvents(session *Session) {
	session.PC.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.signallerMu.Lock()
		signaller := e.signaller
		e.signallerMu.Unlock()
		if signaller == nil {
			return
		}
		if err := signaller.AddICECandidate(session.ID, c.ToJSON()); err != nil {
			log.Warn("forwarding local ice candidate", "session", session.ID, "error", err)
		}
	})

	session.PC.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			e.endSession(session.ID)
		}
	})
}

func (e *Element) sendSDP(sessionID string, sdp webrtc.SessionDescription) {
	e.signallerMu.Lock()
	signaller := e.signaller
	e.signallerMu.Unlock()
	if signaller == nil {
		return
	}
	if err := signaller.SendSDP(sessionID, sdp); err != nil {
		log.Warn("sending local description", "session", sessionID, "error", err)
	}
}
