// Package signalws implements a webrtcsink.Signaller over a plain
// gorilla/websocket connection, for deployments that don't speak WHIP,
// KVS, or LiveKit's own signalling. It uses a read pump, a write pump with
// periodic pings, and a reconnect loop with jittered exponential backoff.
package signalws

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/webrtcsink/internal/logging"
	"github.com/breeze-rmm/webrtcsink/internal/webrtcsink"
)

var log = logging.L("signalws")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// message is the wire shape exchanged with the signalling server: one
// envelope type per direction, extra fields left empty when unused.
type message struct {
	Type      string                     `json:"type"`
	SessionID string                     `json:"sessionId,omitempty"`
	PeerID    string                     `json:"peerId,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Meta      map[string]any             `json:"meta,omitempty"`
}

// Config configures a Signaller connection.
type Config struct {
	ServerURL string
	Token     string
}

// Signaller connects to a signalling server over a single websocket
// connection, reconnecting with backoff, and implements
// webrtcsink.Signaller.
type Signaller struct {
	cfg Config

	connMu sync.RWMutex
	conn   *websocket.Conn

	handlerMu sync.RWMutex
	handler   webrtcsink.EventHandler

	sendChan chan []byte
	done     chan struct{}
	stopOnce sync.Once

	runningMu sync.RWMutex
	running   bool
}

// New constructs a Signaller bound to the given server.
func New(cfg Config) *Signaller {
	return &Signaller{
		cfg:      cfg,
		sendChan: make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

// SetEventHandler implements webrtcsink.Signaller.
func (s *Signaller) SetEventHandler(h webrtcsink.EventHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

func (s *Signaller) eventHandler() webrtcsink.EventHandler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handler
}

// Start begins the reconnect loop in the background and returns once the
// first connection attempt has been dispatched.
func (s *Signaller) Start(ctx context.Context) error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return nil
	}
	s.running = true
	s.runningMu.Unlock()

	go s.reconnectLoop(ctx)
	return nil
}

// Stop closes the connection and stops the reconnect loop.
func (s *Signaller) Stop() error {
	s.stopOnce.Do(func() {
		s.runningMu.Lock()
		s.running = false
		s.runningMu.Unlock()
		close(s.done)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
		log.Info("signaller stopped")
	})
	return nil
}

// SendSDP implements webrtcsink.Signaller: relays a local offer or answer
// to the session's remote peer.
func (s *Signaller) SendSDP(sessionID string, sdp webrtc.SessionDescription) error {
	msg := message{SessionID: sessionID, Type: "answer"}
	if sdp.Type == webrtc.SDPTypeOffer {
		msg.Type = "offer"
		msg.Offer = &sdp
	} else {
		msg.Answer = &sdp
	}
	return s.send(msg)
}

// AddICECandidate implements webrtcsink.Signaller.
func (s *Signaller) AddICECandidate(sessionID string, candidate webrtc.ICECandidateInit) error {
	return s.send(message{Type: "candidate", SessionID: sessionID, Candidate: &candidate})
}

// EndSession implements webrtcsink.Signaller.
func (s *Signaller) EndSession(sessionID string) error {
	return s.send(message{Type: "end_session", SessionID: sessionID})
}

func (s *Signaller) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signalws: marshal: %w", err)
	}
	select {
	case s.sendChan <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("signalws: signaller is stopped")
	default:
		return fmt.Errorf("signalws: send channel full")
	}
}

func (s *Signaller) reconnectLoop(ctx context.Context) {
	backoff := initialBackoff

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Warn("connection failed", "error", err)
			if h := s.eventHandler(); h.OnError != nil {
				h.OnError(err.Error())
			}

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go s.writePump(pumpDone)
		s.readPump()
		close(pumpDone)

		s.runningMu.RLock()
		running := s.running
		s.runningMu.RUnlock()
		if !running {
			return
		}
	}
}

func (s *Signaller) connect() error {
	u, err := url.Parse(s.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("signalws: parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if s.cfg.Token != "" {
		q := u.Query()
		q.Set("token", s.cfg.Token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("signalws: dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	conn.SetReadLimit(maxMessageSize)
	log.Info("connected", "server", s.cfg.ServerURL)
	return nil
}

func (s *Signaller) readPump() {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("failed to parse message", "error", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Signaller) dispatch(msg message) {
	h := s.eventHandler()
	switch msg.Type {
	case "session_requested":
		if h.OnSessionRequested != nil {
			h.OnSessionRequested(msg.SessionID, msg.PeerID, msg.Offer)
		}
	case "offer", "answer":
		sdp := msg.Offer
		if sdp == nil {
			sdp = msg.Answer
		}
		if sdp != nil && h.OnSessionDescription != nil {
			h.OnSessionDescription(msg.SessionID, *sdp)
		}
	case "candidate":
		if msg.Candidate != nil && h.OnHandleICE != nil {
			h.OnHandleICE(msg.SessionID, 0, nil, msg.Candidate.Candidate)
		}
	case "end_session":
		if h.OnSessionEnded != nil {
			h.OnSessionEnded(msg.SessionID)
		}
	default:
		log.Warn("unhandled message type", "type", msg.Type)
	}
}

func (s *Signaller) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.done:
			return
		case data := <-s.sendChan:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("write error", "error", err)
				return
			}
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
