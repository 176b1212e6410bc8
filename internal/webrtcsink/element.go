package webrtcsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/webrtcsink/internal/workerpool"
)

// Settings is the element's mutable configuration surface, per §6. All
// fields are mutable while the element is Ready or below; RequestPad
// enforces that request pads may only be created in that window.
type Settings struct {
	VideoCodecOrder []string // narrower-first codec preference, e.g. ["VP8","H264"]
	AudioCodecOrder []string

	STUNServer  string
	TURNServers []webrtc.ICEServer

	CongestionControl CCMode

	MinBitrate   int
	MaxBitrate   int
	StartBitrate int

	DoFEC                       bool
	DoRetransmission            bool
	EnableDataChannelNavigation bool

	ICETransportPolicy webrtc.ICETransportPolicy

	Meta map[string]any
}

// DefaultSettings returns the element defaults listed in §6.
func DefaultSettings() Settings {
	return Settings{
		STUNServer:                  "stun:stun.l.google.com:19302",
		CongestionControl:           CCGoogleCongestionControl,
		MinBitrate:                  1_000,
		MaxBitrate:                  8_192_000,
		StartBitrate:                2_048_000,
		DoFEC:                       true,
		DoRetransmission:            true,
		EnableDataChannelNavigation: false,
		ICETransportPolicy:          webrtc.ICETransportPolicyAll,
	}
}

// ElementState is the Null↔Ready↔Paused↔Playing lifecycle of §6.
type ElementState int

const (
	StateNull ElementState = iota
	StateReady
	StatePaused
	StatePlaying
)

// Hooks are the application-integration signals of §6. GObject signals
// have no Go equivalent, so each becomes a settable func field, called
// synchronously at the point the source would have emitted the signal.
// EncoderSetupHook is called once for each session encoder after it is
// built; the element applies no default encoder setup of its own, so the
// hook's return value is not consulted. RequestEncodedFilterHook is not
// called anywhere by the element.
type Hooks struct {
	OnConsumerAdded          func(peerID string, pc *webrtc.PeerConnection)
	OnConsumerPipelineCreated func(peerID string, session *Session)
	OnConsumerRemoved        func(peerID string, pc *webrtc.PeerConnection)
	EncoderSetupHook         func(peerIDOrDiscovery, padName string, encoder *VideoEncoder) bool
	RequestEncodedFilterHook func(peerID *string, padName string, caps Caps) (filterName string, ok bool)
	OnNavigationEvent        func(peerID string, stream *InputStream, event json.RawMessage)
}

// Element is the WebRTC producer sink's shell: Settings and State behind
// their own mutexes (per §5 — "settings (seldom contended) and state"),
// the codec registry, input-stream table, session map, and the one
// process-wide async runtime every background task is submitted to.
type Element struct {
	settingsMu sync.Mutex
	settings   Settings

	stateMu sync.Mutex
	state   ElementState

	Registry *Registry
	Hooks    Hooks

	signallerMu sync.Mutex
	signaller   Signaller

	streamsMu sync.Mutex
	streams   map[string]*InputStream // by pad name, e.g. "video_0"
	serial    int

	sessionsMu sync.Mutex
	sessions   map[string]*Session

	finalizingMu sync.Mutex
	finalizing   map[string]bool
	finalizeCond *sync.Cond

	pool *workerpool.Pool

	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewElement constructs an Element with the given settings and the
// default codec registry, plus the process-wide worker pool that serves
// as the "one background async runtime" of §5.
func NewElement(settings Settings) *Element {
	e := &Element{
		settings: settings,
		state:    StateReady,
		Registry: NewRegistry(),
		streams:  make(map[string]*InputStream),
		sessions: make(map[string]*Session),
		finalizing: make(map[string]bool),
		pool:     workerpool.New(8, 256),
	}
	e.finalizeCond = sync.NewCond(&e.finalizingMu)
	return e
}

// Option configures an Element at construction time. Functional options
// are this repo's analogue of the Rust source's tagged WebRTCSink /
// AwsKvsWebRTCSink / WhipWebRTCSink / LiveKitWebRTCSink subclasses
// (imp.rs:3798-3950): each preselects a signaller variant, which here is
// just WithSignaller passed to NewElementWithOptions. See
// cmd/webrtcsink-demo for the "custom" variant's wiring.
type Option func(*Element)

// NewElementWithOptions applies functional options over DefaultSettings.
func NewElementWithOptions(opts ...Option) *Element {
	e := NewElement(DefaultSettings())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithSignaller attaches a concrete Signaller at construction time.
func WithSignaller(s Signaller) Option {
	return func(e *Element) { _ = e.SetSignaller(s) }
}

// WithSettings overrides the default settings.
func WithSettings(settings Settings) Option {
	return func(e *Element) { e.settings = settings }
}

// WithWorkerPool replaces the element's background worker pool, letting a
// caller size the "one background async runtime" of §5 (e.g. from
// config.Config's max_concurrent_tasks/task_queue_size knobs) instead of
// the NewElement default of 8 workers / 256 queued tasks.
func WithWorkerPool(maxWorkers, queueSize int) Option {
	return func(e *Element) { e.pool = workerpool.New(maxWorkers, queueSize) }
}

// GetSettings returns a copy of the current settings.
func (e *Element) GetSettings() Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.settings
}

// State returns the current lifecycle state.
func (e *Element) State() ElementState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// SetSignaller replaces the active signaller. Per §4.6, "reassignment is
// only valid while the element is below Paused"; the previous handler (if
// any) is disconnected before the new one is attached.
func (e *Element) SetSignaller(s Signaller) error {
	if e.State() >= StatePaused {
		return ErrSignallerBusy
	}
	e.signallerMu.Lock()
	defer e.signallerMu.Unlock()
	if e.signaller != nil {
		e.signaller.SetEventHandler(EventHandler{})
	}
	e.signaller = s
	s.SetEventHandler(e.buildEventHandler())
	return nil
}

// RequestPad creates a new InputStream for a sink pad request. Per §6,
// "Pads may only be requested in Ready or below."
func (e *Element) RequestPad(kind MediaKind) (*InputStream, error) {
	if e.State() > StateReady {
		return nil, fmt.Errorf("webrtcsink: pads may only be requested in Ready or below")
	}

	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	serial := e.serial
	e.serial++
	name := fmt.Sprintf("%s_%d", kind.String(), serial)
	stream := NewInputStream(serial, kind, name)
	e.streams[name] = stream
	return stream, nil
}

// Stream looks up a previously requested InputStream by pad name.
func (e *Element) Stream(name string) (*InputStream, bool) {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	s, ok := e.streams[name]
	return s, ok
}

// Streams returns every registered InputStream.
func (e *Element) Streams() []*InputStream {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	out := make([]*InputStream, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, s)
	}
	return out
}

// Prepare transitions Ready→Paused: starts the async runtime context and
// attaches clock/producer state. The media framework's own appsink/
// clocksync wiring is out of scope (§1); this is the core's half.
func (e *Element) Prepare() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StateReady {
		return fmt.Errorf("webrtcsink: Prepare requires Ready, have %v", e.state)
	}
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	e.state = StatePaused
	return nil
}

// Start transitions Paused→Playing: starts the signaller, provided
// initial codec discovery has already produced out_caps for every stream
// (§6: "Paused→Playing starts the signaller if codec discovery is done").
func (e *Element) Start() error {
	e.stateMu.Lock()
	if e.state != StatePaused {
		e.stateMu.Unlock()
		return fmt.Errorf("webrtcsink: Start requires Paused, have %v", e.state)
	}
	e.stateMu.Unlock()

	for _, s := range e.Streams() {
		if _, ok := s.OutCaps(); !ok {
			return fmt.Errorf("webrtcsink: %w for stream %s", ErrCodecNotFound, s.Name)
		}
	}

	e.signallerMu.Lock()
	signaller := e.signaller
	e.signallerMu.Unlock()
	if signaller != nil {
		if err := signaller.Start(e.runCtx); err != nil {
			return fmt.Errorf("webrtcsink: starting signaller: %w", err)
		}
	}

	e.stateMu.Lock()
	e.state = StatePlaying
	e.stateMu.Unlock()
	return nil
}

// Unprepare transitions back down to Ready: ends every session, waits for
// all of them to finish tearing down, aborts in-flight discoveries, and
// stops the signaller. Per §5, this is the condvar wait over
// finalizing_sessions; here it's a WaitGroup-shaped loop over each
// session's Finalized channel instead, since Go has no bare condvar that
// composes as cleanly with select/timeout as a channel wait does.
func (e *Element) Unprepare(ctx context.Context) error {
	e.stateMu.Lock()
	if e.state < StatePaused {
		e.stateMu.Unlock()
		return nil
	}
	e.stateMu.Unlock()

	for _, stream := range e.Streams() {
		stream.AbortAll()
	}

	e.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessionsMu.Unlock()

	for _, s := range sessions {
		e.endSession(s.ID)
	}
	for _, s := range sessions {
		select {
		case <-s.Finalized():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.signallerMu.Lock()
	signaller := e.signaller
	e.signallerMu.Unlock()
	if signaller != nil {
		_ = signaller.Stop()
	}

	if e.runCancel != nil {
		e.runCancel()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.pool.StopAccepting()
	e.pool.Drain(drainCtx)

	e.stateMu.Lock()
	e.state = StateReady
	e.stateMu.Unlock()
	return nil
}

// GetSessions returns the ids of all currently active sessions, per §6's
// `get-sessions()→[id]` signal.
func (e *Element) GetSessions() []string {
	e.sessionsMu.Lock()
	defer e.sessionsMu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// newPeerConnection builds the MediaEngine/InterceptorRegistry/API chain
// for one session, registering this element's codec table and, when
// CongestionControl is GoogleCongestionControl, the GCC bandwidth
// estimator interceptor — grounded directly on pion/webrtc's own
// bandwidth-estimation-from-disk example.
func (e *Element) newPeerConnection(settings Settings) (*webrtc.PeerConnection, *GCCController, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range e.Registry.ForKind(MediaVideo) {
		if err := m.RegisterCodec(c.RTPCodecParameters(), webrtc.RTPCodecTypeVideo); err != nil {
			return nil, nil, fmt.Errorf("webrtcsink: registering video codec %s: %w", c.Name, err)
		}
	}
	for _, c := range e.Registry.ForKind(MediaAudio) {
		if err := m.RegisterCodec(c.RTPCodecParameters(), webrtc.RTPCodecTypeAudio); err != nil {
			return nil, nil, fmt.Errorf("webrtcsink: registering audio codec %s: %w", c.Name, err)
		}
	}

	i := &interceptor.Registry{}
	var gccController *GCCController
	if settings.CongestionControl == CCGoogleCongestionControl {
		gccInterceptor, controller, err := NewGCCInterceptor(settings.StartBitrate)
		if err != nil {
			return nil, nil, err
		}
		if err := webrtc.ConfigureTWCCHeaderExtensionSender(m, i); err != nil {
			return nil, nil, fmt.Errorf("webrtcsink: configuring TWCC header extension: %w", err)
		}
		i.Add(gccInterceptor)
		gccController = controller
	}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, nil, fmt.Errorf("webrtcsink: registering default interceptors: %w", err)
	}

	iceServers := []webrtc.ICEServer{{URLs: []string{settings.STUNServer}}}
	iceServers = append(iceServers, settings.TURNServers...)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: settings.ICETransportPolicy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("webrtcsink: new peer connection: %w", err)
	}
	return pc, gccController, nil
}

// newSessionID generates a session id the way the source's Session::new
// would: a fresh random identifier, not derived from peer-supplied data.
func newSessionID() string { return uuid.NewString() }

func (e *Element) registerSession(session *Session) {
	e.sessionsMu.Lock()
	e.sessions[session.ID] = session
	e.sessionsMu.Unlock()
}

// RemoveSession removes a session from the element's table and tears it
// down, per §8's round-trip property: an unknown id returns
// ErrNoSessionWithID; the map removal happens synchronously so a second
// call on the same id (concurrent or sequential) deterministically sees it
// as already gone, making repeated calls idempotent after the first
// success. The actual PeerConnection teardown and signaller notification
// run asynchronously on the shared worker pool, matching §3's "teardown is
// asynchronous" session lifecycle note.
func (e *Element) RemoveSession(id string) error {
	e.sessionsMu.Lock()
	session, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.sessionsMu.Unlock()
	if !ok {
		return ErrNoSessionWithID
	}

	e.pool.Submit(func() {
		session.Close()

		e.signallerMu.Lock()
		signaller := e.signaller
		e.signallerMu.Unlock()
		if signaller != nil {
			if err := signaller.EndSession(id); err != nil {
				log.Warn("signaller failed to end session", "session", id, "error", err)
			}
		}

		if e.Hooks.OnConsumerRemoved != nil {
			e.Hooks.OnConsumerRemoved(session.PeerID, session.PC)
		}
	})
	return nil
}

// endSession tears a session down fatally, per §4.8's fatal-per-session
// list, and notifies the signaller so it can relay end_session to the
// remote peer. It is RemoveSession with the "unknown session" case treated
// as a no-op, since every call site already knows the session existed a
// moment ago (a fatal event fired on it, or it's part of a bulk teardown
// sweep) and a benign race against a concurrent removal isn't an error.
func (e *Element) endSession(id string) {
	if err := e.RemoveSession(id); err != nil {
		log.Debug("endSession: session already removed", "session", id)
	}
}
