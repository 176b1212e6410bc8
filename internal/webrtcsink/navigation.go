package webrtcsink

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// navigationChannelLabel and priority match §4.7: "a WebRTC data channel
// named `input` (priority High)".
const navigationChannelLabel = "input"

// NavigationEvent is a parsed message received on the navigation data
// channel. Mid, when present, routes the event to one specific video
// ingress stream instead of broadcasting it to all of them.
type NavigationEvent struct {
	Mid   *string         `json:"mid,omitempty"`
	Event json.RawMessage `json:"event"`
}

// NavigationEventHandler is invoked once per parsed navigation event, for
// every video InputStream it should be routed to.
type NavigationEventHandler func(stream *InputStream, event json.RawMessage)

// openNavigationChannel creates the "input" data channel on a session's
// peer connection, high priority, and wires its message handler to parse
// and route NavigationEvents, per §4.7. It no-ops (returns nil, nil) when
// navigation is disabled in settings.
func openNavigationChannel(pc *webrtc.PeerConnection, enabled bool, streamByMid func(mid string) *InputStream, allVideoStreams func() []*InputStream, handler NavigationEventHandler) (*webrtc.DataChannel, error) {
	if !enabled || pc == nil {
		return nil, nil
	}

	priority := webrtc.DataChannelPriorityHigh
	dc, err := pc.CreateDataChannel(navigationChannelLabel, &webrtc.DataChannelInit{
		Priority: &priority,
	})
	if err != nil {
		return nil, err
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		var evt NavigationEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Warn("failed to parse navigation event", "error", err)
			return
		}

		if evt.Mid != nil {
			if stream := streamByMid(*evt.Mid); stream != nil {
				handler(stream, evt.Event)
			}
			return
		}

		for _, stream := range allVideoStreams() {
			handler(stream, evt.Event)
		}
	})

	return dc, nil
}
