package webrtcsink

// VideoEncoderStats is one encoder's contribution to the `stats` property
// (§6): "per-encoder `{bitrate, mitigation-mode, codec-name,
// fec-percentage}`".
type VideoEncoderStats struct {
	Bitrate        int    `json:"bitrate"`
	MitigationMode string `json:"mitigation-mode"`
	CodecName      string `json:"codec-name"`
	FECPercentage  int    `json:"fec-percentage"`
}

// ConsumerStats is the per-session nesting the original source reports
// under "consumer-stats/video-encoders": one VideoEncoderStats per active
// pad, keyed by pad (stream) name.
type ConsumerStats struct {
	VideoEncoders map[string]VideoEncoderStats `json:"video-encoders"`
}

// SessionStatsEntry is one session's entry in the aggregate `stats`
// property.
type SessionStatsEntry struct {
	ConsumerStats ConsumerStats `json:"consumer-stats"`
}

// Stats is the full read-only `stats` property of §6: an aggregate keyed
// by session id.
type Stats map[string]SessionStatsEntry

// Stats snapshots every active session's encoder state into the
// aggregate read-only `stats` property named in §6.
func (e *Element) Stats() Stats {
	e.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessionsMu.Unlock()

	out := make(Stats, len(sessions))
	for _, s := range sessions {
		encoders := make(map[string]VideoEncoderStats)
		for _, enc := range s.EncodersSnapshot() {
			encoders[enc.PadName] = VideoEncoderStats{
				Bitrate:        enc.Bitrate(),
				MitigationMode: enc.MitigationMode().String(),
				CodecName:      enc.CodecName,
				FECPercentage:  enc.FECPercentage(),
			}
		}
		out[s.ID] = SessionStatsEntry{ConsumerStats: ConsumerStats{VideoEncoders: encoders}}
	}
	return out
}
