package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var knownCodecs = map[string]bool{
	"VP8":  true,
	"VP9":  true,
	"AV1":  true,
	"H264": true,
	"H265": true,
	"OPUS": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validCongestionControl = map[string]bool{
	"disabled":  true,
	"homegrown": true,
	"gcc":       true,
}

// ValidationResult separates fatal misconfiguration (block startup) from
// warnings (auto-corrected or merely surprising, logged and continued).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just
// want everything that was wrong.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Out-of-range
// bitrates and worker pool sizes are clamped to safe values and reported
// as warnings; malformed URLs, tokens, or signalling endpoints are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.SignallingURL != "" {
		u, err := url.Parse(c.SignallingURL)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("signalling_url %q is not a valid URL: %w", c.SignallingURL, err))
		} else {
			switch u.Scheme {
			case "ws", "wss", "http", "https":
			default:
				result.Fatals = append(result.Fatals, fmt.Errorf("signalling_url scheme must be ws, wss, http, or https, got %q", u.Scheme))
			}
		}
	}

	if c.SignallingToken != "" {
		for _, r := range c.SignallingToken {
			if unicode.IsControl(r) {
				result.Fatals = append(result.Fatals, fmt.Errorf("signalling_token contains control characters"))
				break
			}
		}
	}

	if c.MinBitrate < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("min_bitrate %d is below minimum 1, clamping", c.MinBitrate))
		c.MinBitrate = 1
	}
	if c.MaxBitrate < c.MinBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_bitrate %d is below min_bitrate %d, clamping", c.MaxBitrate, c.MinBitrate))
		c.MaxBitrate = c.MinBitrate
	}
	if c.StartBitrate < c.MinBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("start_bitrate %d is below min_bitrate %d, clamping", c.StartBitrate, c.MinBitrate))
		c.StartBitrate = c.MinBitrate
	} else if c.StartBitrate > c.MaxBitrate {
		result.Warnings = append(result.Warnings, fmt.Errorf("start_bitrate %d exceeds max_bitrate %d, clamping", c.StartBitrate, c.MaxBitrate))
		c.StartBitrate = c.MaxBitrate
	}

	for _, name := range c.VideoCodecOrder {
		if !knownCodecs[strings.ToUpper(name)] {
			result.Warnings = append(result.Warnings, fmt.Errorf("unknown video codec %q in video_codec_order", name))
		}
	}
	for _, name := range c.AudioCodecOrder {
		if !knownCodecs[strings.ToUpper(name)] {
			result.Warnings = append(result.Warnings, fmt.Errorf("unknown audio codec %q in audio_codec_order", name))
		}
	}

	if c.CongestionControl != "" && !validCongestionControl[strings.ToLower(c.CongestionControl)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("congestion_control %q is not valid (use disabled, homegrown, or gcc)", c.CongestionControl))
	}

	if c.ICETransportPolicy != "" && c.ICETransportPolicy != "all" && c.ICETransportPolicy != "relay" {
		result.Warnings = append(result.Warnings, fmt.Errorf("ice_transport_policy %q is not valid (use all or relay)", c.ICETransportPolicy))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.MaxConcurrentTasks < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_concurrent_tasks %d is below minimum 1, clamping", c.MaxConcurrentTasks))
		c.MaxConcurrentTasks = 1
	} else if c.MaxConcurrentTasks > 128 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_concurrent_tasks %d exceeds maximum 128, clamping", c.MaxConcurrentTasks))
		c.MaxConcurrentTasks = 128
	}

	if c.TaskQueueSize < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("task_queue_size %d is below minimum 1, clamping", c.TaskQueueSize))
		c.TaskQueueSize = 1
	} else if c.TaskQueueSize > 10000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("task_queue_size %d exceeds maximum 10000, clamping", c.TaskQueueSize))
		c.TaskQueueSize = 10000
	}

	return result
}
