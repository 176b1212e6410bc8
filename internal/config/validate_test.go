package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredInvalidSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignallingURL = "ftp://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid signalling_url scheme should be fatal")
	}
}

func TestValidateTieredControlCharsInTokenIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignallingToken = "token\x00with\x01control"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in token should be fatal")
	}
}

func TestValidateTieredBitrateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.MinBitrate = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped min_bitrate should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped min_bitrate")
	}
	if cfg.MinBitrate != 1 {
		t.Fatalf("MinBitrate = %d, want 1 (clamped)", cfg.MinBitrate)
	}
}

func TestValidateTieredStartBitrateClampedToRange(t *testing.T) {
	cfg := Default()
	cfg.MinBitrate = 1000
	cfg.MaxBitrate = 5000
	cfg.StartBitrate = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped start_bitrate should be warning: %v", result.Fatals)
	}
	if cfg.StartBitrate != 5000 {
		t.Fatalf("StartBitrate = %d, want 5000 (clamped to max)", cfg.StartBitrate)
	}
}

func TestValidateTieredUnknownCodecIsWarning(t *testing.T) {
	cfg := Default()
	cfg.VideoCodecOrder = []string{"VP8", "BOGUS"}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown codec should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "BOGUS") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about unknown codec")
	}
}

func TestValidateTieredUnknownCongestionControlIsWarning(t *testing.T) {
	cfg := Default()
	cfg.CongestionControl = "magic"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown congestion_control should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown congestion_control")
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.SignallingURL = "ftp://bad"       // fatal
	cfg.VideoCodecOrder = []string{"FAKE"} // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.SignallingURL = "wss://example.com/signal"
	cfg.SignallingToken = "clean-token"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}
