package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/webrtcsink/internal/logging"
)

var log = logging.L("config")

// Config is the on-disk/env-sourced form of an element's Settings (§6),
// plus the ambient logging/concurrency knobs every cmd/ entry point needs.
type Config struct {
	SignallingURL   string   `mapstructure:"signalling_url"`
	SignallingToken string   `mapstructure:"signalling_token"`

	STUNServer  string   `mapstructure:"stun_server"`
	TURNServers []string `mapstructure:"turn_servers"`

	VideoCodecOrder []string `mapstructure:"video_codec_order"`
	AudioCodecOrder []string `mapstructure:"audio_codec_order"`

	CongestionControl string `mapstructure:"congestion_control"` // "disabled", "homegrown", "gcc"

	MinBitrate   int `mapstructure:"min_bitrate"`
	MaxBitrate   int `mapstructure:"max_bitrate"`
	StartBitrate int `mapstructure:"start_bitrate"`

	DoFEC                       bool `mapstructure:"do_fec"`
	DoRetransmission            bool `mapstructure:"do_retransmission"`
	EnableDataChannelNavigation bool `mapstructure:"enable_data_channel_navigation"`

	ICETransportPolicy string `mapstructure:"ice_transport_policy"` // "all" or "relay"

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Concurrency limits for the background worker pool (§5)
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	TaskQueueSize      int `mapstructure:"task_queue_size"`
}

func Default() *Config {
	return &Config{
		STUNServer:                  "stun:stun.l.google.com:19302",
		VideoCodecOrder:             []string{"VP8", "H264"},
		AudioCodecOrder:             []string{"OPUS"},
		CongestionControl:           "gcc",
		MinBitrate:                  1_000,
		MaxBitrate:                  8_192_000,
		StartBitrate:                2_048_000,
		DoFEC:                       true,
		DoRetransmission:            true,
		EnableDataChannelNavigation: false,
		ICETransportPolicy:          "all",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		MaxConcurrentTasks: 8,
		TaskQueueSize:       256,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("webrtcsink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WEBRTCSINK")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("signalling_url", cfg.SignallingURL)
	viper.Set("signalling_token", cfg.SignallingToken)
	viper.Set("stun_server", cfg.STUNServer)
	viper.Set("turn_servers", cfg.TURNServers)
	viper.Set("video_codec_order", cfg.VideoCodecOrder)
	viper.Set("audio_codec_order", cfg.AudioCodecOrder)
	viper.Set("congestion_control", cfg.CongestionControl)
	viper.Set("min_bitrate", cfg.MinBitrate)
	viper.Set("max_bitrate", cfg.MaxBitrate)
	viper.Set("start_bitrate", cfg.StartBitrate)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "webrtcsink.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (may carry a signalling token)
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "webrtcsink")
	case "darwin":
		return "/Library/Application Support/webrtcsink"
	default:
		return "/etc/webrtcsink"
	}
}
