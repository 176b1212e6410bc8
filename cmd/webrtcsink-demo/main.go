package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/webrtcsink/internal/config"
	"github.com/breeze-rmm/webrtcsink/internal/logging"
	"github.com/breeze-rmm/webrtcsink/internal/signalws"
	"github.com/breeze-rmm/webrtcsink/internal/webrtcsink"
)

var version = "0.1.0"
var cfgFile string

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "webrtcsink-demo",
	Short: "WebRTC producer sink demo",
	Long:  `Fan a synthetic video stream out to any number of WebRTC peers, negotiated through a plain websocket signalling server.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sink and connect to a signalling server",
	Run: func(cmd *cobra.Command, args []string) {
		runSink()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("webrtcsink-demo v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSink() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var out io.Writer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.LogFile, err)
			os.Exit(1)
		}
		out = logging.TeeWriter(os.Stdout, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	settings := webrtcsink.DefaultSettings()
	settings.STUNServer = cfg.STUNServer
	settings.VideoCodecOrder = cfg.VideoCodecOrder
	settings.AudioCodecOrder = cfg.AudioCodecOrder
	settings.MinBitrate = cfg.MinBitrate
	settings.MaxBitrate = cfg.MaxBitrate
	settings.StartBitrate = cfg.StartBitrate
	settings.DoFEC = cfg.DoFEC
	settings.DoRetransmission = cfg.DoRetransmission
	settings.EnableDataChannelNavigation = cfg.EnableDataChannelNavigation
	if cfg.ICETransportPolicy == "relay" {
		settings.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	for _, turn := range cfg.TURNServers {
		settings.TURNServers = append(settings.TURNServers, webrtc.ICEServer{URLs: []string{turn}})
	}
	switch cfg.CongestionControl {
	case "disabled":
		settings.CongestionControl = webrtcsink.CCDisabled
	case "homegrown":
		settings.CongestionControl = webrtcsink.CCHomegrown
	default:
		settings.CongestionControl = webrtcsink.CCGoogleCongestionControl
	}

	signaller := signalws.New(signalws.Config{ServerURL: cfg.SignallingURL, Token: cfg.SignallingToken})
	element := webrtcsink.NewElementWithOptions(
		webrtcsink.WithSettings(settings),
		webrtcsink.WithWorkerPool(cfg.MaxConcurrentTasks, cfg.TaskQueueSize),
		webrtcsink.WithSignaller(signaller),
	)

	stream, err := element.RequestPad(webrtcsink.MediaVideo)
	if err != nil {
		log.Error("failed to request pad", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopFeed := feedSyntheticVideo(ctx, stream)
	defer stopFeed()

	if err := element.Prepare(); err != nil {
		log.Error("prepare failed", "error", err)
		os.Exit(1)
	}
	if err := element.Start(); err != nil {
		log.Error("start failed", "error", err)
		os.Exit(1)
	}

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			unprepareCtx, unprepareCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer unprepareCancel()
			_ = element.Unprepare(unprepareCtx)
			return
		case <-statsTicker.C:
			log.Info("sessions", "count", len(element.GetSessions()), "stats", element.Stats())
		}
	}
}

// feedSyntheticVideo pushes placeholder keyframe-only samples into the
// ingress producer at a fixed cadence, standing in for the real media
// pipeline upstream of this sink (out of scope per the element's own
// boundary — see the caps/appsink mapping notes in the core package).
func feedSyntheticVideo(ctx context.Context, stream *webrtcsink.InputStream) func() {
	caps := webrtcsink.NewCaps("video/x-raw").
		With("width", 1920).
		With("height", 1080).
		With("framerate", "30/1")
	_ = stream.SetIngressCaps(caps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(33 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stream.Producer.Push(webrtcsink.Sample{
					Data:     make([]byte, 4096),
					Duration: 33 * time.Millisecond,
					KeyFrame: true,
				})
			}
		}
	}()
	return func() { <-done }
}
