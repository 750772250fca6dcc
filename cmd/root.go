package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/audiolibrelab/streamcapture/internal/record"
	"github.com/audiolibrelab/streamcapture/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "streamcapture [stream-address]",
	Short: "Watch and record live video streams",
	Long: `StreamCapture plays a live video stream (RTSP, RTMP, HLS, SRT...) and records it
to disk on demand, without re-encoding.

Playback uses an external player (ffplay, mpv or vlc); recording runs ffmpeg in the
background. At most one recording is active at a time.

When a stream address is provided, it acts as 'streamcapture watch [stream-address]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = os.ExpandEnv("$HOME/.config/streamcapture.yaml")
		}

		if _, err := os.Stat(cfgFile); !explicit && os.IsNotExist(err) {
			if profile != "" {
				return fmt.Errorf("profile '%s' requested but config file %s does not exist", profile, cfgFile)
			}
			slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
			cfg = config.Default()
		} else {
			cfg, err = config.LoadWithProfile(cfgFile, profile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}

		// -v wins over the configured level
		if verboseLevel == 0 {
			setLogLevel(parseLogLevel(cfg.Log.Level))
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If an address is provided, delegate to watch command
		if len(args) == 1 {
			return watchCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=configured level, 1=debug, 2=debug with ffmpeg output")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(serveCmd)
}

var logLevel = new(slog.LevelVar)

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	switch {
	case level >= 1:
		logLevel.Set(slog.LevelDebug)
	default:
		logLevel.Set(slog.LevelInfo)
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}

func setLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// recorderLogWriter returns where ffmpeg's own output goes
func recorderLogWriter() io.Writer {
	if verboseLevel >= 2 {
		return os.Stderr
	}
	return io.Discard
}

// newService creates the session service; headless sessions record without a player window
func newService(headless bool) *service.StreamCaptureService {
	if headless {
		return service.NewWithCapabilities(cfg, record.NewRecorder(cfg, recorderLogWriter()), play.HeadlessSink{})
	}
	return service.New(cfg, recorderLogWriter())
}

// closeService disposes the session, giving ffmpeg time to finalize the recording
func closeService(svc service.Service) error {
	timeout := cfg.Recorder.StopTimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := svc.Close(ctx); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	return nil
}

// streamAddress picks the address from the arguments or the configuration
func streamAddress(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Stream.Address
}
