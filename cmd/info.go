package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/audiolibrelab/streamcapture/internal/record"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and available tools",
	Long:  `Display the resolved configuration with inheritance indicators, where the next recording will be written, and which recording backends and players are available. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inheritance := cfg.Inheritance
		if inheritance == nil {
			inheritance = &config.InheritanceInfo{}
		}

		// Display file paths
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("config: %s\n", cfgFile)
		fmt.Printf("recordings: %s\n", cfg.Recordings.Directory)
		fmt.Printf("next_recording: %s\n", filepath.Join(cfg.Recordings.Directory,
			fmt.Sprintf("%s_%d.%s", cfg.Recordings.Prefix, time.Now().UnixMilli(), cfg.Recordings.Extension)))

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION (profile: %s) ===\n", cfg.Profile)

		fmt.Printf("\n[Stream]\n")
		fmt.Printf("address: %s %s\n", orNone(cfg.Stream.Address), getInheritanceIndicator(inheritance.Stream.Address))

		fmt.Printf("\n[Recordings]\n")
		fmt.Printf("directory: %s %s\n", cfg.Recordings.Directory, getInheritanceIndicator(inheritance.Recordings.Directory))
		fmt.Printf("prefix: %s %s\n", cfg.Recordings.Prefix, getInheritanceIndicator(inheritance.Recordings.Prefix))
		fmt.Printf("extension: %s %s\n", cfg.Recordings.Extension, getInheritanceIndicator(inheritance.Recordings.Extension))

		fmt.Printf("\n[Recorder]\n")
		fmt.Printf("backend: %s %s\n", cfg.Recorder.Backend, getInheritanceIndicator(inheritance.Recorder.Backend))
		fmt.Printf("ffmpeg_path: %s %s\n", cfg.Recorder.FFmpegPath, getInheritanceIndicator(inheritance.Recorder.FFmpegPath))
		fmt.Printf("rtsp_transport: %s %s\n", cfg.Recorder.RTSPTransport, getInheritanceIndicator(inheritance.Recorder.RTSPTransport))
		fmt.Printf("stop_timeout: %s %s\n", cfg.Recorder.StopTimeout, getInheritanceIndicator(inheritance.Recorder.StopTimeout))
		if len(cfg.Recorder.ExtraArgs) > 0 {
			fmt.Printf("extra_args: %s\n", strings.Join(cfg.Recorder.ExtraArgs, " "))
		}

		fmt.Printf("\n[Player]\n")
		fmt.Printf("command: %s %s\n", cfg.Player.Command, getInheritanceIndicator(inheritance.Player.Command))
		fmt.Printf("low_latency: %t\n", cfg.Player.LowLatency)

		fmt.Printf("\n[Server]\n")
		fmt.Printf("listen: %s\n", cfg.Server.Listen)
		fmt.Printf("metrics: %t\n", cfg.Metrics.Enabled)

		// Display tool availability
		fmt.Printf("\n=== TOOLS ===\n")
		for _, backend := range record.GetAvailableBackends() {
			status := "available"
			if err := record.NewFFmpegRecorder(cfg, nil).Check(); err != nil {
				status = err.Error()
			}
			fmt.Printf("recorder %s: %s\n", backend, status)
		}
		players := play.NewProcessSink(cfg).AvailablePlayers()
		if len(players) == 0 {
			fmt.Printf("players: none found (install ffplay, mpv or vlc)\n")
		} else {
			fmt.Printf("players: %s\n", strings.Join(players, ", "))
		}

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "":
		return "[built-in]"
	default:
		return "[unknown]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
