package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [stream-address]",
	Short: "Play a stream without recording",
	Long: `Play a live stream with the configured player (ffplay, mpv or vlc) until
Ctrl+C or until the player exits.

Without an argument, the stream address from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := streamAddress(args)
		if address == "" {
			return errors.New("no stream address given and none configured")
		}

		svc := newService(false)
		if err := svc.SetAddress(address); err != nil {
			closeService(svc)
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Printf("Playing %s - Press Ctrl+C to stop\n", address)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(recordPollInterval)
		defer ticker.Stop()

		var playErr error
	wait:
		for {
			select {
			case <-ctx.Done():
				break wait
			case <-ticker.C:
				status := svc.Status()
				switch status.PlaybackState {
				case play.StateEnded.String():
					break wait
				case play.StateError.String():
					playErr = fmt.Errorf("playback failed: %s", status.LastPlaybackError)
					break wait
				}
			}
		}

		if err := closeService(svc); err != nil {
			return err
		}
		return playErr
	},
}
