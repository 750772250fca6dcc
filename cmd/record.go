package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const recordPollInterval = 500 * time.Millisecond

var recordCmd = &cobra.Command{
	Use:   "record [stream-address]",
	Short: "Record a stream without playing it",
	Long: `Record a live stream to the recordings directory until Ctrl+C, the optional
duration elapses, or the stream ends on its own. No player window is opened.

Without an argument, the stream address from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := streamAddress(args)
		if address == "" {
			return errors.New("no stream address given and none configured")
		}
		duration, _ := cmd.Flags().GetDuration("duration")

		slog.Info("Record command started", "address", address, "duration", duration)
		svc := newService(true)

		if err := svc.SetAddress(address); err != nil {
			closeService(svc)
			return fmt.Errorf("invalid stream: %w", err)
		}
		if _, err := svc.ToggleRecording(); err != nil {
			closeService(svc)
			return fmt.Errorf("failed to start recording: %w", err)
		}
		fmt.Printf("Recording %s to %s - Press Ctrl+C to stop\n", address, svc.Status().Destination)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		ticker := time.NewTicker(recordPollInterval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-ctx.Done():
				slog.Info("Stopping recording...")
				break wait
			case <-ticker.C:
				if !svc.Status().Recording {
					slog.Info("Recording ended on its own")
					break wait
				}
			}
		}

		if err := closeService(svc); err != nil {
			return err
		}

		status := svc.Status()
		if status.LastRecordingError != "" {
			return fmt.Errorf("recording failed: %s", status.LastRecordingError)
		}
		if status.LastRecording != "" {
			fmt.Printf("Saved %s\n", status.LastRecording)
		} else {
			fmt.Println("Recording finalized")
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop recording after this duration (0 = until interrupted)")
}
