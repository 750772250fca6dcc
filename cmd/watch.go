package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/streamcapture/internal/service"
	"github.com/audiolibrelab/streamcapture/internal/session"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [stream-address]",
	Short: "Play a stream and toggle recording from the keyboard",
	Long: `Play a live stream and control recording interactively.

Commands (type and press Enter):
  <address>  switch to another stream
  r          start or stop recording
  s          show session status
  l          list recordings
  q          quit (an active recording is stopped and finalized)

Without an argument, the stream address from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(false)

		if address := streamAddress(args); address != "" {
			if err := svc.SetAddress(address); err != nil {
				closeService(svc)
				return fmt.Errorf("failed to play stream: %w", err)
			}
			fmt.Printf("Playing %s\n", address)
		} else {
			fmt.Println("No stream address yet, type one to start playing.")
		}
		fmt.Println("Commands: <address> | r = record | s = status | l = list | q = quit")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

	loop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				break loop
			case line, ok := <-lines:
				if !ok {
					break loop
				}
				if quit := handleWatchCommand(svc, strings.TrimSpace(line)); quit {
					break loop
				}
			}
		}

		if svc.Status().Recording {
			fmt.Println("Stopping recording...")
		}
		return closeService(svc)
	},
}

// handleWatchCommand runs one interactive command and reports whether to quit
func handleWatchCommand(svc service.Service, line string) bool {
	switch strings.ToLower(line) {
	case "":
		return false
	case "q", "quit", "exit":
		return true
	case "r", "rec", "record":
		state, err := svc.ToggleRecording()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		if state == session.StateRecording {
			fmt.Printf("Recording to %s\n", svc.Status().Destination)
		} else {
			fmt.Println("Recording stopped")
		}
	case "s", "status":
		printStatus(svc.Status())
	case "l", "ls", "list":
		recordings, err := svc.ListRecordings()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		printRecordings(recordings)
	default:
		if err := svc.SetAddress(line); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		slog.Debug("Stream address changed", "address", line)
		fmt.Printf("Playing %s\n", line)
	}
	return false
}

func printStatus(status service.Status) {
	fmt.Printf("address:   %s\n", orNone(status.Address))
	fmt.Printf("playback:  %s\n", status.PlaybackState)
	if status.LastPlaybackError != "" {
		fmt.Printf("           last error: %s\n", status.LastPlaybackError)
	}
	fmt.Printf("recording: %s\n", status.State)
	if status.Recording {
		fmt.Printf("           to %s\n", status.Destination)
	}
	if status.LastRecording != "" {
		fmt.Printf("last:      %s\n", status.LastRecording)
	}
	if status.LastRecordingError != "" {
		fmt.Printf("           last error: %s\n", status.LastRecordingError)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
