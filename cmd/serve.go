package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/streamcapture/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the StreamCapture web server to control playback and recording via a web interface.
This allows you to start and stop recordings from your smartphone or any device on the same network,
and to download finished recordings.

The server will display the local network URL for easy access from mobile devices.
With --headless, streams are recorded without opening a player window on this machine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
		}
		headless, _ := cmd.Flags().GetBool("headless")

		svc := newService(headless)
		if address := cfg.Stream.Address; address != "" {
			if err := svc.SetAddress(address); err != nil {
				slog.Warn("Configured stream address could not be played", "address", address, "error", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("StreamCapture web server starting", "listen", cfg.Server.Listen, "profile", cfg.Profile, "headless", headless)
		runErr := server.New(svc, cfg).Run(ctx)

		if err := closeService(svc); err != nil {
			slog.Error("Failed to close session", "error", err)
		}
		if runErr != nil {
			return fmt.Errorf("server failed: %w", runErr)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address for the web server (overrides config, e.g. :8080)")
	serveCmd.Flags().Bool("headless", false, "record without playing streams locally")
}
