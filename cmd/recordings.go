package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/audiolibrelab/streamcapture/internal/service"
	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List recordings",
	Long:    `List the recordings in the configured recordings directory, newest first.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recordings, err := newService(true).ListRecordings()
		if err != nil {
			return err
		}
		fmt.Printf("Recordings in %s\n", cfg.Recordings.Directory)
		printRecordings(recordings)
		return nil
	},
}

var recordingsInfoCmd = &cobra.Command{
	Use:   "info [recording-name]",
	Short: "Show the streams inside a recording",
	Long:  `Analyze a recording with ffprobe and show its container, duration and elementary streams.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analysis, err := newService(true).AnalyzeRecording(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("file: %s\n", analysis.Filename)
		fmt.Printf("format: %s\n", analysis.FormatName)
		fmt.Printf("duration: %.1fs\n", analysis.Duration)
		fmt.Printf("streams: %d\n", analysis.StreamCount)
		for _, stream := range analysis.Streams {
			switch stream.CodecType {
			case "video":
				fmt.Printf("  #%d video %s %dx%d\n", stream.Index, stream.CodecName, stream.Width, stream.Height)
			case "audio":
				fmt.Printf("  #%d audio %s %d channels\n", stream.Index, stream.CodecName, stream.Channels)
			default:
				fmt.Printf("  #%d %s %s\n", stream.Index, stream.CodecType, stream.CodecName)
			}
		}
		return nil
	},
}

func printRecordings(recordings []service.RecordingInfo) {
	if len(recordings) == 0 {
		fmt.Println("No recordings yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\t")
	for _, rec := range recordings {
		name := rec.Name
		if rec.InProgress {
			name += " (recording)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", name, rec.SizeHuman, rec.ModTimeHuman)
	}
	w.Flush()
}

func init() {
	recordingsCmd.AddCommand(recordingsInfoCmd)
}
