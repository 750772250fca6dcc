package record

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

const stderrTailLines = 20

// FFmpegRecorder records a stream by remuxing it into a file with an ffmpeg subprocess
type FFmpegRecorder struct {
	cfg       *config.Config
	logWriter io.Writer
}

// NewFFmpegRecorder creates a new ffmpeg-based recorder
func NewFFmpegRecorder(cfg *config.Config, logWriter io.Writer) *FFmpegRecorder {
	if logWriter == nil {
		logWriter = io.Discard
	}

	return &FFmpegRecorder{
		cfg:       cfg,
		logWriter: logWriter,
	}
}

// Check verifies that the configured ffmpeg binary can be found
func (r *FFmpegRecorder) Check() error {
	if _, err := exec.LookPath(r.cfg.Recorder.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", r.cfg.Recorder.FFmpegPath, err)
	}
	return nil
}

// Record runs ffmpeg until the stream ends or ctx is cancelled. On cancellation ffmpeg
// gets SIGINT so it can finalize the container, and is killed after stop_timeout.
func (r *FFmpegRecorder) Record(ctx context.Context, address, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := r.buildArgs(address, destination)
	slog.Debug("Starting FFmpeg recording", "command", r.cfg.Recorder.FFmpegPath+" "+strings.Join(redactArgs(args), " "))

	cmd := exec.Command(r.cfg.Recorder.FFmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	tail := newLineTail(stderrTailLines)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		r.readOutput(stderr, tail)
	}()

	done := make(chan error, 1)
	go func() {
		// Wait must not run before the stderr reader has drained the pipe
		<-readDone
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("FFmpeg process failed: %w%s", err, tail.suffix())
		}
		return validateOutputFile(destination)

	case <-ctx.Done():
		r.stopFFmpeg(cmd, done)
		return ctx.Err()
	}
}

// buildArgs constructs the ffmpeg command line for copying address into destination
func (r *FFmpegRecorder) buildArgs(address, destination string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "warning",
	}

	if isRTSP(address) && r.cfg.Recorder.RTSPTransport != "" {
		args = append(args, "-rtsp_transport", r.cfg.Recorder.RTSPTransport)
	}

	args = append(args,
		"-i", address,
		"-c", "copy",
	)

	switch strings.ToLower(filepath.Ext(destination)) {
	case ".mp4", ".mov":
		// Fragmented output: no index has to be written when ffmpeg exits
		args = append(args, "-movflags", "+frag_keyframe+empty_moov")
	}

	args = append(args, r.cfg.Recorder.ExtraArgs...)

	args = append(args,
		"-y", // Overwrite output
		destination,
	)

	return args
}

// stopFFmpeg interrupts ffmpeg and waits for it, killing it after the stop timeout
func (r *FFmpegRecorder) stopFFmpeg(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process != nil {
		slog.Debug("Sending SIGINT to FFmpeg process", "pid", cmd.Process.Pid)
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
			cmd.Process.Kill()
		}
	}

	select {
	case err := <-done:
		if err != nil && !isInterruptExit(err) {
			slog.Debug("FFmpeg exited with error after interrupt", "error", err)
			return
		}
		slog.Debug("FFmpeg exited after interrupt")

	case <-time.After(r.cfg.Recorder.StopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing", "timeout", r.cfg.Recorder.StopTimeout)
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-done
	}
}

// readOutput copies ffmpeg's diagnostic output to the log writer and keeps its tail
func (r *FFmpegRecorder) readOutput(pipe io.Reader, tail *lineTail) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		fmt.Fprintln(r.logWriter, line)
		slog.Debug("FFmpeg output", "line", line)
	}
}

// validateOutputFile checks that a naturally finished recording produced a file
func validateOutputFile(destination string) error {
	info, err := os.Stat(destination)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", destination)
	}
	if info.Size() == 0 {
		return fmt.Errorf("recording failed: %s is empty", destination)
	}

	slog.Debug("Recording output file validated", "destination", destination, "size", info.Size())
	return nil
}

// isInterruptExit reports whether ffmpeg's exit status is the normal result of SIGINT
func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// Exit code 255 means ffmpeg handled the interrupt gracefully
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}

func isRTSP(address string) bool {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "rtsp" || scheme == "rtsps"
}

// redactArgs hides credentials embedded in stream URLs before logging
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = arg
		if u, err := url.Parse(arg); err == nil && u.User != nil {
			out[i] = u.Redacted()
		}
	}
	return out
}

// lineTail keeps the last n lines written to it
type lineTail struct {
	mutex sync.Mutex
	lines []string
	size  int
}

func newLineTail(size int) *lineTail {
	return &lineTail{size: size}
}

func (t *lineTail) add(line string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lines = append(t.lines, line)
	if len(t.lines) > t.size {
		t.lines = t.lines[len(t.lines)-t.size:]
	}
}

func (t *lineTail) String() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return strings.Join(t.lines, "\n")
}

func (t *lineTail) suffix() string {
	if s := t.String(); s != "" {
		return " (output: " + s + ")"
	}
	return ""
}
