package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/audiolibrelab/streamcapture/internal/record"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

var (
	ErrInvalidRecordingName = errors.New("invalid recording name")
	ErrRecordingNotFound    = errors.New("recording not found")
)

// Service is the StreamCapture application interface used by the CLI and the web server
type Service interface {
	// Session operations
	SetAddress(address string) error
	ToggleRecording() (session.RecordingState, error)
	Status() Status

	// Recordings
	ListRecordings() ([]RecordingInfo, error)
	RecordingPath(name string) (string, error)
	AnalyzeRecording(name string) (*RecordingAnalysis, error)

	// Configuration and diagnostics
	GetConfig() *config.Config
	GetLastError() string

	// Close disposes the session and waits for recording tasks to finish
	Close(ctx context.Context) error
}

// Status is the session snapshot plus service level information
type Status struct {
	session.Snapshot
	Profile             string `json:"profile"`
	RecordingsDirectory string `json:"recordings_directory"`
	ActiveTasks         int    `json:"active_tasks"`
	LastError           string `json:"last_error,omitempty"`
}

// RecordingInfo describes a recording file
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
	InProgress   bool      `json:"in_progress"`
	DownloadURL  string    `json:"download_url"`
	InfoURL      string    `json:"info_url"`
}

// RecordingAnalysis contains stream information extracted from a recording
type RecordingAnalysis struct {
	Filename    string       `json:"filename"`
	Duration    float64      `json:"duration_seconds"`
	FormatName  string       `json:"format_name"`
	StreamCount int          `json:"stream_count"`
	Streams     []StreamInfo `json:"streams"`
}

// StreamInfo describes one elementary stream inside a recording
type StreamInfo struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

// StreamCaptureService is the main service implementation
type StreamCaptureService struct {
	cfg          *config.Config
	controller   *session.Controller
	supervisor   *record.Supervisor
	destinations *record.Destinations

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service recording with ffmpeg and playing with an external player
func New(cfg *config.Config, logWriter io.Writer) *StreamCaptureService {
	if logWriter == nil {
		logWriter = io.Discard
	}
	return NewWithCapabilities(cfg, record.NewRecorder(cfg, logWriter), play.NewProcessSink(cfg))
}

// NewWithCapabilities creates a service around the given recording and playback capabilities
func NewWithCapabilities(cfg *config.Config, recorder record.Recorder, sink play.Sink) *StreamCaptureService {
	supervisor := record.NewSupervisor(recorder)
	destinations := record.NewDestinations(cfg)

	return &StreamCaptureService{
		cfg:          cfg,
		controller:   session.New(play.NewBinding(sink), supervisor, destinations),
		supervisor:   supervisor,
		destinations: destinations,
	}
}

// SetAddress changes the stream address and starts playing it
func (s *StreamCaptureService) SetAddress(address string) error {
	slog.Debug("Service.SetAddress called", "address", address)
	if err := s.controller.SetAddress(address); err != nil {
		s.setLastError(fmt.Sprintf("Failed to play stream: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// ToggleRecording starts or stops recording the current stream
func (s *StreamCaptureService) ToggleRecording() (session.RecordingState, error) {
	state, err := s.controller.ToggleRecording()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to toggle recording: %v", err))
		return state, err
	}
	s.clearLastError()
	return state, nil
}

// Status returns the current session state
func (s *StreamCaptureService) Status() Status {
	return Status{
		Snapshot:            s.controller.Snapshot(),
		Profile:             s.cfg.Profile,
		RecordingsDirectory: s.destinations.Dir(),
		ActiveTasks:         s.supervisor.Active(),
		LastError:           s.GetLastError(),
	}
}

// GetConfig returns the current configuration
func (s *StreamCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// Close disposes the session, cancelling any recording, and waits for tasks to exit
func (s *StreamCaptureService) Close(ctx context.Context) error {
	disposeErr := s.controller.Dispose()
	if err := s.supervisor.Wait(ctx); err != nil {
		return err
	}
	return disposeErr
}

// ===== RECORDINGS =====

// ListRecordings returns the recordings in the recordings directory, newest first
func (s *StreamCaptureService) ListRecordings() ([]RecordingInfo, error) {
	recordingDir := s.destinations.Dir()

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RecordingInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	current := s.controller.Snapshot().Destination
	prefix := s.cfg.Recordings.Prefix + "_"

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), prefix) {
			continue
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Name())), ".")
		if !isRecordingExtension(ext) {
			continue
		}

		filePath := filepath.Join(recordingDir, file.Name())
		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info for recording", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filePath,
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    ext,
			InProgress:   filePath == current,
			DownloadURL:  fmt.Sprintf("/api/recordings/%s", file.Name()),
			InfoURL:      fmt.Sprintf("/api/recordings/%s/info", file.Name()),
		})
	}

	// Sort by modification time (newest first)
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// RecordingPath resolves a recording file name inside the recordings directory
func (s *StreamCaptureService) RecordingPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecordingName, name)
	}
	if !isRecordingExtension(strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")) {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidRecordingName, name)
	}

	path := filepath.Join(s.destinations.Dir(), name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
	}
	return path, nil
}

// AnalyzeRecording extracts stream information from a recording using ffprobe
func (s *StreamCaptureService) AnalyzeRecording(name string) (*RecordingAnalysis, error) {
	path, err := s.RecordingPath(name)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(ffprobePath(s.cfg.Recorder.FFmpegPath),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", name, err)
	}

	analysis, err := parseProbeOutput(name, output)
	if err != nil {
		return nil, err
	}

	slog.Debug("Recording analysis completed", "filename", name, "streams", analysis.StreamCount)
	return analysis, nil
}

func parseProbeOutput(name string, output []byte) (*RecordingAnalysis, error) {
	var probeResult struct {
		Streams []struct {
			Index     int    `json:"index"`
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			Channels  int    `json:"channels"`
		} `json:"streams"`
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", name, err)
	}

	analysis := &RecordingAnalysis{
		Filename:   name,
		FormatName: probeResult.Format.FormatName,
		Streams:    []StreamInfo{},
	}
	if d, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil {
		analysis.Duration = d
	}

	for _, stream := range probeResult.Streams {
		analysis.Streams = append(analysis.Streams, StreamInfo{
			Index:     stream.Index,
			CodecType: stream.CodecType,
			CodecName: stream.CodecName,
			Width:     stream.Width,
			Height:    stream.Height,
			Channels:  stream.Channels,
		})
	}
	analysis.StreamCount = len(analysis.Streams)

	return analysis, nil
}

// ffprobePath guesses ffprobe's location from the configured ffmpeg binary
func ffprobePath(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	if strings.HasPrefix(base, "ffmpeg") {
		return dir + "ffprobe" + strings.TrimPrefix(base, "ffmpeg")
	}
	return "ffprobe"
}

func isRecordingExtension(ext string) bool {
	switch ext {
	case "mp4", "mkv", "ts", "mov":
		return true
	}
	return false
}

// ===== ERROR TRACKING =====

// GetLastError returns the last error message (thread-safe)
func (s *StreamCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *StreamCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *StreamCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
