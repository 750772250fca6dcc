package record

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

// BackendType represents the type of recording backend
type BackendType string

const (
	BackendTypeFFmpeg BackendType = "ffmpeg"
	BackendTypeAuto   BackendType = "auto"
)

// Recorder is the recording capability: it reads the stream at address and writes it
// to destination until the stream ends, an error occurs, or ctx is cancelled.
type Recorder interface {
	Record(ctx context.Context, address, destination string) error
}

// RecorderFunc adapts a function to the Recorder interface
type RecorderFunc func(ctx context.Context, address, destination string) error

func (f RecorderFunc) Record(ctx context.Context, address, destination string) error {
	return f(ctx, address, destination)
}

// NewRecorder creates a recorder using the backend selected by configuration
func NewRecorder(cfg *config.Config, logWriter io.Writer) Recorder {
	if backend := determineBackend(cfg); backend != BackendTypeFFmpeg {
		slog.Warn("Unknown recording backend, falling back to ffmpeg", "backend", backend)
	}
	return NewFFmpegRecorder(cfg, logWriter)
}

// determineBackend resolves "auto" and unset to the only available backend
func determineBackend(cfg *config.Config) BackendType {
	switch backend := strings.ToLower(cfg.Recorder.Backend); backend {
	case "", string(BackendTypeAuto):
		return BackendTypeFFmpeg
	default:
		return BackendType(backend)
	}
}

// GetAvailableBackends returns the recording backends built into this binary
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeFFmpeg}
}
