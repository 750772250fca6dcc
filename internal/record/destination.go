package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

// Destinations hands out unique output paths named <prefix>_<unix-millis>.<ext>.
// Timestamps never repeat within a process: a clash bumps the value by one millisecond.
type Destinations struct {
	dir       string
	prefix    string
	extension string

	mutex sync.Mutex
	last  int64
	now   func() time.Time
}

// NewDestinations creates a generator writing into the configured recordings directory
func NewDestinations(cfg *config.Config) *Destinations {
	return &Destinations{
		dir:       cfg.Recordings.Directory,
		prefix:    cfg.Recordings.Prefix,
		extension: cfg.Recordings.Extension,
		now:       time.Now,
	}
}

// Dir returns the recordings directory
func (d *Destinations) Dir() string {
	return d.dir
}

// Next creates the recordings directory if needed and returns a fresh destination path
func (d *Destinations) Next() (string, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	stamp := d.now().UnixMilli()
	if stamp <= d.last {
		stamp = d.last + 1
	}

	for {
		path := filepath.Join(d.dir, fmt.Sprintf("%s_%d.%s", d.prefix, stamp, d.extension))
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			d.last = stamp
			slog.Debug("Generated recording destination", "path", path)
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check recording destination: %w", err)
		}
		// A file from an earlier run already uses this timestamp
		stamp++
	}
}
