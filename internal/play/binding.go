package play

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/metrics"
)

// Binding attaches a Sink to one stream address at a time. Every Bind and Release
// starts a new generation; events from older generations are dropped.
type Binding struct {
	mutex   sync.Mutex
	sink    Sink
	address string
	bound   bool
	closed  bool
	gen     uint64
}

// NewBinding creates a binding owning sink
func NewBinding(sink Sink) *Binding {
	return &Binding{sink: sink}
}

// Bind releases any existing binding and starts playing address.
// A malformed address or a sink that cannot start leaves playback stopped.
func (b *Binding) Bind(address string, events func(Event)) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return ErrBindingClosed
	}

	if err := b.releaseLocked(); err != nil {
		slog.Warn("Failed to stop previous playback", "address", b.address, "error", err)
	}

	if err := config.ValidateStreamAddress(address); err != nil {
		metrics.IncPlaybackError("bind")
		return fmt.Errorf("cannot play stream: %w", err)
	}

	b.gen++
	gen := b.gen
	wrapped := func(ev Event) {
		b.mutex.Lock()
		current := !b.closed && b.gen == gen
		b.mutex.Unlock()
		if !current {
			slog.Debug("Dropping event from superseded playback", "state", ev.State)
			return
		}

		logEvent(address, ev)
		if ev.State == StateError {
			metrics.IncPlaybackError("stream")
		}
		if events != nil {
			events(ev)
		}
	}

	if err := b.sink.Load(address, wrapped); err != nil {
		metrics.IncPlaybackError("bind")
		return fmt.Errorf("failed to start playback: %w", err)
	}

	b.bound = true
	b.address = address
	metrics.IncPlaybackBind()
	slog.Info("Playback bound", "address", address)
	return nil
}

// Release stops playback. Calling it while unbound is a no-op.
func (b *Binding) Release() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.releaseLocked()
}

// Close releases playback and the sink itself. Later calls are no-ops.
func (b *Binding) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	b.gen++
	b.bound = false
	b.address = ""
	b.mutex.Unlock()

	// Outside the lock: pending events of the sink must be able to observe closed
	slog.Debug("Closing playback sink")
	return b.sink.Close()
}


func (b *Binding) releaseLocked() error {
	if !b.bound {
		return nil
	}

	b.gen++
	b.bound = false
	slog.Info("Releasing playback", "address", b.address)
	b.address = ""
	return b.sink.Stop()
}

func logEvent(address string, ev Event) {
	switch ev.State {
	case StateError:
		slog.Warn("Playback error", "address", address, "error", ev.Err)
	default:
		slog.Debug("Playback state changed", "address", address, "state", ev.State, "playing", ev.Playing)
	}
}
