// Package session ties a stream address, live playback and at most one background
// recording together behind a single mutex.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/streamcapture/internal/metrics"
	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/audiolibrelab/streamcapture/internal/record"
)

var (
	ErrNoAddress = errors.New("no stream address set")
	ErrDisposed  = errors.New("session is disposed")
)

// RecordingState is Idle or Recording, with Disposed as the terminal sentinel
type RecordingState int

const (
	StateIdle RecordingState = iota
	StateRecording
	StateDisposed
)

func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PlaybackBinder attaches playback to one address at a time
type PlaybackBinder interface {
	Bind(address string, events func(play.Event)) error
	Close() error
}

// RecordingSupervisor runs recording tasks without blocking the caller
type RecordingSupervisor interface {
	Begin(address, destination string, notify func(record.Outcome)) (record.Handle, error)
	Cancel(handle record.Handle)
}

// DestinationSource hands out recording paths that never repeat within a process
type DestinationSource interface {
	Next() (string, error)
}

// Snapshot is the observable state of a session
type Snapshot struct {
	Address            string `json:"address"`
	State              string `json:"state"`
	Recording          bool   `json:"recording"`
	Destination        string `json:"destination,omitempty"`
	LastRecording      string `json:"last_recording,omitempty"`
	LastRecordingError string `json:"last_recording_error,omitempty"`
	PlaybackState      string `json:"playback_state"`
	Playing            bool   `json:"playing"`
	LastPlaybackError  string `json:"last_playback_error,omitempty"`
}

// Controller is the session state machine. Every state change, including outcomes
// delivered by the supervisor and events from playback, goes through mutex.
type Controller struct {
	playback     PlaybackBinder
	supervisor   RecordingSupervisor
	destinations DestinationSource

	mutex              sync.Mutex
	address            string
	state              RecordingState
	handle             record.Handle
	destination        string
	lastRecording      string
	lastRecordingError string

	playbackGen       uint64
	playbackState     play.State
	playing           bool
	lastPlaybackError string
}

// New creates an idle controller owning playback
func New(playback PlaybackBinder, supervisor RecordingSupervisor, destinations DestinationSource) *Controller {
	return &Controller{
		playback:     playback,
		supervisor:   supervisor,
		destinations: destinations,
		state:        StateIdle,
	}
}

// SetAddress stores address and starts playing it. A blank address only updates the
// stored value; playback and recording are left alone. Recording is never stopped here.
func (c *Controller) SetAddress(address string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateDisposed {
		return ErrDisposed
	}

	c.address = address

	if strings.TrimSpace(address) == "" {
		slog.Warn("Stream address is blank, skipping playback setup")
		return nil
	}

	c.playbackGen++
	gen := c.playbackGen
	c.playbackState = play.StateIdle
	c.playing = false
	c.lastPlaybackError = ""

	if err := c.playback.Bind(address, func(ev play.Event) { c.onPlaybackEvent(gen, ev) }); err != nil {
		c.lastPlaybackError = err.Error()
		c.playbackState = play.StateError
		slog.Error("Failed to start playback", "address", address, "error", err)
		return err
	}

	slog.Info("Stream address set", "address", address, "recording", c.state == StateRecording)
	return nil
}

// ToggleRecording starts a recording of the current address when idle, or stops the
// current one. A stop takes effect immediately; the task's own outcome arrives later
// and is ignored.
func (c *Controller) ToggleRecording() (RecordingState, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case StateDisposed:
		return StateDisposed, ErrDisposed

	case StateRecording:
		slog.Info("Stopping recording", "handle", c.handle, "destination", c.destination)
		c.supervisor.Cancel(c.handle)
		c.lastRecording = c.destination
		c.clearTaskLocked()
		return c.state, nil
	}

	if strings.TrimSpace(c.address) == "" {
		slog.Warn("Cannot start recording without a stream address")
		return c.state, ErrNoAddress
	}

	destination, err := c.destinations.Next()
	if err != nil {
		c.lastRecordingError = err.Error()
		slog.Error("Failed to prepare recording destination", "error", err)
		return c.state, fmt.Errorf("failed to prepare recording destination: %w", err)
	}

	// The outcome can only be applied after this call returns the lock
	handle, err := c.supervisor.Begin(c.address, destination, c.OnRecordingOutcome)
	if err != nil {
		c.lastRecordingError = err.Error()
		slog.Error("Failed to start recording", "address", c.address, "error", err)
		return c.state, fmt.Errorf("failed to start recording: %w", err)
	}

	c.state = StateRecording
	c.handle = handle
	c.destination = destination
	c.lastRecordingError = ""
	slog.Info("Recording started", "handle", handle, "address", c.address, "destination", destination)

	return c.state, nil
}

// OnRecordingOutcome applies the terminal outcome of the tracked task. Outcomes of
// tasks that were already stopped or replaced are ignored.
func (c *Controller) OnRecordingOutcome(outcome record.Outcome) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateDisposed || c.handle.IsZero() || outcome.Handle != c.handle {
		metrics.IncStaleOutcome()
		slog.Debug("Ignoring stale recording outcome", "handle", outcome.Handle, "outcome", outcome.Kind)
		return
	}

	c.lastRecording = c.destination
	if outcome.Kind == record.OutcomeFailed {
		c.lastRecordingError = outcome.Reason()
		slog.Warn("Recording stopped with an error", "destination", c.destination, "error", outcome.Err)
	} else {
		slog.Info("Recording stopped", "destination", c.destination, "outcome", outcome.Kind)
	}
	c.clearTaskLocked()
}

// Dispose cancels an active recording and releases playback. Later calls are no-ops.
func (c *Controller) Dispose() error {
	c.mutex.Lock()
	if c.state == StateDisposed {
		c.mutex.Unlock()
		return nil
	}

	if c.state == StateRecording {
		slog.Info("Cancelling recording on dispose", "handle", c.handle)
		c.supervisor.Cancel(c.handle)
		c.lastRecording = c.destination
	}
	c.handle = ""
	c.destination = ""
	c.state = StateDisposed
	c.playbackGen++
	c.playing = false
	c.mutex.Unlock()

	// Playback events may be waiting for the lock while the sink shuts down
	if err := c.playback.Close(); err != nil {
		slog.Warn("Failed to release playback", "error", err)
		return fmt.Errorf("failed to release playback: %w", err)
	}

	slog.Debug("Session disposed")
	return nil
}

// State returns the current recording state
func (c *Controller) State() RecordingState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Address returns the current stream address
func (c *Controller) Address() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// Snapshot returns a copy of the observable state
func (c *Controller) Snapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Snapshot{
		Address:            c.address,
		State:              c.state.String(),
		Recording:          c.state == StateRecording,
		Destination:        c.destination,
		LastRecording:      c.lastRecording,
		LastRecordingError: c.lastRecordingError,
		PlaybackState:      c.playbackState.String(),
		Playing:            c.playing,
		LastPlaybackError:  c.lastPlaybackError,
	}
}

func (c *Controller) onPlaybackEvent(gen uint64, ev play.Event) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateDisposed || gen != c.playbackGen {
		return
	}

	c.playbackState = ev.State
	c.playing = ev.Playing

	switch ev.State {
	case play.StateReady:
		c.lastPlaybackError = ""
	case play.StateError:
		if ev.Err != nil {
			c.lastPlaybackError = ev.Err.Error()
		}
	}
}

func (c *Controller) clearTaskLocked() {
	c.handle = ""
	c.destination = ""
	c.state = StateIdle
}
