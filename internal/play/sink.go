package play

import (
	"errors"
	"fmt"
)

var (
	ErrNoPlayer      = errors.New("no stream player found")
	ErrSinkClosed    = errors.New("playback sink is closed")
	ErrBindingClosed = errors.New("playback binding is closed")
)

// State is the lifecycle state reported by a playback sink
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateReady
	StateEnded
	StateError
)

var stateNames = [...]string{"idle", "buffering", "ready", "ended", "error"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Event is a state change signalled by a sink. Err is only set for StateError.
type Event struct {
	State   State
	Playing bool
	Err     error
}

// Sink is the playback capability: a live player attached to zero or one address.
// Load must not block on network I/O; progress is reported through events,
// which may be called from any goroutine but never from inside Load, Stop or Close.
type Sink interface {
	Load(address string, events func(Event)) error
	Stop() error
	Close() error
}

// HeadlessSink accepts any stream without playing it, for sessions that only record
type HeadlessSink struct{}

func (HeadlessSink) Load(address string, events func(Event)) error {
	return nil
}

func (HeadlessSink) Stop() error {
	return nil
}

func (HeadlessSink) Close() error {
	return nil
}
