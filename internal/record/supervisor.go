package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/metrics"
)

var (
	ErrEmptyAddress     = errors.New("recording address is empty")
	ErrEmptyDestination = errors.New("recording destination is empty")
)

// Supervisor runs recording tasks in the background, one goroutine per task,
// and reports each task's terminal Outcome exactly once.
type Supervisor struct {
	recorder Recorder

	mutex sync.Mutex
	tasks map[Handle]*task
	wg    sync.WaitGroup

	now func() time.Time
}

type task struct {
	ctx         context.Context
	cancel      context.CancelFunc
	address     string
	destination string
	startedAt   time.Time
}

// NewSupervisor creates a supervisor driving the given recording capability
func NewSupervisor(recorder Recorder) *Supervisor {
	return &Supervisor{
		recorder: recorder,
		tasks:    make(map[Handle]*task),
		now:      time.Now,
	}
}

// Begin submits a recording of address into destination and returns immediately.
// notify receives the task's Outcome from the worker goroutine.
func (s *Supervisor) Begin(address, destination string, notify func(Outcome)) (Handle, error) {
	if config.IsBlank(address) {
		return "", ErrEmptyAddress
	}
	if config.IsBlank(destination) {
		return "", ErrEmptyDestination
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		ctx:         ctx,
		cancel:      cancel,
		address:     address,
		destination: destination,
		startedAt:   s.now(),
	}
	handle := Handle(uuid.NewString())

	s.mutex.Lock()
	s.tasks[handle] = t
	s.wg.Add(1)
	s.mutex.Unlock()

	metrics.IncRecordingStarted()
	slog.Info("Recording task submitted", "handle", handle, "address", address, "destination", destination)

	go s.run(handle, t, notify)

	return handle, nil
}

// Cancel requests termination of the task. Unknown or finished handles are ignored.
func (s *Supervisor) Cancel(handle Handle) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tasks[handle]
	if !ok {
		slog.Debug("Cancel for inactive recording task ignored", "handle", handle)
		return
	}

	if t.ctx.Err() == nil {
		slog.Info("Cancelling recording task", "handle", handle)
	}
	t.cancel()
}

// Active returns the number of tasks whose outcome has not been decided yet
func (s *Supervisor) Active() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.tasks)
}

// Wait blocks until every submitted task has delivered its outcome or ctx is done
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for recording tasks: %w", ctx.Err())
	}
}

func (s *Supervisor) run(handle Handle, t *task, notify func(Outcome)) {
	defer s.wg.Done()

	err := s.record(t)

	// The outcome kind is fixed while the task leaves the active set, so a Cancel
	// that still found the task always results in OutcomeCancelled.
	s.mutex.Lock()
	delete(s.tasks, handle)
	cancelled := t.ctx.Err() != nil
	s.mutex.Unlock()
	t.cancel()

	outcome := Outcome{
		Handle:      handle,
		Address:     t.address,
		Destination: t.destination,
		StartedAt:   t.startedAt,
		Duration:    s.now().Sub(t.startedAt),
	}
	switch {
	case cancelled:
		outcome.Kind = OutcomeCancelled
	case err != nil:
		outcome.Kind = OutcomeFailed
		outcome.Err = err
	default:
		outcome.Kind = OutcomeSucceeded
	}

	metrics.IncRecordingFinished(outcome.Kind.String())
	if outcome.Kind == OutcomeFailed {
		slog.Error("Recording task failed", "handle", handle, "destination", t.destination, "error", err)
	} else {
		slog.Info("Recording task finished", "handle", handle, "outcome", outcome.Kind, "destination", t.destination, "duration", outcome.Duration.Round(time.Millisecond))
	}

	if notify != nil {
		notify(outcome)
	}
}

func (s *Supervisor) record(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recorder panicked: %v", r)
		}
	}()
	return s.recorder.Record(t.ctx, t.address, t.destination)
}
