package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/play"
	"github.com/audiolibrelab/streamcapture/internal/record"
)

type fakeBinding struct {
	mutex   sync.Mutex
	binds   []string
	events  []func(play.Event)
	closes  int
	bindErr error
}

func (f *fakeBinding) Bind(address string, events func(play.Event)) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.binds = append(f.binds, address)
	f.events = append(f.events, events)
	return f.bindErr
}

func (f *fakeBinding) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closes++
	return nil
}

func (f *fakeBinding) bindCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.binds)
}

func (f *fakeBinding) emit(i int, ev play.Event) {
	f.mutex.Lock()
	events := f.events[i]
	f.mutex.Unlock()
	events(ev)
}

type begun struct {
	handle      record.Handle
	address     string
	destination string
	notify      func(record.Outcome)
}

// fakeSupervisor hands out sequential handles and lets tests deliver outcomes
type fakeSupervisor struct {
	mutex    sync.Mutex
	begun    []begun
	cancels  []record.Handle
	beginErr error
}

func (f *fakeSupervisor) Begin(address, destination string, notify func(record.Outcome)) (record.Handle, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.beginErr != nil {
		return "", f.beginErr
	}
	handle := record.Handle(fmt.Sprintf("task-%d", len(f.begun)+1))
	f.begun = append(f.begun, begun{handle: handle, address: address, destination: destination, notify: notify})
	return handle, nil
}

func (f *fakeSupervisor) Cancel(handle record.Handle) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.cancels = append(f.cancels, handle)
}

func (f *fakeSupervisor) task(i int) begun {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.begun[i]
}

func (f *fakeSupervisor) beginCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.begun)
}

func (f *fakeSupervisor) cancelled() []record.Handle {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]record.Handle(nil), f.cancels...)
}

// deliver simulates the supervisor reporting the outcome of task i
func (f *fakeSupervisor) deliver(i int, kind record.OutcomeKind, err error) {
	t := f.task(i)
	t.notify(record.Outcome{Handle: t.handle, Kind: kind, Err: err, Address: t.address, Destination: t.destination})
}

type counterDestinations struct {
	mutex sync.Mutex
	n     int
	err   error
}

func (d *counterDestinations) Next() (string, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.n++
	return fmt.Sprintf("/rec/recorded_%d.mp4", d.n), nil
}

func newTestController() (*Controller, *fakeBinding, *fakeSupervisor, *counterDestinations) {
	binding := &fakeBinding{}
	supervisor := &fakeSupervisor{}
	destinations := &counterDestinations{}
	return New(binding, supervisor, destinations), binding, supervisor, destinations
}

func toggle(t *testing.T, c *Controller) RecordingState {
	t.Helper()
	state, err := c.ToggleRecording()
	require.NoError(t, err)
	return state
}

func TestSetAddressBindsPlayback(t *testing.T) {
	c, binding, _, _ := newTestController()

	require.NoError(t, c.SetAddress("rtsp://host/stream"))
	assert.Equal(t, []string{"rtsp://host/stream"}, binding.binds)
	assert.Equal(t, "rtsp://host/stream", c.Address())
	assert.Equal(t, StateIdle, c.State())
}

func TestSetAddressBlankDoesNotBind(t *testing.T) {
	c, binding, _, _ := newTestController()

	require.NoError(t, c.SetAddress("   "))
	assert.Equal(t, 0, binding.bindCount())
	assert.Equal(t, "   ", c.Address())
}

func TestToggleWithoutAddressNeverRecords(t *testing.T) {
	c, _, supervisor, _ := newTestController()

	for i := 0; i < 2; i++ {
		state, err := c.ToggleRecording()
		assert.ErrorIs(t, err, ErrNoAddress)
		assert.Equal(t, StateIdle, state)
	}

	require.NoError(t, c.SetAddress(""))
	_, err := c.ToggleRecording()
	assert.ErrorIs(t, err, ErrNoAddress)

	assert.Equal(t, 0, supervisor.beginCount())
	assert.Equal(t, StateIdle, c.State())
}

func TestToggleAlternatesStates(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	expected := StateRecording
	for i := 0; i < 6; i++ {
		assert.Equal(t, expected, toggle(t, c))
		if expected == StateRecording {
			expected = StateIdle
		} else {
			expected = StateRecording
		}
	}

	assert.Equal(t, 3, supervisor.beginCount())
	assert.Len(t, supervisor.cancelled(), 3)
	// Recording never touches playback
	assert.Equal(t, 1, binding.bindCount())
}

func TestStartRecordingUsesCurrentAddressAndFreshDestination(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	toggle(t, c)
	toggle(t, c)

	first, second := supervisor.task(0), supervisor.task(1)
	assert.Equal(t, "rtsp://host/stream", first.address)
	assert.NotEqual(t, first.destination, second.destination)

	snap := c.Snapshot()
	assert.True(t, snap.Recording)
	assert.Equal(t, second.destination, snap.Destination)
	assert.Equal(t, first.destination, snap.LastRecording)
}

func TestManualStopCancelsTrackedHandle(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	assert.Equal(t, StateIdle, toggle(t, c))
	assert.Equal(t, []record.Handle{supervisor.task(0).handle}, supervisor.cancelled())
}

func TestNaturalCompletionReturnsToIdleWithoutCancel(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	supervisor.deliver(0, record.OutcomeSucceeded, nil)

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, supervisor.cancelled())
	assert.Equal(t, supervisor.task(0).destination, c.Snapshot().LastRecording)
}

func TestFailedOutcomeReturnsToIdleWithReason(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	supervisor.deliver(0, record.OutcomeFailed, errors.New("connection refused"))

	snap := c.Snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Equal(t, "connection refused", snap.LastRecordingError)

	// A successful restart clears the previous failure
	toggle(t, c)
	assert.Empty(t, c.Snapshot().LastRecordingError)
}

func TestDuplicateOutcomeAppliedOnce(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	supervisor.deliver(0, record.OutcomeSucceeded, nil)
	require.Equal(t, StateIdle, c.State())

	// Start a second task, then replay the first task's outcome
	toggle(t, c)
	supervisor.deliver(0, record.OutcomeSucceeded, nil)
	supervisor.deliver(0, record.OutcomeFailed, errors.New("late"))

	assert.Equal(t, StateRecording, c.State())
	assert.Empty(t, c.Snapshot().LastRecordingError)
}

func TestLateOutcomeDoesNotAffectRestartedRecording(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	assert.Equal(t, StateRecording, toggle(t, c))
	assert.Equal(t, StateIdle, toggle(t, c))
	assert.Equal(t, StateRecording, toggle(t, c))

	// The superseded task confirms its cancellation only now
	supervisor.deliver(0, record.OutcomeCancelled, nil)
	assert.Equal(t, StateRecording, c.State())

	supervisor.deliver(1, record.OutcomeSucceeded, nil)
	assert.Equal(t, StateIdle, c.State())
}

func TestLateOutcomeAfterStopKeepsIdle(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	toggle(t, c)
	supervisor.deliver(0, record.OutcomeCancelled, nil)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, supervisor.beginCount())
}

func TestBlankAddressWhileRecordingKeepsRecording(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))
	toggle(t, c)

	require.NoError(t, c.SetAddress(""))

	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, 1, binding.bindCount())
	assert.Empty(t, supervisor.cancelled())
}

func TestAddressChangeWhileRecordingKeepsRecording(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/one"))
	toggle(t, c)

	require.NoError(t, c.SetAddress("rtsp://host/two"))

	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, []string{"rtsp://host/one", "rtsp://host/two"}, binding.binds)
	assert.Empty(t, supervisor.cancelled())
	assert.Equal(t, "rtsp://host/one", supervisor.task(0).address)
}

func TestDisposeCancelsRecordingAndReleasesPlayback(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))
	toggle(t, c)

	require.NoError(t, c.Dispose())

	assert.Equal(t, []record.Handle{supervisor.task(0).handle}, supervisor.cancelled())
	assert.Equal(t, 1, binding.closes)
	assert.Equal(t, StateDisposed, c.State())
}

func TestDisposeWithoutRecordingReleasesPlayback(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	require.NoError(t, c.Dispose())

	assert.Empty(t, supervisor.cancelled())
	assert.Equal(t, 1, binding.closes)
}

func TestDisposeIsIdempotentAndFinal(t *testing.T) {
	c, binding, supervisor, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/stream"))
	toggle(t, c)

	require.NoError(t, c.Dispose())
	require.NoError(t, c.Dispose())

	assert.Len(t, supervisor.cancelled(), 1)
	assert.Equal(t, 1, binding.closes)

	assert.ErrorIs(t, c.SetAddress("rtsp://host/other"), ErrDisposed)
	state, err := c.ToggleRecording()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Equal(t, StateDisposed, state)

	// The cancelled task reporting in must not revive the session
	supervisor.deliver(0, record.OutcomeCancelled, nil)
	assert.Equal(t, StateDisposed, c.State())
	assert.Equal(t, 1, binding.bindCount())
	assert.Equal(t, 1, supervisor.beginCount())
}

func TestBeginFailureStaysIdle(t *testing.T) {
	c, _, supervisor, _ := newTestController()
	supervisor.beginErr = record.ErrEmptyDestination
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	state, err := c.ToggleRecording()
	assert.ErrorIs(t, err, record.ErrEmptyDestination)
	assert.Equal(t, StateIdle, state)
	assert.NotEmpty(t, c.Snapshot().LastRecordingError)
}

func TestDestinationFailureStaysIdle(t *testing.T) {
	c, _, supervisor, destinations := newTestController()
	destinations.err = errors.New("read-only file system")
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	_, err := c.ToggleRecording()
	assert.ErrorContains(t, err, "read-only file system")
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, supervisor.beginCount())
}

func TestPlaybackErrorsSurfaceAsState(t *testing.T) {
	c, binding, _, _ := newTestController()
	require.NoError(t, c.SetAddress("rtsp://host/one"))

	binding.emit(0, play.Event{State: play.StateReady, Playing: true})
	snap := c.Snapshot()
	assert.Equal(t, "ready", snap.PlaybackState)
	assert.True(t, snap.Playing)

	binding.emit(0, play.Event{State: play.StateError, Err: errors.New("stream unreachable")})
	snap = c.Snapshot()
	assert.Equal(t, "stream unreachable", snap.LastPlaybackError)
	assert.False(t, snap.Playing)

	// Rebinding clears the error, and events of the old binding are ignored
	require.NoError(t, c.SetAddress("rtsp://host/two"))
	assert.Empty(t, c.Snapshot().LastPlaybackError)
	binding.emit(0, play.Event{State: play.StateError, Err: errors.New("old stream")})
	assert.Empty(t, c.Snapshot().LastPlaybackError)
}

func TestBindFailureIsReportedNotFatal(t *testing.T) {
	c, binding, _, _ := newTestController()
	binding.bindErr = config.ErrInvalidStreamAddress

	err := c.SetAddress("nonsense")
	assert.ErrorIs(t, err, config.ErrInvalidStreamAddress)

	snap := c.Snapshot()
	assert.Equal(t, "nonsense", snap.Address)
	assert.Equal(t, "error", snap.PlaybackState)
	assert.NotEmpty(t, snap.LastPlaybackError)
}

// The remaining tests wire the controller to the real supervisor and binding

func TestWithSupervisorNaturalCompletion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	finish := make(chan struct{})
	supervisor := record.NewSupervisor(record.RecorderFunc(func(ctx context.Context, address, destination string) error {
		select {
		case <-finish:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	c := New(&fakeBinding{}, supervisor, &counterDestinations{})
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	toggle(t, c)
	close(finish)

	require.Eventually(t, func() bool { return c.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	waitSupervisor(t, supervisor)
}

func TestWithSupervisorRapidRestart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	supervisor := record.NewSupervisor(record.RecorderFunc(func(ctx context.Context, address, destination string) error {
		<-ctx.Done()
		// Slow shutdown so the cancelled outcome lands after the restart
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	}))
	c := New(&fakeBinding{}, supervisor, &counterDestinations{})
	require.NoError(t, c.SetAddress("rtsp://host/stream"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, StateRecording, toggle(t, c))
		assert.Equal(t, StateIdle, toggle(t, c))
	}
	assert.Equal(t, StateRecording, toggle(t, c))

	// Every stopped task reports in; none of them may end the running recording
	require.Eventually(t, func() bool { return supervisor.Active() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRecording, c.State())

	require.NoError(t, c.Dispose())
	waitSupervisor(t, supervisor)
	assert.Equal(t, StateDisposed, c.State())
}

func TestWithRealBinding(t *testing.T) {
	c := New(play.NewBinding(&nopSink{}), record.NewSupervisor(record.RecorderFunc(
		func(ctx context.Context, address, destination string) error { return nil },
	)), record.NewDestinations(testConfig(t)))

	err := c.SetAddress("not a url")
	assert.ErrorIs(t, err, config.ErrInvalidStreamAddress)

	require.NoError(t, c.SetAddress("rtsp://host/stream"))
	require.NoError(t, c.Dispose())
}

type nopSink struct{}

func (nopSink) Load(string, func(play.Event)) error { return nil }
func (nopSink) Stop() error                         { return nil }
func (nopSink) Close() error                        { return nil }

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Recordings.Directory = filepath.Join(t.TempDir(), "recordings")
	return cfg
}

func waitSupervisor(t *testing.T, s *record.Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}
