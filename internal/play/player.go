package play

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

const (
	playerStopTimeout = 3 * time.Second
	playerTailLines   = 10
)

// Players in order of preference
var knownPlayers = []string{"ffplay", "mpv", "vlc"}

// Lines that show the player has opened the stream
var readyMarkers = map[string][]string{
	"ffplay": {"Input #"},
	"mpv":    {"Playing:", "(+) Video", "(+) Audio"},
	"vlc":    {"successfully opened", "playback started"},
}

// ProcessSink plays streams in an external player process (ffplay, mpv or vlc)
type ProcessSink struct {
	cfg      *config.Config
	lookPath func(string) (string, error)

	mutex   sync.Mutex
	current *playerProcess
	closed  bool
	wg      sync.WaitGroup
}

type playerProcess struct {
	cmd     *exec.Cmd
	name    string
	exited  chan struct{}
	mutex   sync.Mutex
	stopped bool
}

// NewProcessSink creates a sink that starts the configured player for each Load
func NewProcessSink(cfg *config.Config) *ProcessSink {
	return &ProcessSink{
		cfg:      cfg,
		lookPath: exec.LookPath,
	}
}

// Load starts a player for address. It returns once the process has started;
// buffering and readiness are reported through events.
func (s *ProcessSink) Load(address string, events func(Event)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.stopLocked()

	path, name, err := s.findPlayer()
	if err != nil {
		return err
	}

	args := s.playerArgs(name, address)
	slog.Debug("Starting player", "player", path, "args", strings.Join(args, " "))

	cmd := exec.Command(path, args...)
	output, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create player output pipe: %w", err)
	}
	// Same *os.File for both streams, so stdout shares the stderr pipe
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &playerProcess{
		cmd:    cmd,
		name:   name,
		exited: make(chan struct{}),
	}
	s.current = p

	// At most Buffering, Ready and one terminal event per process
	queue := make(chan Event, 4)
	queue <- Event{State: StateBuffering}

	s.wg.Add(2)
	go s.watch(p, output, queue)
	go func() {
		defer s.wg.Done()
		for ev := range queue {
			if events != nil {
				events(ev)
			}
		}
	}()

	slog.Info("Player started", "player", name, "pid", cmd.Process.Pid)
	return nil
}

// Stop terminates the running player, if any
func (s *ProcessSink) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopLocked()
	return nil
}

// Close stops playback and waits for the sink's goroutines. Later Loads fail.
func (s *ProcessSink) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	s.mutex.Unlock()

	s.wg.Wait()
	return nil
}

func (s *ProcessSink) stopLocked() {
	p := s.current
	if p == nil {
		return
	}
	s.current = nil

	p.mutex.Lock()
	p.stopped = true
	p.mutex.Unlock()

	select {
	case <-p.exited:
		return
	default:
	}

	slog.Debug("Stopping player", "player", p.name, "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Kill(); err != nil {
		slog.Debug("Failed to kill player", "player", p.name, "error", err)
	}

	select {
	case <-p.exited:
	case <-time.After(playerStopTimeout):
		slog.Warn("Player did not exit after kill", "player", p.name, "timeout", playerStopTimeout)
	}
}

// watch follows the player's output until it exits and queues the resulting events
func (s *ProcessSink) watch(p *playerProcess, output io.Reader, queue chan<- Event) {
	defer s.wg.Done()
	defer close(queue)

	markers := readyMarkers[p.name]
	if markers == nil {
		markers = allReadyMarkers()
	}

	var tail []string
	ready := false
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		line := scanner.Text()
		slog.Debug("Player output", "player", p.name, "line", line)

		tail = append(tail, line)
		if len(tail) > playerTailLines {
			tail = tail[1:]
		}

		if !ready && containsAny(line, markers) {
			ready = true
			queue <- Event{State: StateReady, Playing: true}
		}
	}

	// Wait must not run before the output has been drained
	err := p.cmd.Wait()
	close(p.exited)

	p.mutex.Lock()
	stopped := p.stopped
	p.mutex.Unlock()

	switch {
	case stopped || err == nil:
		slog.Debug("Player exited", "player", p.name, "stopped", stopped)
		queue <- Event{State: StateEnded}
	default:
		detail := err.Error()
		if len(tail) > 0 {
			detail += ": " + strings.Join(tail, "; ")
		}
		queue <- Event{State: StateError, Err: fmt.Errorf("%s failed: %s", p.name, detail)}
	}
}

// findPlayer resolves the configured player, or the first installed one for "auto"
func (s *ProcessSink) findPlayer() (path, name string, err error) {
	command := strings.TrimSpace(s.cfg.Player.Command)
	if command == "" || strings.EqualFold(command, "auto") {
		for _, player := range knownPlayers {
			if path, err := s.lookPath(player); err == nil {
				return path, player, nil
			}
		}
		return "", "", fmt.Errorf("%w (tried: %s)", ErrNoPlayer, strings.Join(knownPlayers, ", "))
	}

	path, err = s.lookPath(command)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrNoPlayer, command, err)
	}
	return path, strings.ToLower(strings.TrimSuffix(filepath.Base(command), filepath.Ext(command))), nil
}

func (s *ProcessSink) playerArgs(name, address string) []string {
	lowLatency := s.cfg.Player.LowLatency

	var args []string
	switch name {
	case "ffplay":
		args = []string{"-hide_banner", "-autoexit", "-window_title", "StreamCapture"}
		if strings.HasPrefix(strings.ToLower(address), "rtsp") && s.cfg.Recorder.RTSPTransport != "" {
			args = append(args, "-rtsp_transport", s.cfg.Recorder.RTSPTransport)
		}
		if lowLatency {
			args = append(args, "-fflags", "nobuffer", "-flags", "low_delay", "-framedrop")
		}
	case "mpv":
		args = []string{"--force-window=immediate", "--title=StreamCapture"}
		if lowLatency {
			args = append(args, "--profile=low-latency", "--untimed")
		}
	case "vlc":
		args = []string{"--play-and-exit", "--verbose=1"}
		if lowLatency {
			args = append(args, "--network-caching=300")
		}
	}

	return append(args, address)
}

func allReadyMarkers() []string {
	var all []string
	for _, player := range knownPlayers {
		all = append(all, readyMarkers[player]...)
	}
	return all
}

func containsAny(line string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// AvailablePlayers returns the known players found on PATH, in order of preference
func (s *ProcessSink) AvailablePlayers() []string {
	var found []string
	for _, player := range knownPlayers {
		if _, err := s.lookPath(player); err == nil {
			found = append(found, player)
		}
	}
	return found
}
