// Package supervisor owns the backend process group for the lifetime of the
// application and kills it when the shutdown notice arrives.
package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Paintersrp/sidecar/internal/metrics"
	"github.com/Paintersrp/sidecar/internal/process"
	"github.com/Paintersrp/sidecar/internal/shutdown"
	"github.com/Paintersrp/sidecar/internal/sidecar"
)

// ErrUnexpectedSignal reports a value other than shutdown.Terminate on the
// shutdown channel. The group is left running.
var ErrUnexpectedSignal = errors.New("unexpected shutdown signal")

// State is the supervisor's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Group is the handle the supervisor needs on a launched process group.
type Group interface {
	Pid() int
	Kill() error
}

// Launcher starts a resolved command as a new process group.
type Launcher interface {
	Launch(cmd sidecar.Command) (Group, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(cmd sidecar.Command) (Group, error)

// Launch calls f(cmd).
func (f LauncherFunc) Launch(cmd sidecar.Command) (Group, error) {
	return f(cmd)
}

// ProcessLauncher launches commands as OS process groups.
func ProcessLauncher(opts ...process.Option) Launcher {
	return LauncherFunc(func(cmd sidecar.Command) (Group, error) {
		group, err := process.Launch(cmd, opts...)
		if err != nil {
			return nil, err
		}
		return group, nil
	})
}

type options struct {
	logger zerolog.Logger
}

// Option customises a Supervisor.
type Option func(*options)

// WithLogger sets the supervisor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Supervisor waits for a single shutdown notice and kills the backend group.
type Supervisor struct {
	name   string
	pid    int
	logger zerolog.Logger

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches cmd synchronously and returns once the supervising goroutine
// is running. A launch failure is returned unchanged in meaning and should be
// treated as fatal by the caller. The supervisor takes ownership of rx.
func Start(l Launcher, cmd sidecar.Command, rx *shutdown.Receiver, opts ...Option) (*Supervisor, error) {
	if l == nil {
		return nil, errors.New("supervisor requires a launcher")
	}
	if rx == nil {
		return nil, errors.New("supervisor requires a shutdown receiver")
	}
	cfg := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := cmd.Name
	logger := cfg.logger.With().Str("backend", name).Logger()

	group, err := l.Launch(cmd)
	if err != nil {
		metrics.RecordLaunch(name, metrics.ResultError)
		return nil, fmt.Errorf("launch backend %s: %w", name, err)
	}
	metrics.RecordLaunch(name, metrics.ResultOK)

	s := &Supervisor{
		name:   name,
		pid:    group.Pid(),
		logger: logger,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateRunning))
	logger.Info().Int("pid", s.pid).Msg("backend launched")

	// The group handle is moved into the goroutine and never shared.
	go s.run(group, rx)
	return s, nil
}

func (s *Supervisor) run(group Group, rx *shutdown.Receiver) {
	defer close(s.done)
	defer rx.Close()

	sig, err := rx.Recv()
	switch {
	case err != nil:
		metrics.RecordSignal(metrics.OutcomeClosed)
		s.logger.Warn().Err(err).Int("pid", s.pid).Msg("shutdown channel closed without a notice; backend left running")
		s.setErr(err)
	case sig != shutdown.Terminate:
		metrics.RecordSignal(metrics.OutcomeUnexpected)
		err := fmt.Errorf("%w: %s", ErrUnexpectedSignal, sig)
		s.logger.Error().Err(err).Int("pid", s.pid).Msg("refusing to act on shutdown channel value")
		s.setErr(err)
	default:
		metrics.RecordSignal(metrics.OutcomeTerminate)
		s.terminate(group)
	}
}

func (s *Supervisor) terminate(group Group) {
	s.state.Store(int32(StateTerminated))
	metrics.SetBackendRunning(s.name, false)

	// The member walk shells out per process, so it only runs at debug level.
	if evt := s.logger.Debug(); evt.Enabled() {
		if g, ok := group.(interface{ Members() []int32 }); ok {
			evt = evt.Ints32("members", g.Members())
		}
		evt.Int("pgid", s.pid).Msg("backend process group members")
	}
	s.logger.Info().Int("pgid", s.pid).Msg("killing backend process group")

	err := group.Kill()
	switch {
	case err == nil:
		metrics.RecordKill(s.name, metrics.ResultOK)
	case errors.Is(err, process.ErrProcessGone):
		metrics.RecordKill(s.name, metrics.ResultGone)
		s.logger.Warn().Err(err).Msg("backend process group already gone")
	default:
		metrics.RecordKill(s.name, metrics.ResultError)
		s.logger.Error().Err(err).Msg("kill backend process group")
	}
	s.setErr(err)
}

func (s *Supervisor) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Done is closed when the supervising goroutine has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err reports why the goroutine exited: nil after a successful kill, the kill
// error, shutdown.ErrChannelClosed, or ErrUnexpectedSignal. It returns nil
// while the supervisor is still waiting.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State reports whether the backend has been terminated.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Pid returns the backend's process (and process-group) id.
func (s *Supervisor) Pid() int {
	return s.pid
}

// Name returns the backend's base name.
func (s *Supervisor) Name() string {
	return s.name
}
