package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/proc"
	"warden/internal/restart"
	"warden/internal/roster"
)

// Control is the liveness and exit channel to one daemon. Ping errors are
// only classified for reporting; any non-nil error counts as a missed ping.
type Control interface {
	Ping(ctx context.Context) error
	RequestExit(ctx context.Context) error
}

// Process is a spawned daemon process under supervision. *proc.Handle
// implements it.
type Process interface {
	PID() int
	StartedAt() time.Time
	Done() <-chan struct{}
	ExitState() (proc.ExitState, bool)
	Terminate(ctx context.Context, grace time.Duration) (proc.ExitState, error)
	Kill() error
}

// SpawnFunc launches the process for a daemon descriptor.
type SpawnFunc func(d roster.Daemon) (Process, error)

// DefaultSpawn launches the daemon with proc.Spawn and no output capture.
func DefaultSpawn(d roster.Daemon) (Process, error) {
	handle, err := proc.Spawn(proc.Spec{
		Name:    d.Name,
		Command: d.Command,
		Args:    d.Args,
		Env:     d.Env,
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Timing bundles the supervision intervals and thresholds.
type Timing struct {
	PollInterval   time.Duration
	PingTimeout    time.Duration
	PingFailures   int
	StartupTimeout time.Duration
	GracePeriod    time.Duration
}

// TimingFromConfig builds a Timing from validated watchdog settings.
func TimingFromConfig(wc config.Watchdog) Timing {
	return Timing{
		PollInterval:   wc.PollDuration(),
		PingTimeout:    wc.PingDuration(),
		PingFailures:   wc.PingFailures,
		StartupTimeout: wc.StartupDuration(),
		GracePeriod:    wc.GraceDuration(),
	}
}

// Options configures a Supervisor.
type Options struct {
	// Control is required; there is no supervision without a liveness
	// channel.
	Control Control

	// Spawn defaults to DefaultSpawn.
	Spawn SpawnFunc

	Timing Timing
	Policy restart.Policy

	Logger   *slog.Logger
	Observer Observer
}

// Supervisor owns the lifecycle of a single daemon.
type Supervisor struct {
	daemon    roster.Daemon
	control   Control
	spawn     SpawnFunc
	timing    Timing
	tracker   *restart.Tracker
	stability time.Duration
	logger    *slog.Logger
	observer  Observer

	mu         sync.Mutex
	state      State
	handle     Process
	pid        int
	startedAt  time.Time
	healthy    bool
	restarts   int
	pingMisses int
	lastErr    error
	cancel     context.CancelFunc
	loopDone   chan struct{}
}

// New builds a Supervisor for the daemon described by d.
func New(d roster.Daemon, opts Options) (*Supervisor, error) {
	if opts.Control == nil {
		return nil, fmt.Errorf("supervisor %s: control channel required", d.Name)
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = DefaultSpawn
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	timing := opts.Timing
	if timing.PingFailures < 1 {
		timing.PingFailures = 1
	}
	return &Supervisor{
		daemon:    d,
		control:   opts.Control,
		spawn:     spawn,
		timing:    timing,
		tracker:   restart.NewTracker(opts.Policy),
		stability: opts.Policy.StabilityWindow,
		logger:    logging.NewDaemonLogger(opts.Logger, d.Name),
		observer:  observer,
		state:     StateStopped,
	}, nil
}

// Name returns the supervised daemon's name.
func (s *Supervisor) Name() string { return s.daemon.Name }

// Daemon returns the descriptor the supervisor was built for.
func (s *Supervisor) Daemon() roster.Daemon { return s.daemon }

// Start spawns the daemon and begins supervision. It is a no-op while a
// monitor loop is already active. Starting a permanently failed daemon
// clears the verdict and the failure history, so an operator start always
// gets a fresh retry budget. ctx bounds the lifetime of the monitor loop,
// not of the call itself.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	s.state = StateStarting
	s.tracker.Reset()
	s.lastErr = nil
	s.healthy = false
	s.pingMisses = 0
	s.restarts = 0
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.loopDone = done
	s.mu.Unlock()

	s.notifyState(from, StateStarting)
	go s.run(loopCtx, done)
	return nil
}

// Stop halts supervision and terminates the daemon, escalating from a
// cooperative exit request through SIGTERM to SIGKILL. It blocks until the
// process has been reaped and is idempotent once the supervisor is stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	// The loop leaves the state at Stopped on shutdown; this finalizes the
	// FailedPermanently case, where no loop is running.
	s.setState(StateStopped)
}

// Status returns a point-in-time snapshot without blocking on the monitor
// loop.
func (s *Supervisor) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Daemon:        s.daemon.Name,
		State:         s.state,
		PID:           s.pid,
		StartedAt:     s.startedAt,
		Healthy:       s.healthy,
		Restarts:      s.restarts,
		FailureStreak: s.tracker.Attempt(),
		PingMisses:    s.pingMisses,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.notifyState(from, to)
}

func (s *Supervisor) notifyState(from, to State) {
	if from == to {
		return
	}
	s.logger.Debug("state changed",
		logging.String("from", string(from)),
		logging.String(logging.FieldState, string(to)))
	s.observer.StateChanged(s.daemon.Name, from, to)
}

func (s *Supervisor) attach(handle Process) {
	s.mu.Lock()
	s.handle = handle
	s.pid = handle.PID()
	s.startedAt = handle.StartedAt()
	s.healthy = false
	s.pingMisses = 0
	s.mu.Unlock()

	s.observer.ProcessStarted(s.daemon.Name, handle.PID())
	s.logger.Info("daemon spawned",
		logging.Int(logging.FieldPID, handle.PID()),
		logging.String("command", s.daemon.Command),
		logging.String(logging.FieldEventType, "daemon_spawned"))
}

func (s *Supervisor) detach() {
	s.mu.Lock()
	s.handle = nil
	s.pid = 0
	s.startedAt = time.Time{}
	s.healthy = false
	s.pingMisses = 0
	s.mu.Unlock()
}

func (s *Supervisor) bumpRestarts() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *Supervisor) markHealthy() {
	s.mu.Lock()
	s.healthy = true
	s.pingMisses = 0
	s.mu.Unlock()
}

func (s *Supervisor) notePingMiss(misses int, err error) {
	s.mu.Lock()
	s.healthy = false
	s.pingMisses = misses
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) noteError(err error) {
	s.mu.Lock()
	s.healthy = false
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) noteExit(exit proc.ExitState) {
	s.mu.Lock()
	s.healthy = false
	s.lastErr = exitError(exit)
	s.mu.Unlock()
}

// exitError renders an exit status as the error shown in status output.
func exitError(exit proc.ExitState) error {
	if exit.Signal != "" {
		return fmt.Errorf("killed by signal %s", exit.Signal)
	}
	return fmt.Errorf("exited with code %d", exit.Code)
}
