package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/metrics"
	"warden/internal/notifications"
	"warden/internal/restart"
	"warden/internal/roster"
	"warden/internal/runstate"
	"warden/internal/supervisor"
)

// Process exit codes for the watchdog binary.
const (
	ExitClean         = 0
	ExitRuntimeError  = 1
	ExitStartupFailed = 2
	ExitDaemonFailed  = 3
)

// waveTick paces the startup-wave state polls.
const waveTick = 25 * time.Millisecond

// StartupError reports daemons that failed their initial startup while other
// daemons require them. It aborts the run.
type StartupError struct {
	Daemons []string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed for required daemon(s): %s", strings.Join(e.Daemons, ", "))
}

// Options configures a Watchdog beyond config and roster. Control is
// required; everything else has a production default.
type Options struct {
	// Control builds the liveness channel for a daemon descriptor.
	Control func(d roster.Daemon) supervisor.Control

	// Spawn defaults to supervisor.DefaultSpawn.
	Spawn supervisor.SpawnFunc

	// Timing and Policy override the config-derived values when non-nil.
	Timing *supervisor.Timing
	Policy *restart.Policy

	Store    *runstate.Store
	Metrics  *metrics.Set
	Notifier notifications.Service
	Logger   *slog.Logger

	RunID   string
	LogPath string
}

// Snapshot aggregates watchdog identity with per-daemon status, ordered by
// daemon start order.
type Snapshot struct {
	Running      bool
	RunID        string
	PID          int
	StartedAt    time.Time
	LogPath      string
	DatabasePath string
	LockPath     string
	Daemons      []supervisor.Snapshot
}

// Watchdog supervises the configured daemons for the lifetime of one run.
type Watchdog struct {
	cfg      *config.Config
	ros      *roster.Roster
	logger   *slog.Logger
	notifier notifications.Service
	metrics  *metrics.Set
	recorder *recorder
	status   *statusServer

	runID   string
	logPath string

	supervisors map[string]*supervisor.Supervisor

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a Watchdog with one supervisor per roster daemon.
func New(cfg *config.Config, ros *roster.Roster, opts Options) (*Watchdog, error) {
	if cfg == nil || ros == nil {
		return nil, errors.New("watchdog requires config and roster")
	}
	if opts.Control == nil {
		return nil, errors.New("watchdog requires a control channel constructor")
	}

	timing := supervisor.TimingFromConfig(cfg.Watchdog)
	if opts.Timing != nil {
		timing = *opts.Timing
	}
	policy := restart.FromConfig(cfg.Restart)
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	logger := logging.NewComponentLogger(opts.Logger, "watchdog")
	w := &Watchdog{
		cfg:         cfg,
		ros:         ros,
		logger:      logger,
		notifier:    notifier,
		metrics:     opts.Metrics,
		runID:       opts.RunID,
		logPath:     opts.LogPath,
		supervisors: make(map[string]*supervisor.Supervisor, ros.Len()),
		shutdownCh:  make(chan struct{}),
	}
	w.recorder = newRecorder(opts.Store, opts.Metrics, notifier, logger, opts.RunID)

	for _, name := range ros.StartOrder() {
		d, _ := ros.Daemon(name)
		sup, err := supervisor.New(d, supervisor.Options{
			Control:  opts.Control(d),
			Spawn:    opts.Spawn,
			Timing:   timing,
			Policy:   policy,
			Logger:   opts.Logger,
			Observer: w.recorder,
		})
		if err != nil {
			return nil, err
		}
		w.supervisors[name] = sup
	}

	server, err := newStatusServer(cfg, w, opts.Logger)
	if err != nil {
		return nil, err
	}
	w.status = server
	return w, nil
}

// RunID returns the identifier of this run.
func (w *Watchdog) RunID() string { return w.runID }

// LogPath returns the run-stamped log file path.
func (w *Watchdog) LogPath() string { return w.logPath }

// Start brings the daemons up wave by wave. A wave daemon that fails its
// first startup and has dependents aborts the run with a StartupError; a
// failing leaf daemon is left to its own restart policy. ctx bounds the
// startup phase only. The monitor loops are owned by the watchdog itself,
// so a later cancellation cannot collapse the reverse shutdown order.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watchdog already running")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.runCtx = runCtx
	w.cancel = cancel
	w.running = true
	w.startedAt = time.Now()
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.MarkStarted(float64(w.startedAt.Unix()))
	}
	if err := w.status.start(runCtx); err != nil {
		w.logger.Warn("status endpoint unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "status_server_failed"),
			logging.String(logging.FieldErrorHint, "check paths.status_bind for a free address"),
			logging.String(logging.FieldImpact, "supervision continues without HTTP status"))
	}

	w.logger.Info("watchdog starting",
		logging.String(logging.FieldRunID, w.runID),
		logging.Int("daemons", w.ros.Len()),
		logging.String(logging.FieldEventType, "watchdog_starting"))

	for _, wave := range w.ros.StartWaves() {
		for _, name := range wave {
			if err := w.supervisors[name].Start(runCtx); err != nil {
				w.abortStartup()
				return err
			}
		}

		failed, err := w.awaitWave(ctx, wave)
		if err != nil {
			w.abortStartup()
			return err
		}
		if fatal := w.requiredOf(failed); len(fatal) > 0 {
			w.logger.Error("required daemon failed to start; aborting run",
				logging.String("daemons", strings.Join(fatal, ",")),
				logging.String(logging.FieldEventType, "watchdog_startup_failed"),
				logging.String(logging.FieldErrorHint, "fix the daemon command or raise watchdog.startup_timeout"))
			w.abortStartup()
			return &StartupError{Daemons: fatal}
		}
	}

	w.logger.Info("watchdog started",
		logging.String(logging.FieldRunID, w.runID),
		logging.String(logging.FieldEventType, "watchdog_started"))
	w.notify(func(ctx context.Context) error {
		return w.notifier.NotifyWatchdogStarted(ctx, w.ros.Len())
	}, "start")
	return nil
}

// awaitWave blocks until every daemon in the wave either reaches Running or
// records a startup failure. The returned slice holds the daemons that did
// not come up on their first attempt.
func (w *Watchdog) awaitWave(ctx context.Context, wave []string) ([]string, error) {
	var failed []string
	for _, name := range wave {
		sup := w.supervisors[name]
		for {
			snap := sup.Status()
			if snap.State == supervisor.StateRunning {
				break
			}
			if snap.State == supervisor.StateFailedPermanently ||
				snap.State == supervisor.StateRestarting ||
				snap.FailureStreak > 0 {
				failed = append(failed, name)
				break
			}
			if snap.State == supervisor.StateStopped {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, errors.New("startup interrupted")
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waveTick):
			}
		}
	}
	return failed, nil
}

// requiredOf filters names down to those with dependents in the roster.
func (w *Watchdog) requiredOf(names []string) []string {
	var required []string
	for _, name := range names {
		if len(w.ros.Dependents(name)) > 0 {
			required = append(required, name)
		}
	}
	return required
}

// abortStartup tears down whatever Start managed to bring up.
func (w *Watchdog) abortStartup() {
	w.stopSupervisors()
	w.status.stop()

	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives a complete watchdog lifetime: startup, waiting for a shutdown
// trigger (ctx cancellation or Shutdown), teardown. The return value is the
// process exit code.
func (w *Watchdog) Run(ctx context.Context) int {
	if err := w.Start(ctx); err != nil {
		var startupErr *StartupError
		if errors.As(err, &startupErr) {
			return ExitStartupFailed
		}
		if errors.Is(err, context.Canceled) {
			w.logger.Info("startup interrupted by signal",
				logging.String(logging.FieldEventType, "watchdog_signal"))
			return ExitClean
		}
		w.logger.Error("watchdog start failed", logging.Error(err))
		return ExitRuntimeError
	}

	select {
	case <-ctx.Done():
		w.logger.Info("termination signal received",
			logging.String(logging.FieldEventType, "watchdog_signal"))
	case <-w.shutdownCh:
		w.logger.Info("shutdown requested",
			logging.String(logging.FieldEventType, "watchdog_shutdown_requested"))
	}

	failed := w.FailedDaemons()
	w.Stop()
	if len(failed) > 0 {
		return ExitDaemonFailed
	}
	return ExitClean
}

// Shutdown asks a running Run to exit. It is safe to call from any
// goroutine, including IPC handlers, and is idempotent.
func (w *Watchdog) Shutdown() {
	w.shutdownOnce.Do(func() { close(w.shutdownCh) })
}

// Stop shuts every daemon down in reverse dependency order, daemons within
// a wave in parallel. It blocks until all processes are reaped.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	clean := len(w.FailedDaemons()) == 0

	w.logger.Info("watchdog stopping",
		logging.String(logging.FieldEventType, "watchdog_stopping"))
	w.stopSupervisors()
	w.status.stop()
	if cancel != nil {
		cancel()
	}
	w.logger.Info("watchdog stopped",
		logging.String(logging.FieldRunID, w.runID),
		logging.String(logging.FieldEventType, "watchdog_stopped"))

	// Synchronous so the notification beats process exit.
	if err := w.notifier.NotifyWatchdogStopped(context.Background(), clean); err != nil {
		w.logger.Debug("stop notification failed", logging.Error(err))
	}
}

func (w *Watchdog) stopSupervisors() {
	waves := w.ros.StartWaves()
	for i := len(waves) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, name := range waves[i] {
			sup := w.supervisors[name]
			wg.Add(1)
			go func() {
				defer wg.Done()
				sup.Stop()
			}()
		}
		wg.Wait()
	}
}

// Status returns a point-in-time snapshot of the watchdog and every daemon.
func (w *Watchdog) Status() Snapshot {
	w.mu.Lock()
	running := w.running
	startedAt := w.startedAt
	w.mu.Unlock()

	snap := Snapshot{
		Running:      running,
		RunID:        w.runID,
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		LogPath:      w.logPath,
		DatabasePath: w.cfg.DatabasePath(),
		LockPath:     w.cfg.LockFilePath(),
		Daemons:      make([]supervisor.Snapshot, 0, w.ros.Len()),
	}
	for _, name := range w.ros.StartOrder() {
		snap.Daemons = append(snap.Daemons, w.supervisors[name].Status())
	}
	return snap
}

// FailedDaemons lists the daemons currently marked FailedPermanently, in
// start order.
func (w *Watchdog) FailedDaemons() []string {
	var failed []string
	for _, name := range w.ros.StartOrder() {
		if w.supervisors[name].State() == supervisor.StateFailedPermanently {
			failed = append(failed, name)
		}
	}
	return failed
}

// StartDaemon resumes supervision for one daemon. Starting a permanently
// failed daemon grants it a fresh retry budget.
func (w *Watchdog) StartDaemon(name string) (string, error) {
	sup, runCtx, err := w.lookup(name)
	if err != nil {
		return "", err
	}
	if sup.State().Active() {
		return fmt.Sprintf("daemon %s is already running", name), nil
	}
	if err := sup.Start(runCtx); err != nil {
		return "", err
	}
	if stopped := w.stoppedRequirements(name); len(stopped) > 0 {
		return fmt.Sprintf("daemon %s starting (warning: required daemons not running: %s)",
			name, strings.Join(stopped, ", ")), nil
	}
	return fmt.Sprintf("daemon %s starting", name), nil
}

// StopDaemon halts supervision for one daemon without touching its
// dependents. The caller is told when dependents are still running.
func (w *Watchdog) StopDaemon(name string) (string, error) {
	sup, _, err := w.lookup(name)
	if err != nil {
		return "", err
	}
	if sup.State() == supervisor.StateStopped {
		return fmt.Sprintf("daemon %s is already stopped", name), nil
	}
	sup.Stop()
	if active := w.activeDependents(name); len(active) > 0 {
		return fmt.Sprintf("daemon %s stopped (warning: dependents still running: %s)",
			name, strings.Join(active, ", ")), nil
	}
	return fmt.Sprintf("daemon %s stopped", name), nil
}

// RestartDaemon stops and then starts one daemon.
func (w *Watchdog) RestartDaemon(name string) (string, error) {
	sup, runCtx, err := w.lookup(name)
	if err != nil {
		return "", err
	}
	sup.Stop()
	if err := sup.Start(runCtx); err != nil {
		return "", err
	}
	return fmt.Sprintf("daemon %s restarting", name), nil
}

func (w *Watchdog) lookup(name string) (*supervisor.Supervisor, context.Context, error) {
	sup, ok := w.supervisors[name]
	if !ok {
		return nil, nil, fmt.Errorf("daemon %q is not part of this run", name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil, nil, errors.New("watchdog is not running")
	}
	return sup, w.runCtx, nil
}

func (w *Watchdog) stoppedRequirements(name string) []string {
	d, ok := w.ros.Daemon(name)
	if !ok {
		return nil
	}
	var stopped []string
	for _, req := range d.Requires {
		if sup, ok := w.supervisors[req]; ok && !sup.State().Active() {
			stopped = append(stopped, req)
		}
	}
	return stopped
}

func (w *Watchdog) activeDependents(name string) []string {
	var active []string
	for _, dep := range w.ros.Dependents(name) {
		if w.supervisors[dep].State().Active() {
			active = append(active, dep)
		}
	}
	return active
}

// notify runs fn on a background goroutine so notification latency never
// blocks supervision.
func (w *Watchdog) notify(fn func(ctx context.Context) error, label string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			w.logger.Debug("notification failed",
				logging.String("notification", label),
				logging.Error(err))
		}
	}()
}
