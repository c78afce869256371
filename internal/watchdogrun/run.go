// Package watchdogrun assembles the watchdog process: descriptor sanitation,
// logging, the single-instance lock, run-state persistence, the command
// socket, and the supervision loop itself.
package watchdogrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"warden/internal/config"
	"warden/internal/fdsan"
	"warden/internal/ipc"
	"warden/internal/logging"
	"warden/internal/metrics"
	"warden/internal/notifications"
	"warden/internal/preflight"
	"warden/internal/proc"
	"warden/internal/restart"
	"warden/internal/roster"
	"warden/internal/runstate"
	"warden/internal/supervisor"
	"warden/internal/watchdog"
)

// keepRuns bounds how many past runs the run-state database retains.
const keepRuns = 16

// dbTimeout bounds the bookkeeping writes that bracket a run.
const dbTimeout = 5 * time.Second

// Options configures watchdog process runtime behavior.
type Options struct {
	// LogLevel overrides the configured level when non-empty.
	LogLevel string

	// Daemons narrows supervision to the named daemons for this run.
	Daemons []string

	// SocketPath overrides the command socket location.
	SocketPath string

	// SanitizeFDs closes descriptors inherited from the launching
	// environment before any file or socket is opened. Only process
	// entry points may enable it; an in-process caller would lose its
	// own descriptors.
	SanitizeFDs bool

	// Timing and Policy override the config-derived values. Tests use
	// these to run the full assembly at millisecond cadence.
	Timing *supervisor.Timing
	Policy *restart.Policy
}

// Run executes one watchdog lifetime and returns its exit code. Plumbing
// failures before supervision begins are returned as an error alongside
// ExitRuntimeError.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (int, error) {
	if cfg == nil {
		return watchdog.ExitRuntimeError, fmt.Errorf("config is required")
	}

	// Sanitize inherited descriptors before anything opens files or
	// sockets, so supervised daemons never inherit strays.
	var closedFDs int
	var fdErr error
	if opts.SanitizeFDs {
		closedFDs, fdErr = fdsan.CloseFrom(3)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return watchdog.ExitRuntimeError, err
	}

	runID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("warden-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return watchdog.ExitRuntimeError, fmt.Errorf("init logger: %w", err)
	}

	if fdErr != nil {
		logging.WarnWithContext(logger, "descriptor sanitation incomplete", "fd_sanitation_failed",
			logging.Error(fdErr),
			logging.String(logging.FieldErrorHint, "inherited descriptors may leak into supervised daemons"),
			logging.String(logging.FieldImpact, "daemons may hold descriptors they never opened"),
		)
	} else if closedFDs > 0 {
		logger.Info("inherited descriptors closed",
			logging.String(logging.FieldEventType, "fd_sanitation"),
			logging.Int("closed", closedFDs),
		)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update warden.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "warden-*.log", Exclude: []string{logPath}},
	)

	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		return watchdog.ExitRuntimeError, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return watchdog.ExitRuntimeError, errors.New("another warden watchdog is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", logging.Error(err))
		}
	}()

	pidPath := cfg.PIDFilePath()
	if err := writePIDFile(pidPath); err != nil {
		return watchdog.ExitRuntimeError, fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := runstate.Open(cfg)
	if err != nil {
		logger.Error("open run-state store", logging.Error(err))
		return watchdog.ExitRuntimeError, err
	}
	defer store.Close()
	pruneOldRuns(store, logger)

	ros, err := roster.New(cfg, opts.Daemons)
	if err != nil {
		return watchdog.ExitRuntimeError, err
	}

	metricsSet := metrics.New()
	startedAt := time.Now()
	notifier := notifications.NewService(cfg)

	logPreflight(logger, cfg, ros, runID, logPath)

	w, err := watchdog.New(cfg, ros, watchdog.Options{
		Control: func(d roster.Daemon) supervisor.Control {
			return ipc.NewDaemonControl(d.Socket)
		},
		Spawn:    spawnWithCapture(cfg, logger),
		Timing:   opts.Timing,
		Policy:   opts.Policy,
		Store:    store,
		Metrics:  metricsSet,
		Notifier: notifier,
		Logger:   logger,
		RunID:    runID,
		LogPath:  logPath,
	})
	if err != nil {
		return watchdog.ExitRuntimeError, fmt.Errorf("create watchdog: %w", err)
	}

	if err := beginRun(store, runID, startedAt); err != nil {
		logger.Error("record run start", logging.Error(err))
		return watchdog.ExitRuntimeError, err
	}

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, w, logger)
	if err != nil {
		endRun(store, logger, runID, watchdog.ExitRuntimeError)
		return watchdog.ExitRuntimeError, fmt.Errorf("start command server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	exitCode := w.Run(signalCtx)
	endRun(store, logger, runID, exitCode)

	logger.Info("warden watchdog exiting",
		logging.String(logging.FieldEventType, "watchdog_exit"),
		logging.String(logging.FieldRunID, runID),
		logging.Int("exit_code", exitCode),
	)
	return exitCode, nil
}

// spawnWithCapture spawns daemons with stdout and stderr appended to a
// per-daemon log file under the log directory.
func spawnWithCapture(cfg *config.Config, logger *slog.Logger) supervisor.SpawnFunc {
	captureDir := filepath.Join(cfg.Paths.LogDir, "daemons")
	return func(d roster.Daemon) (supervisor.Process, error) {
		spec := proc.Spec{
			Name:    d.Name,
			Command: d.Command,
			Args:    d.Args,
			Env:     d.Env,
		}

		file, err := openDaemonLog(captureDir, d.Name)
		if err != nil {
			logging.WarnWithContext(logger, "daemon output capture unavailable", "daemon_log_open_failed",
				logging.String(logging.FieldDaemon, d.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check log directory permissions"),
				logging.String(logging.FieldImpact, "daemon stdout and stderr will be discarded"),
			)
		} else {
			spec.Stdout = file
			spec.Stderr = file
		}

		handle, spawnErr := proc.Spawn(spec)
		if file != nil {
			// The child holds its own descriptor once spawned.
			_ = file.Close()
		}
		if spawnErr != nil {
			return nil, spawnErr
		}
		return handle, nil
	}
}

func openDaemonLog(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".log")
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func logPreflight(logger *slog.Logger, cfg *config.Config, ros *roster.Roster, runID, logPath string) {
	if logger == nil || ros == nil {
		return
	}
	names := ros.StartOrder()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "watchdog_preflight"),
		logging.String(logging.FieldRunID, runID),
		logging.Int(logging.FieldPID, os.Getpid()),
		logging.Int("daemons", len(names)),
		logging.String("start_order", strings.Join(names, ",")),
		logging.String("log_path", logPath),
		logging.String("socket_path", cfg.SocketPath()),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("status_endpoint_enabled", strings.TrimSpace(cfg.Paths.StatusBind) != ""),
	}
	logger.Info("warden watchdog starting", logging.Args(attrs...)...)

	for _, check := range preflight.Failed(preflight.RunAll(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "the watchdog keeps going but daemons may fail to start"),
		)
	}

	missing := make([]string, 0)
	for _, st := range preflight.CheckDaemonCommands(cfg) {
		if _, ok := ros.Daemon(st.Name); !ok {
			continue
		}
		if !st.Available {
			missing = append(missing, st.Name)
		}
	}
	if len(missing) > 0 {
		logging.WarnWithContext(logger, "daemon commands not found in PATH", "daemon_command_missing",
			logging.String("daemons", strings.Join(missing, ",")),
			logging.String(logging.FieldErrorHint, "install the daemon binaries or fix the command paths in the config"),
			logging.String(logging.FieldImpact, "affected daemons will fail to start"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "warden.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func beginRun(store *runstate.Store, runID string, startedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	return store.BeginRun(ctx, runID, os.Getpid(), startedAt)
}

func endRun(store *runstate.Store, logger *slog.Logger, runID string, exitCode int) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := store.EndRun(ctx, runID, exitCode, time.Now()); err != nil {
		logger.Warn("record run end failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "runstate_write_failed"),
			logging.String(logging.FieldRunID, runID),
		)
	}
}

func pruneOldRuns(store *runstate.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	removed, err := store.PruneRuns(ctx, keepRuns)
	if err != nil {
		logger.Warn("prune old runs failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Debug("pruned old runs", logging.Int64("removed", removed))
	}
}
