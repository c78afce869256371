package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"warden/internal/logging"
	"warden/internal/metrics"
	"warden/internal/notifications"
	"warden/internal/proc"
	"warden/internal/runstate"
	"warden/internal/supervisor"
)

const (
	// dbTimeout bounds run-state writes so a wedged database cannot stall
	// a monitor loop.
	dbTimeout = 5 * time.Second

	// notifyTimeout bounds background notification deliveries.
	notifyTimeout = 30 * time.Second
)

// recorder receives supervisor events and fans them out to the run-state
// store, the metrics registry, and the notifier. It keeps the authoritative
// per-daemon record between writes, so every upsert carries the full row.
type recorder struct {
	store    *runstate.Store
	metrics  *metrics.Set
	notifier notifications.Service
	logger   *slog.Logger
	runID    string

	mu      sync.Mutex
	records map[string]runstate.DaemonRecord
}

func newRecorder(store *runstate.Store, set *metrics.Set, notifier notifications.Service, logger *slog.Logger, runID string) *recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &recorder{
		store:    store,
		metrics:  set,
		notifier: notifier,
		logger:   logger,
		runID:    runID,
		records:  make(map[string]runstate.DaemonRecord),
	}
}

func (r *recorder) StateChanged(daemon string, from, to supervisor.State) {
	if r.metrics != nil {
		r.metrics.RecordState(daemon, string(from), string(to))
	}
	rec := r.update(daemon, func(rec *runstate.DaemonRecord) {
		rec.State = string(to)
		if to == supervisor.StateStopped {
			rec.PID = 0
		}
	})
	r.persist(daemon, rec)
	r.recordTransition(daemon, from, to, rec.PID)

	if to == supervisor.StateFailedPermanently {
		r.notifyFailed(daemon, rec.Restarts)
	}
}

func (r *recorder) ProcessStarted(daemon string, pid int) {
	rec := r.update(daemon, func(rec *runstate.DaemonRecord) {
		rec.PID = pid
		rec.StartedAt = time.Now()
	})
	r.persist(daemon, rec)
}

func (r *recorder) ProcessExited(daemon string, exit proc.ExitState) {
	rec := r.update(daemon, func(rec *runstate.DaemonRecord) {
		rec.PID = 0
		rec.LastError = exitDescription(exit)
	})
	r.persist(daemon, rec)
}

func (r *recorder) PingFailed(daemon string, misses int, err error) {
	if r.metrics != nil {
		r.metrics.RecordPingFailure(daemon)
	}
	rec := r.update(daemon, func(rec *runstate.DaemonRecord) {
		if err != nil {
			rec.LastError = err.Error()
		}
	})
	r.persist(daemon, rec)
}

func (r *recorder) RestartScheduled(daemon string, attempt int, delay time.Duration, reason string) {
	if r.metrics != nil {
		r.metrics.RecordRestart(daemon, reason)
	}
	rec := r.update(daemon, func(rec *runstate.DaemonRecord) {
		rec.Restarts++
	})
	r.persist(daemon, rec)

	// The first attempt of a failure streak is the interesting one; the
	// backoff steps after it would only repeat the news.
	if attempt == 1 {
		r.notifyRestarted(daemon, attempt, reason)
	}
}

// update mutates the in-memory record for daemon under the lock and returns
// the resulting row.
func (r *recorder) update(daemon string, mutate func(*runstate.DaemonRecord)) runstate.DaemonRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[daemon]
	if rec.Daemon == "" {
		rec.Daemon = daemon
		rec.State = string(supervisor.StateStopped)
	}
	mutate(&rec)
	rec.UpdatedAt = time.Now()
	r.records[daemon] = rec
	return rec
}

func (r *recorder) persist(daemon string, rec runstate.DaemonRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := r.store.UpsertDaemonState(ctx, r.runID, rec); err != nil {
		r.logger.Warn("run-state write failed",
			logging.String(logging.FieldDaemon, daemon),
			logging.Error(err),
			logging.String(logging.FieldEventType, "runstate_write_failed"),
			logging.String(logging.FieldErrorHint, "check the run database in the runtime directory"),
			logging.String(logging.FieldImpact, "status history for this run may be incomplete"))
	}
}

func (r *recorder) recordTransition(daemon string, from, to supervisor.State, pid int) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := r.store.RecordTransition(ctx, r.runID, daemon, string(from), string(to), pid, time.Now()); err != nil {
		r.logger.Warn("transition write failed",
			logging.String(logging.FieldDaemon, daemon),
			logging.Error(err),
			logging.String(logging.FieldEventType, "runstate_write_failed"),
			logging.String(logging.FieldErrorHint, "check the run database in the runtime directory"),
			logging.String(logging.FieldImpact, "status history for this run may be incomplete"))
	}
}

func (r *recorder) notifyFailed(daemon string, restarts int) {
	if r.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyDaemonFailed(ctx, daemon, restarts); err != nil {
			r.logger.Debug("failure notification failed",
				logging.String(logging.FieldDaemon, daemon),
				logging.Error(err))
		}
	}()
}

func (r *recorder) notifyRestarted(daemon string, attempt int, reason string) {
	if r.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyDaemonRestarted(ctx, daemon, attempt, reason); err != nil {
			r.logger.Debug("restart notification failed",
				logging.String(logging.FieldDaemon, daemon),
				logging.Error(err))
		}
	}()
}

// exitDescription renders an exit status for the run-state record.
func exitDescription(exit proc.ExitState) string {
	if exit.Signal != "" {
		return fmt.Sprintf("killed by signal %s", exit.Signal)
	}
	return fmt.Sprintf("exited with code %d", exit.Code)
}
