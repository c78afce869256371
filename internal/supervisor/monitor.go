package supervisor

import (
	"context"
	"fmt"
	"time"

	"warden/internal/logging"
)

type phaseResult int

const (
	phaseAdvance phaseResult = iota
	phaseRestart
	phaseShutdown
)

// run is the monitor loop. Each iteration spawns the process, waits for it
// to become ready, and then watches it until it crashes, stops answering
// pings, or supervision is canceled. The loop exits with the state at
// Stopped or FailedPermanently.
func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.setState(StateStarting)
			s.bumpRestarts()
		}

		handle, err := s.spawn(s.daemon)
		if err != nil {
			s.noteError(err)
			s.logger.Error("daemon spawn failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "daemon_spawn_failed"),
				logging.String(logging.FieldErrorHint, "verify the command path and execute permissions"))
			if !s.pauseOrGiveUp(ctx, time.Time{}, time.Now(), ReasonSpawnError) {
				return
			}
			continue
		}
		s.attach(handle)

		res, reason := s.awaitStartup(ctx, handle)
		if res == phaseAdvance {
			s.setState(StateRunning)
			res, reason = s.monitor(ctx, handle)
		}
		if res == phaseShutdown {
			s.shutdown(handle)
			return
		}

		startedAt := handle.StartedAt()
		exitedAt := s.ensureExited(handle)
		s.detach()
		if !s.pauseOrGiveUp(ctx, startedAt, exitedAt, reason) {
			return
		}
	}
}

// awaitStartup pings the daemon until it answers, the startup budget runs
// out, or the process dies. Unanswered pings here never count toward the
// unresponsiveness threshold; a slow start is not a running daemon gone
// quiet.
func (s *Supervisor) awaitStartup(ctx context.Context, handle Process) (phaseResult, string) {
	deadline := time.Now().Add(s.timing.StartupTimeout)
	for {
		if err := s.ping(ctx); err == nil {
			s.markHealthy()
			s.logger.Info("daemon is running",
				logging.Int(logging.FieldPID, handle.PID()),
				logging.String(logging.FieldEventType, "daemon_running"))
			return phaseAdvance, ""
		} else if ctx.Err() == nil {
			s.logger.Debug("startup ping unanswered", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			return phaseShutdown, ""
		case <-handle.Done():
			exit, _ := handle.ExitState()
			s.noteExit(exit)
			s.observer.ProcessExited(s.daemon.Name, exit)
			s.logger.Warn("daemon exited during startup",
				logging.Int("exit_code", exit.Code),
				logging.String("signal", exit.Signal),
				logging.String(logging.FieldEventType, "daemon_exited"),
				logging.String(logging.FieldImpact, "daemon will be restarted"),
				logging.String(logging.FieldErrorHint, "check the daemon's own log for startup errors"))
			return phaseRestart, ReasonCrash
		case <-time.After(s.timing.PollInterval):
		}

		if time.Now().After(deadline) {
			err := fmt.Errorf("no ping response within %s of spawn", s.timing.StartupTimeout)
			s.noteError(err)
			s.logger.Warn("daemon failed to become ready",
				logging.Duration("startup_timeout", s.timing.StartupTimeout),
				logging.String(logging.FieldEventType, "daemon_startup_timeout"),
				logging.String(logging.FieldImpact, "daemon will be restarted"),
				logging.String(logging.FieldErrorHint, "raise watchdog.startup_timeout if the daemon needs longer to initialize"))
			return phaseRestart, ReasonStartupTimeout
		}
	}
}

// monitor drives the running phase: wait out a poll tick, ping, classify.
func (s *Supervisor) monitor(ctx context.Context, handle Process) (phaseResult, string) {
	misses := 0
	healthySince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return phaseShutdown, ""
		case <-handle.Done():
			exit, _ := handle.ExitState()
			s.noteExit(exit)
			s.observer.ProcessExited(s.daemon.Name, exit)
			s.logger.Warn("daemon exited unexpectedly",
				logging.Int("exit_code", exit.Code),
				logging.String("signal", exit.Signal),
				logging.String(logging.FieldEventType, "daemon_exited"),
				logging.String(logging.FieldImpact, "daemon will be restarted"),
				logging.String(logging.FieldErrorHint, "check the daemon's own log for the crash cause"))
			return phaseRestart, ReasonCrash
		case <-time.After(s.timing.PollInterval):
		}

		err := s.ping(ctx)
		if err == nil {
			if misses > 0 {
				s.logger.Info("daemon ping recovered",
					logging.Int("misses", misses),
					logging.String(logging.FieldEventType, "ping_recovered"))
				misses = 0
				healthySince = time.Now()
			}
			s.markHealthy()
			s.maybeForgetFailures(healthySince)
			continue
		}
		if ctx.Err() != nil {
			// A ping cut short by shutdown is not a miss.
			return phaseShutdown, ""
		}

		misses++
		s.notePingMiss(misses, err)
		s.observer.PingFailed(s.daemon.Name, misses, err)
		s.logger.Warn("daemon ping failed",
			logging.Error(err),
			logging.Int("misses", misses),
			logging.Int("threshold", s.timing.PingFailures),
			logging.String(logging.FieldEventType, "ping_failed"),
			logging.String(logging.FieldImpact, "daemon restarts when the threshold is reached"),
			logging.String(logging.FieldErrorHint, "check whether the daemon is overloaded or its socket was removed"))
		if misses >= s.timing.PingFailures {
			s.logger.Warn("daemon is unresponsive",
				logging.Int("misses", misses),
				logging.String(logging.FieldEventType, "daemon_unresponsive"),
				logging.String(logging.FieldImpact, "daemon will be restarted"),
				logging.String(logging.FieldErrorHint, "inspect the daemon log if restarts do not clear the condition"))
			return phaseRestart, ReasonUnresponsive
		}
	}
}

// maybeForgetFailures clears the failure history once the daemon has been
// continuously healthy for the stability window.
func (s *Supervisor) maybeForgetFailures(healthySince time.Time) {
	if s.stability <= 0 || s.tracker.Attempt() == 0 {
		return
	}
	if time.Since(healthySince) >= s.stability {
		s.tracker.Reset()
		s.logger.Info("daemon stable; failure history cleared",
			logging.Duration("stability_window", s.stability),
			logging.String(logging.FieldEventType, "daemon_stable"))
	}
}

// pauseOrGiveUp records a failure, checks the retry ceiling, and waits out
// the backoff delay. It returns false when supervision must not continue,
// either because the ceiling was hit or because shutdown interrupted the
// pause.
func (s *Supervisor) pauseOrGiveUp(ctx context.Context, startedAt, exitedAt time.Time, reason string) bool {
	delay := s.tracker.RecordFailure(startedAt, exitedAt)
	if s.tracker.GiveUp(exitedAt) {
		s.setState(StateFailedPermanently)
		s.logger.Error("daemon failed permanently; supervision suspended",
			logging.Int("failures", s.tracker.Attempt()),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "daemon_failed_permanently"),
			logging.String(logging.FieldImpact, "daemon stays down until an operator intervenes"),
			logging.String(logging.FieldErrorHint, "fix the underlying fault, then run 'warden start <daemon>' to resume supervision"),
			logging.Alert("daemon_failed_permanently"))
		return false
	}

	attempt := s.tracker.Attempt()
	s.setState(StateRestarting)
	s.observer.RestartScheduled(s.daemon.Name, attempt, delay, reason)
	s.logger.Info("daemon restart scheduled",
		logging.Int("attempt", attempt),
		logging.Duration("delay", delay),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "restart_scheduled"))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.setState(StateStopped)
		return false
	case <-timer.C:
		return true
	}
}

// ensureExited guarantees the old process is gone before the next spawn.
// Crashed processes have already been reaped; unresponsive ones get the
// exit request, SIGTERM, SIGKILL escalation.
func (s *Supervisor) ensureExited(handle Process) time.Time {
	if exit, exited := handle.ExitState(); exited {
		return exit.ExitedAt
	}

	s.logger.Info("terminating unresponsive daemon",
		logging.Int(logging.FieldPID, handle.PID()),
		logging.Duration("grace_period", s.timing.GracePeriod),
		logging.String(logging.FieldEventType, "daemon_terminating"))
	s.requestExit()

	exit, err := handle.Terminate(context.Background(), s.timing.GracePeriod)
	if err != nil {
		s.logger.Error("failed to terminate daemon",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_terminate_failed"),
			logging.String(logging.FieldErrorHint, "the process may need to be killed manually"))
		return time.Now()
	}
	s.observer.ProcessExited(s.daemon.Name, exit)
	return exit.ExitedAt
}

// shutdown tears the process down after a stop request: cooperative exit
// first, signals only if the daemon does not leave on its own.
func (s *Supervisor) shutdown(handle Process) {
	s.setState(StateStopping)
	defer func() {
		s.detach()
		s.setState(StateStopped)
	}()

	if _, exited := handle.ExitState(); exited {
		return
	}

	if s.requestExit() {
		select {
		case <-handle.Done():
			exit, _ := handle.ExitState()
			s.logger.Info("daemon exited on request",
				logging.Int("exit_code", exit.Code),
				logging.String(logging.FieldEventType, "daemon_stopped"))
			return
		case <-time.After(s.timing.GracePeriod):
		}
	}

	exit, err := handle.Terminate(context.Background(), s.timing.GracePeriod)
	if err != nil {
		s.logger.Error("failed to terminate daemon",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_terminate_failed"),
			logging.String(logging.FieldErrorHint, "the process may need to be killed manually"))
		return
	}
	s.logger.Info("daemon stopped",
		logging.Int("exit_code", exit.Code),
		logging.String("signal", exit.Signal),
		logging.String(logging.FieldEventType, "daemon_stopped"))
}

// requestExit delivers a cooperative exit request over the control channel,
// bounded by the ping timeout. It reports whether the daemon acknowledged.
func (s *Supervisor) requestExit() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timing.PingTimeout)
	defer cancel()
	if err := s.control.RequestExit(ctx); err != nil {
		s.logger.Debug("exit request not delivered", logging.Error(err))
		return false
	}
	return true
}

func (s *Supervisor) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.timing.PingTimeout)
	defer cancel()
	return s.control.Ping(pingCtx)
}
