// Package watchdogctl orchestrates the watchdog process from the CLI:
// launching it detached, waiting for its command socket, stopping it with
// force-kill escalation, and assembling status output when it is down.
package watchdogctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"warden/internal/config"
	"warden/internal/ipc"
	"warden/internal/runstate"
)

// ErrWatchdogNotRunning indicates the watchdog command socket is unavailable.
var ErrWatchdogNotRunning = errors.New("watchdog not running")

// LaunchOptions controls watchdog process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	SocketPath string
	Daemons    []string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures watchdog start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures watchdog stop and termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop and start outcomes for a watchdog restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Launch starts a detached watchdog process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if len(opts.Daemons) > 0 {
		names := make([]string, 0, len(opts.Daemons))
		for _, daemon := range opts.Daemons {
			if daemon = strings.TrimSpace(daemon); daemon != "" {
				names = append(names, daemon)
			}
		}
		if len(names) > 0 {
			args = append(args, "--daemons", strings.Join(names, ","))
		}
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch watchdog: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for command socket availability and returns a
// connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for watchdog")
	}
	return nil, fmt.Errorf("watchdog failed to start: %w", lastErr)
}

// EnsureStarted launches the watchdog unless one is already answering on the
// command socket.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	result := StartResult{State: StartStateAlreadyRunning}
	if launched {
		result.State = StartStateStarted
		result.Launched = true
	}
	if resp, pingErr := client.Ping(); pingErr == nil {
		result.PID = resp.PID
	}
	return result, nil
}

// WaitForShutdown waits for the command socket to disappear or report a
// stopped watchdog.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isWatchdogUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = fmt.Errorf("watchdog still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("watchdog did not stop: %w", lastErr)
}

// ProcessInfo reports whether the command socket is reachable and the
// watchdog PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isWatchdogUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	resp, pingErr := client.Ping()
	if pingErr != nil {
		return true, 0, pingErr
	}
	return true, resp.PID, nil
}

// StopAndTerminate requests a watchdog shutdown and force-kills the process
// if it is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isWatchdogUnavailable(err) {
			return StopResult{}, ErrWatchdogNotRunning
		}
		return StopResult{}, err
	}

	pid := 0
	if status, statusErr := client.Status(); statusErr == nil && status != nil {
		pid = status.PID
	}
	resp, err := client.Shutdown()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopping
	}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil {
		alive = false
	}
	if !alive {
		return result, nil
	}

	currentPID := livePID
	if currentPID == 0 {
		currentPID = pid
	}
	if cfg == nil {
		return result, fmt.Errorf("watchdog still running and no configuration available to locate its pid file")
	}
	killedPID, killErr := ForceKillProcess(cfg.PIDFilePath(), cfg.LockFilePath(), currentPID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop watchdog process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the watchdog if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrWatchdogNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// ForceKillProcess sends SIGKILL to the watchdog process and cleans up its
// pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pidStr != "" {
			if parsed, parseErr := strconv.Atoi(pidStr); parseErr == nil && parsed > 0 {
				pid = parsed
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read watchdog pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine watchdog pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate watchdog process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill watchdog process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// BuildStatusSnapshot collects watchdog status over the command socket and
// falls back to the last recorded run when the watchdog is unreachable.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			return resp, nil
		}
	}

	resp := &ipc.StatusResponse{
		DatabasePath: cfg.DatabasePath(),
		LockPath:     cfg.LockFilePath(),
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	store, openErr := runstate.Open(cfg)
	if openErr != nil {
		return resp, nil
	}
	defer store.Close()

	run, runErr := store.LatestRun(queryCtx)
	if runErr != nil || run == nil {
		return resp, nil
	}
	resp.RunID = run.ID
	resp.PID = run.WatchdogPID
	resp.StartedAt = run.StartedAt

	states, statesErr := store.DaemonStates(queryCtx, run.ID)
	if statesErr != nil {
		return resp, nil
	}
	for _, rec := range states {
		resp.Daemons = append(resp.Daemons, ipc.DaemonStatus{
			Name:      rec.Daemon,
			State:     rec.State,
			PID:       rec.PID,
			StartedAt: rec.StartedAt,
			Restarts:  rec.Restarts,
			LastError: rec.LastError,
		})
	}
	return resp, nil
}

func isWatchdogUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
