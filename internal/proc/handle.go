package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Spec describes a daemon process to spawn.
type Spec struct {
	// Name identifies the daemon in errors; it defaults to the command.
	Name    string
	Command string
	Args    []string
	// Env entries are appended to the current environment.
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// SpawnError reports a daemon executable that could not be launched.
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitState records how a process left the process table.
type ExitState struct {
	// Code is the exit code, or -1 when the process was signaled.
	Code int
	// Signal names the terminating signal; empty for clean exits.
	Signal   string
	Err      error
	ExitedAt time.Time
}

// Handle owns a spawned daemon process.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}

	mu   sync.Mutex
	exit *ExitState
}

// Spawn launches the described process in its own process group and starts
// reaping its exit status in the background.
func Spawn(spec Spec) (*Handle, error) {
	name := spec.Name
	if name == "" {
		name = spec.Command
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: name, Command: spec.Command, Err: err}
	}

	h := &Handle{
		name:      name,
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	state := ExitState{Code: -1, ExitedAt: time.Now()}
	if ps := h.cmd.ProcessState; ps != nil {
		state.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			state.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		state.Err = err
	}

	h.mu.Lock()
	h.exit = &state
	h.mu.Unlock()
	close(h.done)
}

// Name returns the daemon name the handle was spawned for.
func (h *Handle) Name() string { return h.name }

// PID returns the operating system process ID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done returns a channel closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitState reports the recorded exit without blocking. The boolean is false
// while the process is still running.
func (h *Handle) ExitState() (ExitState, bool) {
	select {
	case <-h.done:
	default:
		return ExitState{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.exit, true
}

// Signal delivers sig to the process. Delivery to an already exited process
// returns an error.
func (h *Handle) Signal(sig os.Signal) error {
	if _, exited := h.ExitState(); exited {
		return fmt.Errorf("signal %s: process already exited", h.name)
	}
	return h.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the whole process group, falling back to the process
// itself when the group is gone.
func (h *Handle) Kill() error {
	if _, exited := h.ExitState(); exited {
		return nil
	}
	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Terminate asks the process to exit with SIGTERM and escalates to SIGKILL
// once the grace period passes. It returns after the exit status has been
// reaped, so a subsequent spawn can never overlap the old process.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) (ExitState, error) {
	if state, exited := h.ExitState(); exited {
		return state, nil
	}

	if err := h.Signal(syscall.SIGTERM); err != nil {
		// The process may have exited between the state check and the signal.
		if state, exited := h.ExitState(); exited {
			return state, nil
		}
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-h.done:
		state, _ := h.ExitState()
		return state, nil
	case <-ctx.Done():
		return ExitState{}, fmt.Errorf("terminate %s: %w", h.name, ctx.Err())
	case <-graceTimer.C:
	}

	if err := h.Kill(); err != nil {
		return ExitState{}, fmt.Errorf("kill %s: %w", h.name, err)
	}

	select {
	case <-h.done:
		state, _ := h.ExitState()
		return state, nil
	case <-ctx.Done():
		return ExitState{}, fmt.Errorf("terminate %s: %w", h.name, ctx.Err())
	}
}
