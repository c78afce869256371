package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/internal/config"
	"warden/internal/ipc"
	"warden/internal/logging"
	"warden/internal/proc"
	"warden/internal/restart"
	"warden/internal/roster"
	"warden/internal/supervisor"
	"warden/internal/testsupport"
	"warden/internal/watchdog"
)

type fakeProcess struct {
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu   sync.Mutex
	exit *proc.ExitState
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, startedAt: time.Now(), done: make(chan struct{})}
}

func (p *fakeProcess) exitNow(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil {
		return
	}
	p.exit = &proc.ExitState{Code: code, ExitedAt: time.Now()}
	close(p.done)
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) StartedAt() time.Time { return p.startedAt }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitState() (proc.ExitState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return proc.ExitState{}, false
	}
	return *p.exit, true
}

func (p *fakeProcess) Terminate(_ context.Context, _ time.Duration) (proc.ExitState, error) {
	p.exitNow(0)
	state, _ := p.ExitState()
	return state, nil
}

func (p *fakeProcess) Kill() error {
	p.exitNow(-1)
	return nil
}

// fleet fakes the spawned processes and control channels so CLI tests can
// drive a live watchdog without real daemon binaries.
type fleet struct {
	mu    sync.Mutex
	next  int
	procs map[string][]*fakeProcess
}

func newFleet() *fleet {
	return &fleet{procs: make(map[string][]*fakeProcess)}
}

func (f *fleet) spawn(d roster.Daemon) (supervisor.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	p := newFakeProcess(3000 + f.next)
	f.procs[d.Name] = append(f.procs[d.Name], p)
	return p, nil
}

func (f *fleet) control(d roster.Daemon) supervisor.Control {
	return &fleetControl{fleet: f, name: d.Name}
}

type fleetControl struct {
	fleet *fleet
	name  string
}

func (c *fleetControl) Ping(context.Context) error { return nil }

func (c *fleetControl) RequestExit(context.Context) error {
	f := c.fleet
	f.mu.Lock()
	var latest *fakeProcess
	if procs := f.procs[c.name]; len(procs) > 0 {
		latest = procs[len(procs)-1]
	}
	f.mu.Unlock()
	if latest != nil {
		latest.exitNow(0)
	}
	return nil
}

type cliTestEnv struct {
	cfg        *config.Config
	w          *watchdog.Watchdog
	server     *ipc.Server
	socketPath string
	configPath string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "warden-cli-test.log")
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatalf("create log file: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "warden", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	ros, err := roster.New(cfg, nil)
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}

	f := newFleet()
	timing := supervisor.Timing{
		PollInterval:   5 * time.Millisecond,
		PingTimeout:    20 * time.Millisecond,
		PingFailures:   2,
		StartupTimeout: 500 * time.Millisecond,
		GracePeriod:    50 * time.Millisecond,
	}
	policy := restart.Policy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		MaxRetries:   3,
		RetryWindow:  time.Minute,
	}
	w, err := watchdog.New(cfg, ros, watchdog.Options{
		Control: f.control,
		Spawn:   f.spawn,
		Timing:  &timing,
		Policy:  &policy,
		Logger:  logging.NewNop(),
		RunID:   "cli-test",
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("watchdog.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.RuntimeDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, w, logging.NewNop())
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("unix sockets unavailable: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		w.Run(ctx)
	}()
	waitFor(t, 5*time.Second, func() bool { return w.Status().Running })

	env := &cliTestEnv{
		cfg:        cfg,
		w:          w,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(5 * time.Second):
			t.Error("watchdog run did not exit")
		}
		srv.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "[paths]\nruntime_dir = %q\nlog_dir = %q\n\n", cfg.Paths.RuntimeDir, cfg.Paths.LogDir)
	for name, d := range cfg.Daemons {
		fmt.Fprintf(&sb, "[daemons.%s]\ncommand = %q\n", name, d.Command)
		if len(d.Requires) > 0 {
			quoted := make([]string, 0, len(d.Requires))
			for _, req := range d.Requires {
				quoted = append(quoted, fmt.Sprintf("%q", req))
			}
			fmt.Fprintf(&sb, "requires = [%s]\n", strings.Join(quoted, ", "))
		}
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
