package ipc_test

import (
	"context"
	"errors"
	"net"
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

type stubProcess struct {
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu   sync.Mutex
	exit *proc.ExitState
}

func newStubProcess(pid int) *stubProcess {
	return &stubProcess{pid: pid, startedAt: time.Now(), done: make(chan struct{})}
}

func (p *stubProcess) exitNow(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil {
		return
	}
	p.exit = &proc.ExitState{Code: code, ExitedAt: time.Now()}
	close(p.done)
}

func (p *stubProcess) PID() int { return p.pid }

func (p *stubProcess) StartedAt() time.Time { return p.startedAt }

func (p *stubProcess) Done() <-chan struct{} { return p.done }

func (p *stubProcess) ExitState() (proc.ExitState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return proc.ExitState{}, false
	}
	return *p.exit, true
}

func (p *stubProcess) Terminate(_ context.Context, _ time.Duration) (proc.ExitState, error) {
	p.exitNow(0)
	state, _ := p.ExitState()
	return state, nil
}

func (p *stubProcess) Kill() error {
	p.exitNow(-1)
	return nil
}

// stubFleet fakes processes and control channels for a watchdog under test.
type stubFleet struct {
	mu    sync.Mutex
	procs map[string]*stubProcess
	seq   int
}

func newStubFleet() *stubFleet {
	return &stubFleet{procs: make(map[string]*stubProcess)}
}

func (f *stubFleet) spawn(d roster.Daemon) (supervisor.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p := newStubProcess(3000 + f.seq)
	f.procs[d.Name] = p
	return p, nil
}

func (f *stubFleet) control(d roster.Daemon) supervisor.Control {
	return stubControl{fleet: f, name: d.Name}
}

type stubControl struct {
	fleet *stubFleet
	name  string
}

func (c stubControl) Ping(context.Context) error { return nil }

func (c stubControl) RequestExit(context.Context) error {
	c.fleet.mu.Lock()
	p := c.fleet.procs[c.name]
	c.fleet.mu.Unlock()
	if p != nil {
		p.exitNow(0)
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func newSocketPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func TestControlServerAnswersPingAndExit(t *testing.T) {
	socket := newSocketPath(t, "daemon.sock")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	exits := make(chan struct{}, 2)
	srv, err := ipc.NewControlServer(ctx, socket, func() { exits <- struct{}{} }, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping control server test: %v", err)
		}
		t.Fatalf("NewControlServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	control := ipc.NewDaemonControl(socket)
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := control.Ping(pingCtx); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}

	if err := control.RequestExit(pingCtx); err != nil {
		t.Fatalf("RequestExit returned error: %v", err)
	}
	select {
	case <-exits:
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback did not fire")
	}

	// A second exit request is acknowledged but must not rerun the callback.
	if err := control.RequestExit(pingCtx); err != nil {
		t.Fatalf("second RequestExit returned error: %v", err)
	}
	select {
	case <-exits:
		t.Fatal("exit callback ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPingClassifiesDeadlineAsTimeout(t *testing.T) {
	socket := newSocketPath(t, "mute.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping unix socket test: %v", err)
		}
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	// Accept connections and hold them open without ever answering.
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	control := ipc.NewDaemonControl(socket)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = control.Ping(ctx)
	if !errors.Is(err, ipc.ErrPingTimeout) {
		t.Fatalf("expected ErrPingTimeout, got %v", err)
	}
}

func TestPingClassifiesMissingSocketAsChannelError(t *testing.T) {
	control := ipc.NewDaemonControl(newSocketPath(t, "gone.sock"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := control.Ping(ctx)
	var chanErr *ipc.ChannelError
	if !errors.As(err, &chanErr) {
		t.Fatalf("expected ChannelError, got %v", err)
	}
	if errors.Is(err, ipc.ErrPingTimeout) {
		t.Fatal("a missing socket must not classify as a timeout")
	}
}

func TestWardenServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logPath := filepath.Join(cfg.Paths.LogDir, "warden-ipc-test.log")
	testsupport.WriteFile(t, logPath, "first\nsecond\nthird\n")

	fleet := newStubFleet()
	ros, err := roster.New(cfg, nil)
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
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
		Control: fleet.control,
		Spawn:   fleet.spawn,
		Timing:  &timing,
		Policy:  &policy,
		RunID:   "ipc-test",
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("watchdog.New: %v", err)
	}
	t.Cleanup(w.Stop)

	codes := make(chan int, 1)
	go func() { codes <- w.Run(context.Background()) }()
	waitFor(t, "watchdog running", func() bool { return w.Status().Running })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := newSocketPath(t, "warden.sock")
	srv, err := ipc.NewServer(ctx, socket, w, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ping, err := client.Ping()
	if err != nil {
		t.Fatalf("Ping RPC failed: %v", err)
	}
	if ping.PID != os.Getpid() {
		t.Fatalf("expected watchdog pid %d, got %d", os.Getpid(), ping.PID)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running watchdog")
	}
	if status.RunID != "ipc-test" {
		t.Fatalf("unexpected run id %q", status.RunID)
	}
	if len(status.Daemons) != 3 {
		t.Fatalf("expected 3 daemons, got %d", len(status.Daemons))
	}
	if status.Daemons[0].Name != config.BrokerDaemon || status.Daemons[0].State != "running" {
		t.Fatalf("expected running broker first, got %+v", status.Daemons[0])
	}

	stopResp, err := client.StopDaemon(config.ManagerDaemon)
	if err != nil {
		t.Fatalf("StopDaemon RPC failed: %v", err)
	}
	if !stopResp.Applied || !strings.Contains(stopResp.Message, "stopped") {
		t.Fatalf("unexpected stop response: %+v", stopResp)
	}

	startResp, err := client.StartDaemon(config.ManagerDaemon)
	if err != nil {
		t.Fatalf("StartDaemon RPC failed: %v", err)
	}
	if !startResp.Applied || !strings.Contains(startResp.Message, "starting") {
		t.Fatalf("unexpected start response: %+v", startResp)
	}

	restartResp, err := client.RestartDaemon(config.MonitorDaemon)
	if err != nil {
		t.Fatalf("RestartDaemon RPC failed: %v", err)
	}
	if !restartResp.Applied {
		t.Fatalf("unexpected restart response: %+v", restartResp)
	}

	if _, err := client.StartDaemon("archiver"); err == nil {
		t.Fatal("expected error for unknown daemon")
	}

	logResp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail initial failed: %v", err)
	}
	if len(logResp.Lines) != 2 || logResp.Lines[0] != "second" || logResp.Lines[1] != "third" {
		t.Fatalf("unexpected log tail response: %#v", logResp.Lines)
	}

	followDone := make(chan struct{})
	go func(offset int64) {
		resp, err := client.LogTail(ipc.LogTailRequest{Offset: offset, Follow: true, WaitMillis: 2000})
		if err != nil {
			t.Errorf("LogTail follow error: %v", err)
			return
		}
		if len(resp.Lines) != 1 || resp.Lines[0] != "fourth" {
			t.Errorf("unexpected follow lines: %#v", resp.Lines)
		}
		close(followDone)
	}(logResp.Offset)

	time.Sleep(100 * time.Millisecond)
	if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		_, _ = f.WriteString("fourth\n")
		_ = f.Close()
	} else {
		t.Fatalf("append log: %v", err)
	}

	select {
	case <-followDone:
	case <-time.After(10 * time.Second):
		t.Fatal("log tail follow timed out")
	}

	shutdownResp, err := client.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown RPC failed: %v", err)
	}
	if !shutdownResp.Stopping {
		t.Fatal("expected stopping acknowledgement")
	}

	select {
	case code := <-codes:
		if code != watchdog.ExitClean {
			t.Fatalf("expected clean exit, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not exit after shutdown request")
	}
}
