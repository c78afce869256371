package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"warden/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRuntime := filepath.Join(tempHome, ".local", "share", "warden")
	if cfg.Paths.RuntimeDir != wantRuntime {
		t.Fatalf("unexpected runtime dir: got %q want %q", cfg.Paths.RuntimeDir, wantRuntime)
	}
	if cfg.Paths.LogDir != filepath.Join(wantRuntime, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.StatusBind != "" {
		t.Fatalf("expected status bind disabled by default, got %q", cfg.Paths.StatusBind)
	}
	if cfg.Watchdog.PollInterval != 5 {
		t.Fatalf("unexpected poll interval: %d", cfg.Watchdog.PollInterval)
	}
	if cfg.Watchdog.PingFailures != 2 {
		t.Fatalf("unexpected ping failure threshold: %d", cfg.Watchdog.PingFailures)
	}
	if cfg.Restart.MaxRetries != 5 {
		t.Fatalf("unexpected restart ceiling: %d", cfg.Restart.MaxRetries)
	}
	if len(cfg.Daemons) != 3 {
		t.Fatalf("expected three default daemons, got %d", len(cfg.Daemons))
	}
	for _, name := range []string{config.BrokerDaemon, config.MonitorDaemon, config.ManagerDaemon} {
		daemon, ok := cfg.Daemons[name]
		if !ok {
			t.Fatalf("missing default daemon %q", name)
		}
		if !daemon.IsEnabled() {
			t.Fatalf("expected daemon %q enabled by default", name)
		}
		if daemon.Command != "warden-"+name {
			t.Fatalf("unexpected command for %q: %q", name, daemon.Command)
		}
	}
	if got := cfg.Daemons[config.MonitorDaemon].Requires; len(got) != 1 || got[0] != config.BrokerDaemon {
		t.Fatalf("expected monitor to require broker, got %v", got)
	}
	if len(cfg.Daemons[config.BrokerDaemon].Requires) != 0 {
		t.Fatalf("expected broker to require nothing, got %v", cfg.Daemons[config.BrokerDaemon].Requires)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RuntimeDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}

	if got := cfg.SocketPath(); got != filepath.Join(wantRuntime, "warden.sock") {
		t.Fatalf("unexpected watchdog socket: %q", got)
	}
	if got := cfg.DaemonSocketPath(config.BrokerDaemon); got != filepath.Join(wantRuntime, "broker.sock") {
		t.Fatalf("unexpected broker socket: %q", got)
	}
}

func TestLoadReadsFileAndNormalizes(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
runtime_dir = "~/run/warden"

[watchdog]
poll_interval = 1
ping_timeout = 1

[logging]
format = "JSON"
level = "DEBUG"

[daemons.broker]
command = "/opt/warden/bin/warden-broker"

[daemons.monitor]
command = "warden-monitor"
requires = ["broker"]

[daemons.manager]
enabled = false

[daemons.relay]
command = "warden-relay"
requires = ["broker"]
socket = "~/run/warden/relay-ctl.sock"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.RuntimeDir != filepath.Join(tempHome, "run", "warden") {
		t.Fatalf("runtime dir not expanded: %q", cfg.Paths.RuntimeDir)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	if cfg.Daemons["broker"].Command != "/opt/warden/bin/warden-broker" {
		t.Fatalf("broker command override lost: %q", cfg.Daemons["broker"].Command)
	}
	if cfg.Daemons["manager"].IsEnabled() {
		t.Fatal("expected manager disabled")
	}
	if got := cfg.DaemonSocketPath("relay"); got != filepath.Join(tempHome, "run", "warden", "relay-ctl.sock") {
		t.Fatalf("relay socket override lost: %q", got)
	}
	if cfg.EnabledDaemonCount() != 3 {
		t.Fatalf("unexpected enabled count: %d", cfg.EnabledDaemonCount())
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "zero poll interval",
			content: "[watchdog]\npoll_interval = 0\n",
			wantErr: "watchdog.poll_interval",
		},
		{
			name:    "zero ping failures",
			content: "[watchdog]\nping_failures = 0\n",
			wantErr: "watchdog.ping_failures",
		},
		{
			name:    "jitter out of range",
			content: "[restart]\njitter = 0.9\n",
			wantErr: "restart.jitter",
		},
		{
			name:    "max delay below initial",
			content: "[restart]\ninitial_delay = 30\nmax_delay = 5\n",
			wantErr: "restart.max_delay",
		},
		{
			name:    "unknown requirement",
			content: "[daemons.monitor]\nrequires = [\"mailer\"]\n",
			wantErr: "unknown daemon",
		},
		{
			name:    "self requirement",
			content: "[daemons.broker]\nrequires = [\"broker\"]\n",
			wantErr: "cannot require itself",
		},
		{
			name:    "enabled daemon requires disabled",
			content: "[daemons.broker]\nenabled = false\n[daemons.manager]\nenabled = false\n",
			wantErr: "which is disabled",
		},
		{
			name:    "reserved name",
			content: "[daemons.warden]\ncommand = \"warden-extra\"\n",
			wantErr: "reserved",
		},
		{
			name:    "bad daemon name",
			content: "[daemons.\"Broker Two\"]\ncommand = \"x\"\n",
			wantErr: "lowercase",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestExplicitEmptyRequiresStaysEmpty(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[daemons.monitor]\ncommand = \"warden-monitor\"\nrequires = []\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Daemons[config.MonitorDaemon].Requires; len(got) != 0 {
		t.Fatalf("expected explicit empty requires to stay empty, got %v", got)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.EnabledDaemonCount() != 3 {
		t.Fatalf("sample should enable the three stock daemons, got %d", cfg.EnabledDaemonCount())
	}
}

func TestExpandPathHome(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	got, err := config.ExpandPath("~/state/warden")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	if got != filepath.Join(tempHome, "state", "warden") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
