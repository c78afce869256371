package roster_test

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"warden/internal/config"
	"warden/internal/roster"
)

func boolPtr(v bool) *bool { return &v }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Paths.RuntimeDir = "/run/warden-test"
	return &cfg
}

func TestDefaultRosterStartsBrokerFirst(t *testing.T) {
	r, err := roster.New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wantWaves := [][]string{{"broker"}, {"manager", "monitor"}}
	if got := r.StartWaves(); !reflect.DeepEqual(got, wantWaves) {
		t.Errorf("StartWaves() = %v, want %v", got, wantWaves)
	}
	wantOrder := []string{"broker", "manager", "monitor"}
	if got := r.StartOrder(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("StartOrder() = %v, want %v", got, wantOrder)
	}
	wantShutdown := []string{"monitor", "manager", "broker"}
	if got := r.ShutdownOrder(); !reflect.DeepEqual(got, wantShutdown) {
		t.Errorf("ShutdownOrder() = %v, want %v", got, wantShutdown)
	}
}

func TestDisabledDaemonLeftOut(t *testing.T) {
	cfg := testConfig()
	d := cfg.Daemons["manager"]
	d.Enabled = boolPtr(false)
	cfg.Daemons["manager"] = d

	r, err := roster.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if _, ok := r.Daemon("manager"); ok {
		t.Error("disabled daemon present in roster")
	}
}

func TestNarrowedRunValidatesSelection(t *testing.T) {
	cfg := testConfig()

	if _, err := roster.New(cfg, []string{"monitor"}); err == nil {
		t.Error("expected error when a requirement is left out of the run")
	} else if !strings.Contains(err.Error(), "broker") {
		t.Errorf("error %q does not name the missing requirement", err)
	}

	if _, err := roster.New(cfg, []string{"nosuch"}); err == nil {
		t.Error("expected error for unknown daemon")
	}

	d := cfg.Daemons["manager"]
	d.Enabled = boolPtr(false)
	cfg.Daemons["manager"] = d
	if _, err := roster.New(cfg, []string{"manager"}); err == nil {
		t.Error("expected error for disabled daemon")
	}

	r, err := roster.New(cfg, []string{"broker", "monitor"})
	if err != nil {
		t.Fatalf("New narrowed: %v", err)
	}
	if want := []string{"broker", "monitor"}; !reflect.DeepEqual(r.StartOrder(), want) {
		t.Errorf("StartOrder() = %v, want %v", r.StartOrder(), want)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	cfg := &config.Config{
		Paths: config.Paths{RuntimeDir: "/run/warden-test"},
		Daemons: map[string]config.Daemon{
			"alpha": {Command: "alpha", Requires: []string{"beta"}},
			"beta":  {Command: "beta", Requires: []string{"alpha"}},
			"solo":  {Command: "solo"},
		},
	}

	_, err := roster.New(cfg, nil)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q does not mention the cycle", err)
	}
	if !strings.Contains(err.Error(), "alpha") || !strings.Contains(err.Error(), "beta") {
		t.Errorf("error %q does not name the cycle members", err)
	}
}

func TestDependentsAreTransitive(t *testing.T) {
	cfg := testConfig()
	cfg.Daemons["relay"] = config.Daemon{Command: "relay", Requires: []string{"monitor"}}

	r, err := roster.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []string{"manager", "monitor", "relay"}
	if got := r.Dependents("broker"); !reflect.DeepEqual(got, want) {
		t.Errorf("Dependents(broker) = %v, want %v", got, want)
	}
	if got := r.Dependents("relay"); len(got) != 0 {
		t.Errorf("Dependents(relay) = %v, want none", got)
	}
}

func TestSocketPathsResolved(t *testing.T) {
	cfg := testConfig()
	d := cfg.Daemons["monitor"]
	d.Socket = "/tmp/custom-monitor.sock"
	cfg.Daemons["monitor"] = d

	r, err := roster.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mon, ok := r.Daemon("monitor")
	if !ok {
		t.Fatal("monitor missing from roster")
	}
	if mon.Socket != "/tmp/custom-monitor.sock" {
		t.Errorf("monitor socket = %q, want override", mon.Socket)
	}

	br, _ := r.Daemon("broker")
	if want := filepath.Join("/run/warden-test", "broker.sock"); br.Socket != want {
		t.Errorf("broker socket = %q, want %q", br.Socket, want)
	}
}
