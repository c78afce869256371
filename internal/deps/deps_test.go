package deps

import (
	"os"
	"path/filepath"
	"testing"

	"warden/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "   "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available {
		t.Fatalf("expected unset command to be unavailable")
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %s", results[2].Detail)
	}
}

func TestDaemonRequirementsSortedAndEnabledOnly(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Daemons = map[string]config.Daemon{
		"monitor": {Command: "/usr/bin/monitord"},
		"broker":  {Command: "/usr/bin/brokerd"},
		"legacy":  {Command: "/usr/bin/legacyd", Enabled: &disabled},
	}

	reqs := DaemonRequirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].Name != "broker" || reqs[1].Name != "monitor" {
		t.Fatalf("unexpected order: %s, %s", reqs[0].Name, reqs[1].Name)
	}
	if reqs[0].Command != "/usr/bin/brokerd" {
		t.Fatalf("unexpected command: %s", reqs[0].Command)
	}
}
