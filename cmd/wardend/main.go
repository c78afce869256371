// Command wardend runs the warden watchdog headless. Interactive use goes
// through `warden run`; this binary exists for systemd units and container
// entrypoints that want the watchdog without the CLI layer.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"warden/internal/config"
	"warden/internal/watchdogrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("WARDEN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}

	code, err := watchdogrun.Run(context.Background(), cfg, watchdogrun.Options{
		LogLevel:    os.Getenv("WARDEN_LOG_LEVEL"),
		Daemons:     splitDaemonList(os.Getenv("WARDEN_DAEMONS")),
		SanitizeFDs: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
	}
	os.Exit(code)
}

// splitDaemonList parses a comma-separated daemon selection. An empty value
// selects every enabled daemon.
func splitDaemonList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
