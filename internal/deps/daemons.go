package deps

import (
	"fmt"
	"slices"
	"strings"

	"warden/internal/config"
)

// DaemonRequirements lists the command behind every enabled daemon in name
// order. Disabled daemons are skipped; they are never spawned, so a missing
// binary is not a fault.
func DaemonRequirements(cfg *config.Config) []Requirement {
	names := make([]string, 0, len(cfg.Daemons))
	for name, d := range cfg.Daemons {
		if d.IsEnabled() {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	reqs := make([]Requirement, 0, len(names))
	for _, name := range names {
		reqs = append(reqs, Requirement{
			Name:        name,
			Command:     strings.TrimSpace(cfg.Daemons[name].Command),
			Description: fmt.Sprintf("Command for the %s daemon", name),
		})
	}
	return reqs
}
