package roster

import (
	"fmt"
	"slices"
	"strings"

	"warden/internal/config"
)

// Daemon is the runtime descriptor for one supervised process. Socket is
// the resolved control-channel path, so later layers never reach back
// into configuration.
type Daemon struct {
	Name     string
	Command  string
	Args     []string
	Env      []string
	Requires []string
	Socket   string
}

// Roster is the dependency-ordered set of daemons selected for a run.
type Roster struct {
	byName map[string]Daemon
	waves  [][]string
	order  []string
}

// New selects the enabled daemons from cfg and orders them by
// dependency depth. A non-empty only list narrows the run to those
// daemons; every requirement of a selected daemon must be selected too.
// Dependency cycles are reported as errors because waves cannot be
// formed from them.
func New(cfg *config.Config, only []string) (*Roster, error) {
	selected, err := selectDaemons(cfg, only)
	if err != nil {
		return nil, err
	}

	r := &Roster{byName: make(map[string]Daemon, len(selected))}
	for _, name := range selected {
		dc := cfg.Daemons[name]
		r.byName[name] = Daemon{
			Name:     name,
			Command:  dc.Command,
			Args:     slices.Clone(dc.Args),
			Env:      slices.Clone(dc.Env),
			Requires: slices.Clone(dc.Requires),
			Socket:   cfg.DaemonSocketPath(name),
		}
	}

	if err := r.buildWaves(selected); err != nil {
		return nil, err
	}
	return r, nil
}

func selectDaemons(cfg *config.Config, only []string) ([]string, error) {
	var selected []string
	if len(only) == 0 {
		for name, dc := range cfg.Daemons {
			if dc.IsEnabled() {
				selected = append(selected, name)
			}
		}
		slices.Sort(selected)
		return selected, nil
	}

	for _, name := range only {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dc, ok := cfg.Daemons[name]
		if !ok {
			return nil, fmt.Errorf("daemon %q is not configured", name)
		}
		if !dc.IsEnabled() {
			return nil, fmt.Errorf("daemon %q is disabled", name)
		}
		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no daemons selected")
	}
	slices.Sort(selected)

	for _, name := range selected {
		for _, req := range cfg.Daemons[name].Requires {
			if !slices.Contains(selected, req) {
				return nil, fmt.Errorf("daemon %q requires %q, which is not part of this run", name, req)
			}
		}
	}
	return selected, nil
}

// buildWaves peels daemons whose requirements are already placed. If a
// pass places nothing, the remainder must contain a cycle.
func (r *Roster) buildWaves(selected []string) error {
	placed := make(map[string]bool, len(selected))
	remaining := slices.Clone(selected)

	for len(remaining) > 0 {
		var wave []string
		for _, name := range remaining {
			ready := true
			for _, req := range r.byName[name].Requires {
				if !placed[req] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			return fmt.Errorf("dependency cycle among daemons: %s", strings.Join(remaining, ", "))
		}

		for _, name := range wave {
			placed[name] = true
		}
		remaining = slices.DeleteFunc(remaining, func(name string) bool { return placed[name] })

		r.waves = append(r.waves, wave)
		r.order = append(r.order, wave...)
	}
	return nil
}

// Daemon returns the descriptor for name.
func (r *Roster) Daemon(name string) (Daemon, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Len returns the number of daemons in the roster.
func (r *Roster) Len() int { return len(r.byName) }

// StartWaves returns the daemons grouped by dependency depth, in the
// order waves must be started.
func (r *Roster) StartWaves() [][]string {
	waves := make([][]string, len(r.waves))
	for i, wave := range r.waves {
		waves[i] = slices.Clone(wave)
	}
	return waves
}

// StartOrder returns every daemon in start order.
func (r *Roster) StartOrder() []string {
	return slices.Clone(r.order)
}

// ShutdownOrder returns every daemon in reverse start order.
func (r *Roster) ShutdownOrder() []string {
	order := slices.Clone(r.order)
	slices.Reverse(order)
	return order
}

// Dependents returns the daemons that require name, directly or
// transitively, in start order.
func (r *Roster) Dependents(name string) []string {
	covered := map[string]bool{name: true}
	var out []string
	for _, candidate := range r.order {
		if covered[candidate] {
			continue
		}
		for _, req := range r.byName[candidate].Requires {
			if covered[req] {
				covered[candidate] = true
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
