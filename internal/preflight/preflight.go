package preflight

import (
	"warden/internal/config"
	"warden/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all path and socket checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Runtime directory", cfg.Paths.RuntimeDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckSocketPaths(cfg),
	}
	return results
}

// CheckDaemonCommands evaluates the executables for all enabled daemons.
// The watchdog and the CLI both use this to avoid duplicating the roster walk.
func CheckDaemonCommands(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	return deps.CheckBinaries(deps.DaemonRequirements(cfg))
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
