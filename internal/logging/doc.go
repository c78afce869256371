// Package logging assembles structured slog loggers and formatting helpers
// used across the warden binaries.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes standardized field keys so supervisor and watchdog
// code tag log lines with daemon names, PIDs, and run identifiers the same
// way everywhere. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape and routing guarantees as the rest
// of the system.
package logging
