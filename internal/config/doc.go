// Package config loads, normalizes, and validates warden configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and derives the per-daemon control socket
// locations under the runtime directory. The Config type centralizes every
// knob the watchdog and CLI need: supervision timing, restart policy bounds,
// the daemon roster, and log routing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
