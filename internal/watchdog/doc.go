// Package watchdog orchestrates the per-daemon supervisors for one run.
//
// The Watchdog owns one supervisor per roster daemon. Start brings the
// daemons up in dependency waves, waiting for each wave to become healthy
// before the next one spawns; a wave daemon that other daemons require and
// that fails its first startup aborts the whole run. Stop walks the waves in
// reverse so dependents are gone before the daemons they rely on.
//
// Between the two, the watchdog is a passive aggregation point: supervisors
// run their own monitor loops, and the watchdog answers status queries,
// relays operator start/stop/restart requests, and records supervision
// events to the run-state store, the metrics registry, and the notifier.
package watchdog
