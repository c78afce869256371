// Package runstate persists watchdog run history to SQLite.
//
// Each watchdog invocation is a run row keyed by its UUID. While the run is
// live, the watchdog upserts one row per daemon with its current state and
// appends a transition row for every state change, giving status commands a
// view that survives the watchdog itself and giving operators an ordered
// trail of what happened when.
//
// The schema is embedded and versioned. A version mismatch refuses to open
// rather than migrate; the database is a disposable journal, so deleting it
// is always safe.
package runstate
