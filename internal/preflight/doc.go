// Package preflight provides readiness checks for the filesystem paths and
// daemon commands warden depends on.
//
// These checks run in two contexts:
//   - The watchdog runs them once at startup and logs failures before the
//     first daemon spawns, so a doomed run announces itself immediately.
//   - The CLI "warden config validate" command uses them to report problems
//     without starting the watchdog.
//
// A failed check is advisory. Spawning still proceeds, because the restart
// policy handles a missing binary the same way it handles a crash.
package preflight
