// Package proc spawns and controls supervised daemon processes.
//
// A Handle owns exactly one operating system process: it reaps the exit
// status on a dedicated goroutine, exposes a non-blocking exit query and a
// Done channel for select loops, and implements the graceful-then-forceful
// termination sequence (SIGTERM, grace period, SIGKILL to the process group).
// Processes are placed in their own process group at spawn so forced kills
// sweep any children the daemon left behind.
package proc
