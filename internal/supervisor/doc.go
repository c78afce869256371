// Package supervisor drives the lifecycle of a single daemon: spawn it,
// ping it on a fixed cadence, restart it with backoff when it crashes or
// stops answering, and give up once the retry budget is spent.
//
// Each Supervisor owns one monitor goroutine. The goroutine walks the
// daemon through Starting, Running, Restarting, and Stopping, and parks in
// FailedPermanently when failures within the retry window exceed the
// ceiling. Operator-initiated Start calls clear that verdict and begin a
// fresh supervision run with an empty failure history.
//
// The package talks to daemons through two narrow seams. Control carries
// liveness pings and cooperative exit requests; Process owns the spawned
// operating system process. Production wiring uses ipc.DaemonControl and
// proc.Spawn, while tests substitute in-memory fakes to script failures
// without real processes.
package supervisor
