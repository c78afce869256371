package supervisor

import "time"

// State is a supervisor's position in the daemon lifecycle.
type State string

const (
	// StateStopped means no process exists and none is wanted.
	StateStopped State = "stopped"
	// StateStarting means the process was spawned but has not answered a
	// ping yet.
	StateStarting State = "starting"
	// StateRunning means the process answers pings.
	StateRunning State = "running"
	// StateRestarting means the supervisor is waiting out a backoff delay
	// before the next spawn.
	StateRestarting State = "restarting"
	// StateStopping means a stop was requested and teardown is underway.
	StateStopping State = "stopping"
	// StateFailedPermanently means the retry budget is spent; the daemon
	// stays down until an operator starts it again.
	StateFailedPermanently State = "failed_permanently"
)

// Active reports whether a monitor loop currently owns the daemon.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRunning, StateRestarting, StateStopping:
		return true
	default:
		return false
	}
}

// Restart reasons attached to restart events, log lines, and metrics.
const (
	ReasonCrash          = "crash"
	ReasonUnresponsive   = "unresponsive"
	ReasonSpawnError     = "spawn_error"
	ReasonStartupTimeout = "startup_timeout"
)

// Snapshot is a point-in-time view of one supervised daemon.
type Snapshot struct {
	Daemon    string
	State     State
	PID       int
	StartedAt time.Time

	// Healthy reports whether the most recent ping was answered.
	Healthy bool

	// Restarts counts respawns performed during the current supervision
	// run, not including the first spawn.
	Restarts int

	// FailureStreak counts consecutive failures since the last stable
	// stretch; it feeds the backoff schedule.
	FailureStreak int

	// PingMisses counts consecutive unanswered pings in the current
	// running phase.
	PingMisses int

	LastError string
}
