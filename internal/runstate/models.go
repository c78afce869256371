package runstate

import "time"

// Run records one watchdog invocation.
type Run struct {
	ID          string
	WatchdogPID int
	StartedAt   time.Time
	// EndedAt is zero while the run is live or was cut short without a
	// clean shutdown.
	EndedAt  time.Time
	ExitCode int
}

// Ended reports whether the run recorded a clean end.
func (r Run) Ended() bool { return !r.EndedAt.IsZero() }

// DaemonRecord is the persisted view of one daemon within a run.
type DaemonRecord struct {
	Daemon    string
	State     string
	PID       int
	StartedAt time.Time
	Restarts  int
	LastError string
	UpdatedAt time.Time
}

// Transition is one persisted daemon state change. IDs increase in commit
// order, so they give a total order even when timestamps collide.
type Transition struct {
	ID     int64
	Daemon string
	From   string
	To     string
	PID    int
	At     time.Time
}
