package supervisor

import (
	"time"

	"warden/internal/proc"
)

// Observer receives supervision lifecycle events. Implementations must
// return quickly and must not call back into the supervisor; the monitor
// loop invokes them inline.
type Observer interface {
	// StateChanged fires on every state transition.
	StateChanged(daemon string, from, to State)

	// ProcessStarted fires after each successful spawn.
	ProcessStarted(daemon string, pid int)

	// ProcessExited fires when a process died or had to be terminated,
	// not on operator-requested stops.
	ProcessExited(daemon string, exit proc.ExitState)

	// PingFailed fires on each unanswered ping while running.
	PingFailed(daemon string, misses int, err error)

	// RestartScheduled fires once per backoff pause, before the delay
	// elapses.
	RestartScheduled(daemon string, attempt int, delay time.Duration, reason string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StateChanged(string, State, State) {}

func (NopObserver) ProcessStarted(string, int) {}

func (NopObserver) ProcessExited(string, proc.ExitState) {}

func (NopObserver) PingFailed(string, int, error) {}

func (NopObserver) RestartScheduled(string, int, time.Duration, string) {}
