package restart

import (
	"math/rand"
	"sync"
	"time"

	"warden/internal/config"
)

// Policy holds the pacing knobs for one daemon's restarts.
type Policy struct {
	// InitialDelay is the pause before the first restart attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth of the pause.
	MaxDelay time.Duration

	// Jitter is the fraction of the computed delay applied as a uniform
	// offset in [-Jitter*delay, +Jitter*delay). Zero disables jitter.
	Jitter float64

	// MaxRetries is the number of failures within RetryWindow after
	// which the daemon is declared permanently failed.
	MaxRetries int

	// RetryWindow is the sliding window over which failures count
	// toward MaxRetries.
	RetryWindow time.Duration

	// StabilityWindow is how long a daemon must stay up for its prior
	// failure history to be forgotten.
	StabilityWindow time.Duration
}

// FromConfig builds a Policy from the validated restart settings.
func FromConfig(rc config.Restart) Policy {
	return Policy{
		InitialDelay:    rc.InitialDelayDuration(),
		MaxDelay:        rc.MaxDelayDuration(),
		Jitter:          rc.Jitter,
		MaxRetries:      rc.MaxRetries,
		RetryWindow:     rc.RetryWindowDuration(),
		StabilityWindow: rc.StabilityWindowDuration(),
	}
}

// BaseDelay returns the unjittered pause before restart attempt n.
// Attempt numbering starts at 1; values below that are treated as 1.
func (p Policy) BaseDelay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Tracker applies a Policy to one daemon's failure history. All methods
// are safe for concurrent use.
type Tracker struct {
	policy Policy
	rng    *rand.Rand

	mu       sync.Mutex
	failures []time.Time
	attempt  int
	total    int
}

// NewTracker returns a Tracker with an empty history.
func NewTracker(p Policy) *Tracker {
	return &Tracker{
		policy: p,
		// Each tracker gets its own generator seeded from the global
		// source so jitter draws never contend on a shared generator.
		rng: rand.New(rand.NewSource(int64(rand.Uint64()))),
	}
}

// RecordFailure notes a daemon exit and returns the jittered pause
// before the next restart attempt. A run that lasted at least the
// stability window clears prior history before the exit is recorded,
// so the returned delay starts over from the initial value.
func (t *Tracker) RecordFailure(startedAt, exitedAt time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.policy.StabilityWindow > 0 && !startedAt.IsZero() &&
		exitedAt.Sub(startedAt) >= t.policy.StabilityWindow {
		t.failures = t.failures[:0]
		t.attempt = 0
	}

	t.attempt++
	t.total++
	t.prune(exitedAt)
	t.failures = append(t.failures, exitedAt)

	return t.jittered(t.policy.BaseDelay(t.attempt))
}

// GiveUp reports whether the failures recorded within the retry window
// have reached the ceiling.
func (t *Tracker) GiveUp(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)
	return t.policy.MaxRetries > 0 && len(t.failures) >= t.policy.MaxRetries
}

// Reset clears the failure history, as after an operator-requested
// restart or a stop.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = t.failures[:0]
	t.attempt = 0
}

// Attempt returns the consecutive failure count since the last stable
// run or reset.
func (t *Tracker) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.attempt
}

// Total returns the number of failures recorded over the tracker's
// lifetime, ignoring resets.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

func (t *Tracker) prune(now time.Time) {
	if t.policy.RetryWindow <= 0 {
		return
	}
	cutoff := now.Add(-t.policy.RetryWindow)
	kept := t.failures[:0]
	for _, ts := range t.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.failures = kept
}

func (t *Tracker) jittered(d time.Duration) time.Duration {
	if t.policy.Jitter <= 0 {
		return d
	}
	span := time.Duration(float64(d) * t.policy.Jitter)
	if span <= 0 {
		return d
	}
	return d + time.Duration(t.rng.Int63n(int64(2*span))-int64(span))
}
