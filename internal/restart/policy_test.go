package restart_test

import (
	"testing"
	"time"

	"warden/internal/config"
	"warden/internal/restart"
)

func testPolicy() restart.Policy {
	return restart.Policy{
		InitialDelay:    time.Second,
		MaxDelay:        10 * time.Second,
		MaxRetries:      3,
		RetryWindow:     time.Minute,
		StabilityWindow: time.Minute,
	}
}

func TestBaseDelayDoublesUntilCap(t *testing.T) {
	p := testPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: time.Second},
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 50, want: 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.BaseDelay(tc.attempt); got != tc.want {
			t.Errorf("BaseDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRecordFailureWithoutJitterIsExact(t *testing.T) {
	p := testPolicy()
	p.StabilityWindow = 0
	tracker := restart.NewTracker(p)

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		exit := start.Add(time.Duration(i) * time.Second)
		if got := tracker.RecordFailure(start, exit); got != w {
			t.Fatalf("attempt %d: delay %v, want %v", i+1, got, w)
		}
	}
	if got := tracker.Attempt(); got != len(want) {
		t.Fatalf("Attempt() = %d, want %d", got, len(want))
	}
}

func TestRecordFailureJitterStaysInBounds(t *testing.T) {
	p := testPolicy()
	p.Jitter = 0.2
	tracker := restart.NewTracker(p)

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	low := 800 * time.Millisecond
	high := 1200 * time.Millisecond
	for i := 0; i < 500; i++ {
		got := tracker.RecordFailure(start, start.Add(time.Duration(i)*time.Millisecond))
		if got < low || got >= high {
			t.Fatalf("sample %d: delay %v outside [%v, %v)", i, got, low, high)
		}
		tracker.Reset()
	}
}

func TestGiveUpAtCeilingWithinWindow(t *testing.T) {
	p := testPolicy()
	tracker := restart.NewTracker(p)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		exit := base.Add(time.Duration(i) * time.Second)
		tracker.RecordFailure(exit.Add(-100*time.Millisecond), exit)
	}
	if tracker.GiveUp(base.Add(2 * time.Second)) {
		t.Fatal("gave up below the retry ceiling")
	}

	exit := base.Add(2 * time.Second)
	tracker.RecordFailure(exit.Add(-100*time.Millisecond), exit)
	if !tracker.GiveUp(base.Add(3 * time.Second)) {
		t.Fatal("expected give-up after reaching the ceiling inside the window")
	}
}

func TestOldFailuresFallOutOfWindow(t *testing.T) {
	p := testPolicy()
	p.MaxRetries = 2
	tracker := restart.NewTracker(p)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := base
	second := base.Add(45 * time.Second)
	tracker.RecordFailure(first.Add(-100*time.Millisecond), first)
	tracker.RecordFailure(second.Add(-100*time.Millisecond), second)

	if !tracker.GiveUp(base.Add(50 * time.Second)) {
		t.Fatal("expected give-up while both failures sit inside the window")
	}
	if tracker.GiveUp(base.Add(70 * time.Second)) {
		t.Fatal("gave up after the first failure slid out of the window")
	}
}

func TestStableRunClearsHistory(t *testing.T) {
	p := testPolicy()
	tracker := restart.NewTracker(p)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.RecordFailure(base, base.Add(time.Second))
	tracker.RecordFailure(base.Add(2*time.Second), base.Add(3*time.Second))
	if got := tracker.Attempt(); got != 2 {
		t.Fatalf("Attempt() = %d before stable run, want 2", got)
	}

	// The third run outlives the stability window, so its crash is
	// treated as a fresh first failure.
	start := base.Add(4 * time.Second)
	exit := start.Add(p.StabilityWindow + 5*time.Second)
	if got := tracker.RecordFailure(start, exit); got != p.InitialDelay {
		t.Fatalf("delay after stable run = %v, want %v", got, p.InitialDelay)
	}
	if got := tracker.Attempt(); got != 1 {
		t.Fatalf("Attempt() = %d after stable run, want 1", got)
	}
	if tracker.GiveUp(exit) {
		t.Fatal("gave up with only one failure on record")
	}
}

func TestResetClearsAttemptButNotTotal(t *testing.T) {
	p := testPolicy()
	tracker := restart.NewTracker(p)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.RecordFailure(base, base.Add(time.Second))
	tracker.RecordFailure(base.Add(2*time.Second), base.Add(3*time.Second))

	tracker.Reset()
	if got := tracker.Attempt(); got != 0 {
		t.Fatalf("Attempt() = %d after reset, want 0", got)
	}
	if tracker.GiveUp(base.Add(4 * time.Second)) {
		t.Fatal("gave up after reset")
	}
	if got := tracker.Total(); got != 2 {
		t.Fatalf("Total() = %d after reset, want 2", got)
	}

	if got := tracker.RecordFailure(base.Add(5*time.Second), base.Add(6*time.Second)); got != p.InitialDelay {
		t.Fatalf("delay after reset = %v, want %v", got, p.InitialDelay)
	}
}

func TestFromConfigCarriesDurations(t *testing.T) {
	rc := config.Restart{
		InitialDelay:    2,
		MaxDelay:        30,
		Jitter:          0.1,
		MaxRetries:      4,
		RetryWindow:     120,
		StabilityWindow: 90,
	}
	p := restart.FromConfig(rc)

	if p.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", p.InitialDelay)
	}
	if p.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", p.MaxDelay)
	}
	if p.Jitter != 0.1 {
		t.Errorf("Jitter = %v, want 0.1", p.Jitter)
	}
	if p.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want 4", p.MaxRetries)
	}
	if p.RetryWindow != 2*time.Minute {
		t.Errorf("RetryWindow = %v, want 2m", p.RetryWindow)
	}
	if p.StabilityWindow != 90*time.Second {
		t.Errorf("StabilityWindow = %v, want 90s", p.StabilityWindow)
	}
}
