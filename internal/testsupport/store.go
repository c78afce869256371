package testsupport

import (
	"context"
	"os"
	"testing"
	"time"

	"warden/internal/config"
	"warden/internal/runstate"
)

// MustOpenStore opens the run-state store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstate.Store {
	t.Helper()

	store, err := runstate.Open(cfg)
	if err != nil {
		t.Fatalf("runstate.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BeginRun records a run row for tests using the provided store.
func BeginRun(t testing.TB, store *runstate.Store, runID string) {
	t.Helper()

	if err := store.BeginRun(context.Background(), runID, os.Getpid(), time.Now()); err != nil {
		t.Fatalf("store.BeginRun: %v", err)
	}
}
