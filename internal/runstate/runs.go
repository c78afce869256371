package runstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BeginRun records the start of a watchdog invocation.
func (s *Store) BeginRun(ctx context.Context, id string, watchdogPID int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, watchdog_pid, started_at) VALUES (?, ?, ?)",
		id, watchdogPID, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EndRun records the exit code and end time of a run.
func (s *Store) EndRun(ctx context.Context, id string, exitCode int, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET ended_at = ?, exit_code = ? WHERE id = ?",
		formatTime(endedAt), exitCode, id)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or nil when the database
// has none.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, watchdog_pid, started_at, ended_at, exit_code
         FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// GetRun returns the run with the given id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, watchdog_pid, started_at, ended_at, exit_code
         FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// PruneRuns deletes all but the most recent keep runs, cascading to their
// daemon states and transitions. It returns the number of runs removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (
            SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
        )`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedRaw string
		endedRaw   sql.NullString
		exitCode   sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.WatchdogPID, &startedRaw, &endedRaw, &exitCode); err != nil {
		return nil, err
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			run.EndedAt = ended
		}
	}
	if exitCode.Valid {
		run.ExitCode = int(exitCode.Int64)
	}
	return &run, nil
}
