package runstate

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertDaemonState writes the current view of one daemon within a run,
// replacing any previous row for the same daemon.
func (s *Store) UpsertDaemonState(ctx context.Context, runID string, rec DaemonRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daemon_states (run_id, daemon, state, pid, started_at, restarts, last_error, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, daemon) DO UPDATE SET
            state = excluded.state,
            pid = excluded.pid,
            started_at = excluded.started_at,
            restarts = excluded.restarts,
            last_error = excluded.last_error,
            updated_at = excluded.updated_at`,
		runID,
		rec.Daemon,
		rec.State,
		rec.PID,
		nullableTime(rec.StartedAt),
		rec.Restarts,
		nullableString(rec.LastError),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert daemon state: %w", err)
	}
	return nil
}

// DaemonStates returns the per-daemon rows for a run, ordered by daemon
// name.
func (s *Store) DaemonStates(ctx context.Context, runID string) ([]DaemonRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT daemon, state, pid, started_at, restarts, last_error, updated_at
         FROM daemon_states WHERE run_id = ? ORDER BY daemon`, runID)
	if err != nil {
		return nil, fmt.Errorf("query daemon states: %w", err)
	}
	defer rows.Close()

	var records []DaemonRecord
	for rows.Next() {
		var (
			rec        DaemonRecord
			startedRaw sql.NullString
			lastError  sql.NullString
			updatedRaw string
		)
		if err := rows.Scan(&rec.Daemon, &rec.State, &rec.PID, &startedRaw, &rec.Restarts, &lastError, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan daemon state: %w", err)
		}
		if startedRaw.Valid {
			if started, err := parseTimeString(startedRaw.String); err == nil {
				rec.StartedAt = started
			}
		}
		rec.LastError = lastError.String
		if updated, err := parseTimeString(updatedRaw); err == nil {
			rec.UpdatedAt = updated
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daemon states: %w", err)
	}
	return records, nil
}

// RecordTransition appends one daemon state change to the run's trail.
func (s *Store) RecordTransition(ctx context.Context, runID, daemon, from, to string, pid int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (run_id, daemon, from_state, to_state, pid, at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID, daemon, from, to, pid, formatTime(at))
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Transitions returns a run's state changes in commit order, optionally
// narrowed to one daemon.
func (s *Store) Transitions(ctx context.Context, runID, daemon string) ([]Transition, error) {
	query := `SELECT id, daemon, from_state, to_state, pid, at
              FROM transitions WHERE run_id = ?`
	args := []any{runID}
	if daemon != "" {
		query += " AND daemon = ?"
		args = append(args, daemon)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var (
			tr    Transition
			atRaw string
		)
		if err := rows.Scan(&tr.ID, &tr.Daemon, &tr.From, &tr.To, &tr.PID, &atRaw); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if at, err := parseTimeString(atRaw); err == nil {
			tr.At = at
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}
