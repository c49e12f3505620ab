package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// queryTimeout bounds every ledger statement.
const queryTimeout = 5 * time.Second

// timeLayout is how timestamps are stored; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one agent step driven by the executor.
type Run struct {
	ID         string
	TaskID     string
	Flow       string
	Step       int
	LoopStep   int
	Agent      string
	PreCheck   bool // satisfied by the step's pre_check, no agent launched
	Signal     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in flight
}

// Finished reports whether the run has a recorded result.
func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// RunResult closes a run.
type RunResult struct {
	Signal     string
	PreCheck   bool
	Err        error
	FinishedAt time.Time
}

// Halt is one executor halt.
type Halt struct {
	TaskID    string
	Flow      string
	Reason    string
	Signal    string
	Step      int
	Message   string
	CreatedAt time.Time
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// StartRun inserts an open run and returns its id. A run without an id
// gets a fresh UUID.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, flow, step, loop_step, agent, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.Flow, run.Step, run.LoopStep, run.Agent, formatTime(run.StartedAt))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return run.ID, nil
}

// FinishRun records the result of a run started with StartRun.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result RunResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	errStr := ""
	if result.Err != nil {
		errStr = result.Err.Error()
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET signal = ?, pre_check = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, result.Signal, result.PreCheck, errStr, formatTime(result.FinishedAt), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns a task's runs, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, taskID string, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, flow, step, loop_step, agent, pre_check, signal, error, started_at, finished_at
		FROM runs
		WHERE task_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Flow, &r.Step, &r.LoopStep, &r.Agent, &r.PreCheck, &r.Signal, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RecordHalt appends a halt.
func (s *SQLiteStore) RecordHalt(ctx context.Context, halt Halt) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if halt.CreatedAt.IsZero() {
		halt.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO halts (task_id, flow, reason, signal, step, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, halt.TaskID, halt.Flow, halt.Reason, halt.Signal, halt.Step, halt.Message, formatTime(halt.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert halt: %w", err)
	}
	return nil
}

// ListHalts returns a task's halts, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListHalts(ctx context.Context, taskID string, limit int) ([]Halt, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, flow, reason, signal, step, message, created_at
		FROM halts
		WHERE task_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query halts: %w", err)
	}
	defer rows.Close()

	halts := []Halt{}
	for rows.Next() {
		var h Halt
		var created string
		if err := rows.Scan(&h.TaskID, &h.Flow, &h.Reason, &h.Signal, &h.Step, &h.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan halt: %w", err)
		}
		if h.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("halt: bad created_at: %w", err)
		}
		halts = append(halts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating halts: %w", err)
	}
	return halts, nil
}

// DeleteTask removes every row belonging to a task.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM runs WHERE task_id = ?`,
		`DELETE FROM halts WHERE task_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, taskID); err != nil {
			return fmt.Errorf("failed to delete ledger rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
