package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		step INTEGER NOT NULL,
		loop_step INTEGER NOT NULL,
		agent TEXT NOT NULL,
		pre_check INTEGER NOT NULL DEFAULT 0,
		signal TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_task_started ON runs(task_id, started_at);

	CREATE TABLE IF NOT EXISTS halts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		reason TEXT NOT NULL,
		signal TEXT NOT NULL,
		step INTEGER NOT NULL,
		message TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_halts_task ON halts(task_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
