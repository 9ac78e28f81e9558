// Package registry keeps a SQLite index of runs and evaluations under
// the output directory. It is advisory: the JSON documents on disk are
// the source of truth, and registry errors never fail a run.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sns-vibe/agentsim/internal/models"
)

// DBName is the registry database file name inside the output directory.
const DBName = "registry.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	simulation_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	end_reason    TEXT NOT NULL,
	goal          TEXT NOT NULL,
	snapshot_path TEXT NOT NULL,
	action_files  INTEGER NOT NULL,
	reach         INTEGER NOT NULL,
	engagement    INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
	evaluation_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	simulation_id TEXT NOT NULL,
	result_path   TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id);
`

// RunRow is one registry entry for a completed or failed run.
type RunRow struct {
	RunID        string
	SimulationID string
	Status       string
	EndReason    string
	Goal         string
	SnapshotPath string
	ActionFiles  int
	Reach        int
	Engagement   int
	CreatedAt    string
}

// EvaluationRow is one registry entry for a persisted evaluation.
type EvaluationRow struct {
	EvaluationID string
	RunID        string
	SimulationID string
	ResultPath   string
	CreatedAt    string
}

// Registry wraps the runs database.
type Registry struct {
	db *sql.DB
}

// Open creates or opens the registry under outDir.
func Open(outDir string) (*Registry, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	dbPath := filepath.Join(outDir, DBName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// RecordRun inserts or replaces the run's registry entry.
func (r *Registry) RecordRun(ctx context.Context, row RunRow) error {
	if row.CreatedAt == "" {
		row.CreatedAt = models.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, simulation_id, status, end_reason, goal, snapshot_path, action_files, reach, engagement, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.SimulationID, row.Status, row.EndReason, row.Goal,
		row.SnapshotPath, row.ActionFiles, row.Reach, row.Engagement, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", row.RunID, err)
	}
	return nil
}

// RecordEvaluation inserts or replaces an evaluation's registry entry.
func (r *Registry) RecordEvaluation(ctx context.Context, row EvaluationRow) error {
	if row.CreatedAt == "" {
		row.CreatedAt = models.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO evaluations
			(evaluation_id, run_id, simulation_id, result_path, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.EvaluationID, row.RunID, row.SimulationID, row.ResultPath, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording evaluation %s: %w", row.EvaluationID, err)
	}
	return nil
}

// LatestRunID returns the most recently recorded run id.
func (r *Registry) LatestRunID(ctx context.Context) (string, error) {
	var runID string
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id FROM runs ORDER BY created_at DESC, run_id DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("registry has no runs")
	}
	if err != nil {
		return "", fmt.Errorf("querying latest run: %w", err)
	}
	return runID, nil
}

// GetRun returns the registry entry for a run id.
func (r *Registry) GetRun(ctx context.Context, runID string) (RunRow, error) {
	var row RunRow
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, simulation_id, status, end_reason, goal, snapshot_path, action_files, reach, engagement, created_at
		FROM runs WHERE run_id = ?`, runID).Scan(
		&row.RunID, &row.SimulationID, &row.Status, &row.EndReason, &row.Goal,
		&row.SnapshotPath, &row.ActionFiles, &row.Reach, &row.Engagement, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return RunRow{}, fmt.Errorf("run %s not in registry", runID)
	}
	if err != nil {
		return RunRow{}, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return row, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 lists all.
func (r *Registry) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	query := `
		SELECT run_id, simulation_id, status, end_reason, goal, snapshot_path, action_files, reach, engagement, created_at
		FROM runs ORDER BY created_at DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(
			&row.RunID, &row.SimulationID, &row.Status, &row.EndReason, &row.Goal,
			&row.SnapshotPath, &row.ActionFiles, &row.Reach, &row.Engagement, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
