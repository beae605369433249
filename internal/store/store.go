package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// Store is the SQLite-backed run history. Every pipeline run and stage
// result lands here so operators can see which stage a failed run died in
// before re-running.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts a new run in running state.
func (s *Store) BeginRun(ctx context.Context, run api.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run api.RunRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, failed_stage = ?, error = ? WHERE id = ?`,
		run.FinishedAt, run.Status, run.FailedStage, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// SaveStage records one stage result within a run.
func (s *Store) SaveStage(ctx context.Context, sr api.StageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_results (run_id, ordinal, stage, status, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sr.RunID, sr.Ordinal, sr.Stage, sr.Status, sr.StartedAt, sr.FinishedAt, sr.Error)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]api.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, COALESCE(finished_at, started_at), status,
		        COALESCE(failed_stage, ''), COALESCE(error, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []api.RunRecord
	for rows.Next() {
		var r api.RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.FailedStage, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStages returns the stage results of one run in execution order.
func (s *Store) ListStages(ctx context.Context, runID string) ([]api.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ordinal, stage, status, started_at, COALESCE(finished_at, started_at), COALESCE(error, '')
		 FROM stage_results WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()
	var out []api.StageRecord
	for rows.Next() {
		var sr api.StageRecord
		if err := rows.Scan(&sr.RunID, &sr.Ordinal, &sr.Stage, &sr.Status, &sr.StartedAt, &sr.FinishedAt, &sr.Error); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
