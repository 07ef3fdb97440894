// Package checkpoint persists plans and step updates to SQLite and keeps a
// memory of completed plans that can seed new ones.
//
// Steps are stored whole. Every save replaces the stored step keyed by
// (plan id, step id) and keeps its original position, so loading a plan
// gives the same list the merge reducer produced.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/conductor/internal/step"
)

// Store is a SQLite-backed plan store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		completion_criteria_json TEXT,
		estimated_ns INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		plan_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		status TEXT NOT NULL,
		step_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (plan_id, step_id)
	);

	CREATE INDEX IF NOT EXISTS idx_steps_position ON steps(plan_id, position);

	CREATE TABLE IF NOT EXISTS memory (
		task_key TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		steps_json TEXT NOT NULL,
		recorded_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePlan upserts plan metadata and all of its steps.
func (s *Store) SavePlan(ctx context.Context, plan *step.TaskPlan) error {
	criteria, err := json.Marshal(plan.CompletionCriteria)
	if err != nil {
		return fmt.Errorf("marshal completion criteria: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, task, completion_criteria_json, estimated_ns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task = excluded.task,
			completion_criteria_json = excluded.completion_criteria_json,
			estimated_ns = excluded.estimated_ns,
			updated_at = excluded.updated_at
	`, plan.ID, plan.Task, string(criteria), int64(plan.EstimatedDuration), plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return s.SaveSteps(ctx, plan.ID, plan.Steps)
}

// LoadPlan returns the plan with its steps in stored order.
func (s *Store) LoadPlan(ctx context.Context, planID string) (*step.TaskPlan, error) {
	plan := &step.TaskPlan{ID: planID}
	var (
		criteria  sql.NullString
		estimated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task, completion_criteria_json, estimated_ns, created_at, updated_at
		FROM plans WHERE id = ?
	`, planID).Scan(&plan.Task, &criteria, &estimated, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	plan.EstimatedDuration = time.Duration(estimated)
	if criteria.Valid && criteria.String != "" {
		if err := json.Unmarshal([]byte(criteria.String), &plan.CompletionCriteria); err != nil {
			return nil, fmt.Errorf("decode completion criteria: %w", err)
		}
	}

	steps, err := s.LoadSteps(ctx, planID)
	if err != nil {
		return nil, err
	}
	plan.Steps = steps
	return plan, nil
}

// SaveSteps replaces each step keyed by (planID, step id). A step seen for
// the first time is appended after the plan's existing steps, in argument
// order; a known step keeps its position.
func (s *Store) SaveSteps(ctx context.Context, planID string, steps []step.ExecutionStep) error {
	if len(steps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps (plan_id, step_id, position, status, step_json, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM steps WHERE plan_id = ?), ?, ?, ?)
		ON CONFLICT(plan_id, step_id) DO UPDATE SET
			status = excluded.status,
			step_json = excluded.step_json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	for _, st := range steps {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal step %s: %w", st.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, planID, st.ID, planID, string(st.Status), string(data), now); err != nil {
			return fmt.Errorf("save step %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// LoadSteps returns the stored steps of a plan in position order.
func (s *Store) LoadSteps(ctx context.Context, planID string) ([]step.ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_json FROM steps WHERE plan_id = ? ORDER BY position ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []step.ExecutionStep
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st step.ExecutionStep
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// CountByStatus returns the number of stored steps per status for a plan.
func (s *Store) CountByStatus(ctx context.Context, planID string) (map[step.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM steps WHERE plan_id = ? GROUP BY status
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("count steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[step.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[step.Status(status)] = n
	}
	return counts, rows.Err()
}
