// Package runstore persists repo test runs and API credentials in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// ErrNotFound is returned when a credential to delete does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed run and credential persistence
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath. ":memory:" is accepted.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writes from concurrent runs and keeps
	// an in-memory database shared across callers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateRun records a new run in the running state and returns its id
func (s *Store) CreateRun(ctx context.Context, req domain.RepoTestRequest, batchID string) (int64, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_test_runs (batch_id, repo_url, ref, prompt, test_command, tool, model, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		batchID,
		req.RepoURL,
		req.Ref,
		req.Prompt,
		req.TestCommand,
		req.Tool,
		req.Model,
		string(domain.RunRunning),
		ts,
		ts,
	)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRun applies the non-nil fields of u to run id
func (s *Store) UpdateRun(ctx context.Context, id int64, u domain.RunUpdate) error {
	var sets []string
	var args []any

	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.CloneDurationMS != nil {
		set("clone_duration_ms", *u.CloneDurationMS)
	}
	if u.ToolDurationMS != nil {
		set("tool_duration_ms", *u.ToolDurationMS)
	}
	if u.TestDurationMS != nil {
		set("test_duration_ms", *u.TestDurationMS)
	}
	if u.TotalDurationMS != nil {
		set("total_duration_ms", *u.TotalDurationMS)
	}
	if u.TestsPassed != nil {
		set("tests_passed", *u.TestsPassed)
	}
	if u.TestsFailed != nil {
		set("tests_failed", *u.TestsFailed)
	}
	if u.TestsTotal != nil {
		set("tests_total", *u.TestsTotal)
	}
	if u.TestOutput != nil {
		set("test_output", *u.TestOutput)
	}
	if u.ToolOutput != nil {
		set("tool_output", *u.ToolOutput)
	}
	if u.Iterations != nil {
		data, err := json.Marshal(u.Iterations)
		if err != nil {
			return fmt.Errorf("encoding iterations: %w", err)
		}
		set("iterations", string(data))
	}
	if u.Error != nil {
		set("error", *u.Error)
	}

	if len(sets) == 0 {
		return nil
	}
	set("updated_at", now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE repo_test_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating run %d: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `id, batch_id, repo_url, ref, prompt, test_command, tool, model, status,
	clone_duration_ms, tool_duration_ms, test_duration_ms, total_duration_ms,
	tests_passed, tests_failed, tests_total, test_output, tool_output, iterations, error,
	created_at, updated_at`

// GetRun returns the run with the given id, or nil when it does not exist
func (s *Store) GetRun(ctx context.Context, id int64) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM repo_test_runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListRuns returns up to limit runs, most recent first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM repo_test_runs ORDER BY id DESC LIMIT ?`, limit)
}

// ListBatchRuns returns the runs that belong to a batch, in creation order
func (s *Store) ListBatchRuns(ctx context.Context, batchID string) ([]*domain.RunRecord, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM repo_test_runs WHERE batch_id = ? ORDER BY id`, batchID)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var status, iterations, createdAt, updatedAt string

	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.RepoURL, &rec.Ref, &rec.Prompt, &rec.TestCommand, &rec.Tool, &rec.Model, &status,
		&rec.CloneDurationMS, &rec.ToolDurationMS, &rec.TestDurationMS, &rec.TotalDurationMS,
		&rec.TestsPassed, &rec.TestsFailed, &rec.TestsTotal, &rec.TestOutput, &rec.ToolOutput, &iterations, &rec.Error,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.RunStatus(status)
	if iterations != "" {
		if err := json.Unmarshal([]byte(iterations), &rec.Iterations); err != nil {
			return nil, fmt.Errorf("decoding iterations of run %d: %w", rec.ID, err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &rec, nil
}
