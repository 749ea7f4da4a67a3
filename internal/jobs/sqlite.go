package jobs

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	manifest_hash  TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL DEFAULT '',
	input_count    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	error_kind     TEXT NOT NULL DEFAULT '',
	error_details  TEXT NOT NULL DEFAULT '',
	page_count     INTEGER NOT NULL DEFAULT 0,
	output         TEXT NOT NULL DEFAULT '',
	warnings       TEXT NOT NULL DEFAULT '[]',
	workflow_execution_id TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_hash ON jobs(manifest_hash);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`

const columns = `id, manifest_hash, source, mode, input_count, status, error_kind, error_details,
	page_count, output, warnings, workflow_execution_id, created_at, updated_at`

// SQLiteStore keeps job history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the history database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("jobs: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobs: open: %w", err)
	}
	// one connection so an in-memory database is shared by every query
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 10000", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("jobs: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DefaultHistoryPath is where the CLI keeps its history.
func DefaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "scanmerge", "history.db")
}

func (s *SQLiteStore) FindByHash(ctx context.Context, manifestHash string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs
		WHERE manifest_hash = ? AND status != ? ORDER BY created_at DESC LIMIT 1`, manifestHash, models.StatusFailed)
	return scanJob(row)
}

func (s *SQLiteStore) Create(ctx context.Context, job *models.Job) (string, error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	warnings, err := json.Marshal(nonNil(job.Warnings))
	if err != nil {
		return "", fmt.Errorf("jobs: encode warnings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO jobs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ManifestHash, job.Source, job.Mode, job.InputCount, job.Status, job.ErrorKind, job.ErrorDetails,
		job.PageCount, job.Output, string(warnings), job.WorkflowExecutionID, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("jobs: insert: %w", err)
	}
	return job.ID, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, u models.JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().UnixNano()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != "" {
		add("status", u.Status)
	}
	if u.ErrorKind != "" {
		add("error_kind", u.ErrorKind)
	}
	if u.ErrorDetails != "" {
		add("error_details", u.ErrorDetails)
	}
	if u.PageCount > 0 {
		add("page_count", u.PageCount)
	}
	if u.Output != "" {
		add("output", u.Output)
	}
	if len(u.Warnings) > 0 {
		data, err := json.Marshal(u.Warnings)
		if err != nil {
			return fmt.Errorf("jobs: encode warnings: %w", err)
		}
		add("warnings", string(data))
	}
	if u.WorkflowExecutionID != "" {
		add("workflow_execution_id", u.WorkflowExecutionID)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("jobs: update %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs WHERE id = ?`, id))
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job              models.Job
		warnings         string
		created, updated int64
	)
	err := row.Scan(&job.ID, &job.ManifestHash, &job.Source, &job.Mode, &job.InputCount, &job.Status,
		&job.ErrorKind, &job.ErrorDetails, &job.PageCount, &job.Output, &warnings, &job.WorkflowExecutionID,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: scan: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &job.Warnings); err != nil {
		return nil, fmt.Errorf("jobs: decode warnings of %s: %w", job.ID, err)
	}
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return &job, nil
}

func nonNil(w []errs.Warning) []errs.Warning {
	if w == nil {
		return []errs.Warning{}
	}
	return w
}
