// Package history archives terminal workflow outcomes in a local SQLite
// database so completed and failed runs survive queue state rotation.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one archived workflow outcome.
type Record struct {
	ID          int64     `json:"id"`
	Repository  string    `json:"repository"`
	IssueNumber int       `json:"issue_number"`
	Title       string    `json:"title"`
	Outcome     string    `json:"outcome"`
	FailureKind string    `json:"failure_kind,omitempty"`
	PRURL       string    `json:"pr_url,omitempty"`
	Attempts    int       `json:"attempts"`
	Worker      string    `json:"worker,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store is the SQLite-backed archive.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	repository   TEXT NOT NULL,
	issue_number INTEGER NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	pr_url       TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	worker       TEXT NOT NULL DEFAULT '',
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS workflows_repo_issue ON workflows (repository, issue_number);
`

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite allows a single writer; the orchestrator is that writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append archives one terminal outcome.
func (s *Store) Append(ctx context.Context, r Record) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows
			(repository, issue_number, title, outcome, failure_kind, pr_url, attempts, worker, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Repository, r.IssueNumber, r.Title, r.Outcome, r.FailureKind,
		r.PRURL, r.Attempts, r.Worker, r.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("archiving workflow %s#%d: %w", r.Repository, r.IssueNumber, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository, issue_number, title, outcome, failure_kind, pr_url, attempts, worker, finished_at
		FROM workflows ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ForIssue returns every archived run of an issue, newest first.
func (s *Store) ForIssue(ctx context.Context, repo string, number int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository, issue_number, title, outcome, failure_kind, pr_url, attempts, worker, finished_at
		FROM workflows WHERE repository = ? AND issue_number = ? ORDER BY id DESC`, repo, number)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s#%d: %w", repo, number, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var finished string
		if err := rows.Scan(&r.ID, &r.Repository, &r.IssueNumber, &r.Title, &r.Outcome,
			&r.FailureKind, &r.PRURL, &r.Attempts, &r.Worker, &finished); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, finished)
		if err == nil {
			r.FinishedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
