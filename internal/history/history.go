package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Status is the last known fate of an article address
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Ledger remembers article addresses across runs using SQLite.
// Only written addresses count as done; skipped and failed ones are tried again.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at dbPath
func Open(dbPath string) (*Ledger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// fetch callbacks mark concurrently, sqlite takes one writer
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		url TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		run_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_articles_target ON articles(target);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Done reports whether url was written by an earlier run
func (l *Ledger) Done(ctx context.Context, url string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx, "SELECT status FROM articles WHERE url = ?", url).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", url, err)
	}
	return Status(status) == StatusWritten, nil
}

// Pending returns the urls not yet written, keeping their order
func (l *Ledger) Pending(ctx context.Context, urls []string) ([]string, error) {
	pending := make([]string, 0, len(urls))
	for _, u := range urls {
		done, err := l.Done(ctx, u)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// Mark records the outcome for url
func (l *Ledger) Mark(ctx context.Context, target, url string, status Status, runID string) error {
	query := `INSERT OR REPLACE INTO articles (url, target, status, run_id, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query, url, target, string(status), runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", url, err)
	}
	return nil
}

// Counts returns the number of addresses per status for target
func (l *Ledger) Counts(ctx context.Context, target string) (map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM articles WHERE target = ? GROUP BY status", target)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", target, err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
