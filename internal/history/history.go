package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/sonicdm/pyLapse/internal/logging"
)

// Default timeout for store operations.
const defaultTimeout = 5 * time.Second

// Entry is one recorded export run.
type Entry struct {
	ID         int64
	TaskID     string
	Name       string
	InputDir   string
	OutputDir  string
	Selection  string
	FileCount  int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is an append-only SQLite record of export runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at dbPath. The parent
// directory must already exist and be writable.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode keeps concurrent readers out of the writers' way;
	// busy_timeout avoids "database is locked" under contention.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close history database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close history database after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	logging.Info("Export history at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS export_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		input_dir TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		selection TEXT NOT NULL,
		file_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_export_history_started ON export_history(started_at);
	CREATE INDEX IF NOT EXISTS idx_export_history_task ON export_history(task_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run in "running" state and returns its row id,
// which Finish later completes.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	started := e.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	res, err := s.db.ExecContext(opCtx, `
		INSERT INTO export_history
			(task_id, name, input_dir, output_dir, selection, file_count, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, 'running', ?)`,
		e.TaskID, e.Name, e.InputDir, e.OutputDir, e.Selection, e.FileCount, started.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to record export: %w", err)
	}
	return res.LastInsertId()
}

// Finish completes a previously recorded run with its terminal status,
// final file count, and error text when the run failed.
func (s *Store) Finish(ctx context.Context, id int64, status string, fileCount int, errText string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.db.ExecContext(opCtx, `
		UPDATE export_history
		SET status = ?, file_count = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, fileCount, errText, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finish export record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no export record with id %d", id)
	}
	return nil
}

// Recent returns the latest n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(opCtx, `
		SELECT id, task_id, name, input_dir, output_dir, selection,
		       file_count, status, error, started_at, finished_at
		FROM export_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query export history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Name, &e.InputDir, &e.OutputDir,
			&e.Selection, &e.FileCount, &e.Status, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		e.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			e.FinishedAt = time.Unix(finished, 0)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune keeps only the newest max rows, returning how many were
// deleted.
func (s *Store) Prune(ctx context.Context, max int) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.db.ExecContext(opCtx, `
		DELETE FROM export_history
		WHERE id NOT IN (
			SELECT id FROM export_history
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("failed to prune export history: %w", err)
	}
	return res.RowsAffected()
}
