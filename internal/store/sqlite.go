package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

// SQLiteStore implements Store on a local file for offline runs.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLite opens (or creates) a SQLite database at path.
func NewSQLite(path, table string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// Single writer; WAL keeps readers unblocked during persist batches.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", pragma)
		}
	}

	return &SQLiteStore{db: conn, table: table}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'idle',
	summary    TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS scam_reports (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT REFERENCES runs(id),
	source           TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	display_name     TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	scam_probability REAL NOT NULL,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source, username, content_hash)
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	batch_index INTEGER NOT NULL,
	posts       TEXT NOT NULL,
	error       TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	failed_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scam_reports_probability ON scam_reports (scam_probability DESC);
CREATE INDEX IF NOT EXISTS idx_dead_letters_failed_at ON dead_letters (failed_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// CreateRun inserts a new run record in the idle state.
func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		Status:    model.RunStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return run, nil
}

// UpdateRunStatus moves a run to the given lifecycle state.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrap(err, "sqlite: update run status")
	}
	return nil
}

// CompleteRun marks the run complete and attaches its summary.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(payload), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var (
		run     model.Run
		status  string
		summary sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, summary, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &status, &summary, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	run.Status = model.RunStatus(status)
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &run.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &run, nil
}

// InsertReports writes one persistence batch inside a transaction.
// Duplicate reports (same source, username and content hash) are skipped.
func (s *SQLiteStore) InsertReports(ctx context.Context, runID string, reports []model.ScoredPost) (int64, error) {
	if len(reports) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert reports")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO scam_reports
		(run_id, source, username, display_name, location, text, content_hash, scam_probability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert reports")
	}
	defer stmt.Close()

	var written int64
	for _, r := range reports {
		res, err := stmt.ExecContext(ctx, reportRow(runID, r)...)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert report")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert reports")
	}
	return written, nil
}

// EnqueueDeadLetter records a batch that exhausted its retries.
func (s *SQLiteStore) EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error {
	posts, err := json.Marshal(entry.Posts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dead letter posts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, batch_index, posts, error, error_type, attempts, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BatchIndex, string(posts), entry.Error, entry.ErrorType, entry.Attempts, entry.FailedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: enqueue dead letter")
	}
	return nil
}

// ListDeadLetters returns recorded dead letters, newest first.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_index, posts, error, error_type, attempts, failed_at FROM dead_letters
		 WHERE (? = '' OR error_type = ?) ORDER BY failed_at DESC LIMIT ?`,
		filter.ErrorType, filter.ErrorType, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var entries []resilience.DeadLetter
	for rows.Next() {
		var (
			entry resilience.DeadLetter
			posts string
		)
		if err := rows.Scan(&entry.ID, &entry.BatchIndex, &posts, &entry.Error, &entry.ErrorType, &entry.Attempts, &entry.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		if err := json.Unmarshal([]byte(posts), &entry.Posts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dead letter posts")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate dead letters")
	}
	return entries, nil
}

// Close closes the database file.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
