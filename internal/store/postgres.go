package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vigia-labs/scamwatch/internal/db"
	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	table   string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertRun = `INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`

	sqlUpdateRunStatus = `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`

	sqlCompleteRun = `UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`

	sqlGetRun = `SELECT id, status, summary, created_at, updated_at FROM runs WHERE id = $1`

	sqlInsertDeadLetter = `INSERT INTO dead_letters (id, batch_index, posts, error, error_type, attempts, failed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	sqlListDeadLetters = `SELECT id, batch_index, posts, error, error_type, attempts, failed_at FROM dead_letters WHERE ($1 = '' OR error_type = $1) ORDER BY failed_at DESC LIMIT $2`
)

// NewPostgres creates a PostgresStore with a connection pool. table names
// the report target table.
func NewPostgres(ctx context.Context, connString, table string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Warm each new connection's statement cache with the hot queries.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, sql := range []string{sqlInsertRun, sqlUpdateRunStatus, sqlCompleteRun, sqlInsertDeadLetter} {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrap(err, "postgres: prepare")
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, table: table, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'idle',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scam_reports (
	id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	run_id           TEXT REFERENCES runs(id),
	source           TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL DEFAULT '',
	display_name     TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	scam_probability DOUBLE PRECISION NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, username, content_hash)
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	batch_index INT NOT NULL,
	posts       JSONB NOT NULL,
	error       TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	attempts    INT NOT NULL,
	failed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scam_reports_probability ON scam_reports (scam_probability DESC);
CREATE INDEX IF NOT EXISTS idx_dead_letters_failed_at ON dead_letters (failed_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// CreateRun inserts a new run record in the idle state.
func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		Status:    model.RunStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.pool.Exec(ctx, sqlInsertRun, run.ID, string(run.Status), run.CreatedAt, run.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: create run")
	}
	return run, nil
}

// UpdateRunStatus moves a run to the given lifecycle state.
func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	if _, err := s.pool.Exec(ctx, sqlUpdateRunStatus, string(status), time.Now().UTC(), runID); err != nil {
		return eris.Wrap(err, "postgres: update run status")
	}
	return nil
}

// CompleteRun marks the run complete and attaches its summary.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	if _, err := s.pool.Exec(ctx, sqlCompleteRun, string(model.RunStatusComplete), payload, time.Now().UTC(), runID); err != nil {
		return eris.Wrap(err, "postgres: complete run")
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var (
		run     model.Run
		status  string
		summary []byte
	)
	err := s.pool.QueryRow(ctx, sqlGetRun, runID).Scan(&run.ID, &status, &summary, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "postgres: get run %s", runID)
		}
		return nil, eris.Wrap(err, "postgres: get run")
	}
	run.Status = model.RunStatus(status)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &run, nil
}

// InsertReports bulk-writes one persistence batch via COPY + upsert.
func (s *PostgresStore) InsertReports(ctx context.Context, runID string, reports []model.ScoredPost) (int64, error) {
	if len(reports) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(reports))
	for i, r := range reports {
		rows[i] = reportRow(runID, r)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.table,
		Columns:      reportColumns,
		ConflictKeys: []string{"source", "username", "content_hash"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert reports")
	}
	return n, nil
}

// EnqueueDeadLetter records a batch that exhausted its retries.
func (s *PostgresStore) EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error {
	posts, err := json.Marshal(entry.Posts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dead letter posts")
	}
	_, err = s.pool.Exec(ctx, sqlInsertDeadLetter,
		entry.ID, entry.BatchIndex, posts, entry.Error, entry.ErrorType, entry.Attempts, entry.FailedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: enqueue dead letter")
	}
	return nil
}

// ListDeadLetters returns recorded dead letters, newest first.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, sqlListDeadLetters, filter.ErrorType, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var entries []resilience.DeadLetter
	for rows.Next() {
		var (
			entry resilience.DeadLetter
			posts []byte
		)
		if err := rows.Scan(&entry.ID, &entry.BatchIndex, &posts, &entry.Error, &entry.ErrorType, &entry.Attempts, &entry.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		if err := json.Unmarshal(posts, &entry.Posts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dead letter posts")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate dead letters")
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
