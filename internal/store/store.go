// Package store persists scored scam reports, run records and dead letters.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rotisserie/eris"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

// Store defines the persistence interface for the scoring pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// Reports. InsertReports is idempotent on (source, username, content
	// hash): re-inserting the same posts is a no-op. Returns the number of
	// rows actually written.
	InsertReports(ctx context.Context, runID string, reports []model.ScoredPost) (int64, error)

	// Dead letters
	EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error
	ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open selects a driver by name. "postgres" connects over the network,
// "sqlite" opens a local file for offline runs.
func Open(ctx context.Context, driver, databaseURL, table string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, databaseURL, table, nil)
	case "sqlite":
		return NewSQLite(databaseURL, table)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// reportColumns is the column order used by both drivers for report writes.
var reportColumns = []string{
	"run_id", "source", "username", "display_name", "location",
	"text", "content_hash", "scam_probability",
}

// contentHash fingerprints a post's text for the dedup constraint.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// reportRow flattens one scored post into the reportColumns order.
func reportRow(runID string, r model.ScoredPost) []any {
	return []any{
		runID, r.Source, r.Username, r.Name, r.Location,
		r.Text, contentHash(r.Text), r.ScamProbability,
	}
}
