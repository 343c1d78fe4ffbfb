package model

import "time"

// RunStatus tracks a pipeline run through its lifecycle.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusEnriching  RunStatus = "enriching"
	RunStatusPersisting RunStatus = "persisting"
	RunStatusComplete   RunStatus = "complete"
)

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BatchFailure records a batch that could not be completed. It carries the
// originating batch index so the summary can point at the exact slice of
// input that was lost.
type BatchFailure struct {
	BatchIndex int    `json:"batch_index"`
	Stage      string `json:"stage"` // "enrich" or "persist"
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// RunSummary aggregates the outcome of one full pipeline run. It is always
// produced, including for runs where every batch failed.
type RunSummary struct {
	PostsIn          int            `json:"posts_in"`
	BatchesAttempted int            `json:"batches_attempted"`
	BatchesSucceeded int            `json:"batches_succeeded"`
	BatchesFailed    int            `json:"batches_failed"`
	PostsScored      int            `json:"posts_scored"`
	PostsFiltered    int            `json:"posts_filtered"`
	PostsPersisted   int            `json:"posts_persisted"`
	PostsNotWritten  int            `json:"posts_not_written"`
	Failures         []BatchFailure `json:"failures,omitempty"`
	Duration         time.Duration  `json:"duration_ns"`
}
