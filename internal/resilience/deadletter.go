package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/vigia-labs/scamwatch/internal/model"
)

// DeadLetter records a batch that exhausted its retry budget. Entries are
// persisted for offline inspection only; nothing replays them automatically.
type DeadLetter struct {
	ID         string       `json:"id"`
	BatchIndex int          `json:"batch_index"`
	Posts      []model.Post `json:"posts"`
	Error      string       `json:"error"`
	ErrorType  string       `json:"error_type"` // "transient" or "permanent"
	Attempts   int          `json:"attempts"`
	FailedAt   time.Time    `json:"failed_at"`
}

// NewDeadLetter builds an entry for a failed batch, classifying the error
// as transient or permanent.
func NewDeadLetter(batchIndex int, posts []model.Post, err error, attempts int) DeadLetter {
	return DeadLetter{
		ID:         uuid.NewString(),
		BatchIndex: batchIndex,
		Posts:      posts,
		Error:      err.Error(),
		ErrorType:  ClassifyError(err),
		Attempts:   attempts,
		FailedAt:   time.Now().UTC(),
	}
}

// DeadLetterFilter specifies criteria for listing dead letters.
type DeadLetterFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}
