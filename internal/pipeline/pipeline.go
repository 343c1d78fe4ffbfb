// Package pipeline orchestrates the batch scoring run: split posts into
// batches, score them concurrently against the LLM, filter by threshold and
// bulk-persist the survivors. Individual batch failures never abort a run;
// they are counted, dead-lettered and reported in the run summary.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigia-labs/scamwatch/internal/batch"
	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
	"github.com/vigia-labs/scamwatch/internal/store"
)

// Config holds the orchestration knobs. Zero values fall back to defaults.
type Config struct {
	LLMBatchSize          int
	DBBatchSize           int
	MaxConcurrentRequests int
	ScamThreshold         float64
}

func (c Config) withDefaults() Config {
	if c.LLMBatchSize <= 0 {
		c.LLMBatchSize = 20
	}
	if c.DBBatchSize <= 0 {
		c.DBBatchSize = 1000
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 5
	}
	if c.ScamThreshold <= 0 {
		c.ScamThreshold = 0.7
	}
	return c
}

// WriteError wraps a failed persistence batch.
type WriteError struct {
	BatchIndex int
	Posts      int
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write batch %d (%d posts): %v", e.BatchIndex, e.Posts, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Pipeline runs the score-filter-persist flow over a set of posts.
type Pipeline struct {
	cfg     Config
	invoker *Invoker
	store   store.Store
}

// New builds a Pipeline. The invoker carries the retry, rate limit and
// circuit breaker policy; the store receives runs, reports and dead letters.
func New(cfg Config, invoker *Invoker, st store.Store) *Pipeline {
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		invoker: invoker,
		store:   st,
	}
}

// enrichResult holds one batch's outcome, indexed by batch position so the
// flattened output preserves input order regardless of completion order.
type enrichResult struct {
	scored   []model.ScoredPost
	attempts int
	err      error
}

// Run executes one full pipeline invocation over posts. It always produces a
// run summary, even when every batch fails; the returned error is non-nil
// only for setup failures or cancellation, never for per-batch failures.
func (p *Pipeline) Run(ctx context.Context, posts []model.Post) (*model.RunSummary, error) {
	start := time.Now()

	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	batches, err := batch.Split(posts, p.cfg.LLMBatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: split input")
	}

	summary := &model.RunSummary{
		PostsIn:          len(posts),
		BatchesAttempted: len(batches),
	}

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusEnriching); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark enriching")
	}
	log.Info("pipeline: scoring posts",
		zap.Int("posts", len(posts)),
		zap.Int("batches", len(batches)),
		zap.Int("max_concurrent", p.cfg.MaxConcurrentRequests))

	results := make([]enrichResult, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentRequests)
	for i, b := range batches {
		g.Go(func() error {
			scored, attempts, err := p.invoker.ScoreBatch(gctx, i*p.cfg.LLMBatchSize, b)
			results[i] = enrichResult{scored: scored, attempts: attempts, err: err}
			if err != nil {
				log.Warn("pipeline: batch scoring failed",
					zap.Int("batch_index", i),
					zap.Int("attempts", attempts),
					zap.String("error_type", resilience.ClassifyError(err)),
					zap.Error(err))
			}
			return nil // don't abort the run on individual batch failure
		})
	}
	_ = g.Wait() // goroutines never return errors
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "pipeline: run cancelled")
	}

	// Flatten in batch order so output ordering matches the input.
	var scored []model.ScoredPost
	for i, res := range results {
		if res.err != nil {
			summary.BatchesFailed++
			summary.Failures = append(summary.Failures, model.BatchFailure{
				BatchIndex: i,
				Stage:      "enrich",
				Attempts:   res.attempts,
				Error:      res.err.Error(),
			})
			p.deadLetter(ctx, log, resilience.NewDeadLetter(i, batches[i], res.err, res.attempts))
			continue
		}
		summary.BatchesSucceeded++
		scored = append(scored, res.scored...)
	}
	summary.PostsScored = len(scored)

	kept := FilterByThreshold(scored, p.cfg.ScamThreshold)
	summary.PostsFiltered = len(scored) - len(kept)

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusPersisting); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark persisting")
	}

	writeBatches, err := batch.Split(kept, p.cfg.DBBatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: split reports")
	}
	for i, wb := range writeBatches {
		n, err := p.store.InsertReports(ctx, run.ID, wb)
		if err != nil {
			werr := &WriteError{BatchIndex: i, Posts: len(wb), Err: err}
			summary.PostsNotWritten += len(wb)
			summary.Failures = append(summary.Failures, model.BatchFailure{
				BatchIndex: i,
				Stage:      "persist",
				Attempts:   1,
				Error:      werr.Error(),
			})
			p.deadLetter(ctx, log, resilience.NewDeadLetter(i, postsOf(wb), werr, 1))
			log.Warn("pipeline: persistence batch failed",
				zap.Int("batch_index", i),
				zap.Int("posts", len(wb)),
				zap.Error(err))
			continue
		}
		summary.PostsPersisted += int(n)
	}

	summary.Duration = time.Since(start)
	if err := p.store.CompleteRun(ctx, run.ID, summary); err != nil {
		return summary, eris.Wrap(err, "pipeline: complete run")
	}

	log.Info("pipeline: run complete",
		zap.Int("posts_in", summary.PostsIn),
		zap.Int("batches_succeeded", summary.BatchesSucceeded),
		zap.Int("batches_failed", summary.BatchesFailed),
		zap.Int("posts_scored", summary.PostsScored),
		zap.Int("posts_filtered", summary.PostsFiltered),
		zap.Int("posts_persisted", summary.PostsPersisted),
		zap.Int("posts_not_written", summary.PostsNotWritten),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, log *zap.Logger, entry resilience.DeadLetter) {
	if err := p.store.EnqueueDeadLetter(ctx, entry); err != nil {
		log.Error("pipeline: dead letter enqueue failed",
			zap.Int("batch_index", entry.BatchIndex),
			zap.Error(err))
	}
}

func postsOf(scored []model.ScoredPost) []model.Post {
	out := make([]model.Post, len(scored))
	for i, s := range scored {
		out[i] = s.Post
	}
	return out
}
