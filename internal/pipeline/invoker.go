package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
	"github.com/vigia-labs/scamwatch/internal/scoring"
)

// Invoker wraps a Scorer with retry, circuit breaking and client-side rate
// limiting. Each call scores one batch and reports how many attempts it took.
type Invoker struct {
	scorer  scoring.Scorer
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithRateLimit throttles outgoing scoring calls. rps <= 0 disables the
// limiter.
func WithRateLimit(rps float64) InvokerOption {
	return func(inv *Invoker) {
		if rps <= 0 {
			inv.limiter = nil
			return
		}
		inv.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) InvokerOption {
	return func(inv *Invoker) { inv.retry = cfg }
}

// WithCircuitBreaker attaches a breaker shared across batches.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) InvokerOption {
	return func(inv *Invoker) { inv.breaker = cb }
}

// NewInvoker builds an Invoker around scorer.
func NewInvoker(scorer scoring.Scorer, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		scorer: scorer,
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// ScoreBatch scores one batch of posts. offset is the index of the batch's
// first post in the overall input, so scores line up with global positions.
// The returned count is the number of attempts made, including the first.
func (inv *Invoker) ScoreBatch(ctx context.Context, offset int, posts []model.Post) ([]model.ScoredPost, int, error) {
	scored, attempts, err := resilience.DoVal(ctx, inv.retry, func(ctx context.Context) ([]model.ScoredPost, error) {
		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "pipeline: rate limiter wait")
			}
		}
		if inv.breaker != nil {
			return resilience.ExecuteVal(ctx, inv.breaker, func(ctx context.Context) ([]model.ScoredPost, error) {
				return inv.scorer.ScoreBatch(ctx, offset, posts)
			})
		}
		return inv.scorer.ScoreBatch(ctx, offset, posts)
	})
	if err != nil {
		return nil, attempts, err
	}
	return scored, attempts, nil
}
