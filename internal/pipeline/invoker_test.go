package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vigia-labs/scamwatch/internal/resilience"
)

func TestInvokerReportsAttempts(t *testing.T) {
	scorer := newFakeScorer(20, 0.8)
	scorer.failTimes[0] = 2
	inv := NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3)))

	scored, attempts, err := inv.ScoreBatch(context.Background(), 0, makePosts(20))
	require.NoError(t, err)
	require.Len(t, scored, 20)
	require.Equal(t, 3, attempts)
}

func TestInvokerPermanentErrorNoRetry(t *testing.T) {
	scorer := newFakeScorer(20, 0.8)
	scorer.failBatch[0] = resilience.NewPermanentError(fmt.Errorf("status 401"), 401)
	inv := NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3)))

	_, attempts, err := inv.ScoreBatch(context.Background(), 0, makePosts(20))
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.True(t, resilience.IsPermanent(err))
}

func TestInvokerCircuitBreakerOpens(t *testing.T) {
	scorer := newFakeScorer(20, 0.8)
	scorer.failBatch[0] = resilience.NewTransientError(fmt.Errorf("status 503"), 503)
	cb := resilience.NewCircuitBreaker(resilience.CircuitConfig{FailureThreshold: 2})
	inv := NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(0)), WithCircuitBreaker(cb))

	posts := makePosts(20)
	for i := 0; i < 2; i++ {
		_, _, err := inv.ScoreBatch(context.Background(), 0, posts)
		require.Error(t, err)
	}
	require.Equal(t, resilience.CircuitOpen, cb.State())

	// Once open, calls fail fast without reaching the scorer.
	before := scorer.calls.Load()
	_, _, err := inv.ScoreBatch(context.Background(), 0, posts)
	require.Error(t, err)
	require.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	require.Equal(t, before, scorer.calls.Load())
}

func TestInvokerRateLimitDisabled(t *testing.T) {
	scorer := newFakeScorer(20, 0.8)
	inv := NewInvoker(scorer, WithRateLimit(0))

	_, attempts, err := inv.ScoreBatch(context.Background(), 0, makePosts(20))
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}
