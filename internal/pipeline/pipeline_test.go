package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

// fakeScorer scores every post with a fixed probability and can be told to
// fail specific batches, either always or a limited number of times.
type fakeScorer struct {
	mu          sync.Mutex
	probability float64
	failBatch   map[int]error // batch index (by offset/llmBatchSize) -> error
	failTimes   map[int]int   // batch index -> how many calls fail before success
	batchSize   int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func newFakeScorer(batchSize int, probability float64) *fakeScorer {
	return &fakeScorer{
		probability: probability,
		failBatch:   map[int]error{},
		failTimes:   map[int]int{},
		batchSize:   batchSize,
	}
}

func (f *fakeScorer) ScoreBatch(ctx context.Context, offset int, posts []model.Post) ([]model.ScoredPost, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	f.calls.Add(1)

	idx := offset / f.batchSize
	f.mu.Lock()
	if err, ok := f.failBatch[idx]; ok {
		f.mu.Unlock()
		return nil, err
	}
	if n := f.failTimes[idx]; n > 0 {
		f.failTimes[idx] = n - 1
		f.mu.Unlock()
		return nil, resilience.NewTransientError(fmt.Errorf("status 503"), 503)
	}
	f.mu.Unlock()

	scored := make([]model.ScoredPost, len(posts))
	for i, p := range posts {
		scored[i] = model.ScoredPost{Post: p, ScamProbability: f.probability}
	}
	return scored, nil
}

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu          sync.Mutex
	runs        map[string]*model.Run
	reports     []model.ScoredPost
	deadLetters []resilience.DeadLetter
	statuses    []model.RunStatus

	failInsertCall map[int]error // 0-based InsertReports call index -> error
	insertCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		runs:           map[string]*model.Run{},
		failInsertCall: map[int]error{},
	}
}

func (m *memStore) CreateRun(ctx context.Context) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.Run{ID: fmt.Sprintf("run-%d", len(m.runs)+1), Status: model.RunStatusIdle}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].Status = model.RunStatusComplete
	m.runs[runID].Summary = summary
	m.statuses = append(m.statuses, model.RunStatusComplete)
	return nil
}

func (m *memStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID], nil
}

func (m *memStore) InsertReports(ctx context.Context, runID string, reports []model.ScoredPost) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.insertCalls
	m.insertCalls++
	if err, ok := m.failInsertCall[call]; ok {
		return 0, err
	}
	m.reports = append(m.reports, reports...)
	return int64(len(reports)), nil
}

func (m *memStore) EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, entry)
	return nil
}

func (m *memStore) ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resilience.DeadLetter(nil), m.deadLetters...), nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

func makePosts(n int) []model.Post {
	posts := make([]model.Post, n)
	for i := range posts {
		posts[i] = model.Post{Text: fmt.Sprintf("post %d", i), Source: "twitter"}
	}
	return posts
}

func zeroDelayRetry(maxRetries int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: maxRetries, BaseDelay: 1, MaxDelay: 1, Multiplier: 1}
}

func TestRunAllBatchesSucceed(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20, DBBatchSize: 1000, MaxConcurrentRequests: 5, ScamThreshold: 0.7},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3))), st)

	summary, err := p.Run(context.Background(), makePosts(45))
	require.NoError(t, err)
	require.Equal(t, 45, summary.PostsIn)
	require.Equal(t, 3, summary.BatchesAttempted)
	require.Equal(t, 3, summary.BatchesSucceeded)
	require.Zero(t, summary.BatchesFailed)
	require.Equal(t, 45, summary.PostsScored)
	require.Zero(t, summary.PostsFiltered)
	require.Equal(t, 45, summary.PostsPersisted)
	require.Empty(t, summary.Failures)

	// Flattened output preserves input order.
	require.Len(t, st.reports, 45)
	for i, r := range st.reports {
		require.Equal(t, fmt.Sprintf("post %d", i), r.Text)
	}
	require.Equal(t, []model.RunStatus{
		model.RunStatusEnriching, model.RunStatusPersisting, model.RunStatusComplete,
	}, st.statuses)
}

func TestRunPermanentBatchFailure(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	scorer.failBatch[1] = resilience.NewPermanentError(fmt.Errorf("status 401"), 401)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20, DBBatchSize: 1000, MaxConcurrentRequests: 5, ScamThreshold: 0.7},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3))), st)

	summary, err := p.Run(context.Background(), makePosts(45))
	require.NoError(t, err)
	require.Equal(t, 2, summary.BatchesSucceeded)
	require.Equal(t, 1, summary.BatchesFailed)
	require.Equal(t, 25, summary.PostsScored)
	require.Equal(t, 25, summary.PostsPersisted)

	require.Len(t, summary.Failures, 1)
	require.Equal(t, 1, summary.Failures[0].BatchIndex)
	require.Equal(t, "enrich", summary.Failures[0].Stage)
	// Permanent errors are not retried.
	require.Equal(t, 1, summary.Failures[0].Attempts)

	require.Len(t, st.deadLetters, 1)
	require.Equal(t, "permanent", st.deadLetters[0].ErrorType)
	require.Len(t, st.deadLetters[0].Posts, 20)

	// Surviving batches keep their relative order.
	require.Equal(t, "post 0", st.reports[0].Text)
	require.Equal(t, "post 40", st.reports[20].Text)
}

func TestRunTransientFailureRetriesThenSucceeds(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	scorer.failTimes[0] = 2
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20, MaxConcurrentRequests: 1},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3))), st)

	summary, err := p.Run(context.Background(), makePosts(20))
	require.NoError(t, err)
	require.Equal(t, 1, summary.BatchesSucceeded)
	require.Zero(t, summary.BatchesFailed)
	require.EqualValues(t, 3, scorer.calls.Load())
}

func TestRunRetryExhaustion(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	scorer.failBatch[0] = resilience.NewTransientError(fmt.Errorf("status 500"), 500)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20, MaxConcurrentRequests: 1},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3))), st)

	summary, err := p.Run(context.Background(), makePosts(20))
	require.NoError(t, err)
	require.Equal(t, 1, summary.BatchesFailed)
	require.Len(t, summary.Failures, 1)
	// One initial attempt plus three retries.
	require.Equal(t, 4, summary.Failures[0].Attempts)
	require.Len(t, st.deadLetters, 1)
	require.Equal(t, "transient", st.deadLetters[0].ErrorType)
	require.Equal(t, 4, st.deadLetters[0].Attempts)
}

func TestRunConcurrencyCeiling(t *testing.T) {
	scorer := newFakeScorer(10, 0.9)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 10, MaxConcurrentRequests: 2},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(0))), st)

	_, err := p.Run(context.Background(), makePosts(200))
	require.NoError(t, err)
	require.LessOrEqual(t, scorer.maxInFlight.Load(), int32(2))
	require.EqualValues(t, 20, scorer.calls.Load())
}

func TestRunThresholdFilter(t *testing.T) {
	scorer := newFakeScorer(20, 0.5)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20, ScamThreshold: 0.7},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(0))), st)

	summary, err := p.Run(context.Background(), makePosts(30))
	require.NoError(t, err)
	require.Equal(t, 30, summary.PostsScored)
	require.Equal(t, 30, summary.PostsFiltered)
	require.Zero(t, summary.PostsPersisted)
	require.Empty(t, st.reports)
}

func TestRunPersistBatchFailure(t *testing.T) {
	scorer := newFakeScorer(100, 0.9)
	st := newMemStore()
	st.failInsertCall[1] = fmt.Errorf("connection reset")
	p := New(Config{LLMBatchSize: 100, DBBatchSize: 1000, MaxConcurrentRequests: 5, ScamThreshold: 0.5},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(0))), st)

	summary, err := p.Run(context.Background(), makePosts(2500))
	require.NoError(t, err)
	require.Equal(t, 2500, summary.PostsScored)
	require.Equal(t, 1500, summary.PostsPersisted)
	require.Equal(t, 1000, summary.PostsNotWritten)

	require.Len(t, summary.Failures, 1)
	require.Equal(t, "persist", summary.Failures[0].Stage)
	require.Equal(t, 1, summary.Failures[0].BatchIndex)
	require.Len(t, st.deadLetters, 1)
	require.Len(t, st.deadLetters[0].Posts, 1000)
}

func TestRunAllBatchesFailStillCompletes(t *testing.T) {
	scorer := newFakeScorer(10, 0.9)
	for i := 0; i < 3; i++ {
		scorer.failBatch[i] = resilience.NewPermanentError(fmt.Errorf("status 400"), 400)
	}
	st := newMemStore()
	p := New(Config{LLMBatchSize: 10},
		NewInvoker(scorer, WithRetryConfig(zeroDelayRetry(3))), st)

	summary, err := p.Run(context.Background(), makePosts(30))
	require.NoError(t, err)
	require.Equal(t, 3, summary.BatchesFailed)
	require.Zero(t, summary.PostsScored)
	require.Zero(t, summary.PostsPersisted)
	require.Len(t, summary.Failures, 3)

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusComplete, run.Status)
}

func TestRunEmptyInput(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	st := newMemStore()
	p := New(Config{}, NewInvoker(scorer), st)

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, summary.PostsIn)
	require.Zero(t, summary.BatchesAttempted)
	require.Zero(t, scorer.calls.Load())
}

func TestRunCancelled(t *testing.T) {
	scorer := newFakeScorer(20, 0.9)
	st := newMemStore()
	p := New(Config{LLMBatchSize: 20}, NewInvoker(scorer), st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, makePosts(40))
	require.Error(t, err)
}
