package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vigia-labs/scamwatch/internal/pipeline"
	"github.com/vigia-labs/scamwatch/internal/resilience"
	"github.com/vigia-labs/scamwatch/internal/scoring"
	"github.com/vigia-labs/scamwatch/internal/store"
	"github.com/vigia-labs/scamwatch/pkg/openrouter"
)

// pipelineEnv holds the initialized store and pipeline shared by the
// run/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.Table)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// initPipeline sets up the store, the LLM client and the pipeline. Callers
// should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := openrouter.NewClient(cfg.OpenRouter.Key,
		openrouter.WithBaseURL(cfg.OpenRouter.BaseURL),
		openrouter.WithModel(cfg.OpenRouter.Model),
		openrouter.WithTimeout(time.Duration(cfg.OpenRouter.TimeoutSecs)*time.Second))
	scorer := scoring.NewLLMScorer(client, cfg.OpenRouter.Model)

	retry := resilience.RetryConfig{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  time.Duration(cfg.Pipeline.BaseBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Pipeline.MaxBackoffMs) * time.Millisecond,
		Multiplier: 2.0,
		OnRetry:    resilience.RetryLogger("openrouter", "score_batch"),
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitConfig{
		ShouldTrip: resilience.IsTransient,
	})
	invoker := pipeline.NewInvoker(scorer,
		pipeline.WithRetryConfig(retry),
		pipeline.WithCircuitBreaker(breaker),
		pipeline.WithRateLimit(cfg.Pipeline.RequestsPerSecond))

	p := pipeline.New(pipeline.Config{
		LLMBatchSize:          cfg.Pipeline.LLMBatchSize,
		DBBatchSize:           cfg.Pipeline.DBBatchSize,
		MaxConcurrentRequests: cfg.Pipeline.MaxConcurrentRequests,
		ScamThreshold:         cfg.Pipeline.ScamThreshold,
	}, invoker, st)

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
