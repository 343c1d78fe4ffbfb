package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/queryset"
)

// TwitterSearcher matches the twitter client's search surface.
type TwitterSearcher interface {
	SearchRecent(ctx context.Context, query string, maxResults int) ([]model.Post, error)
}

// RedditSearcher matches the reddit client's search surface.
type RedditSearcher interface {
	SearchSubreddit(ctx context.Context, subreddit, query string, limit int) ([]model.Post, error)
}

// Collector fans a query set out across the social sources and merges the
// results. Individual query failures are logged and skipped; Collect fails
// only when every query fails.
type Collector struct {
	twitter TwitterSearcher
	reddit  RedditSearcher
}

// NewCollector builds a Collector. Either client may be nil, in which case
// queries for that source are skipped.
func NewCollector(tw TwitterSearcher, rd RedditSearcher) *Collector {
	return &Collector{twitter: tw, reddit: rd}
}

// Collect runs every query in set and returns the merged, deduplicated posts.
func (c *Collector) Collect(ctx context.Context, set *queryset.Set, maxResults int) ([]model.Post, error) {
	var (
		mu      sync.Mutex
		posts   []model.Post
		failed  int
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, q := range set.Queries {
		g.Go(func() error {
			var (
				got []model.Post
				err error
			)
			switch q.Source {
			case "twitter":
				if c.twitter == nil {
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				got, err = c.twitter.SearchRecent(gctx, q.Query, maxResults)
			case "reddit":
				if c.reddit == nil {
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				got, err = c.reddit.SearchSubreddit(gctx, q.Subreddit, q.Query, maxResults)
			}
			if err != nil {
				zap.L().Warn("ingest: query failed",
					zap.String("source", q.Source),
					zap.String("query", q.Query),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			posts = append(posts, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "ingest: collect cancelled")
	}
	if failed > 0 && failed+skipped == len(set.Queries) {
		return nil, eris.Errorf("ingest: all %d queries failed", failed)
	}

	deduped := dedupe(posts)
	zap.L().Info("ingest: collected posts",
		zap.Int("queries", len(set.Queries)),
		zap.Int("failed", failed),
		zap.Int("posts", len(deduped)),
		zap.Int("duplicates", len(posts)-len(deduped)))
	return deduped, nil
}

// dedupe drops posts with identical source, username and text, keeping the
// first occurrence.
func dedupe(posts []model.Post) []model.Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		key := fmt.Sprintf("%s\x00%s\x00%s", p.Source, p.Username, p.Text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
