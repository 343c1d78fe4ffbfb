// Package reddit collects posts via Reddit's public subreddit search endpoint.
package reddit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/vigia-labs/scamwatch/internal/model"
)

const defaultBaseURL = "https://www.reddit.com"

// Client searches subreddits for posts.
type Client interface {
	SearchSubreddit(ctx context.Context, subreddit, query string, limit int) ([]model.Post, error)
}

// Option configures the Reddit client.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithUserAgent sets the User-Agent header. Reddit rejects requests without
// a descriptive one.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithRateLimit overrides the default request throttle (1 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	http      *http.Client
}

// NewClient creates a Reddit search client. No authentication is required
// for the public search endpoint.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: "scamwatch/1.0",
		limiter:   rate.NewLimiter(1, 1),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data struct {
				Title    string `json:"title"`
				Selftext string `json:"selftext"`
				Author   string `json:"author"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// SearchSubreddit returns posts from one subreddit matching query, newest
// first. Title and body are joined into a single text field.
func (c *httpClient) SearchSubreddit(ctx context.Context, subreddit, query string, limit int) ([]model.Post, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "reddit: rate limit wait")
		}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(min(limit, 100)))
	params.Set("sort", "new")
	params.Set("restrict_sr", "on")

	endpoint := c.baseURL + "/r/" + url.PathEscape(subreddit) + "/search.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("reddit: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result listingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "reddit: unmarshal response")
	}

	posts := make([]model.Post, 0, len(result.Data.Children))
	for _, child := range result.Data.Children {
		text := child.Data.Title
		if child.Data.Selftext != "" {
			text += "\n" + child.Data.Selftext
		}
		posts = append(posts, model.Post{
			Text:     text,
			Username: child.Data.Author,
			Name:     child.Data.Author,
			Source:   "reddit",
		})
	}
	return posts, nil
}
