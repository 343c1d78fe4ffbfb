// Package twitter wraps the Twitter v2 recent search API for post collection.
package twitter

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

const defaultBaseURL = "https://api.twitter.com/2"

// maxPageSize is the API ceiling for max_results on recent search.
const maxPageSize = 100

// Client searches recent tweets.
type Client interface {
	SearchRecent(ctx context.Context, query string, maxResults int) ([]model.Post, error)
}

// Option configures the Twitter client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
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
	bearerToken string
	baseURL     string
	limiter     *rate.Limiter
	http        *http.Client
}

// NewClient creates a Twitter API client authenticated with a bearer token.
func NewClient(bearerToken string, opts ...Option) Client {
	c := &httpClient{
		bearerToken: bearerToken,
		baseURL:     defaultBaseURL,
		limiter:     rate.NewLimiter(1, 1),
		http:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// searchResponse mirrors the subset of the v2 search payload we consume.
type searchResponse struct {
	Data []struct {
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
			Location string `json:"location"`
		} `json:"users"`
	} `json:"includes"`
}

// SearchRecent returns recent tweets matching query, joined with their
// authors' profile fields.
func (c *httpClient) SearchRecent(ctx context.Context, query string, maxResults int) ([]model.Post, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "twitter: rate limit wait")
		}
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(min(maxResults, maxPageSize)))
	params.Set("tweet.fields", "created_at,lang,text")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username,location,name")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "twitter: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "twitter: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "twitter: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("twitter: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "twitter: unmarshal response")
	}

	users := make(map[string]int, len(result.Includes.Users))
	for i, u := range result.Includes.Users {
		users[u.ID] = i
	}

	posts := make([]model.Post, 0, len(result.Data))
	for _, tweet := range result.Data {
		p := model.Post{Text: tweet.Text, Source: "twitter"}
		if i, ok := users[tweet.AuthorID]; ok {
			u := result.Includes.Users[i]
			p.Username = u.Username
			p.Name = u.Name
			p.Location = u.Location
		}
		posts = append(posts, p)
	}
	return posts, nil
}
