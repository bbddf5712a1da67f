// Package search queries an external web search provider and returns
// ranked, safe-to-fetch result URLs.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/starford/sift/internal/textutil"
)

// ErrMissingCredentials is returned by providers configured without an API key.
var ErrMissingCredentials = errors.New("search: missing credentials")

// Result is one search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Provider is an external search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, n int) ([]Result, error)
}

// ClientOptions tunes the Client.
type ClientOptions struct {
	// MaxResults is used when the caller passes k <= 0.
	MaxResults    int
	RatePerSecond float64
	Burst         int
}

// Client wraps a single Provider. Search never fails; provider errors are
// logged and turn into an empty result list.
type Client struct {
	provider   Provider
	limiter    *rate.Limiter
	maxResults int
	logger     *slog.Logger
}

// NewClient creates a Client. A non-positive rate disables limiting.
func NewClient(p Provider, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 6
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		provider:   p,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		maxResults: opts.MaxResults,
		logger:     logger,
	}
}

// Search returns at most k unique results whose URLs pass
// textutil.ValidateURL.
func (c *Client) Search(ctx context.Context, query string, k int) []Result {
	if k <= 0 {
		k = c.maxResults
	}
	query = strings.TrimSpace(query)
	if query == "" || c.provider == nil {
		return []Result{}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Error("search: rate limiter", slog.String("error", err.Error()))
		return []Result{}
	}

	raw, err := c.provider.Search(ctx, query, k)
	if err != nil {
		c.logger.Error("search: provider failed",
			slog.String("provider", c.provider.Name()),
			slog.String("query", query),
			slog.String("error", err.Error()))
		return []Result{}
	}

	out := make([]Result, 0, min(k, len(raw)))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		u := strings.TrimSpace(r.URL)
		if _, dup := seen[u]; dup {
			continue
		}
		if !textutil.ValidateURL(u) {
			c.logger.Debug("search: dropped unsafe url", slog.String("url", u))
			continue
		}
		seen[u] = struct{}{}
		r.URL = u
		r.Title = strings.TrimSpace(r.Title)
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	c.logger.Info("search: done",
		slog.String("provider", c.provider.Name()),
		slog.Int("raw", len(raw)),
		slog.Int("results", len(out)))
	return out
}
