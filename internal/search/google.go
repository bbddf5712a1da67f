package search

import (
	"context"
	"errors"
	"fmt"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// googleMaxNum is the largest page size the Custom Search API accepts.
const googleMaxNum = 10

// GoogleProvider queries the Google Custom Search JSON API.
type GoogleProvider struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleProvider creates a GoogleProvider for the search engine cx.
// Extra client options are appended after the API key.
func NewGoogleProvider(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*GoogleProvider, error) {
	if apiKey == "" || cx == "" {
		return nil, ErrMissingCredentials
	}
	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("search: google: new service: %w", err)
	}
	return &GoogleProvider{svc: svc, cx: cx}, nil
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Search implements Provider.
func (p *GoogleProvider) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if p == nil || p.svc == nil {
		return nil, errors.New("search: google: provider not initialised")
	}
	n = max(1, min(n, googleMaxNum))
	res, err := p.svc.Cse.List().Cx(p.cx).Q(query).Num(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search: google: %w", err)
	}
	out := make([]Result, 0, len(res.Items))
	for _, it := range res.Items {
		out = append(out, Result{URL: it.Link, Title: it.Title, Snippet: it.Snippet})
	}
	return out, nil
}
