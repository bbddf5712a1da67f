package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const serperEndpoint = "https://google.serper.dev/search"

// SerperProvider queries serper.dev.
type SerperProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSerperProvider creates a SerperProvider. An empty endpoint selects the
// public API.
func NewSerperProvider(apiKey, endpoint string) *SerperProvider {
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	return &SerperProvider{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Name implements Provider.
func (p *SerperProvider) Name() string { return "serper" }

// Search implements Provider.
func (p *SerperProvider) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if p.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	body, err := json.Marshal(serperRequest{Q: query, Num: n})
	if err != nil {
		return nil, fmt.Errorf("search: serper: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: serper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: serper: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search: serper: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var sr serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("search: serper: decode: %w", err)
	}
	out := make([]Result, 0, len(sr.Organic))
	for _, o := range sr.Organic {
		out = append(out, Result{URL: o.Link, Title: o.Title, Snippet: o.Snippet})
	}
	return out, nil
}
