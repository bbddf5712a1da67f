package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type stubProvider struct {
	results []Result
	err     error
	gotN    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Search(_ context.Context, _ string, n int) ([]Result, error) {
	s.gotN = n
	return s.results, s.err
}

func TestClient_FiltersUnsafeAndDuplicates(t *testing.T) {
	p := &stubProvider{results: []Result{
		{URL: "https://go.dev/doc", Title: " Go docs "},
		{URL: "http://127.0.0.1/admin", Title: "loopback"},
		{URL: "https://go.dev/doc", Title: "dup"},
		{URL: "ftp://example.com/file", Title: "ftp"},
		{URL: "http://192.168.1.1/", Title: "lan"},
		{URL: "https://en.wikipedia.org/wiki/Go", Title: "wiki"},
	}}
	c := NewClient(p, ClientOptions{}, nil)

	got := c.Search(context.Background(), "golang", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "https://go.dev/doc", got[0].URL)
	assert.Equal(t, "Go docs", got[0].Title)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", got[1].URL)
	assert.Equal(t, 5, p.gotN)
}

func TestClient_TruncatesToK(t *testing.T) {
	p := &stubProvider{results: []Result{
		{URL: "https://a.example.com/"},
		{URL: "https://b.example.com/"},
		{URL: "https://c.example.com/"},
	}}
	got := NewClient(p, ClientOptions{}, nil).Search(context.Background(), "q", 2)
	assert.Len(t, got, 2)
}

func TestClient_ProviderErrorYieldsEmpty(t *testing.T) {
	p := &stubProvider{err: errors.New("quota exceeded")}
	got := NewClient(p, ClientOptions{}, nil).Search(context.Background(), "q", 3)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestClient_CancelledContextYieldsEmpty(t *testing.T) {
	p := &stubProvider{results: []Result{{URL: "https://a.example.com/"}}}
	c := NewClient(p, ClientOptions{RatePerSecond: 0.001, Burst: 1}, nil)
	ctx := context.Background()
	require.Len(t, c.Search(ctx, "q", 1), 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Empty(t, c.Search(cancelled, "q", 1))
}

func TestSerper_MissingKey(t *testing.T) {
	_, err := NewSerperProvider("", "").Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	got := NewClient(NewSerperProvider("", ""), ClientOptions{}, nil).Search(context.Background(), "q", 3)
	assert.Empty(t, got)
}

func TestSerper_ParsesOrganic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		var req serperRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rust async", req.Q)
		assert.Equal(t, 4, req.Num)
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Async Book","link":"https://rust-lang.github.io/async-book/","snippet":"s","position":1},
			{"title":"Tokio","link":"https://tokio.rs/","position":2}
		]}`))
	}))
	defer srv.Close()

	got, err := NewSerperProvider("secret", srv.URL).Search(context.Background(), "rust async", 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Result{URL: "https://rust-lang.github.io/async-book/", Title: "Async Book", Snippet: "s"}, got[0])
	assert.Equal(t, "https://tokio.rs/", got[1].URL)
}

func TestSerper_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSerperProvider("k", srv.URL).Search(context.Background(), "q", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestGoogle_MissingCredentials(t *testing.T) {
	_, err := NewGoogleProvider(context.Background(), "", "cx")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = NewGoogleProvider(context.Background(), "key", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestGoogle_ParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "engine", r.URL.Query().Get("cx"))
		assert.Equal(t, "10", r.URL.Query().Get("num"), "num is capped at 10")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"link":"https://go.dev/","title":"Go","snippet":"lang"}]}`))
	}))
	defer srv.Close()

	p, err := NewGoogleProvider(context.Background(), "key", "engine",
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	got, err := p.Search(context.Background(), "golang", 25)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Result{URL: "https://go.dev/", Title: "Go", Snippet: "lang"}, got[0])
}
