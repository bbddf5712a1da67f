// Package fetcher downloads a batch of pages concurrently with a hard cap on
// in-flight requests.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/sift/internal/textutil"
)

const (
	// StatusTimeout is recorded when a request exceeds its timeout.
	StatusTimeout = http.StatusRequestTimeout
	// StatusFailed is recorded for any other transport failure.
	StatusFailed = 0

	DefaultUserAgent = "SiftResearchBot/1.0 (+https://github.com/starford/sift)"
	defaultMaxBytes  = 2 << 20
	maxRedirects     = 10
)

// Result is the outcome of fetching one URL. Content is empty when the fetch
// failed or the response was not text.
type Result struct {
	URL         string
	StatusCode  int
	Content     string
	ContentType string
	Duration    time.Duration
}

// OK reports whether the fetch produced usable content.
func (r Result) OK() bool {
	return r.Content != ""
}

// Options configures a Fetcher.
type Options struct {
	UserAgent string
	// MaxBytes caps how much of each body is read.
	MaxBytes int64
	// ValidateRedirect vets every redirect target. Defaults to
	// textutil.ValidateURL.
	ValidateRedirect func(string) bool
	Transport        http.RoundTripper
}

// Fetcher fetches pages. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// New creates a Fetcher.
func New(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	validate := opts.ValidateRedirect
	if validate == nil {
		validate = textutil.ValidateURL
	}
	client := &http.Client{
		Transport: opts.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("fetcher: stopped after %d redirects", maxRedirects)
			}
			if !validate(req.URL.String()) {
				return fmt.Errorf("fetcher: redirect to disallowed url %q", req.URL.Redacted())
			}
			return nil
		},
	}
	return &Fetcher{client: client, userAgent: opts.UserAgent, maxBytes: opts.MaxBytes, logger: logger}
}

// FetchBatch fetches every URL with at most maxConcurrent requests in
// flight. The result has exactly one entry per input URL, in input order.
// Individual failures are recorded in the entry and never abort the batch.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string, timeout time.Duration, maxConcurrent int) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	results := make([]Result, len(urls))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = f.fetch(ctx, u, timeout)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	f.logger.Info("fetcher: batch done",
		slog.Int("urls", len(urls)), slog.Int("ok", ok), slog.Int("concurrency", maxConcurrent))
	return results
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, timeout time.Duration) (res Result) {
	res.URL = rawURL
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		f.fail(&res, err)
		return res
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		f.fail(&res, err)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	if !isText(res.ContentType) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBytes))
		f.logger.Debug("fetcher: non-text content discarded",
			slog.String("url", rawURL), slog.String("content_type", res.ContentType))
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		f.fail(&res, err)
		return res
	}
	res.Content = string(body)
	return res
}

func (f *Fetcher) fail(res *Result, err error) {
	res.Content = ""
	res.StatusCode = StatusFailed
	if isTimeout(err) {
		res.StatusCode = StatusTimeout
	}
	f.logger.Debug("fetcher: fetch failed",
		slog.String("url", res.URL), slog.Int("status", res.StatusCode), slog.String("error", err.Error()))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mt == "text/html", mt == "text/plain":
		return true
	case strings.HasPrefix(mt, "application/xhtml"):
		return true
	}
	return false
}
