// Package embedding turns text into vectors and splits documents into chunks
// sized for embedding.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultDimension matches the common small sentence-embedding models.
const DefaultDimension = 384

// Provider is an embedding backend.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Loader constructs a Provider. It runs at most once per Engine.
type Loader func() (Provider, error)

// Engine wraps a Provider that is loaded on first use and shared by every
// caller afterwards. Engine never fails: when the provider cannot be loaded
// or a call errors, it returns zero-vectors of the configured dimension so the
// pipeline continues with degraded relevance.
type Engine struct {
	load   Loader
	dim    int
	logger *slog.Logger

	once     sync.Once
	provider Provider
	loadErr  error
}

// NewEngine creates an Engine. The loader is not invoked until the first
// embedding request.
func NewEngine(load Loader, dim int, logger *slog.Logger) *Engine {
	if dim <= 0 {
		dim = DefaultDimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{load: load, dim: dim, logger: logger}
}

// Dimension returns the vector length produced by the engine.
func (e *Engine) Dimension() int {
	return e.dim
}

func (e *Engine) get() (Provider, error) {
	e.once.Do(func() {
		e.provider, e.loadErr = e.load()
		if e.loadErr != nil {
			e.logger.Error("embedding: provider load failed", slog.String("error", e.loadErr.Error()))
		} else {
			e.logger.Info("embedding: provider loaded", slog.Int("dimension", e.dim))
		}
	})
	return e.provider, e.loadErr
}

// Embed returns one vector per input text. Empty input yields an empty slice.
func (e *Engine) Embed(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return [][]float32{}
	}
	p, err := e.get()
	if err != nil {
		return e.zeros(len(texts))
	}
	vecs, err := p.EmbedDocuments(ctx, texts)
	if err == nil {
		err = e.check(vecs, len(texts))
	}
	if err != nil {
		e.logger.Error("embedding: embed documents failed",
			slog.Int("texts", len(texts)), slog.String("error", err.Error()))
		return e.zeros(len(texts))
	}
	return vecs
}

// EmbedQuery returns the vector for a search query.
func (e *Engine) EmbedQuery(ctx context.Context, text string) []float32 {
	p, err := e.get()
	if err != nil {
		return make([]float32, e.dim)
	}
	vec, err := p.EmbedQuery(ctx, text)
	if err == nil {
		err = e.check([][]float32{vec}, 1)
	}
	if err != nil {
		e.logger.Error("embedding: embed query failed", slog.String("error", err.Error()))
		return make([]float32, e.dim)
	}
	return vec
}

func (e *Engine) check(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("embedding: got %d vectors for %d texts", len(vecs), want)
	}
	for _, v := range vecs {
		if len(v) != e.dim {
			return fmt.Errorf("embedding: vector dimension %d, want %d", len(v), e.dim)
		}
	}
	return nil
}

func (e *Engine) zeros(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out
}
