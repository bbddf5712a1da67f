// Package retrieval answers top-k similarity queries over stored chunks and
// reranks the hits by lexical overlap with the query.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/store"
	"github.com/starford/sift/internal/textutil"
)

// Backend ranks the chunks of a job (or of all jobs when jobID is empty)
// against a query vector. Results are sorted by descending score and hold at
// most k entries.
type Backend interface {
	TopK(ctx context.Context, query []float32, k int, jobID string) ([]models.ScoredChunk, error)
}

// VectorSearcher is a store with an in-database cosine distance operator.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, query []float32, k int, jobID string) ([]models.ScoredChunk, error)
}

// ChunkLister loads chunks with their embeddings.
type ChunkLister interface {
	ListChunks(ctx context.Context, jobID string) ([]models.Chunk, error)
}

// VectorBackend delegates ranking to the database.
type VectorBackend struct {
	store VectorSearcher
}

// NewVectorBackend creates a VectorBackend.
func NewVectorBackend(s VectorSearcher) *VectorBackend {
	return &VectorBackend{store: s}
}

// TopK implements Backend.
func (b *VectorBackend) TopK(ctx context.Context, query []float32, k int, jobID string) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	hits, err := b.store.SearchByVector(ctx, query, k, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector top-k: %w", err)
	}
	// The database orders by distance; re-sort so ties and NULL distances
	// come out the same way as the brute-force backend.
	sortByScore(hits)
	return truncate(hits, k), nil
}

// BruteForceBackend scores every candidate chunk in process.
type BruteForceBackend struct {
	store ChunkLister
}

// NewBruteForceBackend creates a BruteForceBackend.
func NewBruteForceBackend(s ChunkLister) *BruteForceBackend {
	return &BruteForceBackend{store: s}
}

// TopK implements Backend.
func (b *BruteForceBackend) TopK(ctx context.Context, query []float32, k int, jobID string) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	chunks, err := b.store.ListChunks(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: load chunks: %w", err)
	}
	hits := make([]models.ScoredChunk, len(chunks))
	for i, c := range chunks {
		hits[i] = models.ScoredChunk{
			ID:    c.ID,
			URL:   c.URL,
			Title: c.Title,
			Text:  c.Text,
			Score: textutil.Cosine(query, c.Embedding),
		}
	}
	sortByScore(hits)
	return truncate(hits, k), nil
}

// NewBackend picks the backend matching the store's engine.
func NewBackend(db *store.DB) Backend {
	if db.Engine() == store.EngineSQLiteVec {
		return NewVectorBackend(db)
	}
	return NewBruteForceBackend(db)
}

func sortByScore(hits []models.ScoredChunk) {
	slices.SortStableFunc(hits, func(a, b models.ScoredChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

func truncate(hits []models.ScoredChunk, k int) []models.ScoredChunk {
	if len(hits) > k {
		hits = hits[:k]
	}
	if hits == nil {
		hits = []models.ScoredChunk{}
	}
	return hits
}
