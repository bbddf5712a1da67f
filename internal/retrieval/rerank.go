package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/textutil"
)

// RerankMethod names a reranking strategy.
type RerankMethod string

const (
	// RerankTerms boosts chunks by query term occurrences.
	RerankTerms RerankMethod = "terms"
	// RerankNone keeps the similarity order.
	RerankNone RerankMethod = "none"
)

// TermBoost is added to a chunk's score for every occurrence of a query term
// in its text.
const TermBoost = 0.02

// DefaultTextScore is the score given to every substring match.
const DefaultTextScore = 0.5

// Rerank returns a rescored copy of chunks. It never drops chunks.
func Rerank(chunks []models.ScoredChunk, query string, method RerankMethod) []models.ScoredChunk {
	if method != RerankTerms || len(chunks) == 0 {
		return chunks
	}
	terms := textutil.Terms(query)
	if len(terms) == 0 {
		return chunks
	}
	out := make([]models.ScoredChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		hits := 0
		for _, tok := range textutil.Tokens(out[i].Text) {
			if _, ok := terms[tok]; ok {
				hits++
			}
		}
		out[i].Score += float64(hits) * TermBoost
	}
	sortByScore(out)
	return out
}

// TextSearcher finds chunks by substring.
type TextSearcher interface {
	SearchText(ctx context.Context, q string, limit int, jobID string) ([]models.Chunk, error)
}

// TextSearch is the fallback for deployments without usable vectors. Every
// match scores DefaultTextScore.
func TextSearch(ctx context.Context, s TextSearcher, q string, k int, jobID string) ([]models.ScoredChunk, error) {
	q = strings.TrimSpace(q)
	if q == "" || k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	chunks, err := s.SearchText(ctx, q, k, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieval: text search: %w", err)
	}
	out := make([]models.ScoredChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.ScoredChunk{ID: c.ID, URL: c.URL, Title: c.Title, Text: c.Text, Score: DefaultTextScore}
	}
	return out, nil
}
