package retrieval

import (
	"context"

	"github.com/starford/sift/internal/models"
)

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// Retriever embeds a query, ranks the chunks of a job and reranks them.
type Retriever struct {
	embedder QueryEmbedder
	backend  Backend
	text     TextSearcher
	method   RerankMethod
}

// NewRetriever creates a Retriever. text may be nil when no substring
// fallback is wanted.
func NewRetriever(embedder QueryEmbedder, backend Backend, text TextSearcher, method RerankMethod) *Retriever {
	if method == "" {
		method = RerankTerms
	}
	return &Retriever{embedder: embedder, backend: backend, text: text, method: method}
}

// Retrieve returns the reranked top-k chunks of jobID for query.
func (r *Retriever) Retrieve(ctx context.Context, jobID, query string, k int) ([]models.ScoredChunk, error) {
	vec := r.embedder.EmbedQuery(ctx, query)
	hits, err := r.backend.TopK(ctx, vec, k, jobID)
	if err != nil {
		return nil, err
	}
	return Rerank(hits, query, r.method), nil
}

// SearchText runs the substring fallback.
func (r *Retriever) SearchText(ctx context.Context, jobID, query string, k int) ([]models.ScoredChunk, error) {
	if r.text == nil {
		return []models.ScoredChunk{}, nil
	}
	return TextSearch(ctx, r.text, query, k, jobID)
}
