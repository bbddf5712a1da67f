package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/starford/sift/internal/textutil"
)

// HashProvider is a local bag-of-words model using signed feature hashing.
// It needs no network or model files and gives texts sharing vocabulary a
// positive cosine similarity.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a HashProvider producing vectors of length dim.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashProvider{dim: dim}
}

// EmbedDocuments implements Provider.
func (p *HashProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// EmbedQuery implements Provider.
func (p *HashProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return p.vector(text), nil
}

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dim)
	for _, tok := range textutil.Tokens(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dim))
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
