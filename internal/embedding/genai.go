package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider embeds text with the Gemini embedding API.
type GenAIProvider struct {
	client *genai.Client
	model  string
	dim    int32
}

// NewGenAIProvider creates a Gemini embedding provider. dim requests a
// reduced output dimensionality so vectors match the store.
func NewGenAIProvider(ctx context.Context, apiKey, model string, dim int) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("embedding: genai api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create genai client: %w", err)
	}
	return &GenAIProvider{client: client, model: model, dim: int32(dim)}, nil
}

// EmbedDocuments implements Provider.
func (p *GenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery implements Provider.
func (p *GenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *GenAIProvider) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if p.dim > 0 {
		cfg.OutputDimensionality = &p.dim
	}
	res, err := p.client.Models.EmbedContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding: genai embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: genai returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
