package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ErrUnavailable is returned by a Completer that cannot serve requests.
var ErrUnavailable = errors.New("synthesis: completion backend unavailable")

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer is an external text completion backend.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NoneCompleter is always unavailable, forcing the template answer.
type NoneCompleter struct{}

// Complete implements Completer.
func (NoneCompleter) Complete(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

// GenAICompleter calls Gemini through the genai SDK.
type GenAICompleter struct {
	client *genai.Client
	model  string
}

// NewGenAICompleter creates a Gemini completer.
func NewGenAICompleter(ctx context.Context, apiKey, model string) (*GenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: genai api key is empty", ErrUnavailable)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis: create genai client: %w", err)
	}
	return &GenAICompleter{client: client, model: model}, nil
}

// Complete implements Completer.
func (c *GenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("synthesis: genai generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("synthesis: genai returned no text")
	}
	return text, nil
}

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAICompleter calls POST {base}/chat/completions.
type OpenAICompleter struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAICompleter creates an OpenAI-compatible completer.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.Model == "" {
		return nil, errors.New("synthesis: openai model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAICompleter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("synthesis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("synthesis: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("synthesis: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("synthesis: decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", errors.New("synthesis: empty completion")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
