package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sift/internal/guards"
	"github.com/starford/sift/internal/store"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Provider names.
const (
	SearchSerper = "serper"
	SearchGoogle = "google"

	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderNone   = "none"

	StreamMemory = "memory"
	StreamRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Storage   StorageConfig     `yaml:"storage"`
	Search    SearchConfig      `yaml:"search"`
	Fetch     FetchConfig       `yaml:"fetch"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	LLM       LLMConfig         `yaml:"llm"`
	Pipeline  PipelineConfig    `yaml:"pipeline"`
	Guards    guards.Config     `yaml:"guards"`
	Stream    StreamConfig      `yaml:"stream"`
	Queue     QueueConfig       `yaml:"queue"`
	Auth      AuthConfig        `yaml:"auth"`
	Reports   ReportsConfig     `yaml:"reports"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"storage", &c.Storage},
		{"search", &c.Search},
		{"fetch", &c.Fetch},
		{"embedding", &c.Embedding},
		{"llm", &c.LLM},
		{"pipeline", &c.Pipeline},
		{"guards", &c.Guards},
		{"stream", &c.Stream},
		{"queue", &c.Queue},
		{"auth", &c.Auth},
		{"reports", &c.Reports},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects the database engine and file.
type StorageConfig struct {
	Engine store.Engine `yaml:"engine"`
	Path   string       `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Engine, validation.Required, validation.In(store.EngineSQLiteVec, store.EngineSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider      string  `yaml:"provider"`
	APIKey        string  `yaml:"api_key"`
	CX            string  `yaml:"cx"`
	Endpoint      string  `yaml:"endpoint"`
	MaxResults    int     `yaml:"max_results"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Validate validates the search configuration. Missing keys are allowed;
// the client then degrades to empty result lists.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(SearchSerper, SearchGoogle)),
		validation.Field(&c.MaxResults, validation.Min(0), validation.Max(20)),
		validation.Field(&c.RatePerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxPages      int           `yaml:"max_pages"`
	MaxBytes      int64         `yaml:"max_bytes"`
	UserAgent     string        `yaml:"user_agent"`
}

// Validate validates the fetch configuration.
func (c *FetchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.MaxPages, validation.Required, validation.Min(1), validation.Max(50)),
		validation.Field(&c.MaxBytes, validation.Min(int64(0))),
	)
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	// Tokenizer is an optional tiktoken encoding used to size chunks.
	Tokenizer string `yaml:"tokenizer"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderHash, ProviderOpenAI, ProviderGenAI)),
		validation.Field(&c.Dimension, validation.Required, validation.Min(8), validation.Max(8192)),
		validation.Field(&c.Model, validation.When(c.Provider != ProviderHash, validation.Required)),
	)
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderGenAI, ProviderOpenAI, ProviderNone)),
		validation.Field(&c.Model, validation.When(c.Provider != ProviderNone, validation.Required)),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	)
}

// PipelineConfig tunes the research pipeline.
type PipelineConfig struct {
	ChunkTokens     int    `yaml:"chunk_tokens"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	MinChunkChars   int    `yaml:"min_chunk_chars"`
	ContextChars    int    `yaml:"context_chars"`
	Rerank          string `yaml:"rerank"`
	GuardChunks     bool   `yaml:"guard_chunks"`
	StrictCitations bool   `yaml:"strict_citations"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ChunkTokens, validation.Required, validation.Min(16)),
		validation.Field(&c.ChunkOverlap, validation.Min(0)),
		validation.Field(&c.MinChunkChars, validation.Min(0)),
		validation.Field(&c.ContextChars, validation.Required, validation.Min(100)),
		validation.Field(&c.Rerank, validation.Required, validation.In("terms", "none")),
	); err != nil {
		return err
	}
	if c.ChunkOverlap >= c.ChunkTokens {
		return fmt.Errorf("chunk_overlap %d must be below chunk_tokens %d", c.ChunkOverlap, c.ChunkTokens)
	}
	return nil
}

// StreamConfig configures the event buffer and SSE polling.
type StreamConfig struct {
	Backend        string        `yaml:"backend"`
	RedisAddr      string        `yaml:"redis_addr"`
	Capacity       int           `yaml:"capacity"`
	TTL            time.Duration `yaml:"ttl"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
	HeartbeatEvery int           `yaml:"heartbeat_every"`
}

// Validate validates the stream configuration.
func (c *StreamConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(StreamMemory, StreamRedis)),
		validation.Field(&c.RedisAddr, validation.When(c.Backend == StreamRedis, validation.Required)),
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.MaxPolls, validation.Required, validation.Min(1)),
		validation.Field(&c.HeartbeatEvery, validation.Min(0)),
	)
}

// QueueConfig configures the background worker pool.
type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Capacity       int           `yaml:"capacity"`
}

// Validate validates the queue configuration.
func (c *QueueConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.InitialBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBackoff, validation.Min(c.InitialBackoff)),
		validation.Field(&c.Capacity, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ReportsConfig controls the markdown report archive.
type ReportsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the reports configuration.
func (c *ReportsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Engine: store.EngineSQLite,
			Path:   "./sift.db",
		},
		Search: SearchConfig{
			Provider:      SearchSerper,
			MaxResults:    6,
			RatePerSecond: 2,
			Burst:         2,
		},
		Fetch: FetchConfig{
			Timeout:       10 * time.Second,
			MaxConcurrent: 4,
			MaxPages:      8,
			MaxBytes:      2 << 20,
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderHash,
			Dimension: 384,
		},
		LLM: LLMConfig{
			Provider:    ProviderNone,
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Pipeline: PipelineConfig{
			ChunkTokens:   300,
			ChunkOverlap:  30,
			MinChunkChars: 80,
			ContextChars:  1200,
			Rerank:        "terms",
		},
		Guards: guards.DefaultConfig(),
		Stream: StreamConfig{
			Backend:        StreamMemory,
			Capacity:       50,
			TTL:            time.Hour,
			PollInterval:   time.Second,
			MaxPolls:       600,
			HeartbeatEvery: 15,
		},
		Queue: QueueConfig{
			Workers:        2,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			Capacity:       256,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Reports: ReportsConfig{
			Path: "./reports",
		},
	}
}
