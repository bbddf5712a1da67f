package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/starford/sift/internal/agent"
	"github.com/starford/sift/internal/embedding"
	"github.com/starford/sift/internal/fetcher"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/queue"
	"github.com/starford/sift/internal/reports"
	"github.com/starford/sift/internal/researchservice"
	"github.com/starford/sift/internal/retrieval"
	"github.com/starford/sift/internal/search"
	"github.com/starford/sift/internal/sse"
	"github.com/starford/sift/internal/store"
	"github.com/starford/sift/internal/synthesis"
)

var errConfigRequired = errors.New("config is required")

// components are the long-lived collaborators shared by every run mode.
type components struct {
	db           *store.DB
	redis        *redis.Client
	broker       *sse.Broker
	streamer     *sse.Streamer
	stream       *sse.Handler
	archive      *reports.Archive
	retriever    *retrieval.Retriever
	orchestrator *agent.Orchestrator
	logger       *slog.Logger
}

func buildComponents(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.db, err = store.Open(cfg.Storage.Engine, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	engine := embedding.NewEngine(embeddingLoader(cfg.Embedding), cfg.Embedding.Dimension, logger)

	var counter *embedding.TokenCounter
	if cfg.Embedding.Tokenizer != "" {
		counter, err = embedding.NewTokenCounter(cfg.Embedding.Tokenizer)
		if err != nil {
			return nil, fmt.Errorf("init tokenizer: %w", err)
		}
	}
	splitter := embedding.NewSplitter(counter, cfg.Pipeline.ChunkTokens, cfg.Pipeline.ChunkOverlap)
	tokens := embedding.EstimateTokens
	if counter != nil {
		tokens = counter.Count
	}

	c.retriever = retrieval.NewRetriever(engine, retrieval.NewBackend(c.db), c.db, retrieval.RerankMethod(cfg.Pipeline.Rerank))

	completer, cerr := newCompleter(ctx, cfg.LLM)
	if cerr != nil {
		logger.Error("llm backend unavailable, answers use the template fallback",
			slog.String("provider", cfg.LLM.Provider),
			slog.String("error", cerr.Error()))
		completer = synthesis.NoneCompleter{}
	}
	synth := synthesis.NewEngine(completer, synthesis.Options{
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		ContextChars:    cfg.Pipeline.ContextChars,
		StrictCitations: cfg.Pipeline.StrictCitations,
	}, logger)

	var events sse.EventStore
	switch cfg.Stream.Backend {
	case StreamRedis:
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.Stream.RedisAddr})
		if err = c.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		events = sse.NewRedisStore(c.redis, cfg.Stream.Capacity, cfg.Stream.TTL)
	default:
		events = sse.NewMemoryStore(cfg.Stream.Capacity, cfg.Stream.TTL)
	}
	c.broker = sse.NewBroker()
	c.streamer = sse.NewStreamer(events, c.broker, logger)
	c.stream = sse.NewHandler(c.streamer, c.db, sse.HandlerConfig{
		PollInterval:   cfg.Stream.PollInterval,
		MaxPolls:       cfg.Stream.MaxPolls,
		HeartbeatEvery: cfg.Stream.HeartbeatEvery,
	}, logger)

	deps := agent.Deps{
		Store:     c.db,
		Search:    search.NewClient(newSearchProvider(ctx, cfg.Search, logger), search.ClientOptions{MaxResults: cfg.Search.MaxResults, RatePerSecond: cfg.Search.RatePerSecond, Burst: cfg.Search.Burst}, logger),
		Fetch:     fetcher.New(fetcher.Options{UserAgent: cfg.Fetch.UserAgent, MaxBytes: cfg.Fetch.MaxBytes}, logger),
		Embed:     engine,
		Retrieve:  c.retriever,
		Synth:     synth,
		Events:    c.streamer,
		Logger:    logger,
		Splitter:  splitter,
		TokenFunc: tokens,
	}
	if cfg.Reports.Enabled {
		c.archive, err = reports.NewArchive(cfg.Reports.Path)
		if err != nil {
			return nil, fmt.Errorf("init reports: %w", err)
		}
		deps.Reports = c.archive
	}

	c.orchestrator = agent.New(deps, agent.Options{
		MaxPages:      cfg.Fetch.MaxPages,
		FetchTimeout:  cfg.Fetch.Timeout,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		MinChunkChars: cfg.Pipeline.MinChunkChars,
		CardChars:     cfg.Pipeline.ContextChars,
		GuardChunks:   cfg.Pipeline.GuardChunks,
	}, cfg.Guards)

	return c, nil
}

// service builds the job service on top of enq.
func (c *components) service(enq researchservice.Enqueuer) *researchservice.Service {
	var remover researchservice.ReportRemover
	if c.archive != nil {
		remover = c.archive
	}
	return researchservice.NewService(c.db, enq, c.orchestrator.Run, c.retriever, remover, c.logger)
}

// unfinishedJobs lists the jobs a previous process left queued or running.
// It must run before the service accepts new jobs so none is scheduled twice.
func (c *components) unfinishedJobs(ctx context.Context) ([]models.ResearchJob, error) {
	jobs, err := c.db.ListJobsByStatus(ctx, models.StatusQueued, models.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	return jobs, nil
}

// resume re-enqueues jobs. Running ones are failed as interrupted by the
// orchestrator; queued ones execute.
func (c *components) resume(ctx context.Context, q researchservice.Enqueuer, jobs []models.ResearchJob) error {
	for _, job := range jobs {
		if err := q.Enqueue(ctx, c.orchestrator.Run, job.ID); err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("resume job %s: %w", job.ID, err)
		}
	}
	if len(jobs) > 0 {
		c.logger.Info("resumed unfinished jobs", slog.Int("count", len(jobs)))
	}
	return nil
}

// newQueue builds the worker pool whose exhausted jobs are failed by svc.
func newQueue(cfg QueueConfig, logger *slog.Logger) *queue.Queue {
	return queue.New(queue.Config{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Capacity:       cfg.Capacity,
	}, logger)
}

// Close releases every resource that was opened.
func (c *components) Close() {
	if c.broker != nil {
		c.broker.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("store close failed", slog.String("error", err.Error()))
		}
	}
}

func embeddingLoader(cfg EmbeddingConfig) embedding.Loader {
	return func() (embedding.Provider, error) {
		switch cfg.Provider {
		case ProviderOpenAI:
			return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			})
		case ProviderGenAI:
			return embedding.NewGenAIProvider(context.Background(), cfg.APIKey, cfg.Model, cfg.Dimension)
		default:
			return embedding.NewHashProvider(cfg.Dimension), nil
		}
	}
}

func newCompleter(ctx context.Context, cfg LLMConfig) (synthesis.Completer, error) {
	switch cfg.Provider {
	case ProviderGenAI:
		return synthesis.NewGenAICompleter(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return synthesis.NewOpenAICompleter(synthesis.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return synthesis.NoneCompleter{}, nil
	}
}

func newSearchProvider(ctx context.Context, cfg SearchConfig, logger *slog.Logger) search.Provider {
	if cfg.Provider == SearchGoogle {
		p, err := search.NewGoogleProvider(ctx, cfg.APIKey, cfg.CX)
		if err == nil {
			return p
		}
		logger.Error("google search unavailable, searches return no results", slog.String("error", err.Error()))
		// A keyless serper provider reports ErrMissingCredentials on every call.
		return search.NewSerperProvider("", "")
	}
	return search.NewSerperProvider(cfg.APIKey, cfg.Endpoint)
}
