// Package agent runs the research pipeline for one job: search, fetch,
// chunk and embed, retrieve, guard and synthesize, persisting every stage
// and reporting progress as stream events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/embedding"
	"github.com/starford/sift/internal/fetcher"
	"github.com/starford/sift/internal/guards"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/queue"
	"github.com/starford/sift/internal/search"
	"github.com/starford/sift/internal/sse"
	"github.com/starford/sift/internal/synthesis"
)

// Store is the persistence the pipeline writes through.
type Store interface {
	GetJob(ctx context.Context, id string) (*models.ResearchJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, msg string) error
	InsertDocs(ctx context.Context, docs []models.SourceDoc) ([]models.SourceDoc, error)
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	SaveAnswer(ctx context.Context, a models.ResearchAnswer) error
}

// Searcher finds candidate URLs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) []search.Result
}

// Fetcher downloads pages.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string, timeout time.Duration, maxConcurrent int) []fetcher.Result
}

// Embedder embeds chunk texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
}

// Retriever ranks the stored chunks of a job.
type Retriever interface {
	Retrieve(ctx context.Context, jobID, query string, k int) ([]models.ScoredChunk, error)
}

// Synthesizer writes the answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, chunks []models.ScoredChunk) synthesis.Result
}

// Publisher receives progress events.
type Publisher interface {
	Push(ctx context.Context, jobID string, typ sse.EventType, data any)
}

// Archiver stores finished answers outside the database.
type Archiver interface {
	Save(ctx context.Context, job *models.ResearchJob, answer *models.ResearchAnswer) error
}

// Deps are the collaborators of an Orchestrator. Reports and Logger are
// optional.
type Deps struct {
	Store     Store
	Search    Searcher
	Fetch     Fetcher
	Embed     Embedder
	Retrieve  Retriever
	Synth     Synthesizer
	Events    Publisher
	Reports   Archiver
	Logger    *slog.Logger
	Splitter  *embedding.Splitter
	TokenFunc func(string) int
}

// Options tunes the pipeline stages.
type Options struct {
	MaxPages      int
	FetchTimeout  time.Duration
	MaxConcurrent int
	MinChunkChars int
	// CardChars bounds the content of an insight card.
	CardChars int
	// GuardChunks limits synthesis to chunks whose cards passed the guards.
	GuardChunks bool
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		MaxPages:      8,
		FetchTimeout:  10 * time.Second,
		MaxConcurrent: 4,
		MinChunkChars: 80,
		CardChars:     synthesis.DefaultContextChars,
	}
}

// Orchestrator sequences the pipeline stages for a job. It is shared by
// all workers; per-job state lives on the stack of Run.
type Orchestrator struct {
	d      Deps
	opts   Options
	logger *slog.Logger
	guards atomic.Pointer[guards.Config]
}

// New creates an Orchestrator.
func New(d Deps, opts Options, gcfg guards.Config) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = def.MaxConcurrent
	}
	if opts.MinChunkChars < 0 {
		opts.MinChunkChars = 0
	}
	if opts.CardChars <= 0 {
		opts.CardChars = def.CardChars
	}
	if d.Splitter == nil {
		d.Splitter = embedding.NewSplitter(nil, 0, -1)
	}
	if d.TokenFunc == nil {
		d.TokenFunc = embedding.EstimateTokens
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{d: d, opts: opts, logger: logger}
	o.guards.Store(&gcfg)
	return o
}

// SetGuards replaces the guard configuration used by jobs started
// afterwards.
func (o *Orchestrator) SetGuards(cfg guards.Config) {
	o.guards.Store(&cfg)
	o.logger.Info("agent: guard configuration updated")
}

// GuardConfig returns the current guard configuration.
func (o *Orchestrator) GuardConfig() guards.Config {
	return *o.guards.Load()
}

// Run executes the pipeline for jobID. It is a queue.Task: errors returned
// before the job starts are retried; once the job is running every failure
// ends in a terminal job state and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.d.Store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("agent: job %s: %w", jobID, err))
		}
		return fmt.Errorf("agent: load job %s: %w", jobID, err)
	}

	switch job.Status {
	case models.StatusDone, models.StatusError:
		o.logger.Info("agent: job already finished", slog.String("job_id", jobID), slog.String("status", string(job.Status)))
		return nil
	case models.StatusRunning:
		// A previous worker died mid-run; its partial artifacts stay.
		o.fail(ctx, job, errors.New("job interrupted before completion"))
		return nil
	}

	if err := o.d.Store.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("agent: start job %s: %w", jobID, err))
		}
		return fmt.Errorf("agent: start job %s: %w", jobID, err)
	}
	job.Status = models.StatusRunning

	start := time.Now()
	log := o.logger.With(slog.String("job_id", jobID))
	log.Info("agent: job started", slog.String("query", job.Query), slog.Int("top_k", job.TopK))

	if err := o.pipeline(ctx, job, log); err != nil {
		log.Error("agent: job failed", slog.String("error", err.Error()), slog.Duration("elapsed", time.Since(start)))
		o.fail(ctx, job, err)
		return nil
	}

	if err := o.d.Store.MarkDone(context.WithoutCancel(ctx), jobID); err != nil {
		log.Error("agent: mark done", slog.String("error", err.Error()))
		o.fail(ctx, job, err)
		return nil
	}
	log.Info("agent: job done", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// fail records err on the job. Persisting uses a context that survives
// cancellation so a shutdown does not leave the job running.
func (o *Orchestrator) fail(ctx context.Context, job *models.ResearchJob, err error) {
	ctx = context.WithoutCancel(ctx)
	o.d.Events.Push(ctx, job.ID, sse.EventError, map[string]any{"message": err.Error()})
	if merr := o.d.Store.MarkError(ctx, job.ID, err.Error()); merr != nil {
		o.logger.Error("agent: mark error", slog.String("job_id", job.ID), slog.String("error", merr.Error()))
	}
}

// pipeline runs stages in order. Panics are recovered into errors so they
// end the job instead of the worker.
func (o *Orchestrator) pipeline(ctx context.Context, job *models.ResearchJob, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("agent: pipeline panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	o.d.Events.Push(ctx, job.ID, sse.EventPlanning, map[string]any{
		"query":  job.Query,
		"top_k":  job.TopK,
		"stages": []string{"search", "fetch", "embed", "retrieve", "guard", "synthesize"},
	})

	results := o.searchStage(ctx, job)

	docs, err := o.fetchStage(ctx, job, results)
	if err != nil {
		return err
	}

	if err := o.chunkStage(ctx, job, docs); err != nil {
		return err
	}

	ranked, err := o.d.Retrieve.Retrieve(ctx, job.ID, job.Query, job.TopK)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	o.d.Events.Push(ctx, job.ID, sse.EventUpdate, map[string]any{"stage": "retrieve", "chunks": len(ranked)})

	selected := o.guardStage(ctx, job, ranked)

	answer, err := o.synthesisStage(ctx, job, selected, log)
	if err != nil {
		return err
	}

	if o.d.Reports != nil {
		if err := o.d.Reports.Save(ctx, job, answer); err != nil {
			log.Error("agent: archive report", slog.String("error", err.Error()))
		}
	}

	// end precedes the status change so stream readers that stop on done
	// have already seen it.
	o.d.Events.Push(ctx, job.ID, sse.EventEnd, map[string]any{"status": models.StatusDone})
	return nil
}
