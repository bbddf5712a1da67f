// Package researchservice is the job submission layer shared by the HTTP
// API, the MCP server and the command line.
package researchservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/queue"
	"github.com/starford/sift/internal/store"
)

// Input limits.
const (
	DefaultTopK    = 6
	MaxTopK        = 20
	MaxQueryLength = 500
)

// Enqueuer schedules background execution of a job.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, jobID string) error
}

// Retriever serves job-scoped searches over stored chunks.
type Retriever interface {
	Retrieve(ctx context.Context, jobID, query string, k int) ([]models.ScoredChunk, error)
	SearchText(ctx context.Context, jobID, query string, k int) ([]models.ScoredChunk, error)
}

// ReportRemover deletes archived reports.
type ReportRemover interface {
	Delete(jobID string) error
}

// CreateJobInput is a research request.
type CreateJobInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Validate normalises and checks the input.
func (in *CreateJobInput) Validate() error {
	in.Query = strings.TrimSpace(in.Query)
	if in.TopK == 0 {
		in.TopK = DefaultTopK
	}
	err := validation.ValidateStruct(in,
		validation.Field(&in.Query, validation.Required, validation.RuneLength(1, MaxQueryLength)),
		validation.Field(&in.TopK, validation.Min(1), validation.Max(MaxTopK)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, err.Error())
	}
	return nil
}

// CreatedJob is returned by CreateJob.
type CreatedJob struct {
	JobID       string           `json:"job_id"`
	Query       string           `json:"query"`
	Status      models.JobStatus `json:"status"`
	StreamURL   string           `json:"stream_url"`
	ProgressURL string           `json:"progress_url"`
}

// JobDetail is a job with its answer, when one exists.
type JobDetail struct {
	*models.ResearchJob
	Answer *models.ResearchAnswer `json:"answer,omitempty"`
}

// SearchMode selects the retrieval path of Search.
type SearchMode string

const (
	SearchVector SearchMode = "vector"
	SearchText   SearchMode = "text"
)

// Service coordinates the store, the queue and the pipeline task.
type Service struct {
	db        *store.DB
	queue     Enqueuer
	task      queue.Task
	retriever Retriever
	reports   ReportRemover
	logger    *slog.Logger
}

// NewService creates a Service. task runs a job; reports may be nil.
func NewService(db *store.DB, q Enqueuer, task queue.Task, r Retriever, reports ReportRemover, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, queue: q, task: task, retriever: r, reports: reports, logger: logger}
}

// CreateJob validates in, stores a queued job and schedules it.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (*CreatedJob, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	job := models.ResearchJob{
		ID:     uuid.NewString(),
		Query:  in.Query,
		TopK:   in.TopK,
		Status: models.StatusQueued,
	}
	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("research job created", slog.String("job_id", job.ID), slog.Int("top_k", job.TopK))

	if err := s.queue.Enqueue(ctx, s.task, job.ID); err != nil {
		// A job that was never scheduled would stay queued forever.
		if derr := s.db.DeleteJob(context.WithoutCancel(ctx), job.ID); derr != nil {
			s.logger.Error("drop unscheduled job", slog.String("job_id", job.ID), slog.String("error", derr.Error()))
		}
		return nil, fmt.Errorf("researchservice: enqueue %s: %w", job.ID, err)
	}

	return &CreatedJob{
		JobID:       job.ID,
		Query:       job.Query,
		Status:      models.StatusQueued,
		StreamURL:   "/api/stream/" + job.ID,
		ProgressURL: "/api/research/" + job.ID + "/progress",
	}, nil
}

// GetJob returns the job and its answer.
func (s *Service) GetJob(ctx context.Context, id string) (*JobDetail, error) {
	job, err := s.db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &JobDetail{ResearchJob: job}
	ans, err := s.db.GetAnswer(ctx, id)
	switch {
	case err == nil:
		detail.Answer = ans
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

// Progress returns the progress summary of a job.
func (s *Service) Progress(ctx context.Context, id string) (*models.Progress, error) {
	return s.db.Progress(ctx, id)
}

// DeleteJob removes a job, its artifacts and its archived report.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.DeleteJob(ctx, id); err != nil {
		return err
	}
	if s.reports != nil {
		if err := s.reports.Delete(id); err != nil {
			s.logger.Error("delete report", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("research job deleted", slog.String("job_id", id))
	return nil
}

// Search runs a retrieval over the chunks of job id.
func (s *Service) Search(ctx context.Context, id, query string, k int, mode SearchMode) ([]models.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidInput)
	}
	if k <= 0 {
		k = DefaultTopK
	}
	k = min(k, MaxTopK)
	if _, err := s.db.GetJob(ctx, id); err != nil {
		return nil, err
	}
	switch mode {
	case SearchText:
		return s.retriever.SearchText(ctx, id, query, k)
	case SearchVector, "":
		return s.retriever.Retrieve(ctx, id, query, k)
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", apperr.ErrInvalidInput, mode)
	}
}

// FailJob records err on a job whose task exhausted its retries. It is
// installed as the queue's failure hook.
func (s *Service) FailJob(jobID string, err error) {
	ctx := context.Background()
	job, gerr := s.db.GetJob(ctx, jobID)
	if gerr != nil {
		return
	}
	if job.Status == models.StatusQueued {
		if merr := s.db.MarkRunning(ctx, jobID); merr != nil {
			s.logger.Error("fail job", slog.String("job_id", jobID), slog.String("error", merr.Error()))
			return
		}
	} else if job.Status.Terminal() {
		return
	}
	if merr := s.db.MarkError(ctx, jobID, err.Error()); merr != nil {
		s.logger.Error("fail job", slog.String("job_id", jobID), slog.String("error", merr.Error()))
	}
}
