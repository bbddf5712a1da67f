package api

import (
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/researchservice"
)

// CreateResearchRequest is the request body for starting a research job.
type CreateResearchRequest struct {
	Query string `json:"query" example:"How do Go generics work?" validate:"required"`
	TopK  int    `json:"top_k,omitempty" example:"6"`
}

// CreateResearchResponse is returned when a job has been scheduled.
type CreateResearchResponse = researchservice.CreatedJob

// ResearchDetail is a job with its answer (aliased from the domain layer).
type ResearchDetail = researchservice.JobDetail

// ProgressResponse summarises how far a job has come.
type ProgressResponse = models.Progress

// SearchResponse wraps job-scoped retrieval results.
type SearchResponse struct {
	JobID   string               `json:"job_id" validate:"required"`
	Query   string               `json:"query" validate:"required"`
	Mode    string               `json:"mode" example:"vector" validate:"required"`
	Results []models.ScoredChunk `json:"results" validate:"required"`
}
