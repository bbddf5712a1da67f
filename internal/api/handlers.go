package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sift/internal/researchservice"
	"github.com/starford/sift/internal/sse"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *researchservice.Service
	stream *sse.Handler
}

// NewHandler creates a new Handler.
func NewHandler(svc *researchservice.Service, stream *sse.Handler) *Handler {
	return &Handler{svc: svc, stream: stream}
}

// CreateResearch handles POST /api/research.
//
//	@Summary		Start a research job
//	@Tags			research
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateResearchRequest	true	"Research request"
//	@Success		202		{object}	CreateResearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/research [post]
func (h *Handler) CreateResearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req CreateResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	job, err := h.svc.CreateJob(r.Context(), researchservice.CreateJobInput{Query: req.Query, TopK: req.TopK})
	if err != nil {
		writeServiceError(w, "create research", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetResearch handles GET /api/research/{id}.
//
//	@Summary		Get a research job and its answer
//	@Tags			research
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ResearchDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/research/{id} [get]
func (h *Handler) GetResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get research", err, slog.String("job_id", id))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteResearch handles DELETE /api/research/{id}.
//
//	@Summary		Delete a research job and its artifacts
//	@Tags			research
//	@Param			id	path	string	true	"Job ID"
//	@Success		204	"Job deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/research/{id} [delete]
func (h *Handler) DeleteResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteJob(r.Context(), id); err != nil {
		writeServiceError(w, "delete research", err, slog.String("job_id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Progress handles GET /api/research/{id}/progress.
//
//	@Summary		Get the progress of a research job
//	@Tags			research
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ProgressResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/research/{id}/progress [get]
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.svc.Progress(r.Context(), id)
	if err != nil {
		writeServiceError(w, "progress", err, slog.String("job_id", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Search handles GET /api/research/{id}/search.
//
//	@Summary		Search the sources of a research job
//	@Tags			research
//	@Produce		json
//	@Param			id		path		string	true	"Job ID"
//	@Param			q		query		string	true	"Search query"
//	@Param			k		query		int		false	"Max results"
//	@Param			mode	query		string	false	"Retrieval mode"	Enums(vector, text)
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/research/{id}/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	k, _ := strconv.Atoi(q.Get("k"))
	mode := researchservice.SearchMode(q.Get("mode"))
	if mode == "" {
		mode = researchservice.SearchVector
	}
	hits, err := h.svc.Search(r.Context(), id, query, k, mode)
	if err != nil {
		writeServiceError(w, "search", err, slog.String("job_id", id), slog.String("query", query))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{JobID: id, Query: query, Mode: string(mode), Results: hits})
}

// Stream handles GET /api/stream/{id}.
//
//	@Summary		Stream job progress as Server-Sent Events
//	@Tags			stream
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"Job ID"
//	@Success		200	"SSE stream"
//	@Failure		404	"Unknown job"
//	@Security		BearerAuth
//	@Router			/stream/{id} [get]
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.stream.ServeStream(w, r, chi.URLParam(r, "id"))
}

// StreamCards handles GET /api/stream/{id}/cards.
//
//	@Summary		Stream accepted insight cards as Server-Sent Events
//	@Tags			stream
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"Job ID"
//	@Success		200	"SSE stream"
//	@Failure		404	"Unknown job"
//	@Security		BearerAuth
//	@Router			/stream/{id}/cards [get]
func (h *Handler) StreamCards(w http.ResponseWriter, r *http.Request) {
	h.stream.ServeCards(w, r, chi.URLParam(r, "id"))
}
