package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/textutil"
)

// JobReader exposes the job state a stream needs to decide when to stop.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*models.ResearchJob, error)
	GetAnswer(ctx context.Context, jobID string) (*models.ResearchAnswer, error)
}

// HandlerConfig tunes stream polling.
type HandlerConfig struct {
	PollInterval time.Duration
	// MaxPolls ends a stream with a timeout frame after this many polls.
	MaxPolls int
	// HeartbeatEvery sends a heartbeat frame every N polls. Zero disables.
	HeartbeatEvery int
}

// Handler serves job progress as Server-Sent Events.
type Handler struct {
	streamer *Streamer
	jobs     JobReader
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(s *Streamer, jobs JobReader, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 600
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{streamer: s, jobs: jobs, cfg: cfg, logger: logger}
}

// cardStreamTypes are the events forwarded by the card-only stream.
var cardStreamTypes = map[EventType]bool{
	EventCard:      true,
	EventSynthesis: true,
	EventEnd:       true,
	EventError:     true,
}

// ServeStream streams every event of jobID.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request, jobID string) {
	h.serve(w, r, jobID, nil)
}

// ServeCards streams only card events plus the terminal synthesis, end and
// error events of jobID.
func (h *Handler) ServeCards(w http.ResponseWriter, r *http.Request, jobID string) {
	h.serve(w, r, jobID, cardStreamTypes)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, jobID string, only map[EventType]bool) {
	ctx := r.Context()
	if _, err := h.jobs.GetJob(ctx, jobID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperr.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var wake chan struct{}
	if h.streamer.broker != nil {
		wake = h.streamer.broker.Subscribe(jobID)
		defer h.streamer.broker.Unsubscribe(jobID, wake)
	}

	writeFrame(w, EventStreamStart, map[string]any{"job_id": jobID, "timestamp": now()})
	flusher.Flush()

	var (
		next      int64
		sentError bool
		// poll counts the initial check plus elapsed poll intervals. Broker
		// wakeups re-check early without advancing it, so the timeout and
		// heartbeats follow wall time.
		poll   = 1
		ticked bool
	)
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Read the status before draining so every event pushed before a
		// terminal transition is delivered.
		job, jobErr := h.jobs.GetJob(ctx, jobID)

		events, err := h.streamer.Drain(ctx, jobID, next)
		if err != nil {
			h.logger.Error("sse: drain", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		for _, ev := range events {
			next = ev.Index + 1
			if only != nil && !only[ev.Type] {
				continue
			}
			if ev.Type == EventError {
				sentError = true
			}
			writeFrame(w, ev.Type, ev)
		}

		switch {
		case jobErr != nil:
			if !sentError {
				writeFrame(w, EventError, map[string]any{"message": "job no longer available", "timestamp": now()})
			}
			h.finish(w, flusher)
			return
		case job.Status == models.StatusDone:
			if only == nil {
				if ans, err := h.jobs.GetAnswer(ctx, jobID); err == nil {
					writeFrame(w, EventAnswer, ans)
				}
			}
			writeFrame(w, EventComplete, map[string]any{"job_id": jobID, "status": job.Status, "timestamp": now()})
			h.finish(w, flusher)
			return
		case job.Status == models.StatusError:
			if !sentError {
				writeFrame(w, EventError, map[string]any{"message": job.Error, "timestamp": now()})
			}
			h.finish(w, flusher)
			return
		case poll >= h.cfg.MaxPolls:
			writeFrame(w, EventTimeout, map[string]any{"polls": poll, "status": job.Status, "timestamp": now()})
			h.finish(w, flusher)
			return
		case ticked && h.cfg.HeartbeatEvery > 0 && poll%h.cfg.HeartbeatEvery == 0:
			writeFrame(w, EventHeartbeat, map[string]any{"status": job.Status, "timestamp": now()})
		}
		flusher.Flush()

		ticked = false
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		case <-ticker.C:
			poll++
			ticked = true
		}
	}
}

func (h *Handler) finish(w io.Writer, f http.Flusher) {
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	f.Flush()
}

func writeFrame(w io.Writer, typ EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, data)
}

func now() string {
	return textutil.Timestamp(time.Now())
}
