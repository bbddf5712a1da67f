// Package sse buffers typed progress events per research job and streams
// them to clients as Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/starford/sift/internal/textutil"
)

// EventType classifies a stream event.
type EventType string

// Pipeline events, pushed by the orchestrator and buffered per job.
const (
	EventPlanning   EventType = "planning"
	EventSearching  EventType = "searching"
	EventClustering EventType = "clustering"
	EventFetching   EventType = "fetching"
	EventSynthesis  EventType = "synthesis"
	EventCard       EventType = "card"
	EventUpdate     EventType = "update"
	EventEnd        EventType = "end"
	EventError      EventType = "error"
)

// Stream lifecycle frames, written by the handler and never buffered.
const (
	EventStreamStart EventType = "stream_start"
	EventHeartbeat   EventType = "heartbeat"
	EventAnswer      EventType = "answer"
	EventComplete    EventType = "complete"
	EventTimeout     EventType = "timeout"
)

// Event is one buffered progress event. Index is the position of the event
// in the job's stream; it keeps increasing when old events are dropped.
type Event struct {
	Index     int64           `json:"index"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// EventStore is a bounded, expiring per-job event buffer.
type EventStore interface {
	// Append stores ev, assigning its Index, and returns the stored event.
	Append(ctx context.Context, jobID string, ev Event) (Event, error)
	// Since returns the buffered events with Index >= since, oldest first.
	Since(ctx context.Context, jobID string, since int64) ([]Event, error)
}

// Streamer is the push/drain facade used by pipeline code.
type Streamer struct {
	store  EventStore
	broker *Broker
	logger *slog.Logger
}

// NewStreamer creates a Streamer. broker may be nil.
func NewStreamer(store EventStore, broker *Broker, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{store: store, broker: broker, logger: logger}
}

// Push records an event for jobID. Failures are logged and never reach the
// caller: progress reporting must not fail a job.
func (s *Streamer) Push(ctx context.Context, jobID string, typ EventType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("sse: encode event", slog.String("job_id", jobID),
			slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	ev := Event{Type: typ, Data: raw, Timestamp: textutil.Timestamp(time.Now())}
	if _, err := s.store.Append(ctx, jobID, ev); err != nil {
		s.logger.Error("sse: push event", slog.String("job_id", jobID),
			slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	if s.broker != nil {
		s.broker.Notify(jobID)
	}
}

// Drain returns the events of jobID with Index >= since.
func (s *Streamer) Drain(ctx context.Context, jobID string, since int64) ([]Event, error) {
	return s.store.Since(ctx, jobID, since)
}
