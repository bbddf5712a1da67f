package sse

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Buffer defaults.
const (
	DefaultCapacity = 50
	DefaultTTL      = time.Hour
	maxJobs         = 10000
)

type jobBuffer struct {
	mu     sync.Mutex
	events []Event
	next   int64
}

// MemoryStore keeps event buffers in an expiring LRU cache. It serves a
// single process.
type MemoryStore struct {
	capacity int

	mu   sync.Mutex
	jobs *expirable.LRU[string, *jobBuffer]
}

// NewMemoryStore creates a MemoryStore holding up to capacity events per
// job. A job's buffer expires ttl after its last event.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		capacity: capacity,
		jobs:     expirable.NewLRU[string, *jobBuffer](maxJobs, nil, ttl),
	}
}

// Append implements EventStore.
func (m *MemoryStore) Append(_ context.Context, jobID string, ev Event) (Event, error) {
	m.mu.Lock()
	buf, ok := m.jobs.Get(jobID)
	if !ok {
		buf = &jobBuffer{}
	}
	// Re-adding refreshes the expiry.
	m.jobs.Add(jobID, buf)
	m.mu.Unlock()

	buf.mu.Lock()
	defer buf.mu.Unlock()
	ev.Index = buf.next
	buf.next++
	buf.events = append(buf.events, ev)
	if over := len(buf.events) - m.capacity; over > 0 {
		buf.events = append([]Event(nil), buf.events[over:]...)
	}
	return ev, nil
}

// Since implements EventStore.
func (m *MemoryStore) Since(_ context.Context, jobID string, since int64) ([]Event, error) {
	m.mu.Lock()
	buf, ok := m.jobs.Get(jobID)
	m.mu.Unlock()
	if !ok {
		return []Event{}, nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	out := []Event{}
	for _, ev := range buf.events {
		if ev.Index >= since {
			out = append(out, ev)
		}
	}
	return out, nil
}
