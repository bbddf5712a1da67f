package sse

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps event buffers in Redis lists so that workers and stream
// handlers on different instances share them.
type RedisStore struct {
	client   redis.UniversalClient
	capacity int
	ttl      time.Duration
	prefix   string
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient, capacity int, ttl time.Duration) *RedisStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, capacity: capacity, ttl: ttl, prefix: "sift:events:"}
}

func (r *RedisStore) listKey(jobID string) string { return r.prefix + jobID }
func (r *RedisStore) seqKey(jobID string) string  { return r.prefix + jobID + ":seq" }

// Append implements EventStore.
func (r *RedisStore) Append(ctx context.Context, jobID string, ev Event) (Event, error) {
	seq, err := r.client.Incr(ctx, r.seqKey(jobID)).Result()
	if err != nil {
		return Event{}, fmt.Errorf("sse: redis incr: %w", err)
	}
	ev.Index = seq - 1
	payload, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("sse: encode event: %w", err)
	}

	list := r.listKey(jobID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, list, payload)
		p.LTrim(ctx, list, int64(-r.capacity), -1)
		p.Expire(ctx, list, r.ttl)
		p.Expire(ctx, r.seqKey(jobID), r.ttl)
		return nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("sse: redis append: %w", err)
	}
	return ev, nil
}

// Since implements EventStore.
func (r *RedisStore) Since(ctx context.Context, jobID string, since int64) ([]Event, error) {
	raw, err := r.client.LRange(ctx, r.listKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sse: redis range: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, fmt.Errorf("sse: decode event: %w", err)
		}
		if ev.Index >= since {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b Event) int { return cmp.Compare(a.Index, b.Index) })
	return out, nil
}
