// Package queue runs research jobs in the background, decoupled from the
// request that created them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Enqueue once the queue has stopped.
var ErrClosed = errors.New("queue: closed")

// Task executes one job. Errors are retried with backoff unless wrapped
// with Permanent.
type Task func(ctx context.Context, jobID string) error

// Permanent marks err as not retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// Config tunes workers and retries.
type Config struct {
	Workers        int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Capacity is the number of pending tasks Enqueue accepts without
	// blocking.
	Capacity int
}

type item struct {
	task  Task
	jobID string
}

// Queue is an in-process task queue with at-least-once, retrying execution.
type Queue struct {
	cfg    Config
	logger *slog.Logger
	items  chan item

	// OnFailure, when set, is called after a task exhausts its retries.
	OnFailure func(jobID string, err error)

	once sync.Once
	done chan struct{}
}

// New creates a Queue. Call Run to start its workers.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:    cfg,
		logger: logger,
		items:  make(chan item, cfg.Capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules task for jobID. It blocks only while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task Task, jobID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- item{task: task, jobID: jobID}:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline runs tasks synchronously inside Enqueue, without retries. It
// serves one-shot command line runs.
type Inline struct{}

// Enqueue runs task immediately.
func (Inline) Enqueue(ctx context.Context, task Task, jobID string) error {
	return task(ctx, jobID)
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int { return len(q.items) }

// Run starts the workers and blocks until ctx is cancelled and every
// running task has returned. Pending tasks left in the queue are dropped.
func (q *Queue) Run(ctx context.Context) error {
	defer q.once.Do(func() { close(q.done) })

	q.logger.Info("queue started", slog.Int("workers", q.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case it := <-q.items:
					q.execute(gctx, it)
				}
			}
		})
	}
	err := g.Wait()
	if dropped := len(q.items); dropped > 0 {
		q.logger.Warn("queue stopped with pending tasks", slog.Int("pending", dropped))
	}
	return err
}

func (q *Queue) execute(ctx context.Context, it item) {
	attempt := 0
	op := func() (err error) {
		attempt++
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("queue: task panicked: %v", r))
			}
		}()
		return it.task(ctx, it.jobID)
	}
	notify := func(err error, wait time.Duration) {
		q.logger.Warn("queue: task failed, retrying",
			slog.String("job_id", it.jobID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(q.policy(), ctx), notify)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		q.logger.Info("queue: task abandoned on shutdown", slog.String("job_id", it.jobID))
		return
	}
	q.logger.Error("queue: task failed",
		slog.String("job_id", it.jobID),
		slog.Int("attempts", attempt),
		slog.String("error", err.Error()))
	if q.OnFailure != nil {
		q.OnFailure(it.jobID, err)
	}
}

func (q *Queue) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(q.cfg.MaxRetries))
}
