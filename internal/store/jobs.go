package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

// CreateJob inserts a queued job.
func (db *DB) CreateJob(ctx context.Context, job models.ResearchJob) error {
	if job.Status == "" {
		job.Status = models.StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO research_jobs (id, query, top_k, status, error, created_at)
		VALUES (?, ?, ?, ?, '', ?)
		ON CONFLICT(id) DO NOTHING
	`, job.ID, job.Query, job.TopK, string(job.Status), formatTime(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: create job %s: %w", job.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// GetJob returns a job by id.
func (db *DB) GetJob(ctx context.Context, id string) (*models.ResearchJob, error) {
	var (
		j        models.ResearchJob
		status   string
		created  string
		finished sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, query, top_k, status, error, created_at, finished_at
		FROM research_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.Query, &j.TopK, &status, &j.Error, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	j.Status = models.JobStatus(status)
	j.CreatedAt = parseTime(created)
	if finished.Valid {
		t := parseTime(finished.String)
		j.FinishedAt = &t
	}
	return &j, nil
}

// ListJobsByStatus returns the jobs in any of statuses, oldest first.
func (db *DB) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.ResearchJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, query, top_k, status, error, created_at
		FROM research_jobs WHERE status IN (`+placeholders+`)
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ResearchJob
	for rows.Next() {
		var (
			j       models.ResearchJob
			status  string
			created string
		)
		if err := rows.Scan(&j.ID, &j.Query, &j.TopK, &status, &j.Error, &created); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		j.Status = models.JobStatus(status)
		j.CreatedAt = parseTime(created)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a queued job to running. It fails with ErrConflict when
// the job is in any other state.
func (db *DB) MarkRunning(ctx context.Context, id string) error {
	return db.transition(ctx, id, models.StatusQueued, models.StatusRunning, "")
}

// MarkDone moves a running job to done and sets finished_at.
func (db *DB) MarkDone(ctx context.Context, id string) error {
	return db.transition(ctx, id, models.StatusRunning, models.StatusDone, "")
}

// MarkError moves a running job to error, recording msg and finished_at.
func (db *DB) MarkError(ctx context.Context, id, msg string) error {
	return db.transition(ctx, id, models.StatusRunning, models.StatusError, msg)
}

func (db *DB) transition(ctx context.Context, id string, from, to models.JobStatus, msg string) error {
	var finished any
	if to.Terminal() {
		finished = formatTime(time.Now())
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE research_jobs SET status = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, string(to), msg, finished, id, string(from))
	if err != nil {
		return fmt.Errorf("store: set job %s %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	job, err := db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("store: job %s is %s, cannot become %s: %w", id, job.Status, to, apperr.ErrConflict)
}

// DeleteJob removes a job together with its documents, chunks and answer.
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM research_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: job %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Progress summarises the persisted artifacts of a job.
func (db *DB) Progress(ctx context.Context, id string) (*models.Progress, error) {
	var (
		p        = models.Progress{JobID: id}
		status   string
		created  string
		finished sql.NullString
		answer   int
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT j.status, j.error, j.created_at, j.finished_at,
		       (SELECT COUNT(*) FROM source_docs d WHERE d.job_id = j.id),
		       (SELECT COUNT(*) FROM source_docs d WHERE d.job_id = j.id AND d.text = ''),
		       (SELECT COUNT(*) FROM chunks c WHERE c.job_id = j.id),
		       (SELECT COUNT(*) FROM research_answers a WHERE a.job_id = j.id)
		FROM research_jobs j WHERE j.id = ?
	`, id).Scan(&status, &p.Error, &created, &finished,
		&p.DocsProcessed, &p.DocsFailed, &p.ChunksCreated, &answer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: progress: %w", err)
	}
	p.Status = models.JobStatus(status)
	p.AnswerReady = answer > 0

	end := time.Now()
	if finished.Valid {
		end = parseTime(finished.String)
	}
	if start := parseTime(created); !start.IsZero() {
		p.ElapsedSeconds = end.Sub(start).Seconds()
	}
	return &p, nil
}
