package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

// SaveAnswer stores the answer of a job. A job has at most one answer; a
// second save fails with ErrAlreadyExists.
func (db *DB) SaveAnswer(ctx context.Context, a models.ResearchAnswer) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Citations == nil {
		a.Citations = []models.Citation{}
	}
	cites, err := json.Marshal(a.Citations)
	if err != nil {
		return fmt.Errorf("store: encode citations: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO research_answers (job_id, markdown, citations, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING
	`, a.JobID, a.Markdown, string(cites), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: answer for job %s: %w", a.JobID, apperr.ErrAlreadyExists)
	}
	return nil
}

// GetAnswer returns the answer of a job or ErrNotFound.
func (db *DB) GetAnswer(ctx context.Context, jobID string) (*models.ResearchAnswer, error) {
	var (
		a       = models.ResearchAnswer{JobID: jobID}
		cites   string
		created string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT markdown, citations, created_at FROM research_answers WHERE job_id = ?
	`, jobID).Scan(&a.Markdown, &cites, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: answer for job %s: %w", jobID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get answer: %w", err)
	}
	if err := json.Unmarshal([]byte(cites), &a.Citations); err != nil {
		return nil, fmt.Errorf("store: decode citations: %w", err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}
