package store

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/sift/internal/models"
)

// InsertDocs stores the documents of one fetch stage in a single
// transaction and returns them with their assigned ids.
func (db *DB) InsertDocs(ctx context.Context, docs []models.SourceDoc) ([]models.SourceDoc, error) {
	if len(docs) == 0 {
		return docs, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO source_docs (job_id, url, title, text, status_code, duration_ms, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare doc insert: %w", err)
	}
	defer stmt.Close()

	out := make([]models.SourceDoc, len(docs))
	copy(out, docs)
	for i := range out {
		d := &out[i]
		res, err := stmt.ExecContext(ctx, d.JobID, d.URL, d.Title, d.Text, d.StatusCode,
			d.Duration.Milliseconds(), d.Checksum)
		if err != nil {
			return nil, fmt.Errorf("store: insert doc %s: %w", d.URL, err)
		}
		if d.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("store: doc id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit docs: %w", err)
	}
	return out, nil
}

// ListDocs returns the documents of a job in insertion order.
func (db *DB) ListDocs(ctx context.Context, jobID string) ([]models.SourceDoc, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, job_id, url, title, text, status_code, duration_ms, checksum
		FROM source_docs WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list docs: %w", err)
	}
	defer rows.Close()

	var out []models.SourceDoc
	for rows.Next() {
		var (
			d  models.SourceDoc
			ms int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.URL, &d.Title, &d.Text, &d.StatusCode, &ms, &d.Checksum); err != nil {
			return nil, err
		}
		d.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}
