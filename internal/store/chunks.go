package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/starford/sift/internal/models"
)

// InsertChunks bulk-inserts chunks in one transaction.
func (db *DB) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (job_id, doc_id, url, title, text, tokens, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.JobID, c.DocID, c.URL, c.Title, c.Text, c.Tokens,
			encodeVector(c.Embedding)); err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit chunks: %w", err)
	}
	return nil
}

// ListChunks returns every chunk of a job with its embedding. An empty jobID
// lists the chunks of all jobs.
func (db *DB) ListChunks(ctx context.Context, jobID string) ([]models.Chunk, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, job_id, doc_id, url, title, text, tokens, embedding
		FROM chunks WHERE (? = '' OR job_id = ?) ORDER BY id
	`, jobID, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			c    models.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.JobID, &c.DocID, &c.URL, &c.Title, &c.Text, &c.Tokens, &blob); err != nil {
			return nil, err
		}
		c.Embedding = decodeVector(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchByVector ranks chunks by cosine similarity inside the database using
// sqlite-vec. Only available on EngineSQLiteVec.
func (db *DB) SearchByVector(ctx context.Context, query []float32, k int, jobID string) ([]models.ScoredChunk, error) {
	if db.engine != EngineSQLiteVec {
		return nil, ErrVectorUnavailable
	}
	// Zero vectors have no direction; sqlite-vec yields NULL distances for
	// them, which sort last.
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, url, title, text, vec_distance_cosine(embedding, ?) AS distance
		FROM chunks
		WHERE (? = '' OR job_id = ?)
		ORDER BY distance IS NULL, distance ASC
		LIMIT ?
	`, encodeVector(query), jobID, jobID, k)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			c        models.ScoredChunk
			distance sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.Text, &distance); err != nil {
			return nil, err
		}
		if distance.Valid && !math.IsNaN(distance.Float64) {
			c.Score = 1 - distance.Float64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchText returns chunks whose text or title contains q, case-insensitively.
func (db *DB) SearchText(ctx context.Context, q string, limit int, jobID string) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, job_id, doc_id, url, title, text, tokens
		FROM chunks
		WHERE (? = '' OR job_id = ?)
		  AND (instr(lower(text), lower(?)) > 0 OR instr(lower(title), lower(?)) > 0)
		ORDER BY id
		LIMIT ?
	`, jobID, jobID, q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: text search: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.JobID, &c.DocID, &c.URL, &c.Title, &c.Text, &c.Tokens); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeVector packs a vector as little-endian float32, the layout sqlite-vec
// reads from BLOB arguments.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
