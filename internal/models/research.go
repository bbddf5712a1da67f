// Package models defines the domain types for Sift.
package models

import "time"

// JobStatus is the lifecycle state of a research job.
type JobStatus string

// Job states. Transitions are queued → running → done|error.
const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ResearchJob is one research request and its run state.
type ResearchJob struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	TopK       int        `json:"top_k"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SourceDoc is one fetched web page. Text is empty when the fetch failed
// or the content type was rejected.
type SourceDoc struct {
	ID         int64         `json:"id"`
	JobID      string        `json:"job_id"`
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	Checksum   string        `json:"checksum"`
}

// Chunk is one embedded text segment of a SourceDoc.
type Chunk struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	DocID     int64     `json:"doc_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens"`
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	ID    int64   `json:"id"`
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Citation maps a footnote index to its source.
type Citation struct {
	Index int      `json:"index"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Score *float64 `json:"score,omitempty"`
}

// ResearchAnswer is the synthesized result of a job.
type ResearchAnswer struct {
	JobID     string     `json:"job_id"`
	Markdown  string     `json:"markdown"`
	Citations []Citation `json:"citations"`
	CreatedAt time.Time  `json:"created_at"`
}

// InsightCard is a candidate unit of generated content subject to quality guards.
type InsightCard struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Citations     []Citation `json:"citations"`
	Confidence    float64    `json:"confidence"`
	Authority     float64    `json:"authority"`
	DomainCluster string     `json:"domain_cluster,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// PassesQualityGuards reports whether the card carries citations and meets
// the authority and confidence minimums.
func (c *InsightCard) PassesQualityGuards(minAuthority, minConfidence float64) bool {
	return len(c.Citations) > 0 && c.Authority >= minAuthority && c.Confidence >= minConfidence
}

// Progress summarises how far a job has come.
type Progress struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	DocsProcessed  int       `json:"docs_processed"`
	DocsFailed     int       `json:"docs_failed"`
	ChunksCreated  int       `json:"chunks_created"`
	AnswerReady    bool      `json:"answer_ready"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}
