package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

func testDB(t *testing.T, engine Engine) *DB {
	t.Helper()
	if engine == EngineSQLiteVec && !VecCompiled() {
		t.Skip("sqlite-vec not compiled in; run with -tags sqlite_vec")
	}
	db, err := Open(engine, filepath.Join(t.TempDir(), "sift-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedJob(t *testing.T, db *DB, id string) {
	t.Helper()
	if err := db.CreateJob(context.Background(), models.ResearchJob{ID: id, Query: "golang generics", TopK: 6}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestOpenVecWithoutExtension(t *testing.T) {
	if VecCompiled() {
		t.Skip("sqlite-vec compiled in")
	}
	_, err := Open(EngineSQLiteVec, filepath.Join(t.TempDir(), "x.db"))
	if !errors.Is(err, ErrVectorUnavailable) {
		t.Fatalf("err = %v, want ErrVectorUnavailable", err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t, EngineSQLite)
	for _, table := range []string{"research_jobs", "source_docs", "chunks", "research_answers"} {
		var n int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")

	job, err := db.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.StatusQueued || job.FinishedAt != nil || job.TopK != 6 {
		t.Fatalf("unexpected new job: %+v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	if err := db.MarkDone(ctx, "j1"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("queued→done should conflict, got %v", err)
	}
	if err := db.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := db.MarkRunning(ctx, "j1"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second MarkRunning should conflict, got %v", err)
	}
	if err := db.MarkDone(ctx, "j1"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := db.MarkError(ctx, "j1", "late"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("done→error should conflict, got %v", err)
	}

	job, _ = db.GetJob(ctx, "j1")
	if job.Status != models.StatusDone || job.FinishedAt == nil {
		t.Fatalf("done job: %+v", job)
	}
}

func TestListJobsByStatus(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"queued-1", "running-1", "done-1", "queued-2"} {
		job := models.ResearchJob{ID: id, Query: "q " + id, TopK: 3, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob(%s): %v", id, err)
		}
	}
	_ = db.MarkRunning(ctx, "running-1")
	_ = db.MarkRunning(ctx, "done-1")
	_ = db.MarkDone(ctx, "done-1")

	jobs, err := db.ListJobsByStatus(ctx, models.StatusQueued, models.StatusRunning)
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	want := []string{"queued-1", "running-1", "queued-2"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if jobs[1].Status != models.StatusRunning || jobs[0].Query != "q queued-1" || jobs[0].TopK != 3 {
		t.Errorf("unexpected job fields: %+v", jobs[:2])
	}

	none, err := db.ListJobsByStatus(ctx)
	if err != nil || len(none) != 0 {
		t.Errorf("no statuses: jobs=%v err=%v", none, err)
	}
}

func TestMarkErrorRecordsMessage(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")
	_ = db.MarkRunning(ctx, "j1")

	if err := db.MarkError(ctx, "j1", "boom"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	job, _ := db.GetJob(ctx, "j1")
	if job.Status != models.StatusError || job.Error != "boom" || job.FinishedAt == nil {
		t.Fatalf("error job: %+v", job)
	}
}

func TestCreateJobDuplicate(t *testing.T) {
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")
	err := db.CreateJob(context.Background(), models.ResearchJob{ID: "j1", Query: "again", TopK: 1})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	db := testDB(t, EngineSQLite)
	if _, err := db.GetJob(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := db.MarkRunning(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("MarkRunning err = %v, want ErrNotFound", err)
	}
}

func seedArtifacts(t *testing.T, db *DB, jobID string) []models.SourceDoc {
	t.Helper()
	ctx := context.Background()
	docs, err := db.InsertDocs(ctx, []models.SourceDoc{
		{JobID: jobID, URL: "https://a.example.com", Title: "A", Text: "alpha text", StatusCode: 200, Duration: 120 * time.Millisecond},
		{JobID: jobID, URL: "https://b.example.com", Title: "B", Text: "", StatusCode: 408},
	})
	if err != nil {
		t.Fatalf("InsertDocs: %v", err)
	}
	chunks := []models.Chunk{
		{JobID: jobID, DocID: docs[0].ID, URL: docs[0].URL, Title: "A", Text: "Alpha chunk about Generics", Tokens: 5, Embedding: []float32{1, 0, 0}},
		{JobID: jobID, DocID: docs[0].ID, URL: docs[0].URL, Title: "A", Text: "beta chunk", Tokens: 3, Embedding: []float32{0, 1, 0}},
		{JobID: jobID, DocID: docs[0].ID, URL: docs[0].URL, Title: "A", Text: "gamma chunk", Tokens: 3, Embedding: []float32{0.7, 0.7, 0}},
	}
	if err := db.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	return docs
}

func TestDocsAndChunks(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")
	docs := seedArtifacts(t, db, "j1")

	if docs[0].ID == 0 || docs[1].ID == 0 || docs[0].ID == docs[1].ID {
		t.Fatalf("doc ids not assigned: %+v", docs)
	}
	listed, err := db.ListDocs(ctx, "j1")
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(listed) != 2 || listed[0].Duration != 120*time.Millisecond || listed[1].StatusCode != 408 {
		t.Fatalf("ListDocs = %+v", listed)
	}

	chunks, err := db.ListChunks(ctx, "j1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if got := chunks[2].Embedding; len(got) != 3 || got[0] != 0.7 || got[1] != 0.7 {
		t.Errorf("embedding round-trip = %v", got)
	}

	other, _ := db.ListChunks(ctx, "j2")
	if len(other) != 0 {
		t.Errorf("chunks leaked across jobs: %d", len(other))
	}
}

func TestSearchText(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")
	seedArtifacts(t, db, "j1")

	hits, err := db.SearchText(ctx, "generics", 10, "j1")
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "Alpha chunk about Generics" {
		t.Fatalf("hits = %+v", hits)
	}
	hits, _ = db.SearchText(ctx, "chunk", 2, "j1")
	if len(hits) != 2 {
		t.Fatalf("limit not applied: %d", len(hits))
	}
	hits, _ = db.SearchText(ctx, "100%", 10, "")
	if len(hits) != 0 {
		t.Fatalf("literal match expected none, got %d", len(hits))
	}
}

func TestSearchByVectorRequiresVecEngine(t *testing.T) {
	db := testDB(t, EngineSQLite)
	if _, err := db.SearchByVector(context.Background(), []float32{1, 0, 0}, 3, ""); !errors.Is(err, ErrVectorUnavailable) {
		t.Fatalf("err = %v, want ErrVectorUnavailable", err)
	}
}

func TestSearchByVector(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLiteVec)
	seedJob(t, db, "j1")
	seedArtifacts(t, db, "j1")

	hits, err := db.SearchByVector(ctx, []float32{1, 0, 0}, 2, "j1")
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Text != "Alpha chunk about Generics" || math.Abs(hits[0].Score-1) > 1e-5 {
		t.Errorf("top hit = %+v", hits[0])
	}
	if hits[1].Score > hits[0].Score {
		t.Errorf("scores not descending: %v, %v", hits[0].Score, hits[1].Score)
	}
}

func TestAnswerSavedOnce(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")

	if _, err := db.GetAnswer(ctx, "j1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("GetAnswer before save: %v", err)
	}
	score := 0.9
	ans := models.ResearchAnswer{
		JobID:     "j1",
		Markdown:  "Go has generics[^1].",
		Citations: []models.Citation{{Index: 1, URL: "https://go.dev", Title: "Go", Score: &score}},
	}
	if err := db.SaveAnswer(ctx, ans); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if err := db.SaveAnswer(ctx, ans); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("second SaveAnswer: %v", err)
	}

	got, err := db.GetAnswer(ctx, "j1")
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if got.Markdown != ans.Markdown || len(got.Citations) != 1 || *got.Citations[0].Score != 0.9 {
		t.Fatalf("answer = %+v", got)
	}
}

func TestProgressAndCascadeDelete(t *testing.T) {
	ctx := context.Background()
	db := testDB(t, EngineSQLite)
	seedJob(t, db, "j1")
	seedArtifacts(t, db, "j1")
	_ = db.SaveAnswer(ctx, models.ResearchAnswer{JobID: "j1", Markdown: "x"})

	p, err := db.Progress(ctx, "j1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.DocsProcessed != 2 || p.DocsFailed != 1 || p.ChunksCreated != 3 || !p.AnswerReady {
		t.Fatalf("progress = %+v", p)
	}
	if p.ElapsedSeconds < 0 {
		t.Errorf("elapsed = %v", p.ElapsedSeconds)
	}

	if err := db.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	var n int
	for _, table := range []string{"source_docs", "chunks", "research_answers"} {
		_ = db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n)
		if n != 0 {
			t.Errorf("%s not cascaded: %d rows", table, n)
		}
	}
	if err := db.DeleteJob(ctx, "j1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second DeleteJob: %v", err)
	}
	if _, err := db.Progress(ctx, "j1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Progress after delete: %v", err)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Inf(1))}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("malformed blob should decode to nil")
	}
}
