package researchservice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/queue"
	"github.com/starford/sift/internal/store"
	"github.com/starford/sift/internal/testutil"
)

// recordingQueue remembers enqueued jobs without running them.
type recordingQueue struct {
	jobs []string
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, _ queue.Task, jobID string) error {
	q.jobs = append(q.jobs, jobID)
	return q.err
}

type stubRetriever struct {
	mode string
}

func (r *stubRetriever) Retrieve(_ context.Context, jobID, q string, k int) ([]models.ScoredChunk, error) {
	r.mode = "vector"
	return []models.ScoredChunk{{ID: 1, Text: q, Score: float64(k)}}, nil
}

func (r *stubRetriever) SearchText(_ context.Context, jobID, q string, k int) ([]models.ScoredChunk, error) {
	r.mode = "text"
	return []models.ScoredChunk{}, nil
}

type removed struct{ ids []string }

func (r *removed) Delete(id string) error {
	r.ids = append(r.ids, id)
	return nil
}

func noopTask(context.Context, string) error { return nil }

func testService(t *testing.T) (*Service, *store.DB, *recordingQueue) {
	t.Helper()
	db := testutil.TestDB(t, store.EngineSQLite)
	q := &recordingQueue{}
	return NewService(db, q, noopTask, &stubRetriever{}, nil, nil), db, q
}

func TestCreateJob(t *testing.T) {
	svc, db, q := testService(t)
	got, err := svc.CreateJob(context.Background(), CreateJobInput{Query: "  go generics  "})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if got.Query != "go generics" || got.Status != models.StatusQueued {
		t.Errorf("unexpected job %+v", got)
	}
	if got.StreamURL != "/api/stream/"+got.JobID || got.ProgressURL != "/api/research/"+got.JobID+"/progress" {
		t.Errorf("urls = %q %q", got.StreamURL, got.ProgressURL)
	}
	if len(q.jobs) != 1 || q.jobs[0] != got.JobID {
		t.Errorf("enqueued = %v", q.jobs)
	}
	job, err := db.GetJob(context.Background(), got.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.TopK != DefaultTopK {
		t.Errorf("top_k = %d, want default %d", job.TopK, DefaultTopK)
	}
}

func TestCreateJob_InvalidInput(t *testing.T) {
	svc, _, q := testService(t)
	cases := []CreateJobInput{
		{Query: ""},
		{Query: "   \n"},
		{Query: strings.Repeat("x", MaxQueryLength+1)},
		{Query: "ok", TopK: -1},
		{Query: "ok", TopK: MaxTopK + 1},
	}
	for _, in := range cases {
		_, err := svc.CreateJob(context.Background(), in)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("CreateJob(%+v) err = %v, want ErrInvalidInput", in, err)
		}
	}
	if len(q.jobs) != 0 {
		t.Errorf("invalid input reached the queue: %v", q.jobs)
	}
}

func TestCreateJob_EnqueueFailureDropsJob(t *testing.T) {
	svc, db, q := testService(t)
	q.err = queue.ErrClosed
	_, err := svc.CreateJob(context.Background(), CreateJobInput{Query: "q"})
	if !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("enqueued = %v", q.jobs)
	}
	if _, err := db.GetJob(context.Background(), q.jobs[0]); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unscheduled job kept: %v", err)
	}
}

func TestGetJob(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.GetJob(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	created, _ := svc.CreateJob(ctx, CreateJobInput{Query: "q", TopK: 3})
	d, err := svc.GetJob(ctx, created.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if d.Answer != nil {
		t.Error("queued job should have no answer")
	}

	if err := db.SaveAnswer(ctx, models.ResearchAnswer{JobID: created.JobID, Markdown: "# A"}); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	d, _ = svc.GetJob(ctx, created.JobID)
	if d.Answer == nil || d.Answer.Markdown != "# A" {
		t.Errorf("answer = %+v", d.Answer)
	}
}

func TestDeleteJob(t *testing.T) {
	db := testutil.TestDB(t, store.EngineSQLite)
	rm := &removed{}
	svc := NewService(db, &recordingQueue{}, noopTask, &stubRetriever{}, rm, nil)
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, CreateJobInput{Query: "q"})

	if err := svc.DeleteJob(ctx, created.JobID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if len(rm.ids) != 1 || rm.ids[0] != created.JobID {
		t.Errorf("report not removed: %v", rm.ids)
	}
	if err := svc.DeleteJob(ctx, created.JobID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestSearch(t *testing.T) {
	db := testutil.TestDB(t, store.EngineSQLite)
	r := &stubRetriever{}
	svc := NewService(db, &recordingQueue{}, noopTask, r, nil, nil)
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, CreateJobInput{Query: "q"})

	hits, err := svc.Search(ctx, created.JobID, "generics", 50, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.mode != "vector" || hits[0].Score != MaxTopK {
		t.Errorf("mode = %s, k = %v", r.mode, hits[0].Score)
	}
	if _, err := svc.Search(ctx, created.JobID, "generics", 0, SearchText); err != nil || r.mode != "text" {
		t.Errorf("text search: %v, mode %s", err, r.mode)
	}
	if _, err := svc.Search(ctx, created.JobID, " ", 3, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank query err = %v", err)
	}
	if _, err := svc.Search(ctx, created.JobID, "x", 3, "fuzzy"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad mode err = %v", err)
	}
	if _, err := svc.Search(ctx, "missing", "x", 3, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown job err = %v", err)
	}
}

func TestFailJob(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, CreateJobInput{Query: "q"})

	svc.FailJob(created.JobID, errors.New("database is locked"))
	job, _ := db.GetJob(ctx, created.JobID)
	if job.Status != models.StatusError || job.Error != "database is locked" || job.FinishedAt == nil {
		t.Errorf("job = %+v", job)
	}

	// Terminal jobs are left alone.
	svc.FailJob(created.JobID, errors.New("other"))
	job, _ = db.GetJob(ctx, created.JobID)
	if job.Error != "database is locked" {
		t.Errorf("error overwritten: %q", job.Error)
	}
	svc.FailJob("missing", errors.New("x"))
}
