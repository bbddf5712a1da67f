package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/embedding"
	"github.com/starford/sift/internal/fetcher"
	"github.com/starford/sift/internal/guards"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/retrieval"
	"github.com/starford/sift/internal/search"
	"github.com/starford/sift/internal/sse"
	"github.com/starford/sift/internal/store"
	"github.com/starford/sift/internal/synthesis"
	"github.com/starford/sift/internal/testutil"
)

type stubSearch struct{ results []search.Result }

func (s stubSearch) Search(context.Context, string, int) []search.Result { return s.results }

type stubCompleter struct {
	answer string
	err    error
}

func (c stubCompleter) Complete(context.Context, synthesis.Request) (string, error) {
	return c.answer, c.err
}

type panicSynth struct{}

func (panicSynth) Synthesize(context.Context, string, []models.ScoredChunk) synthesis.Result {
	panic("synthesizer exploded")
}

type fixedRetriever struct{ hits []models.ScoredChunk }

func (r fixedRetriever) Retrieve(context.Context, string, string, int) ([]models.ScoredChunk, error) {
	return r.hits, nil
}

type recordingSynth struct{ got []models.ScoredChunk }

func (s *recordingSynth) Synthesize(_ context.Context, q string, chunks []models.ScoredChunk) synthesis.Result {
	s.got = chunks
	return synthesis.Result{Markdown: "answer [^1]", Citations: []models.Citation{{Index: 1}}}
}

type memArchive struct{ saved []string }

func (a *memArchive) Save(_ context.Context, job *models.ResearchJob, _ *models.ResearchAnswer) error {
	a.saved = append(a.saved, job.ID)
	return nil
}

type harness struct {
	db       *store.DB
	streamer *sse.Streamer
	deps     Deps
	opts     Options
}

func newHarness(t *testing.T, s Searcher, completer synthesis.Completer) *harness {
	t.Helper()
	db := testutil.TestDB(t, store.EngineSQLite)
	streamer := sse.NewStreamer(sse.NewMemoryStore(200, time.Minute), nil, nil)
	engine := embedding.NewEngine(func() (embedding.Provider, error) {
		return embedding.NewHashProvider(64), nil
	}, 64, nil)

	transport := &http.Transport{DisableKeepAlives: true}
	t.Cleanup(transport.CloseIdleConnections)

	opts := DefaultOptions()
	opts.FetchTimeout = 200 * time.Millisecond
	opts.MinChunkChars = 20

	return &harness{
		db:       db,
		streamer: streamer,
		opts:     opts,
		deps: Deps{
			Store:    db,
			Search:   s,
			Fetch:    fetcher.New(fetcher.Options{Transport: transport}, nil),
			Embed:    engine,
			Retrieve: retrieval.NewRetriever(engine, retrieval.NewBackend(db), db, retrieval.RerankTerms),
			Synth:    synthesis.NewEngine(completer, synthesis.Options{}, nil),
			Events:   streamer,
			Splitter: embedding.NewSplitter(nil, 50, 5),
		},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.deps, h.opts, guards.DefaultConfig())
}

func (h *harness) eventTypes(t *testing.T, jobID string) []sse.EventType {
	t.Helper()
	evs, err := h.streamer.Drain(context.Background(), jobID, 0)
	require.NoError(t, err)
	out := make([]sse.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func (h *harness) job(t *testing.T, id string) *models.ResearchJob {
	t.Helper()
	job, err := h.db.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

const page = `<html><head><title>%s</title>
<script>var tracking = "do-not-index";</script>
<style>body { color: red; }</style></head>
<body><h1>%s</h1>
<p>Go generics let functions and types take type parameters constrained by interfaces.</p>
<p>Type inference usually removes the need to spell the type arguments out at call sites.</p>
</body></html>`

func sourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, page, "Generics Guide", "Generics")
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, page, "Type Parameters", "Type parameters")
	})
	mux.HandleFunc("/mirror", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, page, "Generics Guide", "Generics")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// Search returns nothing: the job still completes with the no-information
// answer.
func TestRun_NoSearchResults(t *testing.T) {
	h := newHarness(t, stubSearch{}, stubCompleter{answer: "unused"})
	job := testutil.QueuedJob(t, h.db, "no such topic exists xyzzy123", 6)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.NotNil(t, got.FinishedAt)

	ans, err := h.db.GetAnswer(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, synthesis.NoInfoAnswer, ans.Markdown)
	assert.Empty(t, ans.Citations)

	types := h.eventTypes(t, job.ID)
	assert.Equal(t, sse.EventPlanning, types[0])
	assert.Equal(t, sse.EventEnd, types[len(types)-1])
	assert.NotContains(t, types, sse.EventError)
}

// One of three pages times out: every URL gets a SourceDoc and chunks come
// only from the two cleaned pages.
func TestRun_PartialFetchFailure(t *testing.T) {
	srv := sourceServer(t)
	h := newHarness(t, stubSearch{results: []search.Result{
		{URL: srv.URL + "/a", Title: "A"},
		{URL: srv.URL + "/slow", Title: "Slow"},
		{URL: srv.URL + "/b", Title: "B"},
	}}, stubCompleter{answer: "Generics use type parameters [^1]."})
	job := testutil.QueuedJob(t, h.db, "go generics type parameters", 6)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))
	assert.Equal(t, models.StatusDone, h.job(t, job.ID).Status)

	docs, err := h.db.ListDocs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	byURL := map[string]models.SourceDoc{}
	for _, d := range docs {
		byURL[d.URL] = d
	}
	slow := byURL[srv.URL+"/slow"]
	assert.Empty(t, slow.Text)
	assert.Equal(t, fetcher.StatusTimeout, slow.StatusCode)
	assert.Equal(t, "Slow", slow.Title)
	assert.Equal(t, "Generics Guide", byURL[srv.URL+"/a"].Title)
	assert.NotEmpty(t, byURL[srv.URL+"/a"].Checksum)

	chunks, err := h.db.ListChunks(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEqual(t, srv.URL+"/slow", c.URL)
		assert.NotContains(t, c.Text, "do-not-index")
		assert.NotContains(t, c.Text, "color: red")
		assert.Len(t, c.Embedding, 64)
		assert.GreaterOrEqual(t, len([]rune(c.Text)), 20)
	}

	p, err := h.db.Progress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DocsProcessed)
	assert.Equal(t, 1, p.DocsFailed)
	assert.True(t, p.AnswerReady)
}

// A mirror serving the same text as another result is stored but adds no
// chunks.
func TestRun_DuplicateDocsChunkedOnce(t *testing.T) {
	srv := sourceServer(t)
	h := newHarness(t, stubSearch{results: []search.Result{
		{URL: srv.URL + "/a", Title: "A"},
		{URL: srv.URL + "/mirror", Title: "Mirror"},
	}}, stubCompleter{answer: "Generics use type parameters [^1]."})
	job := testutil.QueuedJob(t, h.db, "go generics", 6)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))

	docs, err := h.db.ListDocs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.NotEmpty(t, docs[0].Checksum)
	assert.Equal(t, docs[0].Checksum, docs[1].Checksum)

	chunks, err := h.db.ListChunks(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, srv.URL+"/a", c.URL)
	}
}

// The completion backend fails: the template answer is stored and the job
// is done.
func TestRun_CompletionFailureUsesTemplate(t *testing.T) {
	srv := sourceServer(t)
	h := newHarness(t, stubSearch{results: []search.Result{{URL: srv.URL + "/a"}}},
		stubCompleter{err: errors.New("503 from backend")})
	job := testutil.QueuedJob(t, h.db, "go generics", 3)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))
	assert.Equal(t, models.StatusDone, h.job(t, job.ID).Status)

	ans, err := h.db.GetAnswer(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, ans.Markdown, "## Source 1")
	assert.Contains(t, ans.Markdown, "## References")
	assert.NotEmpty(t, ans.Citations)
	assert.Equal(t, 1, ans.Citations[0].Index)
}

func TestRun_PanicMarksJobError(t *testing.T) {
	srv := sourceServer(t)
	h := newHarness(t, stubSearch{results: []search.Result{{URL: srv.URL + "/a"}}}, nil)
	h.deps.Synth = panicSynth{}
	job := testutil.QueuedJob(t, h.db, "go generics", 3)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))

	got := h.job(t, job.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.Error, "synthesizer exploded")
	assert.NotNil(t, got.FinishedAt)

	// Artifacts persisted before the failure are kept.
	docs, err := h.db.ListDocs(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	_, err = h.db.GetAnswer(context.Background(), job.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	types := h.eventTypes(t, job.ID)
	assert.Equal(t, sse.EventError, types[len(types)-1])
	assert.NotContains(t, types, sse.EventEnd)
}

func TestRun_FinishedJobIsNoop(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	job := testutil.QueuedJob(t, h.db, "q", 3)
	o := h.orchestrator()
	require.NoError(t, o.Run(context.Background(), job.ID))
	before := h.eventTypes(t, job.ID)

	require.NoError(t, o.Run(context.Background(), job.ID))
	assert.Equal(t, models.StatusDone, h.job(t, job.ID).Status)
	assert.Len(t, h.eventTypes(t, job.ID), len(before))
}

func TestRun_UnknownJobIsPermanent(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	err := h.orchestrator().Run(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRun_InterruptedJobFails(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	job := testutil.QueuedJob(t, h.db, "q", 3)
	require.NoError(t, h.db.MarkRunning(context.Background(), job.ID))

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))
	got := h.job(t, job.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.Error, "interrupted")
}

func rankedHits() []models.ScoredChunk {
	text := strings.Repeat("Go generics allow type parameters on functions and types. ", 3)
	return []models.ScoredChunk{
		{ID: 1, URL: "https://go.dev/doc/tutorial/generics", Title: "Go generics tutorial", Text: text, Score: 0.9},
		{ID: 2, URL: "https://spam.example/go", Title: "Go generics tutorial", Text: text, Score: 0.8},
		{ID: 3, URL: "https://blog.example/x", Title: "Cooking", Text: strings.Repeat("Pasta needs salted boiling water. ", 4), Score: 0.2},
	}
}

func TestRun_CardsAreGuarded(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	h.deps.Retrieve = fixedRetriever{hits: rankedHits()}
	synth := &recordingSynth{}
	h.deps.Synth = synth
	h.opts.GuardChunks = true
	archive := &memArchive{}
	h.deps.Reports = archive
	job := testutil.QueuedJob(t, h.db, "go generics type parameters", 6)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))
	assert.Equal(t, models.StatusDone, h.job(t, job.ID).Status)

	evs, err := h.streamer.Drain(context.Background(), job.ID, 0)
	require.NoError(t, err)
	var cards []models.InsightCard
	for _, ev := range evs {
		if ev.Type != sse.EventCard {
			continue
		}
		var c models.InsightCard
		require.NoError(t, json.Unmarshal(ev.Data, &c))
		cards = append(cards, c)
	}
	// The second hit duplicates the first and the third is off-topic with
	// low confidence.
	require.Len(t, cards, 1)
	assert.Equal(t, "go.dev", cards[0].DomainCluster)
	assert.Equal(t, 1, cards[0].Citations[0].Index)
	assert.InDelta(t, 0.9, cards[0].Confidence, 1e-9)

	require.Len(t, synth.got, 1)
	assert.Equal(t, int64(1), synth.got[0].ID)
	assert.Equal(t, []string{job.ID}, archive.saved)
}

func TestRun_GuardsNeverBlockAnswer(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	hits := rankedHits()[2:]
	h.deps.Retrieve = fixedRetriever{hits: hits}
	synth := &recordingSynth{}
	h.deps.Synth = synth
	h.opts.GuardChunks = true
	job := testutil.QueuedJob(t, h.db, "go generics", 6)

	require.NoError(t, h.orchestrator().Run(context.Background(), job.ID))
	assert.Equal(t, hits, synth.got)
	assert.NotContains(t, h.eventTypes(t, job.ID), sse.EventCard)
}

func TestSetGuards(t *testing.T) {
	h := newHarness(t, stubSearch{}, nil)
	h.deps.Retrieve = fixedRetriever{hits: rankedHits()}
	h.deps.Synth = &recordingSynth{}
	o := h.orchestrator()

	off := guards.Config{}
	o.SetGuards(off)
	assert.Equal(t, off, o.GuardConfig())

	job := testutil.QueuedJob(t, h.db, "go generics", 6)
	require.NoError(t, o.Run(context.Background(), job.ID))

	n := 0
	for _, typ := range h.eventTypes(t, job.ID) {
		if typ == sse.EventCard {
			n++
		}
	}
	assert.Equal(t, 3, n, "with every guard disabled all cards pass")
}
