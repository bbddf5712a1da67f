package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starford/sift/internal/checksum"
	"github.com/starford/sift/internal/guards"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/search"
	"github.com/starford/sift/internal/sse"
	"github.com/starford/sift/internal/textutil"
)

func (o *Orchestrator) searchStage(ctx context.Context, job *models.ResearchJob) []search.Result {
	o.d.Events.Push(ctx, job.ID, sse.EventSearching, map[string]any{"query": job.Query})
	results := o.d.Search.Search(ctx, job.Query, job.TopK)
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	o.d.Events.Push(ctx, job.ID, sse.EventSearching, map[string]any{"results": len(results), "urls": urls})
	return results
}

// fetchStage fetches up to MaxPages results and persists one SourceDoc per
// URL, including failed fetches.
func (o *Orchestrator) fetchStage(ctx context.Context, job *models.ResearchJob, results []search.Result) ([]models.SourceDoc, error) {
	if len(results) > o.opts.MaxPages {
		results = results[:o.opts.MaxPages]
	}
	if len(results) == 0 {
		o.d.Events.Push(ctx, job.ID, sse.EventFetching, map[string]any{"urls": 0, "fetched": 0, "failed": 0})
		return nil, nil
	}

	titles := make(map[string]string, len(results))
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
		titles[r.URL] = r.Title
	}
	o.d.Events.Push(ctx, job.ID, sse.EventFetching, map[string]any{"urls": len(urls)})

	fetched := o.d.Fetch.FetchBatch(ctx, urls, o.opts.FetchTimeout, o.opts.MaxConcurrent)

	docs := make([]models.SourceDoc, 0, len(fetched))
	failed := 0
	for _, r := range fetched {
		text := textutil.CleanHTML(r.Content)
		title := textutil.ExtractTitle(r.Content)
		if title == "" {
			title = titles[r.URL]
		}
		if text == "" {
			failed++
		}
		docs = append(docs, models.SourceDoc{
			JobID:      job.ID,
			URL:        r.URL,
			Title:      title,
			Text:       text,
			StatusCode: r.StatusCode,
			Duration:   r.Duration,
			Checksum:   checksum.Text(text),
		})
	}

	stored, err := o.d.Store.InsertDocs(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("persist docs: %w", err)
	}
	o.d.Events.Push(ctx, job.ID, sse.EventFetching, map[string]any{
		"urls":    len(urls),
		"fetched": len(docs) - failed,
		"failed":  failed,
	})
	return stored, nil
}

// chunkStage splits every non-empty doc, drops short chunks, embeds all
// survivors in a single call and bulk-inserts them. A doc whose text
// checksum repeats an earlier doc of the job (mirrors, syndicated copies) is
// not chunked again.
func (o *Orchestrator) chunkStage(ctx context.Context, job *models.ResearchJob, docs []models.SourceDoc) error {
	var chunks []models.Chunk
	seen := make(map[string]struct{}, len(docs))
	duplicates := 0
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		if d.Checksum != "" {
			if _, ok := seen[d.Checksum]; ok {
				duplicates++
				continue
			}
			seen[d.Checksum] = struct{}{}
		}
		for _, piece := range o.d.Splitter.Split(d.Text) {
			if utf8.RuneCountInString(piece) < o.opts.MinChunkChars {
				continue
			}
			chunks = append(chunks, models.Chunk{
				JobID:  job.ID,
				DocID:  d.ID,
				URL:    d.URL,
				Title:  d.Title,
				Text:   piece,
				Tokens: o.d.TokenFunc(piece),
			})
		}
	}
	if len(chunks) == 0 {
		o.d.Events.Push(ctx, job.ID, sse.EventUpdate, map[string]any{"stage": "embed", "chunks": 0, "duplicates": duplicates})
		return nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	start := time.Now()
	vecs := o.d.Embed.Embed(ctx, texts)
	for i := range chunks {
		if i < len(vecs) {
			chunks[i].Embedding = vecs[i]
		}
	}
	if err := o.d.Store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	o.d.Events.Push(ctx, job.ID, sse.EventUpdate, map[string]any{
		"stage":       "embed",
		"chunks":      len(chunks),
		"duplicates":  duplicates,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// guardStage turns ranked chunks into insight cards, validates them with a
// fresh runner and publishes the accepted ones. It returns the chunks to
// synthesize from.
func (o *Orchestrator) guardStage(ctx context.Context, job *models.ResearchJob, ranked []models.ScoredChunk) []models.ScoredChunk {
	if len(ranked) == 0 {
		return ranked
	}
	cards := make([]models.InsightCard, len(ranked))
	byCard := make(map[string]models.ScoredChunk, len(ranked))
	for i, c := range ranked {
		cards[i] = o.card(i+1, c)
		byCard[cards[i].ID] = c
	}

	runner := guards.NewRunner(o.GuardConfig(), job.Query)
	batch := runner.ValidateBatch(cards)

	clusters := make(map[string]int)
	selected := make([]models.ScoredChunk, 0, len(batch.Passed))
	for _, card := range batch.Passed {
		o.d.Events.Push(ctx, job.ID, sse.EventCard, card)
		clusters[card.DomainCluster]++
		selected = append(selected, byCard[card.ID])
	}
	o.d.Events.Push(ctx, job.ID, sse.EventClustering, map[string]any{"clusters": clusters})
	o.d.Events.Push(ctx, job.ID, sse.EventUpdate, map[string]any{
		"stage":    "guard",
		"passed":   len(batch.Passed),
		"rejected": len(batch.Rejected),
		"guards":   batch.Stats,
		"metrics":  batch.Metrics,
	})

	// Guards gate which cards are shown, never whether an answer exists.
	if !o.opts.GuardChunks || len(selected) == 0 {
		return ranked
	}
	return selected
}

func (o *Orchestrator) card(n int, c models.ScoredChunk) models.InsightCard {
	score := c.Score
	title := strings.TrimSpace(c.Title)
	domain := textutil.ExtractDomain(c.URL)
	if title == "" {
		title = domain
	}
	return models.InsightCard{
		ID:            uuid.NewString(),
		Title:         title,
		Content:       textutil.Truncate(c.Text, o.opts.CardChars),
		Citations:     []models.Citation{{Index: n, URL: c.URL, Title: title, Score: &score}},
		Confidence:    min(max(score, 0), 1),
		Authority:     guards.ScoreAuthority(c.URL),
		DomainCluster: domain,
	}
}

func (o *Orchestrator) synthesisStage(ctx context.Context, job *models.ResearchJob, chunks []models.ScoredChunk, log *slog.Logger) (*models.ResearchAnswer, error) {
	o.d.Events.Push(ctx, job.ID, sse.EventSynthesis, map[string]any{"status": "started", "chunks": len(chunks)})

	res := o.d.Synth.Synthesize(ctx, job.Query, chunks)
	answer := &models.ResearchAnswer{
		JobID:     job.ID,
		Markdown:  res.Markdown,
		Citations: res.Citations,
		CreatedAt: time.Now().UTC(),
	}
	if answer.Citations == nil {
		answer.Citations = []models.Citation{}
	}
	if err := o.d.Store.SaveAnswer(ctx, *answer); err != nil {
		return nil, fmt.Errorf("persist answer: %w", err)
	}
	if res.Fallback {
		log.Info("agent: template answer used")
	}
	o.d.Events.Push(ctx, job.ID, sse.EventSynthesis, map[string]any{
		"status":    "completed",
		"markdown":  answer.Markdown,
		"citations": answer.Citations,
		"fallback":  res.Fallback,
		"unmatched": res.Unmatched,
	})
	return answer, nil
}
