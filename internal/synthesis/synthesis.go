// Package synthesis turns ranked chunks into a cited markdown answer.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/textutil"
)

// NoInfoAnswer is returned when no chunks were retrieved.
const NoInfoAnswer = "No relevant information was found for this query. " +
	"Try rephrasing it or using broader terms."

// DefaultContextChars bounds each chunk's text in the context block.
const DefaultContextChars = 1200

const systemPrompt = `You are a careful research assistant.
Answer the user's question using ONLY the numbered sources provided.
Rules:
- Cite every factual statement with footnote markers like [^1], matching the source numbers.
- Do not cite sources that are not in the list and never add facts from outside the sources.
- If the sources disagree or are insufficient, say so explicitly.
- Structure the answer in markdown with short sections.
- End with a "## References" section listing each cited source as [^n]: Title - URL.`

var markerRe = regexp.MustCompile(`\[\^(\d+)\]`)

// Options tunes an Engine.
type Options struct {
	Temperature float64
	MaxTokens   int
	// ContextChars bounds each chunk's text in the prompt.
	ContextChars int
	// StrictCitations replaces answers citing unknown sources with the
	// template answer instead of only logging a warning.
	StrictCitations bool
}

// Result is a synthesized answer.
type Result struct {
	Markdown  string
	Citations []models.Citation
	// Fallback is set when the template answer was used.
	Fallback bool
	// Unmatched lists citation markers with no matching citation.
	Unmatched []int
}

// Engine drives a Completer with a citation-bound prompt.
type Engine struct {
	completer Completer
	opts      Options
	logger    *slog.Logger
}

// NewEngine creates an Engine. A nil completer behaves like NoneCompleter.
func NewEngine(c Completer, opts Options, logger *slog.Logger) *Engine {
	if c == nil {
		c = NoneCompleter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ContextChars <= 0 {
		opts.ContextChars = DefaultContextChars
	}
	if opts.Temperature < 0 {
		opts.Temperature = 0
	}
	return &Engine{completer: c, opts: opts, logger: logger}
}

// BuildContext numbers chunks 1..N in input order. Each entry is a
// "[n] title — url" header followed by the chunk text truncated to
// maxChars. The citations mirror the numbering.
func BuildContext(chunks []models.ScoredChunk, maxChars int) (string, []models.Citation) {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	var sb strings.Builder
	cites := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		n := i + 1
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s — %s\n%s", n, titleOf(c), c.URL, textutil.Truncate(c.Text, maxChars))
		score := c.Score
		cites[i] = models.Citation{Index: n, URL: c.URL, Title: titleOf(c), Score: &score}
	}
	return sb.String(), cites
}

func titleOf(c models.ScoredChunk) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return textutil.ExtractDomain(c.URL)
}

// Synthesize answers query from chunks. It never fails: without chunks it
// returns NoInfoAnswer, and when the completer fails it returns the template
// answer.
func (e *Engine) Synthesize(ctx context.Context, query string, chunks []models.ScoredChunk) Result {
	if len(chunks) == 0 {
		return Result{Markdown: NoInfoAnswer, Citations: []models.Citation{}}
	}
	contextText, cites := BuildContext(chunks, e.opts.ContextChars)

	user := fmt.Sprintf("Sources:\n\n%s\n\nQuestion: %s", contextText, query)
	answer, err := e.completer.Complete(ctx, Request{
		System:      systemPrompt,
		User:        user,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		e.logger.Error("synthesis: completion failed, using template answer",
			slog.Int("chunks", len(chunks)), slog.String("error", err.Error()))
		return Result{Markdown: TemplateAnswer(query, chunks, e.opts.ContextChars), Citations: cites, Fallback: true}
	}

	res := Result{Markdown: answer, Citations: cites}
	if missing := ValidateCitations(answer, cites); len(missing) > 0 {
		res.Unmatched = missing
		e.logger.Warn("synthesis: answer cites unknown sources",
			slog.Any("markers", missing), slog.Int("citations", len(cites)),
			slog.Bool("strict", e.opts.StrictCitations))
		if e.opts.StrictCitations {
			res.Markdown = TemplateAnswer(query, chunks, e.opts.ContextChars)
			res.Fallback = true
		}
	}
	return res
}

// ValidateCitations returns the distinct [^n] markers in answer that have no
// citation with index n, in ascending order. An empty result means every
// marker resolves.
func ValidateCitations(answer string, cites []models.Citation) []int {
	known := make(map[int]struct{}, len(cites))
	for _, c := range cites {
		known[c.Index] = struct{}{}
	}
	seen := make(map[int]struct{})
	var missing []int
	for _, m := range markerRe.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := known[n]; ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		missing = append(missing, n)
	}
	slices.Sort(missing)
	return missing
}

// TemplateAnswer renders one section per chunk plus a References list. It
// is the deterministic answer used when no model output is available.
func TemplateAnswer(query string, chunks []models.ScoredChunk, maxChars int) string {
	if len(chunks) == 0 {
		return NoInfoAnswer
	}
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", strings.TrimSpace(query))
	sb.WriteString("_A generated summary is unavailable; the most relevant source passages are listed below._\n")
	for i, c := range chunks {
		n := i + 1
		fmt.Fprintf(&sb, "\n## Source %d: %s\n\n%s [^%d]\n", n, titleOf(c), textutil.Truncate(c.Text, maxChars), n)
	}
	sb.WriteString("\n## References\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[^%d]: %s - %s\n", i+1, titleOf(c), c.URL)
	}
	return sb.String()
}
