// Package guards gates insight cards through independent quality checks
// before they are surfaced to clients.
package guards

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/textutil"
)

// Guard names, used as failure prefixes and statistics keys.
const (
	NameCitation      = "citation"
	NameAuthority     = "authority"
	NameConfidence    = "confidence"
	NameContentLength = "content_length"
	NameDuplicate     = "duplicate"
	NameRelevance     = "relevance"
)

// Guard is a single pass/fail predicate over a card. reason is empty when
// the card passes.
type Guard interface {
	Name() string
	Check(card *models.InsightCard) (ok bool, reason string)
}

// acceptor is implemented by guards that remember cards which passed the
// whole runner.
type acceptor interface {
	Accept(card *models.InsightCard)
}

type citationGuard struct{ min int }

func (g citationGuard) Name() string { return NameCitation }

func (g citationGuard) Check(c *models.InsightCard) (bool, string) {
	if n := len(c.Citations); n < g.min {
		return false, fmt.Sprintf("has %d citations, need at least %d", n, g.min)
	}
	return true, ""
}

type authorityGuard struct{ min float64 }

func (g authorityGuard) Name() string { return NameAuthority }

func (g authorityGuard) Check(c *models.InsightCard) (bool, string) {
	if c.Authority < g.min {
		return false, fmt.Sprintf("authority %.2f below minimum %.2f", c.Authority, g.min)
	}
	return true, ""
}

type confidenceGuard struct{ min float64 }

func (g confidenceGuard) Name() string { return NameConfidence }

func (g confidenceGuard) Check(c *models.InsightCard) (bool, string) {
	if c.Confidence < g.min {
		return false, fmt.Sprintf("confidence %.2f below minimum %.2f", c.Confidence, g.min)
	}
	return true, ""
}

type lengthGuard struct{ min, max int }

func (g lengthGuard) Name() string { return NameContentLength }

func (g lengthGuard) Check(c *models.InsightCard) (bool, string) {
	n := utf8.RuneCountInString(c.Content)
	if n < g.min || n > g.max {
		return false, fmt.Sprintf("content length %d outside [%d, %d]", n, g.min, g.max)
	}
	return true, ""
}

// duplicateGuard remembers the cards accepted in its run. It must not be
// shared between unrelated runs.
type duplicateGuard struct {
	threshold float64

	mu       sync.Mutex
	accepted []cardTerms
}

type cardTerms struct {
	id      string
	title   map[string]struct{}
	content map[string]struct{}
}

func termsOf(c *models.InsightCard) cardTerms {
	return cardTerms{id: c.ID, title: textutil.Terms(c.Title), content: textutil.Terms(c.Content)}
}

// Similarity blends title (40%) and content (60%) term overlap.
func Similarity(a, b *models.InsightCard) float64 {
	return similarity(termsOf(a), termsOf(b))
}

func similarity(a, b cardTerms) float64 {
	return 0.4*textutil.Jaccard(a.title, b.title) + 0.6*textutil.Jaccard(a.content, b.content)
}

func (g *duplicateGuard) Name() string { return NameDuplicate }

func (g *duplicateGuard) Check(c *models.InsightCard) (bool, string) {
	t := termsOf(c)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, prev := range g.accepted {
		if s := similarity(t, prev); s >= g.threshold {
			return false, fmt.Sprintf("similarity %.2f to card %s reaches threshold %.2f", s, prev.id, g.threshold)
		}
	}
	return true, ""
}

func (g *duplicateGuard) Accept(c *models.InsightCard) {
	t := termsOf(c)
	g.mu.Lock()
	g.accepted = append(g.accepted, t)
	g.mu.Unlock()
}

type relevanceGuard struct {
	min   float64
	query map[string]struct{}
}

func (g relevanceGuard) Name() string { return NameRelevance }

func (g relevanceGuard) Check(c *models.InsightCard) (bool, string) {
	s := Relevance(g.query, c)
	if s < g.min {
		return false, fmt.Sprintf("relevance %.2f below minimum %.2f", s, g.min)
	}
	return true, ""
}

// Relevance is the share of query terms found in the card, plus a bonus of
// up to 0.2 for query terms in the title, capped at 1. An empty query is
// fully relevant.
func Relevance(query map[string]struct{}, c *models.InsightCard) float64 {
	if len(query) == 0 {
		return 1
	}
	title := textutil.Terms(c.Title)
	body := textutil.Terms(c.Title + " " + c.Content)
	q := float64(len(query))
	score := float64(textutil.Overlap(query, body))/q + 0.2*float64(textutil.Overlap(query, title))/q
	return min(score, 1)
}
