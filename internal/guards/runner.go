package guards

import (
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/textutil"
)

// Result is the outcome of validating one card.
type Result struct {
	Passed   bool            `json:"passed"`
	Failures []string        `json:"failures"`
	Checks   map[string]bool `json:"checks"`
}

// Rejection pairs a rejected card with its failures.
type Rejection struct {
	Card     models.InsightCard `json:"card"`
	Failures []string           `json:"failures"`
}

// Stat counts passes and failures of one guard.
type Stat struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// BatchResult is the outcome of ValidateBatch.
type BatchResult struct {
	Passed   []models.InsightCard `json:"passed"`
	Rejected []Rejection          `json:"rejected"`
	Stats    map[string]Stat      `json:"stats"`
	Metrics  Metrics              `json:"metrics"`
}

// Metrics aggregates the quality of an accepted card set.
type Metrics struct {
	Cards           int     `json:"cards"`
	MeanAuthority   float64 `json:"mean_authority"`
	MeanConfidence  float64 `json:"mean_confidence"`
	TotalCitations  int     `json:"total_citations"`
	TotalLength     int     `json:"total_length"`
	DomainDiversity float64 `json:"domain_diversity"`
}

// Runner applies the enabled guards to cards of one query. A Runner is
// stateful through its duplicate guard; build a new one per run.
type Runner struct {
	guards []Guard
}

// NewRunner builds a Runner for query from cfg.
func NewRunner(cfg Config, query string) *Runner {
	var gs []Guard
	if cfg.Citation.Enabled {
		gs = append(gs, citationGuard{min: cfg.Citation.Min})
	}
	if cfg.Authority.Enabled {
		gs = append(gs, authorityGuard{min: cfg.Authority.Threshold})
	}
	if cfg.Confidence.Enabled {
		gs = append(gs, confidenceGuard{min: cfg.Confidence.Threshold})
	}
	if cfg.ContentLength.Enabled {
		gs = append(gs, lengthGuard{min: cfg.ContentLength.Min, max: cfg.ContentLength.Max})
	}
	if cfg.Duplicate.Enabled {
		gs = append(gs, &duplicateGuard{threshold: cfg.Duplicate.Threshold})
	}
	if cfg.Relevance.Enabled {
		gs = append(gs, relevanceGuard{min: cfg.Relevance.Threshold, query: textutil.Terms(query)})
	}
	return &Runner{guards: gs}
}

// Guards returns the names of the enabled guards in evaluation order.
func (r *Runner) Guards() []string {
	names := make([]string, len(r.guards))
	for i, g := range r.guards {
		names[i] = g.Name()
	}
	return names
}

// Validate runs every enabled guard against card. All guards run even after
// a failure so the failure list is complete. Cards that pass are remembered
// by stateful guards.
func (r *Runner) Validate(card *models.InsightCard) Result {
	res := Result{Passed: true, Failures: []string{}, Checks: make(map[string]bool, len(r.guards))}
	for _, g := range r.guards {
		ok, reason := g.Check(card)
		res.Checks[g.Name()] = ok
		if !ok {
			res.Passed = false
			res.Failures = append(res.Failures, g.Name()+": "+reason)
		}
	}
	if res.Passed {
		for _, g := range r.guards {
			if a, ok := g.(acceptor); ok {
				a.Accept(card)
			}
		}
	}
	return res
}

// ValidateBatch validates cards in order and aggregates the outcome.
func (r *Runner) ValidateBatch(cards []models.InsightCard) BatchResult {
	out := BatchResult{
		Passed:   []models.InsightCard{},
		Rejected: []Rejection{},
		Stats:    make(map[string]Stat, len(r.guards)),
	}
	for _, g := range r.guards {
		out.Stats[g.Name()] = Stat{}
	}
	for i := range cards {
		res := r.Validate(&cards[i])
		for name, ok := range res.Checks {
			s := out.Stats[name]
			if ok {
				s.Passed++
			} else {
				s.Failed++
			}
			out.Stats[name] = s
		}
		if res.Passed {
			out.Passed = append(out.Passed, cards[i])
		} else {
			out.Rejected = append(out.Rejected, Rejection{Card: cards[i], Failures: res.Failures})
		}
	}
	out.Metrics = ComputeMetrics(out.Passed)
	return out
}

// ComputeMetrics aggregates an accepted card set. Domain diversity is the
// number of distinct cited domains per card, capped at 1.
func ComputeMetrics(cards []models.InsightCard) Metrics {
	m := Metrics{Cards: len(cards)}
	if len(cards) == 0 {
		return m
	}
	domains := make(map[string]struct{})
	for _, c := range cards {
		m.MeanAuthority += c.Authority
		m.MeanConfidence += c.Confidence
		m.TotalCitations += len(c.Citations)
		m.TotalLength += len([]rune(c.Content))
		for _, cit := range c.Citations {
			domains[textutil.ExtractDomain(cit.URL)] = struct{}{}
		}
	}
	n := float64(len(cards))
	m.MeanAuthority /= n
	m.MeanConfidence /= n
	m.DomainDiversity = min(float64(len(domains))/n, 1)
	return m
}
