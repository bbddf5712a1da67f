package textutil

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "has": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {},
	"out": {}, "his": {}, "how": {}, "its": {}, "who": {}, "did": {}, "get": {}, "may": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "have": {}, "they": {}, "will": {}, "your": {}, "into": {}, "about": {},
	"there": {}, "their": {}, "them": {}, "than": {}, "then": {}, "these": {}, "those": {},
	"does": {}, "been": {}, "were": {}, "would": {}, "could": {}, "should": {}, "why": {},
}

// Tokens returns the lower-cased words of s in order, dropping stopwords and
// words shorter than three characters.
func Tokens(s string) []string {
	words := wordRe.FindAllString(strings.ToLower(s), -1)
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Terms returns the distinct Tokens of s.
func Terms(s string) map[string]struct{} {
	toks := Tokens(s)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|, zero when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := Overlap(a, b)
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Overlap counts the members of a that are also in b.
func Overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero norm have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Timestamp formats t as RFC 3339 in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
