package guards

import (
	"strings"

	"github.com/starford/sift/internal/textutil"
)

// DefaultAuthority is the score of a domain that matches no rule.
const DefaultAuthority = 0.6

type suffixRule struct {
	suffix string
	score  float64
}

// Ordered most specific first.
var tldRules = []suffixRule{
	{".ac.uk", 0.85},
	{".gov.uk", 0.80},
	{".edu", 0.85},
	{".gov", 0.80},
	{".mil", 0.80},
	{".int", 0.75},
}

var domainRules = map[string]float64{
	"arxiv.org":             0.90,
	"nature.com":            0.90,
	"science.org":           0.90,
	"ncbi.nlm.nih.gov":      0.90,
	"acm.org":               0.85,
	"ieee.org":              0.85,
	"wikipedia.org":         0.80,
	"britannica.com":        0.80,
	"go.dev":                0.80,
	"developer.mozilla.org": 0.80,
	"github.com":            0.70,
	"stackoverflow.com":     0.70,
	"reuters.com":           0.80,
	"apnews.com":            0.80,
	"bbc.co.uk":             0.75,
	"medium.com":            0.50,
	"reddit.com":            0.45,
	"quora.com":             0.40,
}

// ScoreAuthority rates a domain (or URL) with a fixed, inspectable table.
// Known domains match exactly or as a parent of the host; otherwise
// top-level suffixes apply; everything else gets DefaultAuthority.
func ScoreAuthority(domainOrURL string) float64 {
	host := strings.TrimPrefix(strings.ToLower(textutil.ExtractDomain(domainOrURL)), "www.")
	if host == "" {
		return DefaultAuthority
	}
	for h := host; h != ""; {
		if s, ok := domainRules[h]; ok {
			return s
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	for _, r := range tldRules {
		if strings.HasSuffix(host, r.suffix) {
			return r.score
		}
	}
	return DefaultAuthority
}
