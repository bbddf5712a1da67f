package embedding

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken converts token budgets into character budgets when no exact
// tokenizer is configured.
const CharsPerToken = 4

// DefaultSeparators are tried in order: paragraph, line, sentence, word,
// character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// EstimateTokens approximates the token count of text as characters / 4.
// It is meant for budgeting only.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// TokenCounter counts tokens exactly with a tiktoken encoding.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named tiktoken encoding (e.g. "cl100k_base").
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("embedding: load tokenizer %q: %w", encoding, err)
	}
	return &TokenCounter{enc: enc}, nil
}

// Count returns the number of tokens in s.
func (c *TokenCounter) Count(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// Splitter breaks text into overlapping chunks, preferring the earliest
// separator in Separators that occurs in the text and recursing into pieces
// that are still too long.
type Splitter struct {
	// ChunkSize and Overlap are measured with Length.
	ChunkSize  int
	Overlap    int
	Length     func(string) int
	Separators []string
}

// NewSplitter returns a Splitter for targetTokens-sized chunks. With a nil
// counter sizes are converted to characters via CharsPerToken.
func NewSplitter(counter *TokenCounter, targetTokens, overlapTokens int) *Splitter {
	if targetTokens <= 0 {
		targetTokens = 300
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 10
	}
	if counter != nil {
		return &Splitter{
			ChunkSize:  targetTokens,
			Overlap:    overlapTokens,
			Length:     counter.Count,
			Separators: DefaultSeparators,
		}
	}
	return &Splitter{
		ChunkSize:  targetTokens * CharsPerToken,
		Overlap:    overlapTokens * CharsPerToken,
		Length:     utf8.RuneCountInString,
		Separators: DefaultSeparators,
	}
}

// SplitText splits text into chunks of roughly targetTokens tokens with
// overlapTokens of overlap, using the character ratio.
func SplitText(text string, targetTokens, overlapTokens int) []string {
	return NewSplitter(nil, targetTokens, overlapTokens).Split(text)
}

// Split splits text into trimmed, non-empty chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, seps []string) []string {
	sep, rest := "", []string(nil)
	for i, c := range seps {
		if c == "" || strings.Contains(text, c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}

	// Separators stay attached to the piece before them so joining pieces
	// back together reproduces the original text.
	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.SplitAfter(text, sep)
	}

	var out, fits []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if s.Length(p) <= s.ChunkSize {
			fits = append(fits, p)
			continue
		}
		if len(fits) > 0 {
			out = append(out, s.merge(fits)...)
			fits = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(p))
			continue
		}
		out = append(out, s.split(p, rest)...)
	}
	if len(fits) > 0 {
		out = append(out, s.merge(fits)...)
	}
	return out
}

// merge packs pieces into chunks no longer than ChunkSize, carrying up to
// Overlap worth of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var docs, cur []string
	total := 0
	emit := func() {
		if doc := strings.TrimSpace(strings.Join(cur, "")); doc != "" {
			docs = append(docs, doc)
		}
	}
	for _, p := range pieces {
		l := s.Length(p)
		if total+l > s.ChunkSize && len(cur) > 0 {
			emit()
			for len(cur) > 0 && (total > s.Overlap || total+l > s.ChunkSize) {
				total -= s.Length(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += l
	}
	if len(cur) > 0 {
		emit()
	}
	return docs
}
