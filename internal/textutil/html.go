// Package textutil holds the pure text helpers shared by the pipeline stages:
// HTML cleaning, URL safety checks, term extraction and vector similarity.
package textutil

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// droppedElements are removed together with their content before text extraction.
const droppedElements = "script, style, noscript, template, svg"

// maxCleanPasses bounds re-parsing of text that still decodes to markup,
// such as escaped HTML examples in documentation.
const maxCleanPasses = 4

// CleanHTML converts an HTML document into plain text. Script and style
// blocks are removed with their content, remaining tags are stripped and runs
// of whitespace collapse to single spaces. The result is a fixpoint:
// cleaning it again returns it unchanged.
func CleanHTML(raw string) string {
	out := cleanPass(raw)
	for i := 0; i < maxCleanPasses; i++ {
		next := cleanPass(out)
		if next == out {
			return out
		}
		out = next
	}
	// Still decoding after every pass. Text without '<' or '&' skips the
	// parser, so dropping them leaves nothing to change.
	return CollapseSpace(strings.NewReplacer("<", " ", "&", " ").Replace(out))
}

func cleanPass(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	// Plain text has nothing to parse.
	if !strings.ContainsAny(raw, "<&") {
		return CollapseSpace(raw)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return CollapseSpace(raw)
	}
	doc.Find(droppedElements).Remove()

	var sb strings.Builder
	for _, n := range doc.Selection.Nodes {
		collectText(&sb, n)
	}
	return CollapseSpace(sb.String())
}

// ExtractTitle returns the document <title>, or the first <h1> when the title
// is missing. Empty string when neither exists or parsing fails.
func ExtractTitle(raw string) string {
	if !strings.Contains(raw, "<") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	if t := CollapseSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return CollapseSpace(doc.Find("h1").First().Text())
}

// collectText appends every text node below n, separated by spaces so that
// adjacent block elements do not run together.
func collectText(sb *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(sb, c)
	}
}

// CollapseSpace trims s and replaces every run of whitespace with one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
