package textutil

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanHTML_StripsScriptAndStyle(t *testing.T) {
	raw := `<html><head><title>T</title><style>body{color:red}</style></head>
<body><script>var secret = "x";</script><h1>Header</h1><p>First   para.</p><p>Second</p></body></html>`

	got := CleanHTML(raw)
	assert.NotContains(t, got, "secret")
	assert.NotContains(t, got, "color:red")
	assert.Contains(t, got, "Header")
	assert.Contains(t, got, "First para.")
	assert.Contains(t, got, "Second")
	assert.NotContains(t, got, "  ")
}

func TestCleanHTML_Empty(t *testing.T) {
	assert.Equal(t, "", CleanHTML(""))
	assert.Equal(t, "", CleanHTML("   \n\t"))
}

func TestCleanHTML_Idempotent(t *testing.T) {
	inputs := []string{
		`<div>Go is <b>great</b> &amp; fast</div><script>alert(1)</script>`,
		"plain   text\n\nwith breaks",
		`<p>a &lt; b</p>`,
		`<ul><li>one</li><li>two</li></ul>`,
		`<p>Use &lt;b&gt;bold&lt;/b&gt; tags</p>`,
		`<p>escape as &amp;amp; in HTML</p>`,
		`<p>write &lt;script&gt;alert(1)&lt;/script&gt; carefully</p>`,
		`<p>&amp;amp;amp;amp;amp;amp;lt;i&amp;amp;amp;amp;amp;amp;gt;deep</p>`,
	}
	for _, in := range inputs {
		once := CleanHTML(in)
		assert.Equal(t, once, CleanHTML(once), "input %q", in)
	}
}

func TestCleanHTML_EscapedMarkupIsStripped(t *testing.T) {
	assert.Equal(t, "Use bold tags", CleanHTML(`<p>Use &lt;b&gt;bold&lt;/b&gt; tags</p>`))
	assert.Equal(t, "write carefully", CleanHTML(`<p>write &lt;script&gt;alert(1)&lt;/script&gt; carefully</p>`))
	assert.Equal(t, "escape as & in HTML", CleanHTML(`<p>escape as &amp;amp; in HTML</p>`))
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Page", ExtractTitle(`<html><head><title> Page </title></head></html>`))
	assert.Equal(t, "Heading", ExtractTitle(`<body><h1>Heading</h1></body>`))
	assert.Equal(t, "", ExtractTitle("no markup"))
}

func TestValidateURL(t *testing.T) {
	blocked := []string{
		"http://localhost/x",
		"http://127.0.0.1:8080/",
		"https://0.0.0.0/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.10/admin",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://api.localhost/",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"not a url",
		"",
		"http://2130706433/",
		"http://127.1/",
		"http://0x7f.0.0.1/",
		"http://0x7f000001/",
		"http://017700000001/",
	}
	for _, u := range blocked {
		assert.False(t, ValidateURL(u), "expected %q to be rejected", u)
	}

	allowed := []string{
		"http://example.com/",
		"https://en.wikipedia.org/wiki/Go_(programming_language)",
		"https://8.8.8.8/dns",
		"https://sub.domain.org:8443/path?q=1",
		"https://123.example.com/",
		"https://0x.dev/",
	}
	for _, u := range allowed {
		assert.True(t, ValidateURL(u), "expected %q to be accepted", u)
	}
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("https://www.Example.com/a/b"))
	assert.Equal(t, "go.dev", ExtractDomain("https://go.dev"))
	assert.Equal(t, "not a url", ExtractDomain("not a url"))
	assert.Equal(t, "%zz", ExtractDomain("%zz"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.False(t, math.IsNaN(Cosine(nil, nil)))
}

func TestTermsAndJaccard(t *testing.T) {
	a := Terms("The Go programming language is fast")
	require.Contains(t, a, "programming")
	assert.NotContains(t, a, "the")
	assert.NotContains(t, a, "is")

	b := Terms("Go language programming")
	assert.InDelta(t, 2.0/3.0, Jaccard(b, a), 1e-9)
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-05-01T11:00:00Z", Timestamp(ts))
}
