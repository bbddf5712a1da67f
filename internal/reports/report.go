// Package reports archives finished research answers as markdown files
// with YAML frontmatter, one file per job.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

// Frontmatter is the metadata block of a report file.
type Frontmatter struct {
	JobID     string         `yaml:"job_id"`
	Query     string         `yaml:"query"`
	CreatedAt time.Time      `yaml:"created_at"`
	Citations []CitationMeta `yaml:"citations"`
}

// CitationMeta is a citation as stored in frontmatter.
type CitationMeta struct {
	Index int    `yaml:"index"`
	URL   string `yaml:"url"`
	Title string `yaml:"title,omitempty"`
}

// Report is a parsed report file.
type Report struct {
	Frontmatter Frontmatter
	Body        string
}

// Render formats answer for job as a report file.
func Render(job *models.ResearchJob, answer *models.ResearchAnswer) ([]byte, error) {
	fm := Frontmatter{
		JobID:     job.ID,
		Query:     job.Query,
		CreatedAt: answer.CreatedAt.UTC(),
		Citations: make([]CitationMeta, len(answer.Citations)),
	}
	for i, c := range answer.Citations {
		fm.Citations[i] = CitationMeta{Index: c.Index, URL: c.URL, Title: c.Title}
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("reports: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n")
	buf.WriteString(strings.TrimLeft(answer.Markdown, "\n"))
	if !strings.HasSuffix(answer.Markdown, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Parse splits a report file into frontmatter and body. Files without a
// frontmatter block, or with invalid YAML in it, parse as body only.
func Parse(data []byte) *Report {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return &Report{Body: string(data)}
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return &Report{Body: string(data)}
	}
	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return &Report{Body: string(data)}
	}
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return &Report{Frontmatter: fm, Body: body}
}

// Archive writes reports into a directory as <job_id>.md.
type Archive struct {
	dir *dir
}

// NewArchive opens root, creating it when missing.
func NewArchive(root string) (*Archive, error) {
	d, err := openDir(root)
	if err != nil {
		return nil, err
	}
	return &Archive{dir: d}, nil
}

func fileName(jobID string) string { return jobID + ".md" }

// Save writes the report of job. An existing report is replaced.
func (a *Archive) Save(_ context.Context, job *models.ResearchJob, answer *models.ResearchAnswer) error {
	data, err := Render(job, answer)
	if err != nil {
		return err
	}
	return a.dir.write(fileName(job.ID), data)
}

// Load reads the report of jobID.
func (a *Archive) Load(jobID string) (*Report, error) {
	data, err := a.dir.read(fileName(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reports: %s: %w", jobID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reports: read %s: %w", jobID, err)
	}
	return Parse(data), nil
}

// Delete removes the report of jobID. A missing report is not an error.
func (a *Archive) Delete(jobID string) error {
	err := a.dir.remove(fileName(jobID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reports: delete %s: %w", jobID, err)
	}
	return nil
}
