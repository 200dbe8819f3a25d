// Package export renders a question and its answer as a shareable document.
package export

import (
	"bytes"
	"context"
	"fmt"
	stdhtml "html"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// Format selects the output document type
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "markdown", "md" and "html"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want markdown or html)", s)
}

func (f Format) extension() string {
	if f == FormatHTML {
		return "html"
	}
	return "md"
}

// Source is one piece of evidence listed under the answer
type Source struct {
	Title   string `json:"title,omitempty"`
	Page    *int   `json:"page,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content"`
}

// Request is one Q&A to export
type Request struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources,omitempty"`
	Format   Format   `json:"format,omitempty"`
}

// Exporter renders requests as Markdown or HTML
type Exporter struct {
	format      Format
	maxSources  int
	sourceChars int
	markdown    goldmark.Markdown
	now         func() time.Time
}

// New creates an exporter from the export settings
func New(cfg config.ExportConfig) (*Exporter, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	maxSources := cfg.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	}
	sourceChars := cfg.SourceChars
	if sourceChars <= 0 {
		sourceChars = 600
	}
	return &Exporter{
		format:      format,
		maxSources:  maxSources,
		sourceChars: sourceChars,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		now: time.Now,
	}, nil
}

// Filename returns OSA_QA_<yyyymmdd_hhmmss>.<ext> for the given time
func Filename(at time.Time, format Format) string {
	return fmt.Sprintf("OSA_QA_%s.%s", at.Format("20060102_150405"), format.extension())
}

// Export renders req and returns the document with its suggested filename.
// req.Format overrides the configured format.
func (e *Exporter) Export(ctx context.Context, req Request) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return nil, "", fmt.Errorf("question and answer are required")
	}

	format := e.format
	if req.Format != "" {
		format = req.Format
	}
	now := e.now()

	doc := e.Markdown(req, now)
	if format == FormatMarkdown {
		return []byte(doc), Filename(now, format), nil
	}

	out, err := e.render(req.Question, doc)
	if err != nil {
		return nil, "", err
	}
	return out, Filename(now, format), nil
}

// Markdown renders req as a Markdown document
func (e *Exporter) Markdown(req Request, at time.Time) string {
	var b strings.Builder
	b.WriteString("# OSA - Study Assistant\n\n")
	fmt.Fprintf(&b, "*Generated on %s*\n\n", at.Format("January 02, 2006 at 03:04 PM"))
	fmt.Fprintf(&b, "## Question\n\n%s\n\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "## Answer\n\n%s\n", strings.TrimSpace(req.Answer))

	sources := req.Sources
	if len(sources) > e.maxSources {
		sources = sources[:e.maxSources]
	}
	if len(sources) == 0 {
		return b.String()
	}

	b.WriteString("\n---\n\n## Sources & Evidence\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "\n### Source %d", i+1)
		if src.Page != nil {
			fmt.Fprintf(&b, " (Page %d)", *src.Page)
		}
		b.WriteString("\n\n")
		switch {
		case src.Title != "" && src.URL != "":
			fmt.Fprintf(&b, "[%s](%s)\n\n", src.Title, src.URL)
		case src.Title != "":
			fmt.Fprintf(&b, "**%s**\n\n", src.Title)
		case src.URL != "":
			fmt.Fprintf(&b, "<%s>\n\n", src.URL)
		}
		if content := strings.TrimSpace(src.Content); content != "" {
			for _, line := range strings.Split(e.clip(content), "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
		}
	}
	return b.String()
}

func (e *Exporter) clip(s string) string {
	if utf8.RuneCountInString(s) <= e.sourceChars {
		return s
	}
	return string([]rune(s)[:e.sourceChars]) + "..."
}

const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.6; color: #2c3e50; }
blockquote { color: #7f8c8d; border-left: 3px solid #ddd; margin-left: 0; padding-left: 1rem; }
</style>
</head>
<body>
%s</body>
</html>
`

func (e *Exporter) render(question, doc string) ([]byte, error) {
	var body bytes.Buffer
	if err := e.markdown.Convert([]byte(doc), &body); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	title := stdhtml.EscapeString("OSA: " + truncateTitle(question))
	return []byte(fmt.Sprintf(htmlPage, title, body.String())), nil
}

func truncateTitle(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if utf8.RuneCountInString(q) > 80 {
		return string([]rune(q)[:80]) + "..."
	}
	return q
}

// SourcesFromState lists the turn's evidence: up to five citations, or up to
// five passages when the turn produced no citations.
func SourcesFromState(st *state.PipelineState) []Source {
	const limit = 5

	var out []Source
	if citations := st.Citations(); len(citations) > 0 {
		for _, c := range citations {
			if len(out) == limit {
				break
			}
			out = append(out, Source{Title: c.Title, URL: c.URL, Content: c.Summary})
		}
		return out
	}
	for _, p := range st.Passages() {
		if len(out) == limit {
			break
		}
		out = append(out, Source{Title: p.Title, Page: p.Page, URL: p.URL, Content: p.Content})
	}
	return out
}

// WriteFile stores data under dir and returns the full path
func WriteFile(dir, filename string, data []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}
