package export

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newExporter(t *testing.T, format string) *Exporter {
	t.Helper()
	e, err := New(config.ExportConfig{Format: format, MaxSources: 5, SourceChars: 600})
	require.NoError(t, err)
	e.now = func() time.Time { return fixedTime }
	return e
}

func sampleSources(n int) []Source {
	out := make([]Source, n)
	for i := range out {
		page := i + 1
		out[i] = Source{Page: &page, Content: "Osmosis is the diffusion of water."}
	}
	return out
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "OSA_QA_20260314_092653.md", Filename(fixedTime, FormatMarkdown))
	assert.Equal(t, "OSA_QA_20260314_092653.html", Filename(fixedTime, FormatHTML))
	assert.Regexp(t, regexp.MustCompile(`^OSA_QA_\d{8}_\d{6}\.md$`), Filename(time.Now(), FormatMarkdown))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("MD")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestExport_Markdown(t *testing.T) {
	e := newExporter(t, "markdown")
	long := strings.Repeat("x", 700)
	sources := append(sampleSources(6), Source{})
	sources[0].Content = long
	sources[1].Title = "Biology, 3rd ed."
	sources[1].URL = "https://example.com/bio"

	out, name, err := e.Export(context.Background(), Request{
		Question: "What is osmosis?",
		Answer:   "## Core Concept\n**Osmosis** moves water.",
		Sources:  sources,
	})
	require.NoError(t, err)
	assert.Equal(t, "OSA_QA_20260314_092653.md", name)

	doc := string(out)
	assert.Contains(t, doc, "*Generated on March 14, 2026 at 09:26 AM*")
	assert.Contains(t, doc, "## Question\n\nWhat is osmosis?")
	assert.Contains(t, doc, "## Answer\n\n## Core Concept\n**Osmosis** moves water.")
	assert.Contains(t, doc, "### Source 1 (Page 1)")
	assert.Contains(t, doc, "> "+strings.Repeat("x", 600)+"...\n")
	assert.NotContains(t, doc, strings.Repeat("x", 601))
	assert.Contains(t, doc, "[Biology, 3rd ed.](https://example.com/bio)")
	assert.Contains(t, doc, "### Source 5")
	assert.NotContains(t, doc, "### Source 6")
}

func TestExport_NoSourcesSection(t *testing.T) {
	e := newExporter(t, "markdown")
	out, _, err := e.Export(context.Background(), Request{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "Sources & Evidence")
}

func TestExport_HTML(t *testing.T) {
	e := newExporter(t, "markdown")
	out, name, err := e.Export(context.Background(), Request{
		Question: "What is <osmosis>?",
		Answer:   "**Osmosis** moves water.\n\n<script>alert(1)</script>",
		Sources:  sampleSources(1),
		Format:   FormatHTML,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".html"))

	doc := string(out)
	assert.True(t, strings.HasPrefix(doc, "<!DOCTYPE html>"))
	assert.Contains(t, doc, "<title>OSA: What is &lt;osmosis&gt;?</title>")
	assert.Contains(t, doc, "<h2>Answer</h2>")
	assert.Contains(t, doc, "<strong>Osmosis</strong>")
	assert.Contains(t, doc, "<blockquote>")
	assert.NotContains(t, doc, "<script>")
}

func TestExport_Validation(t *testing.T) {
	e := newExporter(t, "html")
	_, _, err := e.Export(context.Background(), Request{Question: "q"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = e.Export(ctx, Request{Question: "q", Answer: "a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourcesFromState(t *testing.T) {
	st := state.NewPipelineState(state.TurnInput{Query: "q"})
	page := 7
	passages := make([]domain.SourcePassage, 7)
	for i := range passages {
		passages[i] = domain.SourcePassage{Content: "passage", Origin: domain.OriginDocument, Page: &page}
	}
	st.SetPassages(passages)

	sources := SourcesFromState(st)
	require.Len(t, sources, 5)
	assert.Equal(t, 7, *sources[0].Page)

	st.SetCitations([]domain.CitationMetadata{
		{Index: 1, Title: "RAG", URL: "https://arxiv.org/abs/1", Summary: "abstract"},
	})
	sources = SourcesFromState(st)
	require.Len(t, sources, 1)
	assert.Equal(t, Source{Title: "RAG", URL: "https://arxiv.org/abs/1", Content: "abstract"}, sources[0])
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir+"/exports", "../OSA_QA_1.md", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, dir+"/exports/OSA_QA_1.md", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))
}
