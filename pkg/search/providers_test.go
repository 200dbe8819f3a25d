package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arxivFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on
      complex recurrent networks.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
</feed>`

func withBase(t *testing.T, target *string, url string) {
	t.Helper()
	orig := *target
	*target = url
	t.Cleanup(func() { *target = orig })
}

func TestArxivProvider_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:transformer attention", r.URL.Query().Get("search_query"))
		assert.Equal(t, "3", r.URL.Query().Get("max_results"))
		assert.Equal(t, "osa-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivFeedXML))
	}))
	defer server.Close()
	withBase(t, &arxivAPIBase, server.URL)

	p := NewArxivProvider(server.Client(), "osa-test")
	items, err := p.Search(context.Background(), "transformer  attention", 3)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "Attention Is All You Need", item.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, item.Authors)
	assert.Equal(t, "2017", item.Year)
	assert.Equal(t, "2017-06-12", item.Published)
	assert.Equal(t, "http://arxiv.org/abs/1706.03762v7", item.URL)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", item.PDFURL)
	assert.True(t, strings.HasPrefix(item.Summary, "The dominant sequence"))
}

func TestArxivProvider_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	withBase(t, &arxivAPIBase, server.URL)

	_, err := NewArxivProvider(server.Client(), "").Search(context.Background(), "x", 5)
	assert.ErrorContains(t, err, "HTTP 503")

	_, err = NewArxivProvider(server.Client(), "").Search(context.Background(), "   ", 5)
	assert.Error(t, err)
}

func TestSemanticScholarProvider_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, semanticFields, r.URL.Query().Get("fields"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"data": []map[string]any{{
				"paperId":         "abc",
				"title":           "BERT",
				"abstract":        "We introduce a new language representation model.",
				"year":            2019,
				"url":             "https://www.semanticscholar.org/paper/abc",
				"venue":           "NAACL",
				"citationCount":   90000,
				"publicationDate": "2019-06-01",
				"authors":         []map[string]string{{"name": "Jacob Devlin"}},
				"openAccessPdf":   map[string]string{"url": "https://aclanthology.org/N19-1423.pdf"},
			}},
		})
	}))
	defer server.Close()
	withBase(t, &semanticAPIBase, server.URL)

	items, err := NewSemanticScholarProvider(server.Client(), "secret", "").Search(context.Background(), "bert", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "BERT", item.Title)
	assert.Equal(t, "2019", item.Year)
	assert.Equal(t, "NAACL", item.Venue)
	require.NotNil(t, item.Citations)
	assert.Equal(t, 90000, *item.Citations)
	assert.Equal(t, "https://aclanthology.org/N19-1423.pdf", item.PDFURL)
}

func TestTavilyProvider_DropsShortContent(t *testing.T) {
	long := strings.Repeat("context window scaling ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tvly-key", body["api_key"])
		assert.Equal(t, "basic", body["search_depth"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Short", "url": "https://a.example", "content": "too short"},
				{"title": "Long", "url": "https://b.example", "content": long},
			},
		})
	}))
	defer server.Close()
	withBase(t, &tavilyAPIBase, server.URL)

	items, err := NewTavilyProvider(server.Client(), "tvly-key", "", 300).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://b.example", items[0].URL)
	assert.Equal(t, strings.TrimSpace(long), items[0].Content)
}

func TestTavilyProvider_MissingKey(t *testing.T) {
	_, err := NewTavilyProvider(nil, "", "", 0).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
