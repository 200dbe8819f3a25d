package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ncolesummers/open-study-agent/internal/httputil"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// arxivAPIBase is the arXiv query endpoint; tests point it at httptest.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivProvider searches arXiv preprints through the Atom API
type ArxivProvider struct {
	Client    *http.Client
	UserAgent string
}

// NewArxivProvider creates an arXiv provider
func NewArxivProvider(client *http.Client, userAgent string) *ArxivProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ArxivProvider{Client: client, UserAgent: userAgent}
}

// Name returns the provider identifier
func (p *ArxivProvider) Name() string { return "arxiv" }

// Search returns the most relevant arXiv entries for query
func (p *ArxivProvider) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("empty arXiv query")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{
		"search_query": {"all:" + strings.Join(terms, " ")},
		"start":        {"0"},
		"max_results":  {fmt.Sprintf("%d", maxResults)},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	items := make([]domain.SearchItem, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		item := domain.SearchItem{
			Title:   collapseSpace(entry.Title),
			URL:     strings.TrimSpace(entry.ID),
			Summary: collapseSpace(entry.Summary),
		}
		for _, a := range entry.Authors {
			item.Authors = append(item.Authors, strings.TrimSpace(a.Name))
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			item.Year = fmt.Sprintf("%d", t.Year())
			item.Published = t.Format("2006-01-02")
		}
		for _, link := range entry.Links {
			if link.Title == "pdf" {
				item.PDFURL = link.Href
			}
		}
		items = append(items, item)
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

// collapseSpace folds the hard-wrapped whitespace arXiv uses in titles and abstracts
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
