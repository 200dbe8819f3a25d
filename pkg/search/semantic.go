package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ncolesummers/open-study-agent/internal/httputil"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint; tests point it at httptest.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,year,url,venue,citationCount,openAccessPdf,publicationDate"

// SemanticScholarProvider searches the Semantic Scholar graph API
type SemanticScholarProvider struct {
	Client    *http.Client
	APIKey    string
	UserAgent string
}

// NewSemanticScholarProvider creates a Semantic Scholar provider. apiKey is optional.
func NewSemanticScholarProvider(client *http.Client, apiKey, userAgent string) *SemanticScholarProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SemanticScholarProvider{Client: client, APIKey: apiKey, UserAgent: userAgent}
}

// Name returns the provider identifier
func (p *SemanticScholarProvider) Name() string { return "semantic_scholar" }

// Search returns papers matching query
func (p *SemanticScholarProvider) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", maxResults)},
		"fields": {semanticFields},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	if p.APIKey != "" {
		req.Header.Set("x-api-key", p.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	items := make([]domain.SearchItem, 0, len(sr.Data))
	for _, paper := range sr.Data {
		item := domain.SearchItem{
			Title:     strings.TrimSpace(paper.Title),
			Summary:   strings.TrimSpace(paper.Abstract),
			URL:       paper.URL,
			Venue:     paper.Venue,
			Published: paper.PublicationDate,
		}
		for _, a := range paper.Authors {
			item.Authors = append(item.Authors, a.Name)
		}
		if paper.Year > 0 {
			item.Year = fmt.Sprintf("%d", paper.Year)
		}
		if paper.CitationCount != nil {
			c := *paper.CitationCount
			item.Citations = &c
		}
		if paper.OpenAccessPDF != nil {
			item.PDFURL = paper.OpenAccessPDF.URL
		}
		items = append(items, item)
	}
	return items, nil
}

type semanticResponse struct {
	Total int             `json:"total"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID         string           `json:"paperId"`
	Title           string           `json:"title"`
	Abstract        string           `json:"abstract"`
	Year            int              `json:"year"`
	URL             string           `json:"url"`
	Venue           string           `json:"venue"`
	CitationCount   *int             `json:"citationCount"`
	PublicationDate string           `json:"publicationDate"`
	Authors         []semanticAuthor `json:"authors"`
	OpenAccessPDF   *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

type semanticAuthor struct {
	Name string `json:"name"`
}
