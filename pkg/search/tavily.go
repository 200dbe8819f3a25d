package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ncolesummers/open-study-agent/internal/httputil"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// tavilyAPIBase is the Tavily search endpoint; tests point it at httptest.
var tavilyAPIBase = "https://api.tavily.com/search"

// ErrMissingAPIKey is returned by providers that cannot run without a key
var ErrMissingAPIKey = errors.New("search: API key is missing")

// TavilyProvider calls the Tavily web search API
type TavilyProvider struct {
	APIKey string
	// Depth is Tavily's search_depth (basic or advanced).
	Depth    string
	MinChars int
	client   *http.Client
}

// NewTavilyProvider creates a Tavily provider. Results whose content is
// shorter than minChars are dropped.
func NewTavilyProvider(client *http.Client, apiKey, depth string, minChars int) *TavilyProvider {
	if depth == "" {
		depth = "basic"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TavilyProvider{APIKey: apiKey, Depth: depth, MinChars: minChars, client: client}
}

// Name returns the provider identifier
func (t *TavilyProvider) Name() string { return "tavily" }

// Search posts query to Tavily
func (t *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, fmt.Errorf("tavily: %w", ErrMissingAPIKey)
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyAPIBase, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := httputil.DoWithRetry(ctx, t.client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("parsing tavily response: %w", err)
	}

	items := make([]domain.SearchItem, 0, len(response.Results))
	for _, r := range response.Results {
		content := strings.TrimSpace(r.Content)
		if len(content) < t.MinChars {
			continue
		}
		items = append(items, domain.SearchItem{
			Title:   r.Title,
			URL:     r.URL,
			Content: content,
			Summary: content,
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}
