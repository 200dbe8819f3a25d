package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/search"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

var (
	errProviderNotConfigured = errors.New("provider not configured")
	errAllProvidersFailed    = errors.New("all literature providers failed")
)

// Provider slots, in merge order
const (
	slotPrimary = iota
	slotSecondary
	slotWeb
	slotCount
)

var slotLabels = [slotCount]string{"primary", "secondary", "web"}

// LiteratureProviders are the three search backends of research mode
type LiteratureProviders struct {
	Primary   domain.SearchProvider
	Secondary domain.SearchProvider
	Web       domain.SearchProvider
}

// ResolveProviders looks the configured provider names up in reg. A name
// that is not registered leaves its slot empty.
func ResolveProviders(reg *search.Registry, cfg config.SearchConfig) LiteratureProviders {
	get := func(name string) domain.SearchProvider {
		p, err := reg.Get(name)
		if err != nil {
			return nil
		}
		return p
	}
	return LiteratureProviders{
		Primary:   get(cfg.Primary),
		Secondary: get(cfg.Secondary),
		Web:       get(cfg.Web),
	}
}

type providerResult struct {
	name  string
	items []domain.SearchItem
	err   error
}

func (r providerResult) failed() bool {
	return r.err != nil && len(r.items) == 0
}

// LiteratureRetriever fans a research query out to the academic and web providers
type LiteratureRetriever struct {
	providers LiteratureProviders
	settings  Settings
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    observability.Logger
}

// NewLiteratureRetriever creates a retriever. Empty slots contribute nothing.
func NewLiteratureRetriever(providers LiteratureProviders, settings Settings) *LiteratureRetriever {
	return &LiteratureRetriever{
		providers: providers,
		settings:  settings,
		logger:    observability.NewStructuredLogger("literature_retriever"),
	}
}

// Instrument enables provider spans and metrics. Either argument may be nil.
func (r *LiteratureRetriever) Instrument(telemetry *observability.Telemetry, metrics *observability.Metrics) *LiteratureRetriever {
	r.telemetry = telemetry
	r.metrics = metrics
	return r
}

// Name implements Stage
func (r *LiteratureRetriever) Name() string { return "Literature Retriever" }

// Retrieve queries all three providers concurrently and merges their results
// in slot order. No provider can cancel or fail another.
func (r *LiteratureRetriever) Retrieve(ctx context.Context, query string) ([]domain.SourcePassage, []domain.CitationMetadata, []domain.ProviderCount) {
	slots := [slotCount]domain.SearchProvider{r.providers.Primary, r.providers.Secondary, r.providers.Web}
	var results [slotCount]providerResult

	var g errgroup.Group
	g.SetLimit(slotCount)
	for i := range slots {
		i := i
		g.Go(func() error {
			results[i] = r.callProvider(ctx, i, slots[i], query)
			return nil
		})
	}
	_ = g.Wait()

	return r.merge(results)
}

func (r *LiteratureRetriever) callProvider(ctx context.Context, slot int, provider domain.SearchProvider, query string) (res providerResult) {
	if provider == nil {
		return providerResult{name: slotLabels[slot], err: errProviderNotConfigured}
	}
	res.name = provider.Name()

	defer func() {
		if rec := recover(); rec != nil {
			res.items = nil
			res.err = fmt.Errorf("provider %s panicked: %v", res.name, rec)
		}
	}()

	if r.settings.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	call := func(ctx context.Context) (int, error) {
		res.items, res.err = provider.Search(ctx, query, r.settings.MaxResults)
		return len(res.items), res.err
	}
	if r.telemetry != nil {
		_ = r.telemetry.InstrumentProviderCall(ctx, res.name, call)
	} else {
		_, _ = call(ctx)
	}
	if r.metrics != nil {
		r.metrics.RecordProviderCall(ctx, res.name, time.Since(start), res.err == nil)
	}
	return res
}

func (r *LiteratureRetriever) merge(results [slotCount]providerResult) ([]domain.SourcePassage, []domain.CitationMetadata, []domain.ProviderCount) {
	var (
		passages  []domain.SourcePassage
		citations []domain.CitationMetadata
		counts    = make([]domain.ProviderCount, 0, slotCount)
		seen      = make(map[string]bool)
	)

	for slot, res := range results {
		count := domain.ProviderCount{Provider: res.name}
		if res.err != nil {
			count.Error = res.err.Error()
		}

		for _, item := range res.items {
			if key := dedupKey(item); key != "" {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			count.Items++
			citation := buildCitation(slot, res.name, len(citations)+1, item)
			citations = append(citations, citation)

			body := strings.TrimSpace(passageBody(slot, item))
			if utf8.RuneCountInString(body) <= r.settings.MinLiteratureChars {
				continue
			}
			origin := domain.OriginAcademic
			if slot == slotWeb {
				origin = domain.OriginWeb
			}
			passages = append(passages, domain.SourcePassage{
				Content:       truncate(body, r.settings.PassageCap),
				Origin:        origin,
				URL:           item.URL,
				Title:         item.Title,
				CitationIndex: citation.Index,
			})
		}
		counts = append(counts, count)
	}
	return passages, citations, counts
}

// passageBody renders an item the way its slot presents it to the synthesizer
func passageBody(slot int, item domain.SearchItem) string {
	switch slot {
	case slotPrimary:
		return fmt.Sprintf("Title: %s\n\nAuthors: %s\n\nAbstract: %s",
			item.Title, strings.Join(item.Authors, ", "), item.Summary)
	case slotSecondary:
		return item.Title + "\n\n" + item.Summary
	default:
		if item.Content != "" {
			return item.Content
		}
		return item.Summary
	}
}

func buildCitation(slot int, provider string, index int, item domain.SearchItem) domain.CitationMetadata {
	c := domain.CitationMetadata{
		Index:      index,
		Title:      item.Title,
		Authors:    formatAuthors(item.Authors),
		Year:       item.Year,
		URL:        item.URL,
		OriginType: provider,
		Published:  item.Published,
		Citations:  item.Citations,
		Venue:      item.Venue,
		PDFURL:     item.PDFURL,
	}

	if slot == slotWeb {
		if c.Title == "" {
			c.Title = "Web Article"
		}
		if c.Authors == "" {
			c.Authors = "Web Source"
		}
		summary := item.Content
		if summary == "" {
			summary = item.Summary
		}
		c.Summary = truncate(strings.TrimSpace(summary), 300)
	} else {
		if c.Title == "" {
			c.Title = "Untitled"
		}
		if c.Authors == "" {
			c.Authors = "Unknown Authors"
		}
		c.Summary = truncate(strings.TrimSpace(item.Summary), 500)
	}
	if c.Year == "" {
		c.Year = "N/A"
	}
	return c
}

// formatAuthors keeps the first three names
func formatAuthors(authors []string) string {
	if len(authors) > 3 {
		return strings.Join(authors[:3], ", ") + " et al."
	}
	return strings.Join(authors, ", ")
}

func dedupKey(item domain.SearchItem) string {
	if u := normalizeURL(item.URL); u != "" {
		return "url:" + u
	}
	if t := strings.Join(strings.Fields(strings.ToLower(item.Title)), " "); t != "" {
		return "title:" + t
	}
	return ""
}

func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimRight(u, "/")
}

// Run implements Stage
func (r *LiteratureRetriever) Run(ctx context.Context, st *state.PipelineState) Outcome {
	if st.Intent().IsSmallTalk() {
		return Outcome{}
	}
	timer := startStage(r.Name())

	passages, citations, counts := r.Retrieve(ctx, st.Query())
	st.SetPassages(passages)
	st.SetCitations(citations)

	lines := make([]string, 0, len(counts))
	failures := 0
	for i, c := range counts {
		switch {
		case c.Error != "" && c.Items == 0:
			failures++
			lines = append(lines, fmt.Sprintf("%s: error: %s", c.Provider, c.Error))
		case c.Items == 0:
			lines = append(lines, fmt.Sprintf("%s: no results", c.Provider))
		default:
			lines = append(lines, fmt.Sprintf("%s: %d", c.Provider, c.Items))
		}
		if c.Error != "" {
			r.logger.Warn(ctx, "Literature provider failed", map[string]interface{}{
				"provider": c.Provider,
				"slot":     slotLabels[i],
				"error":    c.Error,
			})
		}
	}

	details := domain.StageDetails{
		SearchQuery:   truncate(st.Query(), 200),
		PassageCount:  len(passages),
		CitationCount: len(citations),
		Providers:     counts,
	}
	rationale := fmt.Sprintf("Parallel search for: %q\n%s", truncate(st.Query(), 80), strings.Join(lines, "\n"))
	preview := fmt.Sprintf("Found %d sources, %d references", len(passages), len(citations))

	if failures == slotCount {
		details.Error = errAllProvidersFailed.Error()
		return Outcome{Err: errAllProvidersFailed, Log: timer.log(domain.StageError, rationale, preview, details)}
	}
	return Outcome{Log: timer.log(domain.StageCompleted, rationale, preview, details)}
}
