package agents_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ncolesummers/open-study-agent/internal/testutil"
	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/search"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

type citationSummary struct {
	Index      int
	Title      string
	OriginType string
}

func summarize(citations []domain.CitationMetadata) []citationSummary {
	out := make([]citationSummary, 0, len(citations))
	for _, c := range citations {
		out = append(out, citationSummary{Index: c.Index, Title: c.Title, OriginType: c.OriginType})
	}
	return out
}

func researchState(query string) *state.PipelineState {
	st := testutil.NewTestState(query, domain.ModeResearch, "")
	st.SetClassification(domain.IntentNewQuery, domain.AnswerResearch, domain.ModeResearch)
	return st
}

func TestLiteratureRetriever_MergeOrderWithFailedSecondary(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	providers := agents.LiteratureProviders{
		Primary: &testutil.MockProvider{ProviderName: "arxiv", Items: []domain.SearchItem{
			testutil.NewTestPaper("Attention Is All You Need", "https://arxiv.org/abs/1706.03762"),
			testutil.NewTestPaper("BERT", "https://arxiv.org/abs/1810.04805"),
		}},
		Secondary: &testutil.MockProvider{ProviderName: "semantic_scholar", Err: errors.New("rate limited")},
		Web: &testutil.MockProvider{ProviderName: "tavily", Items: []domain.SearchItem{
			testutil.NewTestWebResult("Transformers explained", "https://example.com/transformers"),
		}},
	}
	st := researchState("papers on transformers")

	out := agents.NewLiteratureRetriever(providers, agents.DefaultSettings()).Run(ctx, st)

	require.NotNil(t, out.Log)
	assert.NoError(t, out.Err)
	assert.Equal(t, domain.StageCompleted, out.Log.Status)

	want := []citationSummary{
		{1, "Attention Is All You Need", "arxiv"},
		{2, "BERT", "arxiv"},
		{3, "Transformers explained", "tavily"},
	}
	if diff := cmp.Diff(want, summarize(st.Citations())); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}

	passages := st.Passages()
	require.Len(t, passages, 3)
	assert.Equal(t, domain.OriginAcademic, passages[0].Origin)
	assert.Contains(t, passages[0].Content, "Title: Attention Is All You Need\n\nAuthors: ")
	assert.Contains(t, passages[0].Content, "\n\nAbstract: ")
	assert.Equal(t, domain.OriginWeb, passages[2].Origin)
	for i, p := range passages {
		assert.Equal(t, i+1, p.CitationIndex)
	}

	counts := out.Log.Details.Providers
	require.Len(t, counts, 3)
	assert.Equal(t, 2, counts[0].Items)
	assert.Equal(t, "rate limited", counts[1].Error)
	assert.Contains(t, out.Log.Rationale, "semantic_scholar: error: rate limited")
	assert.Contains(t, out.Log.Rationale, "arxiv: 2")
}

func TestLiteratureRetriever_CitationFields(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	count := 42
	paper := testutil.NewTestPaper("Scaling Laws", "https://www.semanticscholar.org/paper/abc")
	paper.Citations = &count
	paper.Venue = "NeurIPS"
	web := testutil.NewTestWebResult("Blog post", "https://example.com/blog")

	r := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Secondary: &testutil.MockProvider{ProviderName: "semantic_scholar", Items: []domain.SearchItem{paper}},
		Web:       &testutil.MockProvider{ProviderName: "tavily", Items: []domain.SearchItem{web}},
	}, agents.DefaultSettings())

	_, citations, counts := r.Retrieve(ctx, "scaling laws")
	require.Len(t, citations, 2)

	scholar := citations[0]
	assert.Equal(t, "Ada Lovelace, Alan Turing, Grace Hopper et al.", scholar.Authors)
	assert.Equal(t, "2023", scholar.Year)
	assert.Equal(t, "NeurIPS", scholar.Venue)
	require.NotNil(t, scholar.Citations)
	assert.Equal(t, 42, *scholar.Citations)
	assert.LessOrEqual(t, len([]rune(scholar.Summary)), 500)

	webCitation := citations[1]
	assert.Equal(t, "Web Source", webCitation.Authors)
	assert.Equal(t, "N/A", webCitation.Year)
	assert.Len(t, []rune(webCitation.Summary), 300)

	assert.Equal(t, "provider not configured", counts[0].Error)
}

func TestLiteratureRetriever_ShortBodyKeepsCitation(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	short := domain.SearchItem{Title: "Stub", URL: "https://example.com/stub", Content: "tiny"}
	r := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Web: &testutil.MockProvider{ProviderName: "tavily", Items: []domain.SearchItem{short}},
	}, agents.DefaultSettings())

	passages, citations, _ := r.Retrieve(ctx, "anything")
	assert.Empty(t, passages)
	require.Len(t, citations, 1)
	assert.Equal(t, 1, citations[0].Index)
}

func TestLiteratureRetriever_DedupByURLAndTitle(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	a := testutil.NewTestPaper("Paper A", "https://arxiv.org/abs/1")
	dupURL := testutil.NewTestWebResult("Paper A mirror", "http://www.arxiv.org/abs/1/")
	noURL := testutil.NewTestPaper("Paper B", "")
	dupTitle := testutil.NewTestPaper("  paper   b ", "")

	r := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Primary:   &testutil.MockProvider{ProviderName: "arxiv", Items: []domain.SearchItem{a, noURL}},
		Secondary: &testutil.MockProvider{ProviderName: "semantic_scholar", Items: []domain.SearchItem{dupTitle}},
		Web:       &testutil.MockProvider{ProviderName: "tavily", Items: []domain.SearchItem{dupURL}},
	}, agents.DefaultSettings())

	_, citations, _ := r.Retrieve(ctx, "q")
	want := []citationSummary{{1, "Paper A", "arxiv"}, {2, "Paper B", "arxiv"}}
	if diff := cmp.Diff(want, summarize(citations)); diff != "" {
		t.Errorf("dedup mismatch (-want +got):\n%s", diff)
	}
}

func TestLiteratureRetriever_PartialResultsAreKept(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	r := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Primary: &testutil.MockProvider{
			ProviderName: "arxiv",
			Items:        []domain.SearchItem{testutil.NewTestPaper("Partial", "https://arxiv.org/abs/9")},
			Err:          errors.New("connection reset mid-stream"),
		},
	}, agents.DefaultSettings())

	passages, citations, counts := r.Retrieve(ctx, "q")
	assert.Len(t, passages, 1)
	require.Len(t, citations, 1)
	assert.Equal(t, 1, citations[0].Index)
	assert.Equal(t, 1, counts[0].Items)
	assert.NotEmpty(t, counts[0].Error)
}

func TestLiteratureRetriever_AllProvidersFail(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	fail := func(name string) *testutil.MockProvider {
		return &testutil.MockProvider{ProviderName: name, Err: errors.New("down")}
	}
	st := researchState("papers on graphs")

	out := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Primary: fail("arxiv"), Secondary: fail("semantic_scholar"), Web: fail("tavily"),
	}, agents.DefaultSettings()).Run(ctx, st)

	require.NotNil(t, out.Log)
	assert.Error(t, out.Err)
	assert.Equal(t, domain.StageError, out.Log.Status)
	assert.Empty(t, st.Passages())
	assert.Empty(t, st.Citations())
}

func TestLiteratureRetriever_EmptyResultsAreNotAnError(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	st := researchState("papers on graphs")

	out := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Primary:   &testutil.MockProvider{ProviderName: "arxiv"},
		Secondary: &testutil.MockProvider{ProviderName: "semantic_scholar"},
		Web:       &testutil.MockProvider{ProviderName: "tavily"},
	}, agents.DefaultSettings()).Run(ctx, st)

	require.NotNil(t, out.Log)
	assert.NoError(t, out.Err)
	assert.Equal(t, domain.StageCompleted, out.Log.Status)
	assert.Contains(t, out.Log.Rationale, "arxiv: no results")
}

func TestLiteratureRetriever_SlowAndPanickingProvidersAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := testutil.NewTestContext(t)
	settings := agents.DefaultSettings()
	settings.ProviderTimeout = 50 * time.Millisecond

	slow := &testutil.MockProvider{ProviderName: "semantic_scholar", Delay: 5 * time.Second,
		Items: []domain.SearchItem{testutil.NewTestPaper("Never", "https://example.com/never")}}
	boom := &testutil.MockProvider{ProviderName: "tavily", Panic: true}
	ok := &testutil.MockProvider{ProviderName: "arxiv", Items: []domain.SearchItem{
		testutil.NewTestPaper("Fast", "https://arxiv.org/abs/2"),
	}}

	start := time.Now()
	passages, citations, counts := agents.NewLiteratureRetriever(agents.LiteratureProviders{
		Primary: ok, Secondary: slow, Web: boom,
	}, settings).Retrieve(ctx, "q")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, passages, 1)
	require.Len(t, citations, 1)
	assert.Equal(t, "Fast", citations[0].Title)
	assert.Contains(t, counts[1].Error, "deadline exceeded")
	assert.Contains(t, counts[2].Error, "panicked")
	assert.Equal(t, 1, slow.Calls())
	assert.Equal(t, 1, boom.Calls())
}

func TestLiteratureRetriever_OpenBreakerSkipsProvider(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	flaky := &testutil.MockProvider{ProviderName: "arxiv", Err: errors.New("503")}
	breaker := search.NewBreaker(1, time.Hour)

	r := agents.NewLiteratureRetriever(agents.LiteratureProviders{Primary: breaker.Guard(flaky)}, agents.DefaultSettings())

	_, _, counts := r.Retrieve(ctx, "q")
	assert.Equal(t, "503", counts[0].Error)

	_, _, counts = r.Retrieve(ctx, "q")
	assert.Contains(t, counts[0].Error, search.ErrCircuitOpen.Error())
	assert.Equal(t, 1, flaky.Calls(), "open breaker must not call the provider")
}

func TestResolveProviders(t *testing.T) {
	reg := search.NewRegistry()
	require.NoError(t, reg.Register(&testutil.MockProvider{ProviderName: "arxiv"}))
	require.NoError(t, reg.Register(&testutil.MockProvider{ProviderName: "tavily"}))

	p := agents.ResolveProviders(reg, config.SearchConfig{Primary: "arxiv", Secondary: "missing", Web: "tavily"})
	assert.NotNil(t, p.Primary)
	assert.Nil(t, p.Secondary)
	assert.NotNil(t, p.Web)
}
