package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ncolesummers/open-study-agent/internal/testutil"
	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
	"github.com/ncolesummers/open-study-agent/pkg/workflow"
)

const criticMarker = "Respond ONLY with valid JSON"

type harness struct {
	gen       *testutil.MockGenerator
	store     *testutil.MockVectorStore
	primary   *testutil.MockProvider
	secondary *testutil.MockProvider
	web       *testutil.MockProvider
	deps      workflow.Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gen:       testutil.NewMockGenerator("## Core Concept\nAn answer."),
		store:     testutil.NewMockVectorStore(),
		primary:   &testutil.MockProvider{ProviderName: "arxiv"},
		secondary: &testutil.MockProvider{ProviderName: "semantic_scholar"},
		web:       &testutil.MockProvider{ProviderName: "tavily"},
	}
	settings := agents.DefaultSettings()
	settings.ProviderTimeout = time.Second

	h.deps = workflow.Dependencies{
		Generator:  h.gen,
		Store:      h.store,
		Literature: agents.LiteratureProviders{Primary: h.primary, Secondary: h.secondary, Web: h.web},
		Settings:   settings,
		Policy:     agents.DefaultIntentPolicy(),
	}
	return h
}

func (h *harness) graph(t *testing.T) *workflow.StudyGraph {
	t.Helper()
	stages, err := workflow.BuildStages(h.deps)
	require.NoError(t, err)
	g, err := workflow.NewStudyGraph(stages)
	require.NoError(t, err)
	return g
}

func (h *harness) providerCalls() int {
	return h.primary.Calls() + h.secondary.Calls() + h.web.Calls()
}

func agentsOf(st *state.PipelineState) []string {
	var names []string
	for _, l := range st.StageLogs() {
		names = append(names, l.Agent)
	}
	return names
}

func TestProcessTurn_RequiresQuery(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{Query: "   "})
	assert.ErrorIs(t, err, workflow.ErrNoQuery)
}

func TestNewStudyGraph_RequiresEveryStage(t *testing.T) {
	h := newHarness(t)
	stages, err := workflow.BuildStages(h.deps)
	require.NoError(t, err)

	stages.Critic = nil
	_, err = workflow.NewStudyGraph(stages)
	assert.Error(t, err)
}

// Scenario A: a greeting never touches retrieval, synthesis or validation.
func TestProcessTurn_Greeting(t *testing.T) {
	h := newHarness(t)
	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{Query: "hello", Mode: domain.ModeStudent})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentGreeting, st.Intent())
	draft, _ := st.Draft()
	assert.Contains(t, draft, "Student Study Assistant")

	assert.Zero(t, h.gen.CallCount())
	assert.Zero(t, h.store.SearchCount())
	assert.Zero(t, h.providerCalls())

	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 100.0, *st.GroundingScore())
	assert.Equal(t, []string{"Planner", "Scribe", "Critic"}, agentsOf(st))
}

// Scenario B: thanks after a prior exchange is acknowledged with full grounding in any mode.
func TestProcessTurn_Feedback(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeStudent, domain.ModeResearch} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
				Query:   "thanks",
				Mode:    mode,
				History: testutil.NewTestHistory("what is osmosis", "Osmosis is water diffusion."),
			})
			require.NoError(t, err)

			assert.Equal(t, domain.IntentFeedback, st.Intent())
			draft, _ := st.Draft()
			assert.Contains(t, draft, "Glad I could help!")
			require.NotNil(t, st.GroundingScore())
			assert.Equal(t, 100.0, *st.GroundingScore())
			assert.Zero(t, h.gen.CallCount())
		})
	}
}

// Scenario C: nothing above the length threshold yields the abstention, approved without a call.
func TestProcessTurn_StudentNothingRetrieved(t *testing.T) {
	h := newHarness(t)
	h.store.Results = []domain.ScoredText{
		{Text: "too short", Metadata: map[string]string{"page": "1"}},
		{Text: "   also short   ", Metadata: map[string]string{"page": "2"}},
	}

	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "what is osmosis", Mode: domain.ModeStudent, Namespace: "bio",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.SearchCount())
	assert.Empty(t, st.Passages())
	_, ok := st.Context()
	assert.False(t, ok)

	draft, _ := st.Draft()
	assert.Contains(t, strings.ToLower(draft), agents.NotFoundPhrase)
	assert.Zero(t, h.gen.CallCount())

	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 100.0, *st.GroundingScore())
	assert.Equal(t, "Correct fallback response", st.GroundingReason())
	assert.Equal(t, []string{"Planner", "Document Retriever", "Analyst", "Scribe", "Critic"}, agentsOf(st))
}

// Scenario D: research with no results at all has no references section.
func TestProcessTurn_ResearchNothingFound(t *testing.T) {
	h := newHarness(t)
	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "papers on quantum basket weaving", Mode: domain.ModeResearch,
	})
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Empty(t, snap.Passages)
	assert.Empty(t, snap.Citations)
	assert.True(t, strings.HasPrefix(snap.AnswerText(), "**No research papers found.**"))
	assert.NotContains(t, snap.AnswerText(), "References")
	assert.Zero(t, h.gen.CallCount())
	assert.Nil(t, st.GroundingScore())
}

// Scenario E: a failed secondary provider leaves citations 1-3 in primary then web order.
func TestProcessTurn_ResearchPartialProviders(t *testing.T) {
	h := newHarness(t)
	h.primary.Items = []domain.SearchItem{
		testutil.NewTestPaper("Retrieval-Augmented Generation", "https://arxiv.org/abs/2005.11401"),
		testutil.NewTestPaper("Dense Passage Retrieval", "https://arxiv.org/abs/2004.04906"),
	}
	h.secondary.Err = errors.New("503 service unavailable")
	h.web.Items = []domain.SearchItem{
		testutil.NewTestWebResult("RAG explained", "https://blog.example.com/rag"),
	}
	h.gen.On("Retrieved Sources:", "RAG couples a retriever with a generator.")
	h.gen.Default = "RAG improves factuality [1] and uses dense retrieval [2], see also [3]."

	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "papers on retrieval augmented generation", Mode: domain.ModeResearch,
	})
	require.NoError(t, err)

	citations := st.Citations()
	require.Len(t, citations, 3)
	for i, c := range citations {
		assert.Equal(t, i+1, c.Index)
	}
	assert.Equal(t, "arxiv", citations[0].OriginType)
	assert.Equal(t, "arxiv", citations[1].OriginType)
	assert.Equal(t, "tavily", citations[2].OriginType)

	require.Equal(t, 2, h.gen.CallCount())
	scribePrompt := h.gen.LastCall().Prompt
	assert.Contains(t, scribePrompt, "Cite only indices between 1 and 3")

	draft, _ := st.Draft()
	assert.Contains(t, draft, "## 📚 References")
	assert.Contains(t, draft, "**[1]** [Retrieval-Augmented Generation](https://arxiv.org/abs/2005.11401)")
	assert.Contains(t, draft, "**[3]** [RAG explained](https://blog.example.com/rag)")

	assert.Equal(t, domain.GroundingApproved, st.GroundingStatus())
	assert.Nil(t, st.GroundingScore())
	assert.Equal(t, []string{"Planner", "Literature Retriever", "Analyst", "Scribe"}, agentsOf(st))
}

func TestProcessTurn_StudentAnswerValidated(t *testing.T) {
	tests := []struct {
		name      string
		verdict   string
		wantScore float64
		rejected  bool
	}{
		{"grounded", `{"status": "approved", "grounding": 92, "reason": "supported"}`, 92, false},
		{"ungrounded", `{"status": "approved", "grounding": 40, "reason": "mostly invented"}`, 40, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.Results = []domain.ScoredText{testutil.NewTestChunk("osmosis", 4), testutil.NewTestChunk("membranes", 5)}
			h.gen.On(criticMarker, tt.verdict)
			h.gen.On("Retrieved Sources:", "Osmosis moves water across membranes.")

			st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
				Query: "what is osmosis", Mode: domain.ModeStudent, Namespace: "bio",
			})
			require.NoError(t, err)

			assert.Len(t, st.Passages(), 2)
			assert.Equal(t, 3, h.gen.CallCount())
			require.NotNil(t, st.GroundingScore())
			assert.Equal(t, tt.wantScore, *st.GroundingScore())

			draft, _ := st.Draft()
			if tt.rejected {
				assert.Equal(t, domain.GroundingRejected, st.GroundingStatus())
				assert.Contains(t, draft, "cannot be reliably determined")
			} else {
				assert.Equal(t, "## Core Concept\nAn answer.", draft)
			}
		})
	}
}

func TestProcessTurn_MissingNamespaceAbsorbed(t *testing.T) {
	h := newHarness(t)
	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "what is osmosis", Mode: domain.ModeStudent,
	})
	require.NoError(t, err)

	logs := st.StageLogs()
	require.GreaterOrEqual(t, len(logs), 2)
	assert.Equal(t, domain.StageError, logs[1].Status)
	assert.Equal(t, "missing_namespace", logs[1].Details.Reason)

	draft, _ := st.Draft()
	assert.Contains(t, strings.ToLower(draft), agents.NotFoundPhrase)
}

func TestProcessTurn_ExamPrediction(t *testing.T) {
	h := newHarness(t)
	h.web.Items = []domain.SearchItem{testutil.NewTestWebResult("CS3491 question paper", "https://example.com/qp")}
	h.gen.Default = "# Exam Predictor: CS3491 (5-Year Analysis)"

	st, err := h.graph(t).ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "predict exam questions for CS3491", Mode: domain.ModeStudent,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentExamPrediction, st.Intent())
	assert.Equal(t, []string{"Planner", "Oracle", "Scribe"}, agentsOf(st))
	draft, _ := st.Draft()
	assert.Equal(t, "# Exam Predictor: CS3491 (5-Year Analysis)", draft)
	assert.Equal(t, 2, h.web.Calls())
	assert.Equal(t, 1, h.gen.CallCount())
}

type panickingStage struct{}

func (panickingStage) Name() string { return "Analyst" }
func (panickingStage) Run(context.Context, *state.PipelineState) agents.Outcome {
	panic("boom")
}

func TestProcessTurn_StagePanicIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.store.Results = []domain.ScoredText{testutil.NewTestChunk("osmosis", 1)}
	stages, err := workflow.BuildStages(h.deps)
	require.NoError(t, err)
	stages.Analyst = panickingStage{}

	g, err := workflow.NewStudyGraph(stages)
	require.NoError(t, err)

	st, err := g.ProcessTurn(testutil.NewTestContext(t), state.TurnInput{
		Query: "what is osmosis", Mode: domain.ModeStudent, Namespace: "bio",
	})
	require.NoError(t, err)

	draft, _ := st.Draft()
	assert.Contains(t, strings.ToLower(draft), agents.NotFoundPhrase)

	var analyst *domain.StageLog
	for _, l := range st.StageLogs() {
		if l.Agent == "Analyst" {
			l := l
			analyst = &l
		}
	}
	require.NotNil(t, analyst, "panicking stage must still be logged")
	assert.Equal(t, domain.StageError, analyst.Status)
	assert.Contains(t, analyst.Details.Error, "boom")
}

func TestProcessTurn_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.graph(t).ProcessTurn(ctx, state.TurnInput{Query: "what is osmosis"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessTurn_Telemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tel := testutil.SetupTestTelemetry(recorder, reader)

	h := newHarness(t)
	stages, err := workflow.BuildStages(h.deps)
	require.NoError(t, err)
	g, err := workflow.NewStudyGraphWithTelemetry(stages, tel, nil)
	require.NoError(t, err)

	_, err = g.ProcessTurn(testutil.NewTestContext(t), state.TurnInput{Query: "hello"})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	assert.True(t, names["study.turn"])
	assert.True(t, names["workflow.stage.planner"])
	assert.True(t, names["workflow.stage.scribe"])
	assert.True(t, names["workflow.stage.critic"])
	assert.False(t, names["workflow.stage.analyst"])
}
