package agents_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/open-study-agent/internal/testutil"
	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

func twoPassages() []domain.SourcePassage {
	return []domain.SourcePassage{
		{Content: "Osmosis is the diffusion of water across a membrane.", Origin: domain.OriginDocument},
		{Content: "Diffusion moves solutes down a concentration gradient.", Origin: domain.OriginDocument},
	}
}

func TestAnalyst_SkipsWithoutPassages(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("unused")
	analyst, err := agents.NewAnalyst(gen, agents.DefaultSettings())
	require.NoError(t, err)

	st := testutil.NewTestState("what is osmosis", domain.ModeStudent, "bio")
	st.SetClassification(domain.IntentNewQuery, domain.AnswerAcademic, domain.ModeStudent)

	out := analyst.Run(ctx, st)
	require.NotNil(t, out.Log)
	assert.Equal(t, domain.StageSkipped, out.Log.Status)
	assert.Equal(t, "No sources to analyze", out.Log.Rationale)
	assert.Zero(t, gen.CallCount())

	_, ok := st.Context()
	assert.False(t, ok)
}

func TestAnalyst_NoOpForSmallTalk(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	analyst, err := agents.NewAnalyst(testutil.NewMockGenerator("x"), agents.DefaultSettings())
	require.NoError(t, err)

	st := testutil.NewTestState("hello", domain.ModeStudent, "")
	st.SetClassification(domain.IntentGreeting, domain.AnswerGeneral, domain.ModeStudent)

	out := analyst.Run(ctx, st)
	assert.Nil(t, out.Log)
	assert.Equal(t, domain.StageSkipped, out.Status())
}

func TestAnalyst_SynthesizesContext(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("  Osmosis moves water; diffusion moves solutes.  ")
	analyst, err := agents.NewAnalyst(gen, agents.DefaultSettings())
	require.NoError(t, err)

	history := testutil.NewTestHistory(
		"first question", "first answer",
		"second question", "second answer",
		"third question", "third answer",
	)
	st := testutil.NewTestState("compare them", domain.ModeStudent, "bio", history...)
	st.SetClassification(domain.IntentNewQuery, domain.AnswerAcademic, domain.ModeStudent)
	st.SetPassages(twoPassages())

	out := analyst.Run(ctx, st)
	require.NotNil(t, out.Log)
	assert.NoError(t, out.Err)
	assert.Equal(t, domain.StageCompleted, out.Log.Status)
	assert.Equal(t, 2, out.Log.Details.PassageCount)

	synthesized, ok := st.Context()
	require.True(t, ok)
	assert.Equal(t, "Osmosis moves water; diffusion moves solutes.", synthesized)

	call := gen.LastCall()
	assert.Contains(t, call.Prompt, "Source 1:\nOsmosis is the diffusion")
	assert.Contains(t, call.Prompt, "Source 2:\nDiffusion moves solutes")
	assert.Contains(t, call.Prompt, "\n\n---\n\n")
	assert.Contains(t, call.Prompt, "Current Question:\ncompare them")
	assert.Equal(t, 0.0, call.Temperature)
	assert.Equal(t, 1000, call.MaxTokens)

	// Only the last two exchanges reach the prompt.
	assert.NotContains(t, call.Prompt, "first question")
	assert.Contains(t, call.Prompt, "USER: second question")
	assert.Contains(t, call.Prompt, "ASSISTANT: third answer")
}

func TestAnalyst_NoHistoryPlaceholder(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("ok")
	analyst, err := agents.NewAnalyst(gen, agents.DefaultSettings())
	require.NoError(t, err)

	_, err = analyst.Synthesize(ctx, "q", twoPassages(), nil)
	require.NoError(t, err)
	assert.Contains(t, gen.LastCall().Prompt, "No prior conversation")
}

func TestAnalyst_TruncatesToContextCap(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator(strings.Repeat("a", 9000))
	analyst, err := agents.NewAnalyst(gen, agents.DefaultSettings())
	require.NoError(t, err)

	out, err := analyst.Synthesize(ctx, "q", twoPassages(), nil)
	require.NoError(t, err)
	assert.Len(t, out, 6000)
}

func TestAnalyst_FallsBackToRawSources(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("")
	gen.Err = errors.New("model offline")
	analyst, err := agents.NewAnalyst(gen, agents.DefaultSettings())
	require.NoError(t, err)

	st := testutil.NewTestState("what is osmosis", domain.ModeStudent, "bio")
	st.SetClassification(domain.IntentNewQuery, domain.AnswerAcademic, domain.ModeStudent)
	st.SetPassages(twoPassages())

	out := analyst.Run(ctx, st)
	require.NotNil(t, out.Log)
	assert.Error(t, out.Err)
	assert.Equal(t, domain.StageError, out.Log.Status)

	synthesized, ok := st.Context()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(synthesized, "Source 1:\nOsmosis"))
	assert.Contains(t, synthesized, "Source 2:\nDiffusion")
}

func TestNewAnalyst_RequiresGenerator(t *testing.T) {
	_, err := agents.NewAnalyst(nil, agents.DefaultSettings())
	assert.Error(t, err)
}
