package agents_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncolesummers/open-study-agent/internal/testutil"
	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

func newCritic(t *testing.T, gen *testutil.MockGenerator) *agents.Critic {
	t.Helper()
	critic, err := agents.NewCritic(gen, agents.DefaultSettings())
	require.NoError(t, err)
	return critic
}

func draftedStudentState(draft string) *state.PipelineState {
	st := testutil.NewTestState("what is osmosis", domain.ModeStudent, "bio")
	st.SetClassification(domain.IntentNewQuery, domain.AnswerAcademic, domain.ModeStudent)
	st.SetContext("Osmosis is the diffusion of water across a membrane.")
	st.SetDraft(draft)
	return st
}

func TestCritic_ResearchModeSkipsScoring(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("unused")
	st := testutil.NewTestState("papers on rag", domain.ModeResearch, "")
	st.SetClassification(domain.IntentNewQuery, domain.AnswerResearch, domain.ModeResearch)
	st.SetDraft("a synthesis")

	out := newCritic(t, gen).Run(ctx, st)
	require.NotNil(t, out.Log)
	assert.Equal(t, domain.StageCompleted, out.Log.Status)
	assert.Equal(t, domain.GroundingApproved, st.GroundingStatus())
	assert.Nil(t, st.GroundingScore())
	assert.Equal(t, "Research mode allows synthesis", st.GroundingReason())
	assert.Zero(t, gen.CallCount())
}

func TestCritic_SmallTalkIsFullyGrounded(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("unused")
	st := testutil.NewTestState("thanks", domain.ModeStudent, "")
	st.SetClassification(domain.IntentFeedback, domain.AnswerGeneral, domain.ModeStudent)

	newCritic(t, gen).Run(ctx, st)
	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 100.0, *st.GroundingScore())
	assert.Zero(t, gen.CallCount())
}

func TestCritic_FallbackAnswerApproved(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("unused")
	st := draftedStudentState("**Not found in material.**\n\nTry rephrasing.")

	newCritic(t, gen).Run(ctx, st)
	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 100.0, *st.GroundingScore())
	assert.Equal(t, "Correct fallback response", st.GroundingReason())
	assert.Zero(t, gen.CallCount())
}

func TestCritic_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantStatus domain.GroundingStatus
		wantScore  float64
		rejected   bool
	}{
		{"below threshold", `{"status": "approved", "grounding": 59, "reason": "thin"}`, domain.GroundingRejected, 59, true},
		{"at threshold", `{"status": "approved", "grounding": 60, "reason": "enough"}`, domain.GroundingApproved, 60, false},
		{"model rejects", `{"status": "rejected", "grounding": 90, "reason": "contradiction"}`, domain.GroundingRejected, 90, false},
		{"string score", `{"status": "approved", "grounding": "72", "reason": "ok"}`, domain.GroundingApproved, 72, false},
		{"clamped", `{"status": "approved", "grounding": 150}`, domain.GroundingApproved, 100, false},
		{"defaults", `{}`, domain.GroundingApproved, 85, false},
		{"wrapped in prose", "Here is my verdict:\n{\"status\": \"approved\", \"grounding\": 95, \"reason\": \"well supported\"}\nThanks.", domain.GroundingApproved, 95, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testutil.NewTestContext(t)
			gen := testutil.NewMockGenerator(tt.response)
			st := draftedStudentState("Osmosis is water diffusion.")

			out := newCritic(t, gen).Run(ctx, st)
			require.NotNil(t, out.Log)
			assert.NoError(t, out.Err)
			assert.Equal(t, tt.wantStatus, st.GroundingStatus())
			require.NotNil(t, st.GroundingScore())
			assert.Equal(t, tt.wantScore, *st.GroundingScore())

			draft, _ := st.Draft()
			if tt.rejected {
				assert.Contains(t, draft, "Not found in material.")
			} else {
				assert.Equal(t, "Osmosis is water diffusion.", draft)
			}
		})
	}
}

func TestCritic_DefaultReason(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	verdict, err := newCritic(t, testutil.NewMockGenerator(`{"grounding": 70}`)).Evaluate(ctx, "ctx", "draft")
	require.NoError(t, err)
	assert.Equal(t, "Evaluated", verdict.Reason)
	assert.Equal(t, domain.GroundingApproved, verdict.Status)
}

func TestCritic_UnparseableOutputDefaultsToApproval(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("I think it is mostly fine.")

	_, err := newCritic(t, gen).Evaluate(ctx, "ctx", "draft")
	assert.ErrorIs(t, err, agents.ErrParse)

	st := draftedStudentState("Osmosis is water diffusion.")
	out := newCritic(t, gen).Run(ctx, st)
	require.NotNil(t, out.Log)
	assert.Equal(t, domain.StageError, out.Log.Status)
	assert.Equal(t, domain.GroundingApproved, st.GroundingStatus())
	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 75.0, *st.GroundingScore())
	assert.Equal(t, "Validation error - defaulted to approval", st.GroundingReason())

	draft, _ := st.Draft()
	assert.Equal(t, "Osmosis is water diffusion.", draft)
}

func TestCritic_GeneratorError(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator("")
	gen.Err = errors.New("model offline")
	st := draftedStudentState("Osmosis is water diffusion.")

	out := newCritic(t, gen).Run(ctx, st)
	assert.Error(t, out.Err)
	require.NotNil(t, st.GroundingScore())
	assert.Equal(t, 75.0, *st.GroundingScore())
}

func TestCritic_TruncatesSourceContext(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	gen := testutil.NewMockGenerator(`{"grounding": 90}`)

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'c'
	}
	_, err := newCritic(t, gen).Evaluate(ctx, string(long), "draft")
	require.NoError(t, err)

	prompt := gen.LastCall().Prompt
	assert.Contains(t, prompt, string(long[:2000]))
	assert.NotContains(t, prompt, string(long[:2001]))
}
