package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

type scribeBranch string

const (
	branchGreeting scribeBranch = "greeting"
	branchFeedback scribeBranch = "feedback"
	branchOracle   scribeBranch = "oracle_passthrough"
	branchNotFound scribeBranch = "not_found"
	branchResearch scribeBranch = "research"
	branchStudent  scribeBranch = "student"
)

// Scribe writes the user-facing answer
type Scribe struct {
	generator domain.Generator
	settings  Settings
	logger    observability.Logger
}

// NewScribe creates a scribe
func NewScribe(generator domain.Generator, settings Settings) (*Scribe, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Scribe{
		generator: generator,
		settings:  settings,
		logger:    observability.NewStructuredLogger("scribe"),
	}, nil
}

// Name implements Stage
func (s *Scribe) Name() string { return "Scribe" }

// Compose returns the answer for the current state. On generation failure
// the answer is a user-facing error line and err is set.
func (s *Scribe) Compose(ctx context.Context, st *state.PipelineState) (string, error) {
	answer, _, err := s.compose(ctx, st)
	return answer, err
}

func (s *Scribe) compose(ctx context.Context, st *state.PipelineState) (string, scribeBranch, error) {
	switch st.Intent() {
	case domain.IntentGreeting:
		if st.Mode() == domain.ModeResearch {
			return researchGreeting, branchGreeting, nil
		}
		return studentGreeting, branchGreeting, nil
	case domain.IntentFeedback:
		return feedbackReply, branchFeedback, nil
	case domain.IntentExamPrediction:
		if draft, ok := st.Draft(); ok {
			return draft, branchOracle, nil
		}
	}

	synthesized, ok := st.Context()
	if !ok || strings.TrimSpace(synthesized) == "" {
		if st.Mode() == domain.ModeResearch {
			return researchNotFound, branchNotFound, nil
		}
		return studentNotFound, branchNotFound, nil
	}

	if st.Mode() == domain.ModeResearch {
		answer, err := s.composeResearch(ctx, st)
		return answer, branchResearch, err
	}

	history := historyBlock("Recent Conversation:", st.RecentHistory(s.settings.ScribeTurns))
	prompt := fmt.Sprintf(studentAnswerPrompt, history, synthesized, st.Query())
	answer, err := s.generator.Generate(ctx, prompt, s.settings.Answer.Temperature, s.settings.Answer.MaxTokens)
	if err != nil {
		return "Error generating response: " + err.Error(), branchStudent, err
	}
	return answer, branchStudent, nil
}

func historyBlock(title string, turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	return "\n" + title + "\n" + renderHistory(turns) + "\n"
}

// numberedPassage pairs a passage with the index the answer cites it by
type numberedPassage struct {
	index   int
	passage domain.SourcePassage
}

// numberPassages labels each passage with the index of the citation it was
// cut from. Passages without one are numbered after the citation list.
func numberPassages(passages []domain.SourcePassage, citations []domain.CitationMetadata) []numberedPassage {
	next := len(citations)
	out := make([]numberedPassage, 0, len(passages))
	for _, p := range passages {
		idx := p.CitationIndex
		if idx <= 0 || idx > len(citations) {
			next++
			idx = next
		}
		out = append(out, numberedPassage{index: idx, passage: p})
	}
	return out
}

func (s *Scribe) composeResearch(ctx context.Context, st *state.PipelineState) (string, error) {
	citations := st.Citations()
	numbered := numberPassages(st.Passages(), citations)

	var sources strings.Builder
	maxIndex := len(citations)
	for _, np := range numbered {
		fmt.Fprintf(&sources, "\n[%d] %s\n", np.index, truncate(np.passage.Content, s.settings.ScribePassageChars))
		if np.index > maxIndex {
			maxIndex = np.index
		}
	}

	history := historyBlock("Conversation History:", st.RecentHistory(s.settings.ScribeTurns))
	prompt := fmt.Sprintf(researchAnswerPrompt, history, sources.String(), st.Query(), maxIndex)

	answer, err := s.generator.Generate(ctx, prompt, s.settings.Answer.Temperature, s.settings.Answer.MaxTokens)
	if err != nil {
		return "Error generating response: " + err.Error(), err
	}
	return answer + renderReferences(citations, numbered), nil
}

// renderReferences lists citations in index order, then any web passages
// numbered beyond the citation list. Empty when there is nothing to list.
func renderReferences(citations []domain.CitationMetadata, numbered []numberedPassage) string {
	var b strings.Builder
	for _, c := range citations {
		if c.URL != "" {
			fmt.Fprintf(&b, "**[%d]** [%s](%s)\n\n", c.Index, c.Title, c.URL)
		} else {
			fmt.Fprintf(&b, "**[%d]** %s\n\n", c.Index, c.Title)
		}
		fmt.Fprintf(&b, "   *%s* (%s)\n\n", c.Authors, c.Year)
	}
	for _, np := range numbered {
		if np.index <= len(citations) || np.passage.Origin != domain.OriginWeb || np.passage.URL == "" {
			continue
		}
		fmt.Fprintf(&b, "**[%d]** [%s](%s)\n\n   *Web Source*\n\n", np.index, np.passage.URL, np.passage.URL)
	}
	if b.Len() == 0 {
		return ""
	}
	return referencesHeader + b.String()
}

// Run implements Stage
func (s *Scribe) Run(ctx context.Context, st *state.PipelineState) Outcome {
	timer := startStage(s.Name())

	answer, branch, err := s.compose(ctx, st)
	st.SetDraft(answer)

	details := domain.StageDetails{Mode: st.Mode(), Intent: st.Intent(), CitationCount: len(st.Citations())}
	if err != nil {
		s.logger.Error(ctx, "Answer generation failed", err, map[string]interface{}{"branch": string(branch)})
		details.Error = err.Error()
		return Outcome{Err: err, Log: timer.log(domain.StageError,
			fmt.Sprintf("Generation failed: %v", err), answer, details)}
	}

	switch branch {
	case branchOracle:
		return Outcome{Log: timer.log(domain.StageSkipped,
			"Exam prediction already drafted, passing through", answer, details)}
	case branchNotFound:
		return Outcome{Log: timer.log(domain.StageCompleted,
			"No synthesized context available, using fallback message", answer, details)}
	case branchGreeting, branchFeedback:
		return Outcome{Log: timer.log(domain.StageCompleted,
			fmt.Sprintf("Responding to %s", branch), answer, details)}
	}

	return Outcome{Log: timer.log(domain.StageCompleted,
		fmt.Sprintf("Generated %s answer from %d sources", branch, len(st.Passages())),
		fmt.Sprintf("Answer: %d chars with %d references", len(answer), len(st.Citations())),
		details,
	)}
}
