package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// Analyst compresses retrieved passages into a focused context for the scribe
type Analyst struct {
	generator domain.Generator
	settings  Settings
	logger    observability.Logger
}

// NewAnalyst creates an analyst
func NewAnalyst(generator domain.Generator, settings Settings) (*Analyst, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Analyst{
		generator: generator,
		settings:  settings,
		logger:    observability.NewStructuredLogger("analyst"),
	}, nil
}

// Name implements Stage
func (a *Analyst) Name() string { return "Analyst" }

// joinPassages numbers passages as "Source i:" blocks
func joinPassages(passages []domain.SourcePassage) string {
	blocks := make([]string, 0, len(passages))
	for i, p := range passages {
		blocks = append(blocks, fmt.Sprintf("Source %d:\n%s", i+1, p.Content))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// Synthesize extracts what the query needs from passages. On failure the
// raw concatenation is returned alongside the error, so the result is always usable.
func (a *Analyst) Synthesize(ctx context.Context, query string, passages []domain.SourcePassage, recentHistory []domain.ConversationTurn) (string, error) {
	raw := joinPassages(passages)

	history := renderHistory(recentHistory)
	if history == "" {
		history = "No prior conversation"
	}

	prompt := fmt.Sprintf(analystPrompt, history, raw, query)
	out, err := a.generator.Generate(ctx, prompt, a.settings.Analysis.Temperature, a.settings.Analysis.MaxTokens)
	if err != nil {
		return truncate(raw, a.settings.ContextCap), err
	}
	return truncate(strings.TrimSpace(out), a.settings.ContextCap), nil
}

// Run implements Stage
func (a *Analyst) Run(ctx context.Context, st *state.PipelineState) Outcome {
	if st.Intent().IsSmallTalk() {
		return Outcome{}
	}
	timer := startStage(a.Name())

	passages := st.Passages()
	if len(passages) == 0 {
		return Outcome{Log: timer.log(domain.StageSkipped,
			"No sources to analyze",
			"Skipped: no content to refine",
			domain.StageDetails{},
		)}
	}

	synthesized, err := a.Synthesize(ctx, st.Query(), passages, st.RecentHistory(a.settings.AnalystTurns))
	st.SetContext(synthesized)

	details := domain.StageDetails{PassageCount: len(passages), ContextChars: len(synthesized)}
	if err != nil {
		a.logger.Error(ctx, "Synthesis failed, using raw sources", err, map[string]interface{}{
			"passages": len(passages),
		})
		details.Error = err.Error()
		return Outcome{Err: err, Log: timer.log(domain.StageError,
			fmt.Sprintf("Generation failed: %v. Falling back to raw context.", err),
			fmt.Sprintf("Fallback: using raw sources (%d chars)", len(synthesized)),
			details,
		)}
	}

	return Outcome{Log: timer.log(domain.StageCompleted,
		fmt.Sprintf("Analyzed %d sources for query: %q", len(passages), truncate(st.Query(), 80)),
		fmt.Sprintf("Refined context: %d chars from %d sources", len(synthesized), len(passages)),
		details,
	)}
}
