// Package agents implements the stages of the study graph. Each stage reads
// the pipeline state it is handed, mutates it through the state's setters and
// reports what it did as an Outcome.
package agents

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

var (
	// ErrMissingNamespace is reported when a student query arrives with no uploaded document
	ErrMissingNamespace = errors.New("missing_namespace")

	// ErrParse is reported when a generator returns output that cannot be decoded
	ErrParse = errors.New("failed to parse generator output")
)

// Stage is one node of the study graph
type Stage interface {
	Name() string
	Run(ctx context.Context, st *state.PipelineState) Outcome
}

// Outcome is what a stage reports back to the orchestrator. Log is nil when
// the stage was a no-op; Err is set when the stage degraded to a fallback.
type Outcome struct {
	Log *domain.StageLog
	Err error
}

// Status returns the logged status, or skipped for a no-op
func (o Outcome) Status() domain.StageStatus {
	if o.Log == nil {
		return domain.StageSkipped
	}
	return o.Log.Status
}

type stageTimer struct {
	agent string
	start time.Time
}

func startStage(agent string) stageTimer {
	return stageTimer{agent: agent, start: time.Now()}
}

func (t stageTimer) log(status domain.StageStatus, rationale, preview string, details domain.StageDetails) *domain.StageLog {
	return &domain.StageLog{
		Agent:         t.agent,
		Status:        status,
		ElapsedMS:     time.Since(t.start).Milliseconds(),
		Rationale:     rationale,
		OutputPreview: truncate(preview, 200),
		Details:       details,
	}
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// renderHistory formats turns as "ROLE: content" lines
func renderHistory(turns []domain.ConversationTurn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, strings.ToUpper(string(t.Role))+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// extractJSON returns the text between the first '{' and the last '}'
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
