package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// TurnInput is everything a caller supplies for one turn
type TurnInput struct {
	Query     string
	Mode      domain.Mode
	Namespace string
	History   []domain.ConversationTurn
}

// PipelineState is the record threaded through one graph traversal.
//
// The orchestrator owns it for the duration of the traversal and hands it to
// one stage at a time, so it carries no lock. Stages change it only through
// the Set* and AppendLog methods; callers read finished turns through Snapshot.
type PipelineState struct {
	turnID    string
	startedAt time.Time

	userQuery string
	mode      domain.Mode
	namespace string
	history   []domain.ConversationTurn

	intent     domain.Intent
	answerKind domain.AnswerKind

	passages           []domain.SourcePassage
	synthesizedContext *string
	draftAnswer        *string

	groundingStatus domain.GroundingStatus
	groundingReason string
	groundingScore  *float64

	citations []domain.CitationMetadata
	stageLogs []domain.StageLog
}

// NewPipelineState seeds a state for one turn with a private copy of the history
func NewPipelineState(in TurnInput) *PipelineState {
	mode := in.Mode
	if mode == "" {
		mode = domain.ModeStudent
	}
	history := make([]domain.ConversationTurn, len(in.History))
	copy(history, in.History)

	return &PipelineState{
		turnID:    uuid.NewString(),
		startedAt: time.Now(),
		userQuery: in.Query,
		mode:      mode,
		namespace: in.Namespace,
		history:   history,
	}
}

// Accessors

func (s *PipelineState) TurnID() string { return s.turnID }
func (s *PipelineState) StartedAt() time.Time { return s.startedAt }
func (s *PipelineState) Query() string { return s.userQuery }
func (s *PipelineState) Mode() domain.Mode { return s.mode }
func (s *PipelineState) Namespace() string { return s.namespace }
func (s *PipelineState) Intent() domain.Intent { return s.intent }
func (s *PipelineState) AnswerKind() domain.AnswerKind { return s.answerKind }
func (s *PipelineState) GroundingStatus() domain.GroundingStatus { return s.groundingStatus }
func (s *PipelineState) GroundingReason() string { return s.groundingReason }
func (s *PipelineState) HasHistory() bool { return len(s.history) > 0 }

// History returns a copy of the prior conversation
func (s *PipelineState) History() []domain.ConversationTurn {
	return append([]domain.ConversationTurn(nil), s.history...)
}

// RecentHistory returns at most the last n exchanges (2n entries)
func (s *PipelineState) RecentHistory(n int) []domain.ConversationTurn {
	if n <= 0 {
		return nil
	}
	start := len(s.history) - 2*n
	if start < 0 {
		start = 0
	}
	return append([]domain.ConversationTurn(nil), s.history[start:]...)
}

// LastAssistantTurn returns the most recent assistant message, or ""
func (s *PipelineState) LastAssistantTurn() string {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == domain.RoleAssistant {
			return s.history[i].Content
		}
	}
	return ""
}

// Passages returns a copy of the retrieved passages
func (s *PipelineState) Passages() []domain.SourcePassage {
	return append([]domain.SourcePassage(nil), s.passages...)
}

// Citations returns a copy of the citation list
func (s *PipelineState) Citations() []domain.CitationMetadata {
	return append([]domain.CitationMetadata(nil), s.citations...)
}

// StageLogs returns a copy of the stage logs
func (s *PipelineState) StageLogs() []domain.StageLog {
	return append([]domain.StageLog(nil), s.stageLogs...)
}

// Context returns the synthesized context and whether one was produced
func (s *PipelineState) Context() (string, bool) {
	if s.synthesizedContext == nil {
		return "", false
	}
	return *s.synthesizedContext, true
}

// Draft returns the draft answer and whether one was produced
func (s *PipelineState) Draft() (string, bool) {
	if s.draftAnswer == nil {
		return "", false
	}
	return *s.draftAnswer, true
}

// GroundingScore returns the critic's score, nil when none was assigned
func (s *PipelineState) GroundingScore() *float64 {
	if s.groundingScore == nil {
		return nil
	}
	v := *s.groundingScore
	return &v
}

// Mutators

// SetClassification records the planner's verdict. Mode may change on a research query.
func (s *PipelineState) SetClassification(intent domain.Intent, kind domain.AnswerKind, mode domain.Mode) {
	s.intent = intent
	s.answerKind = kind
	s.mode = mode
}

// SetPassages replaces the retrieved passages
func (s *PipelineState) SetPassages(passages []domain.SourcePassage) {
	s.passages = append([]domain.SourcePassage(nil), passages...)
}

// SetCitations replaces the citation list
func (s *PipelineState) SetCitations(citations []domain.CitationMetadata) {
	s.citations = append([]domain.CitationMetadata(nil), citations...)
}

// SetContext stores the synthesized context
func (s *PipelineState) SetContext(context string) {
	s.synthesizedContext = &context
}

// SetDraft stores (or overwrites) the draft answer
func (s *PipelineState) SetDraft(draft string) {
	s.draftAnswer = &draft
}

// SetGrounding records the critic's verdict. score may be nil.
func (s *PipelineState) SetGrounding(status domain.GroundingStatus, score *float64, reason string) {
	s.groundingStatus = status
	s.groundingReason = reason
	if score == nil {
		s.groundingScore = nil
		return
	}
	v := *score
	s.groundingScore = &v
}

// AppendLog adds a stage log entry
func (s *PipelineState) AppendLog(log domain.StageLog) {
	s.stageLogs = append(s.stageLogs, log)
}

// Snapshot is an immutable, JSON-friendly copy of a finished turn
type Snapshot struct {
	TurnID             string                    `json:"turn_id"`
	Query              string                    `json:"query"`
	Mode               domain.Mode               `json:"mode"`
	Namespace          string                    `json:"namespace,omitempty"`
	History            []domain.ConversationTurn `json:"history,omitempty"`
	Intent             domain.Intent             `json:"intent"`
	AnswerKind         domain.AnswerKind         `json:"answer_kind"`
	Passages           []domain.SourcePassage    `json:"retrieved_sources"`
	SynthesizedContext *string                   `json:"synthesized_context,omitempty"`
	Answer             *string                   `json:"answer"`
	GroundingStatus    domain.GroundingStatus    `json:"critic_status,omitempty"`
	GroundingReason    string                    `json:"critic_reason,omitempty"`
	GroundingScore     *float64                  `json:"grounding_score"`
	Citations          []domain.CitationMetadata `json:"papers_metadata"`
	StageLogs          []domain.StageLog         `json:"agent_logs"`
	StartedAt          time.Time                 `json:"started_at"`
}

// Snapshot returns a deep copy of the state
func (s *PipelineState) Snapshot() Snapshot {
	snap := Snapshot{
		TurnID:          s.turnID,
		Query:           s.userQuery,
		Mode:            s.mode,
		Namespace:       s.namespace,
		History:         s.History(),
		Intent:          s.intent,
		AnswerKind:      s.answerKind,
		Passages:        append([]domain.SourcePassage{}, s.passages...),
		GroundingStatus: s.groundingStatus,
		GroundingReason: s.groundingReason,
		GroundingScore:  s.GroundingScore(),
		Citations:       append([]domain.CitationMetadata{}, s.citations...),
		StageLogs:       append([]domain.StageLog{}, s.stageLogs...),
		StartedAt:       s.startedAt,
	}
	if c, ok := s.Context(); ok {
		snap.SynthesizedContext = &c
	}
	if d, ok := s.Draft(); ok {
		snap.Answer = &d
	}
	return snap
}

// AnswerText returns the answer or "" when none was produced
func (s Snapshot) AnswerText() string {
	if s.Answer == nil {
		return ""
	}
	return *s.Answer
}
