package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects where answers are grounded
type Mode string

const (
	ModeStudent  Mode = "student"
	ModeResearch Mode = "research"
)

// ParseMode converts user input into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStudent, "":
		return ModeStudent, nil
	case ModeResearch:
		return ModeResearch, nil
	}
	return "", fmt.Errorf("unknown mode %q (want student or research)", s)
}

// Intent is the planner's classification of a single turn
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentFeedback       Intent = "feedback"
	IntentFollowUp       Intent = "follow_up"
	IntentNewQuery       Intent = "new_query"
	IntentExamPrediction Intent = "exam_prediction"
)

// IsSmallTalk reports whether the intent needs no retrieval at all
func (i Intent) IsSmallTalk() bool {
	return i == IntentGreeting || i == IntentFeedback
}

// AnswerKind describes the flavour of answer the turn expects
type AnswerKind string

const (
	AnswerGeneral  AnswerKind = "general"
	AnswerAcademic AnswerKind = "academic"
	AnswerResearch AnswerKind = "research"
	AnswerOracle   AnswerKind = "oracle"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry of the chat history
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Origin records where a passage came from
type Origin string

const (
	OriginDocument Origin = "document"
	OriginWeb      Origin = "web"
	OriginAcademic Origin = "academic"
	OriginUnknown  Origin = "unknown"
)

// SourcePassage is a retrieved unit of text with provenance.
// Content is never empty and has already passed the producing
// stage's minimum-length filter.
type SourcePassage struct {
	Content string `json:"content"`
	Origin  Origin `json:"source"`
	Page    *int   `json:"page,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	// CitationIndex is the 1-based index of the citation this passage was
	// cut from, or 0 when it has none.
	CitationIndex int `json:"citation_index,omitempty"`
}

// CitationMetadata describes one numbered reference of a research answer.
// Index is 1-based and matches the [n] markers in generated text.
type CitationMetadata struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Authors    string `json:"authors"`
	Year       string `json:"year"`
	URL        string `json:"url,omitempty"`
	Summary    string `json:"summary,omitempty"`
	OriginType string `json:"source_type"`
	Published  string `json:"published,omitempty"`
	Citations  *int   `json:"citations,omitempty"`
	Venue      string `json:"venue,omitempty"`
	PDFURL     string `json:"pdf_url,omitempty"`
}

// StageStatus is the outcome recorded for a stage invocation
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageSkipped   StageStatus = "skipped"
	StageError     StageStatus = "error"
)

// GroundingStatus is the critic's verdict
type GroundingStatus string

const (
	GroundingApproved GroundingStatus = "approved"
	GroundingRejected GroundingStatus = "rejected"
)

// ProviderCount summarises one search provider's contribution
type ProviderCount struct {
	Provider string `json:"provider"`
	Items    int    `json:"items"`
	Error    string `json:"error,omitempty"`
}

// StageDetails holds every structured field a stage may report.
// Fields a stage does not set stay at their zero value.
type StageDetails struct {
	Intent         Intent          `json:"intent,omitempty"`
	Mode           Mode            `json:"mode,omitempty"`
	AnswerKind     AnswerKind      `json:"answer_kind,omitempty"`
	SearchQuery    string          `json:"search_query,omitempty"`
	PassageCount   int             `json:"passage_count,omitempty"`
	CitationCount  int             `json:"citation_count,omitempty"`
	Providers      []ProviderCount `json:"providers,omitempty"`
	ContextChars   int             `json:"context_chars,omitempty"`
	GroundingScore *float64        `json:"grounding_score,omitempty"`
	CriticStatus   GroundingStatus `json:"critic_status,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	SubjectCode    string          `json:"subject_code,omitempty"`
	Error          string          `json:"error,omitempty"`
	StudyGuide     *StudyGuide     `json:"study_guide,omitempty"`
}

// StageLog is the observability record appended once per stage invocation.
// Routing never reads it.
type StageLog struct {
	Agent         string       `json:"agent"`
	Status        StageStatus  `json:"status"`
	ElapsedMS     int64        `json:"duration_ms"`
	Rationale     string       `json:"thinking"`
	OutputPreview string       `json:"output_preview,omitempty"`
	Details       StageDetails `json:"details"`
}

// SearchItem is a single provider hit in its native shape
type SearchItem struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors,omitempty"`
	Year      string   `json:"year,omitempty"`
	URL       string   `json:"url,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Content   string   `json:"content,omitempty"`
	Published string   `json:"published,omitempty"`
	Citations *int     `json:"citations,omitempty"`
	Venue     string   `json:"venue,omitempty"`
	PDFURL    string   `json:"pdf_url,omitempty"`
}

// ScoredText is a vector store hit
type ScoredText struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// StudyCard is one flashcard of a study guide
type StudyCard struct {
	Title      string `json:"title"`
	Definition string `json:"definition"`
	Example    string `json:"example"`
	Takeaway   string `json:"takeaway"`
	Icon       string `json:"icon,omitempty"`
}

// MindMapNode is a branch hanging off the mind map centre
type MindMapNode struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// MindMap is a one-level concept map
type MindMap struct {
	Center string        `json:"center"`
	Nodes  []MindMapNode `json:"nodes"`
}

// StudyGuide bundles flashcards and a mind map for one answer
type StudyGuide struct {
	Cards   []StudyCard `json:"study_cards"`
	MindMap MindMap     `json:"mind_map"`
}

// Message represents a chat message sent to the language model
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
