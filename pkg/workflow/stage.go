package workflow

import (
	"fmt"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// StageID identifies a node in the turn graph
type StageID int

const (
	StagePlanner StageID = iota
	StageDocumentRetriever
	StageLiteratureRetriever
	StageOracle
	StageAnalyst
	StageScribe
	StageCritic
	StageEnd
)

var stageNames = [...]string{
	StagePlanner:             "planner",
	StageDocumentRetriever:   "document_retriever",
	StageLiteratureRetriever: "literature_retriever",
	StageOracle:              "oracle",
	StageAnalyst:             "analyst",
	StageScribe:              "scribe",
	StageCritic:              "critic",
	StageEnd:                 "end",
}

func (id StageID) String() string {
	if id < 0 || int(id) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(id))
	}
	return stageNames[id]
}

// next returns the stage that follows id for the given state.
// An unknown id is a programming error.
func next(id StageID, st *state.PipelineState) StageID {
	switch id {
	case StagePlanner:
		switch {
		case st.Intent().IsSmallTalk():
			return StageScribe
		case st.Intent() == domain.IntentExamPrediction:
			return StageOracle
		case st.Mode() == domain.ModeResearch:
			return StageLiteratureRetriever
		}
		return StageDocumentRetriever
	case StageDocumentRetriever, StageLiteratureRetriever:
		return StageAnalyst
	case StageOracle, StageAnalyst:
		return StageScribe
	case StageScribe:
		if st.Intent().IsSmallTalk() {
			return StageCritic
		}
		if st.Mode() == domain.ModeStudent && st.Intent() == domain.IntentNewQuery {
			return StageCritic
		}
		return StageEnd
	case StageCritic, StageEnd:
		return StageEnd
	}
	panic(fmt.Sprintf("workflow: no route from unknown %v", id))
}

// StageInfo describes one stage for the agents endpoint and the graph command
type StageInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// Edge is one transition in the turn graph
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
}

// Topology is the static shape of the turn graph
type Topology struct {
	Stages []StageInfo `json:"agents"`
	Edges  []Edge      `json:"edges"`
}

// Stages describes every stage and transition of the turn graph
func Stages() Topology {
	return Topology{
		Stages: []StageInfo{
			{ID: StagePlanner.String(), Name: "Planner", Role: "Intent Router", Order: 1,
				Description: "Classifies each query as greeting, feedback, follow-up, exam prediction or new query and picks the route."},
			{ID: StageDocumentRetriever.String(), Name: "Document Retriever", Role: "Textbook Search", Order: 2,
				Description: "Searches the uploaded document's namespace. Follow-ups reuse the previous answer to sharpen the search."},
			{ID: StageLiteratureRetriever.String(), Name: "Literature Retriever", Role: "Paper Search", Order: 2,
				Description: "Queries two academic indexes and the web in parallel, merges and deduplicates results and assigns citation numbers."},
			{ID: StageOracle.String(), Name: "Oracle", Role: "Exam Predictor", Order: 2,
				Description: "Searches past question papers for a subject code and predicts recurring exam questions."},
			{ID: StageAnalyst.String(), Name: "Analyst", Role: "Context Refiner", Order: 3,
				Description: "Condenses retrieved passages into the context that answers the question."},
			{ID: StageScribe.String(), Name: "Scribe", Role: "Answer Writer", Order: 4,
				Description: "Writes a structured tutoring answer or a cited research report with references."},
			{ID: StageCritic.String(), Name: "Critic", Role: "Quality Validator", Order: 5,
				Description: "Scores how well a student answer is grounded in the document and rejects answers below the threshold."},
		},
		Edges: []Edge{
			{From: "planner", To: "document_retriever", Condition: "Student Mode"},
			{From: "planner", To: "literature_retriever", Condition: "Research Mode"},
			{From: "planner", To: "oracle", Condition: "Exam Prediction"},
			{From: "planner", To: "scribe", Condition: "Greeting / Feedback"},
			{From: "document_retriever", To: "analyst", Condition: "Always"},
			{From: "literature_retriever", To: "analyst", Condition: "Always"},
			{From: "oracle", To: "scribe", Condition: "Always"},
			{From: "analyst", To: "scribe", Condition: "Always"},
			{From: "scribe", To: "critic", Condition: "Student Mode + New Query, or Greeting / Feedback"},
			{From: "scribe", To: "end", Condition: "Research / Follow-up / Exam"},
			{From: "critic", To: "end", Condition: "Always"},
		},
	}
}
