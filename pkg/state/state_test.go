package state_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

func sampleHistory() []domain.ConversationTurn {
	return []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "What is osmosis?"},
		{Role: domain.RoleAssistant, Content: "Osmosis is the movement of water."},
		{Role: domain.RoleUser, Content: "And diffusion?"},
		{Role: domain.RoleAssistant, Content: "Diffusion moves solutes."},
	}
}

func TestNewPipelineState(t *testing.T) {
	history := sampleHistory()
	s := state.NewPipelineState(state.TurnInput{Query: "explain", Namespace: "ns", History: history})

	if s.Mode() != domain.ModeStudent {
		t.Errorf("Mode = %v, want student", s.Mode())
	}
	if s.TurnID() == "" {
		t.Error("TurnID should be set")
	}
	if !s.HasHistory() {
		t.Error("HasHistory = false, want true")
	}

	// The state holds its own copy of the history.
	history[0].Content = "mutated"
	if s.History()[0].Content != "What is osmosis?" {
		t.Errorf("history leaked caller mutation: %q", s.History()[0].Content)
	}

	if _, ok := s.Draft(); ok {
		t.Error("fresh state should have no draft")
	}
	if _, ok := s.Context(); ok {
		t.Error("fresh state should have no context")
	}
	if s.GroundingScore() != nil {
		t.Error("fresh state should have no grounding score")
	}
}

func TestPipelineState_HistoryHelpers(t *testing.T) {
	s := state.NewPipelineState(state.TurnInput{Query: "q", History: sampleHistory()})

	if got := s.LastAssistantTurn(); got != "Diffusion moves solutes." {
		t.Errorf("LastAssistantTurn = %q", got)
	}
	if got := len(s.RecentHistory(1)); got != 2 {
		t.Errorf("RecentHistory(1) len = %d, want 2", got)
	}
	if got := len(s.RecentHistory(5)); got != 4 {
		t.Errorf("RecentHistory(5) len = %d, want 4", got)
	}
	if s.RecentHistory(0) != nil {
		t.Error("RecentHistory(0) should be nil")
	}

	empty := state.NewPipelineState(state.TurnInput{Query: "q"})
	if empty.LastAssistantTurn() != "" {
		t.Error("LastAssistantTurn on empty history should be empty")
	}
}

func TestPipelineState_SettersAndSnapshot(t *testing.T) {
	s := state.NewPipelineState(state.TurnInput{Query: "papers on rag", Mode: domain.ModeStudent})
	s.SetClassification(domain.IntentNewQuery, domain.AnswerResearch, domain.ModeResearch)

	page := 3
	passages := []domain.SourcePassage{{Content: "passage", Origin: domain.OriginDocument, Page: &page}}
	s.SetPassages(passages)
	passages[0].Content = "mutated"

	s.SetCitations([]domain.CitationMetadata{{Index: 1, Title: "RAG"}})
	s.SetContext("context")
	s.SetDraft("draft")
	s.SetDraft("final")

	score := 72.0
	s.SetGrounding(domain.GroundingApproved, &score, "ok")
	score = 10

	s.AppendLog(domain.StageLog{Agent: "Planner", Status: domain.StageCompleted})

	snap := s.Snapshot()
	if snap.Mode != domain.ModeResearch {
		t.Errorf("Mode = %v, want research", snap.Mode)
	}
	if snap.Passages[0].Content != "passage" {
		t.Errorf("passages not copied: %q", snap.Passages[0].Content)
	}
	if snap.AnswerText() != "final" {
		t.Errorf("Answer = %q, want final", snap.AnswerText())
	}
	if snap.GroundingScore == nil || *snap.GroundingScore != 72 {
		t.Errorf("GroundingScore = %v, want 72", snap.GroundingScore)
	}
	if len(snap.StageLogs) != 1 || len(snap.Citations) != 1 {
		t.Errorf("logs/citations = %d/%d, want 1/1", len(snap.StageLogs), len(snap.Citations))
	}

	s.SetGrounding(domain.GroundingApproved, nil, "Research mode allows synthesis")
	if s.GroundingScore() != nil {
		t.Error("nil score should clear the grounding score")
	}
	if *snap.GroundingScore != 72 {
		t.Error("snapshot should not observe later mutation")
	}
}

func TestSnapshot_EmptyListsAreNotNull(t *testing.T) {
	snap := state.NewPipelineState(state.TurnInput{Query: "hi"}).Snapshot()
	if snap.Passages == nil || snap.Citations == nil || snap.StageLogs == nil {
		t.Error("snapshot lists should be empty, not nil")
	}
	if snap.AnswerText() != "" {
		t.Error("AnswerText should be empty when no draft exists")
	}
}

func testHistoryStore(t *testing.T, store state.HistoryStore) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := store.Append(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, "s2", "hello", "hi"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	turns, err := store.Recent(ctx, "s1")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	// Window of 3 exchanges keeps q1..q3.
	if len(turns) != 6 {
		t.Fatalf("Recent len = %d, want 6", len(turns))
	}
	if turns[0].Content != "q1" || turns[0].Role != domain.RoleUser {
		t.Errorf("oldest turn = %+v, want user q1", turns[0])
	}
	if turns[5].Content != "a3" || turns[5].Role != domain.RoleAssistant {
		t.Errorf("newest turn = %+v, want assistant a3", turns[5])
	}

	ids, err := store.Sessions(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("Sessions = %v, %v", ids, err)
	}

	if err := store.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	turns, _ = store.Recent(ctx, "s1")
	if len(turns) != 0 {
		t.Errorf("Recent after Clear len = %d, want 0", len(turns))
	}

	if err := store.Append(ctx, "", "q", "a"); err == nil {
		t.Error("Append with empty session ID should fail")
	}
}

func TestMemoryHistoryStore(t *testing.T) {
	testHistoryStore(t, state.NewMemoryHistoryStore(3))
}

func TestSQLiteHistoryStore(t *testing.T) {
	store, err := state.OpenSQLiteHistoryStore(filepath.Join(t.TempDir(), "history.db"), 3)
	if err != nil {
		t.Fatalf("OpenSQLiteHistoryStore failed: %v", err)
	}
	defer store.Close()

	testHistoryStore(t, store)
}

func TestMemoryHistoryStore_ConcurrentSessions(t *testing.T) {
	store := state.NewMemoryHistoryStore(10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			session := fmt.Sprintf("session-%d", id)
			for j := 0; j < 5; j++ {
				_ = store.Append(ctx, session, "q", "a")
			}
		}(i)
	}
	wg.Wait()

	ids, _ := store.Sessions(ctx)
	if len(ids) != 10 {
		t.Errorf("Sessions len = %d, want 10", len(ids))
	}
	turns, _ := store.Recent(ctx, "session-3")
	if len(turns) != 10 {
		t.Errorf("Recent len = %d, want 10", len(turns))
	}
}
