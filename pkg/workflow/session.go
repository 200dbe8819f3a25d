package workflow

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// TurnProcessor runs one turn
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in state.TurnInput) (*state.PipelineState, error)
}

// Session adds conversation memory to a TurnProcessor. Turns of one session
// run one at a time; at most maxTurns turns run across all sessions.
type Session struct {
	graph   TurnProcessor
	history state.HistoryStore
	turns   *semaphore.Weighted
	logger  observability.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewSession creates a session manager. maxTurns <= 0 means one turn at a time.
func NewSession(graph TurnProcessor, history state.HistoryStore, maxTurns int) (*Session, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if maxTurns <= 0 {
		maxTurns = 1
	}
	return &Session{
		graph:   graph,
		history: history,
		turns:   semaphore.NewWeighted(int64(maxTurns)),
		logger:  observability.NewStructuredLogger("session"),
		locks:   make(map[string]*semaphore.Weighted),
	}, nil
}

func (s *Session) lockFor(sessionID string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[sessionID] = l
	}
	return l
}

// Ask runs one turn with the session's history and records the exchange.
// An empty sessionID runs a stateless turn.
func (s *Session) Ask(ctx context.Context, sessionID, query string, mode domain.Mode, namespace string) (*state.PipelineState, error) {
	in := state.TurnInput{Query: query, Mode: mode, Namespace: namespace}
	if sessionID == "" {
		return s.Turn(ctx, in)
	}

	// The session lock comes first so queued turns of one session do not
	// hold slots other sessions could use.
	l := s.lockFor(sessionID)
	if err := l.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer l.Release(1)

	if err := s.turns.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free turn slot: %w", err)
	}
	defer s.turns.Release(1)

	history, err := s.history.Recent(ctx, sessionID)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load history, continuing without it", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		history = nil
	}
	in.History = history

	st, err := s.graph.ProcessTurn(ctx, in)
	if err != nil {
		return st, err
	}

	answer, _ := st.Draft()
	if err := s.history.Append(ctx, sessionID, query, answer); err != nil {
		s.logger.Warn(ctx, "Failed to record exchange", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
	return st, nil
}

// Turn runs one stateless turn with caller-supplied history. It shares the
// concurrency limit with Ask but records nothing.
func (s *Session) Turn(ctx context.Context, in state.TurnInput) (*state.PipelineState, error) {
	if err := s.turns.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free turn slot: %w", err)
	}
	defer s.turns.Release(1)

	return s.graph.ProcessTurn(ctx, in)
}

// History returns the retained window for sessionID
func (s *Session) History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	return s.history.Recent(ctx, sessionID)
}

// Reset forgets sessionID's conversation
func (s *Session) Reset(ctx context.Context, sessionID string) error {
	return s.history.Clear(ctx, sessionID)
}
