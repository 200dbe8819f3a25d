package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// HistoryStore persists a sliding window of conversation per session
type HistoryStore interface {
	// Append records one user/assistant exchange
	Append(ctx context.Context, sessionID, user, assistant string) error

	// Recent returns the retained window, oldest first
	Recent(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)

	// Clear forgets the session
	Clear(ctx context.Context, sessionID string) error

	// Sessions lists the known session IDs
	Sessions(ctx context.Context) ([]string, error)
}

// MemoryHistoryStore is an in-memory HistoryStore
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	maxTurns int
	sessions map[string][]domain.ConversationTurn
}

// NewMemoryHistoryStore keeps the last maxTurns exchanges per session
func NewMemoryHistoryStore(maxTurns int) *MemoryHistoryStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &MemoryHistoryStore{
		maxTurns: maxTurns,
		sessions: make(map[string][]domain.ConversationTurn),
	}
}

// Append records one exchange and trims the window
func (m *MemoryHistoryStore) Append(_ context.Context, sessionID, user, assistant string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.sessions[sessionID],
		domain.ConversationTurn{Role: domain.RoleUser, Content: user},
		domain.ConversationTurn{Role: domain.RoleAssistant, Content: assistant},
	)
	if limit := 2 * m.maxTurns; len(turns) > limit {
		turns = append([]domain.ConversationTurn(nil), turns[len(turns)-limit:]...)
	}
	m.sessions[sessionID] = turns
	return nil
}

// Recent returns a copy of the session window
func (m *MemoryHistoryStore) Recent(_ context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]domain.ConversationTurn(nil), m.sessions[sessionID]...), nil
}

// Clear removes the session
func (m *MemoryHistoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// Sessions lists session IDs in sorted order
func (m *MemoryHistoryStore) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SQLiteHistoryStore persists history in SQLite so CLI chats survive restarts
type SQLiteHistoryStore struct {
	db       *sql.DB
	maxTurns int
}

const historySchema = `
CREATE TABLE IF NOT EXISTS history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id, id);
`

// OpenSQLiteHistoryStore opens (or creates) the history database at path
func OpenSQLiteHistoryStore(path string, maxTurns int) (*SQLiteHistoryStore, error) {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLiteHistoryStore{db: db, maxTurns: maxTurns}, nil
}

// Close closes the database
func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}

// Append records one exchange and prunes rows outside the window
func (s *SQLiteHistoryStore) Append(ctx context.Context, sessionID, user, assistant string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, turn := range []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: user},
		{Role: domain.RoleAssistant, Content: assistant},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (session_id, role, content) VALUES (?, ?, ?)`,
			sessionID, string(turn.Role), turn.Content); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM history WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`, sessionID, sessionID, 2*s.maxTurns); err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}

	return tx.Commit()
}

// Recent returns the session window, oldest first
func (s *SQLiteHistoryStore) Recent(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM history WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, domain.ConversationTurn{Role: domain.Role(role), Content: content})
	}
	return turns, rows.Err()
}

// Clear deletes the session's history
func (s *SQLiteHistoryStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Sessions lists session IDs in sorted order
func (s *SQLiteHistoryStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM history ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
