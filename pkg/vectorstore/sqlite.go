// Package vectorstore implements per-namespace similarity search over
// embedded document chunks.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

// ErrDimensionMismatch is returned when an upsert's embeddings disagree
// with the dimension already recorded for the namespace.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name       TEXT PRIMARY KEY,
	dim        INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace TEXT NOT NULL REFERENCES namespaces(name) ON DELETE CASCADE,
	text      TEXT NOT NULL,
	metadata  TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace);
`

// SQLiteStore is a VectorStore backed by a single SQLite file
type SQLiteStore struct {
	db        *sql.DB
	embedder  domain.Embedder
	vectorExt bool
	logger    *observability.StructuredLogger
}

// OpenSQLite opens (or creates) the store at path. Use ":memory:" for a
// throwaway store.
func OpenSQLite(path string, embedder domain.Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		embedder: embedder,
		logger:   observability.NewStructuredLogger("vectorstore"),
	}
	s.detectVecExtension()
	return s, nil
}

// detectVecExtension checks whether sqlite-vec's scalar functions are loaded
func (s *SQLiteStore) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		s.logger.Debug(context.Background(), "sqlite-vec extension detected", map[string]interface{}{
			"version": version,
		})
	}
}

// VectorExtension reports whether similarity is computed inside SQLite
func (s *SQLiteStore) VectorExtension() bool {
	return s.vectorExt
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureNamespace creates the namespace if it is absent
func (s *SQLiteStore) EnsureNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces (name) VALUES (?)`, namespace)
	if err != nil {
		return fmt.Errorf("ensuring namespace %s: %w", namespace, err)
	}
	return nil
}

// Upsert embeds texts and stores them with their metadata in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, namespace string, texts []string, metadatas []map[string]string) error {
	if len(metadatas) != 0 && len(metadatas) != len(texts) {
		return fmt.Errorf("got %d metadatas for %d texts", len(metadatas), len(texts))
	}
	if len(texts) == 0 {
		return nil
	}
	if err := s.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		emb, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		if len(emb) == 0 {
			return fmt.Errorf("embedding chunk %d: empty vector", i)
		}
		if i > 0 && len(emb) != len(embeddings[0]) {
			return fmt.Errorf("chunk %d: %w", i, ErrDimensionMismatch)
		}
		embeddings[i] = emb
	}
	dim := len(embeddings[0])

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT dim FROM namespaces WHERE name = ?`, namespace).Scan(&current); err != nil {
		return fmt.Errorf("reading namespace: %w", err)
	}
	if current != 0 && current != dim {
		return fmt.Errorf("namespace %s has dimension %d, got %d: %w", namespace, current, dim, ErrDimensionMismatch)
	}
	if current == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE namespaces SET dim = ? WHERE name = ?`, dim, namespace); err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (namespace, text, metadata, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		meta := map[string]string{}
		if len(metadatas) > 0 && metadatas[i] != nil {
			meta = metadatas[i]
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, namespace, text, string(metaJSON), encodeEmbedding(embeddings[i])); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// SimilaritySearch returns the k chunks closest to query by cosine similarity
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, namespace, query string, k int) ([]domain.ScoredText, error) {
	if k <= 0 {
		return nil, nil
	}
	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if s.vectorExt {
		results, err := s.searchVec(ctx, namespace, queryEmb, k)
		if err == nil {
			return results, nil
		}
		s.logger.Warn(ctx, "sqlite-vec search failed, falling back to brute force", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return s.searchBruteForce(ctx, namespace, queryEmb, k)
}

func (s *SQLiteStore) searchVec(ctx context.Context, namespace string, queryEmb []float64, k int) ([]domain.ScoredText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, metadata, vec_distance_cosine(embedding, ?) AS distance
		FROM chunks
		WHERE namespace = ? AND length(embedding) = ?
		ORDER BY distance ASC, id ASC
		LIMIT ?`,
		encodeEmbedding(queryEmb), namespace, 4*len(queryEmb), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScoredText
	for rows.Next() {
		var text, metaJSON string
		var distance float64
		if err := rows.Scan(&text, &metaJSON, &distance); err != nil {
			return nil, err
		}
		results = append(results, domain.ScoredText{
			Text:     text,
			Metadata: decodeMetadata(metaJSON),
			Score:    1 - distance,
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) searchBruteForce(ctx context.Context, namespace string, queryEmb []float64, k int) ([]domain.ScoredText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, metadata, embedding FROM chunks WHERE namespace = ? ORDER BY id`, namespace)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.ScoredText
	for rows.Next() {
		var text, metaJSON string
		var blob []byte
		if err := rows.Scan(&text, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		emb := decodeEmbedding(blob)
		if len(emb) == 0 {
			continue
		}
		results = append(results, domain.ScoredText{
			Text:     text,
			Metadata: decodeMetadata(metaJSON),
			Score:    cosine(emb, queryEmb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return topK(results, k), nil
}

// DeleteNamespace removes the namespace and all of its chunks
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, namespace string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, namespace); err != nil {
		return fmt.Errorf("deleting namespace: %w", err)
	}
	return tx.Commit()
}

// NamespaceInfo summarizes a stored namespace
type NamespaceInfo struct {
	Name   string `json:"name"`
	Dim    int    `json:"dim"`
	Chunks int    `json:"chunks"`
}

// Namespaces lists every namespace with its chunk count
func (s *SQLiteStore) Namespaces(ctx context.Context) ([]NamespaceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.name, n.dim, COUNT(c.id)
		FROM namespaces n LEFT JOIN chunks c ON c.namespace = n.name
		GROUP BY n.name, n.dim
		ORDER BY n.created_at, n.name`)
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	defer rows.Close()

	var out []NamespaceInfo
	for rows.Next() {
		var info NamespaceInfo
		if err := rows.Scan(&info.Name, &info.Dim, &info.Chunks); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func decodeMetadata(raw string) map[string]string {
	meta := map[string]string{}
	_ = json.Unmarshal([]byte(raw), &meta)
	return meta
}
