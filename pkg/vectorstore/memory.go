package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

type memoryChunk struct {
	text      string
	metadata  map[string]string
	embedding []float32
}

// MemoryStore keeps namespaces in process memory. It backs storage.type "memory".
type MemoryStore struct {
	mu         sync.RWMutex
	embedder   domain.Embedder
	namespaces map[string][]memoryChunk
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(embedder domain.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder:   embedder,
		namespaces: make(map[string][]memoryChunk),
	}
}

// EnsureNamespace creates the namespace if it is absent
func (m *MemoryStore) EnsureNamespace(_ context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[namespace]; !ok {
		m.namespaces[namespace] = nil
	}
	return nil
}

// Upsert embeds and appends texts to the namespace
func (m *MemoryStore) Upsert(ctx context.Context, namespace string, texts []string, metadatas []map[string]string) error {
	if len(metadatas) != 0 && len(metadatas) != len(texts) {
		return fmt.Errorf("got %d metadatas for %d texts", len(metadatas), len(texts))
	}
	if err := m.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	chunks := make([]memoryChunk, 0, len(texts))
	for i, text := range texts {
		emb, err := m.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		meta := map[string]string{}
		if len(metadatas) > 0 {
			for k, v := range metadatas[i] {
				meta[k] = v
			}
		}
		chunks = append(chunks, memoryChunk{
			text:      text,
			metadata:  meta,
			embedding: decodeEmbedding(encodeEmbedding(emb)),
		})
	}

	m.mu.Lock()
	m.namespaces[namespace] = append(m.namespaces[namespace], chunks...)
	m.mu.Unlock()
	return nil
}

// SimilaritySearch returns the k nearest chunks by cosine similarity
func (m *MemoryStore) SimilaritySearch(ctx context.Context, namespace, query string, k int) ([]domain.ScoredText, error) {
	queryEmb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	m.mu.RLock()
	chunks := m.namespaces[namespace]
	results := make([]domain.ScoredText, 0, len(chunks))
	for _, c := range chunks {
		meta := make(map[string]string, len(c.metadata))
		for k, v := range c.metadata {
			meta[k] = v
		}
		results = append(results, domain.ScoredText{
			Text:     c.text,
			Metadata: meta,
			Score:    cosine(c.embedding, queryEmb),
		})
	}
	m.mu.RUnlock()

	return topK(results, k), nil
}

// DeleteNamespace drops the namespace
func (m *MemoryStore) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

// Namespaces lists the namespaces with their chunk counts
func (m *MemoryStore) Namespaces(_ context.Context) ([]NamespaceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NamespaceInfo, 0, len(m.namespaces))
	for name, chunks := range m.namespaces {
		info := NamespaceInfo{Name: name, Chunks: len(chunks)}
		if len(chunks) > 0 {
			info.Dim = len(chunks[0].embedding)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }
