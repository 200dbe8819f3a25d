package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// MockLLMClient is a mock implementation of LLMClient for testing
type MockLLMClient struct {
	mu           sync.Mutex
	Responses    map[string]string
	CallCount    int
	LastMessages []domain.Message
	LastOptions  domain.ChatOptions
	ShouldError  bool
	ErrorMessage string
	// ChatFunc allows custom chat behavior for tests
	ChatFunc func(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error)
}

// NewMockLLMClient creates a new mock LLM client
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Responses: make(map[string]string),
	}
}

// Chat implements domain.LLMClient
func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastMessages = messages
	m.LastOptions = options
	chatFunc := m.ChatFunc
	m.mu.Unlock()

	if chatFunc != nil {
		return chatFunc(ctx, messages, options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}

	content := "Mock response"
	if len(messages) > 0 {
		lastMsg := messages[len(messages)-1]
		if resp, ok := m.Responses[lastMsg.Content]; ok {
			content = resp
		} else if resp, ok := m.Responses["default"]; ok {
			content = resp
		}
	}

	return &domain.ChatResponse{
		Content: content,
		Usage: domain.TokenUsage{
			PromptTokens:     50,
			CompletionTokens: 50,
			TotalTokens:      100,
		},
		FinishReason: "stop",
	}, nil
}

// Embed implements domain.LLMClient
func (m *MockLLMClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}
	return []float64{0.1, 0.2, 0.3, 0.4, 0.5}, nil
}

// GetCallCount returns the number of Chat calls made
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GenerateCall records one Generate invocation
type GenerateCall struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// GenerateRule answers prompts that contain Contains
type GenerateRule struct {
	Contains string
	Response string
	Err      error
}

// MockGenerator is a scripted domain.Generator. Rules are matched in order
// against the prompt; Default answers everything else.
type MockGenerator struct {
	mu      sync.Mutex
	Rules   []GenerateRule
	Default string
	Err     error
	Calls   []GenerateCall
}

// NewMockGenerator creates a generator that answers every prompt with def
func NewMockGenerator(def string) *MockGenerator {
	return &MockGenerator{Default: def}
}

// On adds a rule and returns the generator for chaining
func (g *MockGenerator) On(contains, response string) *MockGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Rules = append(g.Rules, GenerateRule{Contains: contains, Response: response})
	return g
}

// Generate implements domain.Generator
func (g *MockGenerator) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, GenerateCall{Prompt: prompt, Temperature: temperature, MaxTokens: maxTokens})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range g.Rules {
		if strings.Contains(prompt, r.Contains) {
			return r.Response, r.Err
		}
	}
	if g.Err != nil {
		return "", g.Err
	}
	return g.Default, nil
}

// CallCount returns the number of Generate calls
func (g *MockGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// LastCall returns the most recent call
func (g *MockGenerator) LastCall() GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Calls) == 0 {
		return GenerateCall{}
	}
	return g.Calls[len(g.Calls)-1]
}

// MockVectorStore returns canned search results
type MockVectorStore struct {
	mu          sync.Mutex
	Results     []domain.ScoredText
	Err         error
	SearchCalls []string
	Upserts     map[string][]string
	Deleted     []string
}

// NewMockVectorStore creates a store that returns results on every search
func NewMockVectorStore(results ...domain.ScoredText) *MockVectorStore {
	return &MockVectorStore{Results: results, Upserts: make(map[string][]string)}
}

// EnsureNamespace implements domain.VectorStore
func (m *MockVectorStore) EnsureNamespace(context.Context, string) error {
	return m.Err
}

// Upsert implements domain.VectorStore
func (m *MockVectorStore) Upsert(_ context.Context, namespace string, texts []string, _ []map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Upserts[namespace] = append(m.Upserts[namespace], texts...)
	return nil
}

// SimilaritySearch implements domain.VectorStore
func (m *MockVectorStore) SimilaritySearch(_ context.Context, namespace, query string, k int) ([]domain.ScoredText, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, query)
	if m.Err != nil {
		return nil, m.Err
	}
	results := m.Results
	if len(results) > k {
		results = results[:k]
	}
	return append([]domain.ScoredText(nil), results...), nil
}

// DeleteNamespace implements domain.VectorStore
func (m *MockVectorStore) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, namespace)
	return m.Err
}

// SearchCount returns the number of similarity searches
func (m *MockVectorStore) SearchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SearchCalls)
}

// MockProvider is a scripted domain.SearchProvider
type MockProvider struct {
	ProviderName string
	Items        []domain.SearchItem
	Err          error
	Delay        time.Duration
	Panic        bool
	// SearchFunc overrides the canned behaviour
	SearchFunc func(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error)

	calls atomic.Int32
}

// Name implements domain.SearchProvider
func (p *MockProvider) Name() string { return p.ProviderName }

// Search implements domain.SearchProvider. A Delay honours ctx cancellation.
func (p *MockProvider) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchItem, error) {
	p.calls.Add(1)
	if p.Panic {
		panic("provider exploded")
	}
	if p.SearchFunc != nil {
		return p.SearchFunc(ctx, query, maxResults)
	}
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return append([]domain.SearchItem(nil), p.Items...), p.Err
}

// Calls returns the number of Search calls
func (p *MockProvider) Calls() int {
	return int(p.calls.Load())
}

// MockEmbedder returns a fixed-size vector derived from text length
type MockEmbedder struct {
	Err error
}

// Embed implements domain.Embedder
func (e MockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return []float64{float64(len(text)%7) + 1, float64(len(text)%5) + 1, 1}, nil
}
