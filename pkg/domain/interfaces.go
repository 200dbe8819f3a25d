package domain

import (
	"context"
)

// LLMClient defines the interface for language model interactions
type LLMClient interface {
	// Chat performs a chat completion
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)

	// Embed generates embeddings for text
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator is the single-prompt text generation contract the stages use.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// Embedder turns text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore is the per-namespace similarity index
type VectorStore interface {
	// EnsureNamespace creates the namespace if it does not exist yet
	EnsureNamespace(ctx context.Context, namespace string) error

	// Upsert embeds and stores texts with their metadata
	Upsert(ctx context.Context, namespace string, texts []string, metadatas []map[string]string) error

	// SimilaritySearch returns the k nearest texts for the query
	SimilaritySearch(ctx context.Context, namespace, query string, k int) ([]ScoredText, error)

	// DeleteNamespace drops every text stored under namespace
	DeleteNamespace(ctx context.Context, namespace string) error
}

// SearchProvider is an external literature or web index
type SearchProvider interface {
	// Name returns the provider identifier
	Name() string

	// Search returns up to maxResults items; it may return items together with an error
	Search(ctx context.Context, query string, maxResults int) ([]SearchItem, error)
}

// ChatOptions configures a chat request. Temperature is sent as given,
// zero included.
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
