package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// Generator adapts a chat client to the single-prompt Generate contract
// every pipeline stage uses.
type Generator struct {
	client domain.LLMClient
	model  string
}

// NewGenerator creates a Generator. An empty model uses the client's default.
func NewGenerator(client domain.LLMClient, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate sends prompt as a single user message and returns the trimmed reply
func (g *Generator) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := g.client.Chat(ctx, []domain.Message{{Role: "user", Content: prompt}}, domain.ChatOptions{
		Model:       g.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Embedder exposes only the embedding half of a client
type Embedder struct {
	client domain.LLMClient
}

// NewEmbedder creates an Embedder backed by client
func NewEmbedder(client domain.LLMClient) *Embedder {
	return &Embedder{client: client}
}

// Embed returns the embedding for text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.client.Embed(ctx, text)
}
