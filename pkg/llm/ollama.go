package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
)

// OllamaClient implements the LLMClient interface for Ollama
type OllamaClient struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
	options    OllamaOptions
}

// OllamaOptions configures the Ollama client
type OllamaOptions struct {
	EmbedModel string        `json:"embed_model"`
	MaxTokens  int           `json:"max_tokens"`
	TopP       float64       `json:"top_p"`
	TopK       int           `json:"top_k"`
	Timeout    time.Duration `json:"timeout"`
}

// OllamaRequest represents a request to the Ollama API
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Stream   bool                   `json:"stream"`
}

// OllamaMessage represents a message in the Ollama format
type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaResponse represents a response from the Ollama API
type OllamaResponse struct {
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	TotalDuration   int64         `json:"total_duration"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(baseURL, model string, options *OllamaOptions) *OllamaClient {
	if options == nil {
		options = &OllamaOptions{
			MaxTokens: 2000,
			Timeout:   2 * time.Minute,
		}
	}
	embedModel := options.EmbedModel
	if embedModel == "" {
		embedModel = model
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{
			Timeout: options.Timeout,
		},
		options: *options,
	}
}

// Model returns the chat model name
func (c *OllamaClient) Model() string {
	return c.model
}

// Chat performs a non-streaming chat completion
func (c *OllamaClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := OllamaRequest{
		Model:    model,
		Messages: c.convertMessages(messages),
		Options:  c.buildOptions(opts),
		Stream:   false,
	}

	var ollamaResp OllamaResponse
	if err := c.postJSON(ctx, "/api/chat", req, &ollamaResp); err != nil {
		return nil, err
	}

	return &domain.ChatResponse{
		Content: ollamaResp.Message.Content,
		Usage: domain.TokenUsage{
			PromptTokens:     ollamaResp.PromptEvalCount,
			CompletionTokens: ollamaResp.EvalCount,
			TotalTokens:      ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		},
		FinishReason: determineFinishReason(ollamaResp),
	}, nil
}

// Embed generates an embedding with the configured embedding model
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]interface{}{
		"model":  c.embedModel,
		"prompt": text,
	}

	var embedResp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.postJSON(ctx, "/api/embeddings", reqBody, &embedResp); err != nil {
		return nil, err
	}
	if len(embedResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", c.embedModel)
	}

	return embedResp.Embedding, nil
}

func (c *OllamaClient) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *OllamaClient) convertMessages(messages []domain.Message) []OllamaMessage {
	ollamaMessages := make([]OllamaMessage, len(messages))
	for i, msg := range messages {
		ollamaMessages[i] = OllamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return ollamaMessages
}

// buildOptions maps ChatOptions onto Ollama's options block. Temperature is
// always sent as given so that deterministic (0) calls stay deterministic.
func (c *OllamaClient) buildOptions(opts domain.ChatOptions) map[string]interface{} {
	options := map[string]interface{}{
		"temperature": opts.Temperature,
	}

	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	} else if c.options.MaxTokens > 0 {
		options["num_predict"] = c.options.MaxTokens
	}

	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	} else if c.options.TopP > 0 {
		options["top_p"] = c.options.TopP
	}

	if opts.TopK > 0 {
		options["top_k"] = opts.TopK
	} else if c.options.TopK > 0 {
		options["top_k"] = c.options.TopK
	}

	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}

	return options
}

func determineFinishReason(resp OllamaResponse) string {
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	return "stop"
}

// CheckHealth verifies the Ollama service is accessible
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns available models from Ollama
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var modelsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(modelsResp.Models))
	for i, model := range modelsResp.Models {
		models[i] = model.Name
	}
	return models, nil
}
