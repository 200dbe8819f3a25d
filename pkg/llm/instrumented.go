package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

// InstrumentedLLMClient wraps an LLM client with observability
type InstrumentedLLMClient struct {
	client    domain.LLMClient
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	model     string
}

// NewInstrumentedLLMClient creates a new instrumented LLM client. metrics may be nil.
func NewInstrumentedLLMClient(client domain.LLMClient, telemetry *observability.Telemetry, metrics *observability.Metrics, model string) (*InstrumentedLLMClient, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry is required")
	}

	return &InstrumentedLLMClient{
		client:    client,
		telemetry: telemetry,
		metrics:   metrics,
		model:     model,
	}, nil
}

// Chat performs an instrumented chat completion
func (c *InstrumentedLLMClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	var response *domain.ChatResponse
	start := time.Now()

	err := c.telemetry.InstrumentLLMCall(ctx, c.model, func(ctx context.Context) (int, int, error) {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Float64("llm.temperature", opts.Temperature),
			attribute.Int("llm.max_tokens", opts.MaxTokens),
			attribute.Int("llm.message_count", len(messages)),
		)
		resp, err := c.client.Chat(ctx, messages, opts)
		if err != nil {
			return 0, 0, err
		}
		response = resp
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
	})
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordLLMRequest(ctx, c.model,
			int64(response.Usage.PromptTokens),
			int64(response.Usage.CompletionTokens),
			time.Since(start))
	}

	return response, nil
}

// Embed performs an instrumented embedding generation
func (c *InstrumentedLLMClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "llm.embed",
		trace.WithAttributes(
			attribute.String("llm.provider", "ollama"),
			attribute.Int("llm.input_length", len(text)),
		),
	)
	defer span.End()

	embedding, err := c.client.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("llm.embedding_dimensions", len(embedding)))
	return embedding, nil
}
