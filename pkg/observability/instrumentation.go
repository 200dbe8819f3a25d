package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentStage wraps a pipeline stage with a span
func (t *Telemetry) InstrumentStage(ctx context.Context, stageName, mode string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("workflow.stage.%s", stageName),
		trace.WithAttributes(
			attribute.String("stage.name", stageName),
			attribute.String("mode", mode),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	finishSpan(span, err)
	span.SetAttributes(attribute.Float64("duration.seconds", time.Since(start).Seconds()))
	return err
}

// InstrumentLLMCall wraps an LLM call with observability
func (t *Telemetry) InstrumentLLMCall(ctx context.Context, model string, fn func(context.Context) (promptTokens, completionTokens int, err error)) error {
	ctx, span := t.StartSpan(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.provider", "ollama"),
		),
	)
	defer span.End()

	start := time.Now()
	promptTokens, completionTokens, err := fn(ctx)
	finishSpan(span, err)
	if err == nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", promptTokens),
			attribute.Int("llm.completion_tokens", completionTokens),
			attribute.Int("llm.total_tokens", promptTokens+completionTokens),
		)
	}
	span.SetAttributes(attribute.Float64("duration.seconds", time.Since(start).Seconds()))
	return err
}

// InstrumentProviderCall wraps a search provider call; items is the number of hits returned
func (t *Telemetry) InstrumentProviderCall(ctx context.Context, provider string, fn func(context.Context) (items int, err error)) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("search.%s", provider),
		trace.WithAttributes(attribute.String("search.provider", provider)),
	)
	defer span.End()

	start := time.Now()
	items, err := fn(ctx)
	finishSpan(span, err)
	span.SetAttributes(
		attribute.Int("search.items", items),
		attribute.Float64("search.duration_seconds", time.Since(start).Seconds()),
	)
	return err
}

// StartTurn starts the root span for one conversational turn
func (t *Telemetry) StartTurn(ctx context.Context, turnID, mode, query string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "study.turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("turn.mode", mode),
			attribute.Int("query.length", len(query)),
			attribute.String("query.size", sizeClass(query)),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func sizeClass(query string) string {
	switch {
	case len(query) < 50:
		return "short"
	case len(query) < 200:
		return "medium"
	}
	return "long"
}
