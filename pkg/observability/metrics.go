package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Counters
	turnsTotal             metric.Int64Counter
	stageExecutionsTotal   metric.Int64Counter
	providerCallsTotal     metric.Int64Counter
	llmRequestsTotal       metric.Int64Counter
	llmTokensUsedTotal     metric.Int64Counter
	documentsIngestedTotal metric.Int64Counter
	chunksUpsertedTotal    metric.Int64Counter

	// Histograms
	turnDuration         metric.Float64Histogram
	stageDuration        metric.Float64Histogram
	llmRequestDuration   metric.Float64Histogram
	providerCallDuration metric.Float64Histogram

	activeTurns      metric.Int64ObservableGauge
	activeTurnsValue atomic.Int64
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.turnsTotal, "turns_total", "Total number of conversational turns processed"},
		{&m.stageExecutionsTotal, "stage_executions_total", "Total number of pipeline stage executions"},
		{&m.providerCallsTotal, "provider_calls_total", "Total number of search provider calls"},
		{&m.llmRequestsTotal, "llm_requests_total", "Total number of LLM requests"},
		{&m.llmTokensUsedTotal, "llm_tokens_used_total", "Total number of LLM tokens used"},
		{&m.documentsIngestedTotal, "documents_ingested_total", "Total number of documents ingested"},
		{&m.chunksUpsertedTotal, "chunks_upserted_total", "Total number of chunks written to the vector store"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&m.turnDuration, "turn_duration_seconds", "Duration of a full pipeline traversal in seconds"},
		{&m.stageDuration, "stage_duration_seconds", "Duration of a single stage in seconds"},
		{&m.llmRequestDuration, "llm_request_duration_seconds", "Duration of LLM requests in seconds"},
		{&m.providerCallDuration, "provider_call_duration_seconds", "Duration of search provider calls in seconds"},
	}
	for _, h := range histograms {
		hist, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, err
		}
		*h.target = hist
	}

	var err error
	m.activeTurns, err = meter.Int64ObservableGauge(
		"active_turns",
		metric.WithDescription("Number of turns currently in flight"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeTurnsValue.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTurnStart records a new turn entering the graph
func (m *Metrics) RecordTurnStart(ctx context.Context, mode string) {
	m.activeTurnsValue.Add(1)
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordTurnComplete records completion of a turn
func (m *Metrics) RecordTurnComplete(ctx context.Context, duration time.Duration, intent string) {
	m.activeTurnsValue.Add(-1)
	m.turnDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordStage records one stage execution and its status
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.stageExecutionsTotal.Add(ctx, 1, attrs)
	m.stageDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderCall records a search provider call
func (m *Metrics) RecordProviderCall(ctx context.Context, provider string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.providerCallsTotal.Add(ctx, 1, attrs)
	m.providerCallDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLLMRequest records an LLM request
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, promptTokens, completionTokens int64, duration time.Duration) {
	modelAttr := metric.WithAttributes(attribute.String("model", model))
	m.llmRequestsTotal.Add(ctx, 1, modelAttr)
	m.llmTokensUsedTotal.Add(ctx, promptTokens+completionTokens, modelAttr)
	m.llmRequestDuration.Record(ctx, duration.Seconds(), modelAttr)
}

// RecordIngestion records a processed upload
func (m *Metrics) RecordIngestion(ctx context.Context, chunks int) {
	m.documentsIngestedTotal.Add(ctx, 1)
	m.chunksUpsertedTotal.Add(ctx, int64(chunks))
}

// ActiveTurns returns the number of turns currently in flight
func (m *Metrics) ActiveTurns() int64 {
	return m.activeTurnsValue.Load()
}
