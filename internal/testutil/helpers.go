package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestState creates a pipeline state for one turn
func NewTestState(query string, mode domain.Mode, namespace string, history ...domain.ConversationTurn) *state.PipelineState {
	return state.NewPipelineState(state.TurnInput{
		Query:     query,
		Mode:      mode,
		Namespace: namespace,
		History:   history,
	})
}

// NewTestHistory builds alternating user/assistant turns from pairs
func NewTestHistory(pairs ...string) []domain.ConversationTurn {
	turns := make([]domain.ConversationTurn, 0, len(pairs))
	for i, content := range pairs {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.ConversationTurn{Role: role, Content: content})
	}
	return turns
}

// NewTestChunk returns a store hit long enough to pass the document filter
func NewTestChunk(topic string, page int) domain.ScoredText {
	return domain.ScoredText{
		Text:     fmt.Sprintf("%s: %s", topic, strings.Repeat("lecture notes on "+topic+". ", 4)),
		Metadata: map[string]string{"page": fmt.Sprintf("%d", page), "source": "notes.pdf"},
		Score:    0.9,
	}
}

// NewTestPaper returns a provider hit with an abstract long enough to be indexed
func NewTestPaper(title, url string) domain.SearchItem {
	return domain.SearchItem{
		Title:   title,
		Authors: []string{"Ada Lovelace", "Alan Turing", "Grace Hopper", "Edsger Dijkstra"},
		Year:    "2023",
		URL:     url,
		Summary: strings.Repeat("An abstract about "+title+". ", 6),
	}
}

// NewTestWebResult returns a web hit with enough content to be indexed
func NewTestWebResult(title, url string) domain.SearchItem {
	body := strings.Repeat("Web article body about "+title+". ", 10)
	return domain.SearchItem{Title: title, URL: url, Content: body, Summary: body}
}

// AssertEqual checks if two values are equal
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertNoError checks if error is nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError checks if error is not nil
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error but got nil", msg)
	}
}

// SetupTestTelemetry creates telemetry whose spans land in spanRecorder and
// whose metrics are collected by metricReader.
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tracerProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
	)
	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metricReader),
	)
	return observability.NewTelemetryWithProviders("test-service", tracerProvider, meterProvider)
}
