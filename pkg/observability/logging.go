package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int32{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// ParseLogLevel maps config values such as "info" or "WARN" to a LogLevel.
// Unknown values fall back to info.
func ParseLogLevel(s string) LogLevel {
	lvl := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[lvl]; ok {
		return lvl
	}
	return LogLevelInfo
}

// logOutput is the destination for log entries. It's a variable to allow redirection in tests.
var logOutput io.Writer = os.Stdout

// minLevel is shared by all loggers so a single config switch applies everywhere.
var minLevel atomic.Int32

// SetLogOutput sets the output destination for the structured logger.
func SetLogOutput(w io.Writer) {
	logOutput = w
}

// SetLogLevel drops entries below level for every logger.
func SetLogLevel(level LogLevel) {
	minLevel.Store(levelRank[level])
}

// StructuredLogger provides structured logging with trace correlation
type StructuredLogger struct {
	output    io.Writer
	component string
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(component string) *StructuredLogger {
	return &StructuredLogger{
		output:    logOutput,
		component: component,
	}
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Severity   LogLevel               `json:"severity"`
	Component  string                 `json:"component"`
	Message    string                 `json:"message"`
	TraceID    string                 `json:"trace_id,omitempty"`
	SpanID     string                 `json:"span_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func extractTraceInfo(ctx context.Context) (traceID, spanID string) {
	if ctx == nil {
		return "", ""
	}
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		traceID = spanCtx.TraceID().String()
		spanID = spanCtx.SpanID().String()
	}
	return traceID, spanID
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, attrs map[string]interface{}) {
	if levelRank[level] < minLevel.Load() {
		return
	}

	traceID, spanID := extractTraceInfo(ctx)

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Severity:   level,
		Component:  l.component,
		Message:    message,
		TraceID:    traceID,
		SpanID:     spanID,
		Attributes: attrs,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, "[%s] %s: %s\n", level, l.component, message)
		return
	}

	fmt.Fprintln(l.output, string(data))
}

func firstAttrs(attrs []map[string]interface{}) map[string]interface{} {
	if len(attrs) > 0 {
		return attrs[0]
	}
	return nil
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelDebug, message, firstAttrs(attrs))
}

// Info logs an info message
func (l *StructuredLogger) Info(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelInfo, message, firstAttrs(attrs))
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelWarn, message, firstAttrs(attrs))
}

// Error logs an error message; err is added under the "error" attribute
func (l *StructuredLogger) Error(ctx context.Context, message string, err error, attrs ...map[string]interface{}) {
	attributes := make(map[string]interface{})
	for k, v := range firstAttrs(attrs) {
		attributes[k] = v
	}
	if err != nil {
		attributes["error"] = err.Error()
	}
	l.log(ctx, LogLevelError, message, attributes)
}

// WithComponent creates a new logger with a different component name
func (l *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{
		output:    l.output,
		component: component,
	}
}

// Logger interface for dependency injection
type Logger interface {
	Debug(ctx context.Context, message string, attrs ...map[string]interface{})
	Info(ctx context.Context, message string, attrs ...map[string]interface{})
	Warn(ctx context.Context, message string, attrs ...map[string]interface{})
	Error(ctx context.Context, message string, err error, attrs ...map[string]interface{})
}

// NopLogger discards everything. Useful as a default collaborator.
type NopLogger struct{}

func (NopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (NopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (NopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (NopLogger) Error(context.Context, string, error, ...map[string]interface{}) {}
