package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TelemetryConfig holds configuration for OpenTelemetry
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	PrometheusPort int
	SamplingRate   float64
	EnableTracing  bool
	EnableMetrics  bool
}

// Telemetry manages OpenTelemetry components
type Telemetry struct {
	config         *TelemetryConfig
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	shutdownFuncs  []func(context.Context) error
}

// NewTelemetry creates and initializes OpenTelemetry
func NewTelemetry(config *TelemetryConfig) (*Telemetry, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// Keep exporter retries quiet so they do not interleave with CLI output.
	stdr.SetVerbosity(0)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {}))

	t := &Telemetry{config: config}

	res, err := t.createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if config.EnableTracing {
		if err := t.initTracing(res); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	} else {
		t.tracerProvider = noop.NewTracerProvider()
		t.tracer = t.tracerProvider.Tracer(config.ServiceName)
	}

	if config.EnableMetrics {
		if err := t.initMetrics(res); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	} else {
		t.meterProvider = metricnoop.NewMeterProvider()
		t.meter = t.meterProvider.Meter(config.ServiceName)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// NewTelemetryWithProviders wraps already-built providers. Tests pass
// providers backed by a span recorder and a manual metric reader.
func NewTelemetryWithProviders(serviceName string, tp trace.TracerProvider, mp metric.MeterProvider) *Telemetry {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	return &Telemetry{
		config:         &TelemetryConfig{ServiceName: serviceName},
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
	}
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		ServiceName:    "open-study-agent",
		ServiceVersion: "0.1.0",
		Environment:    getEnvOrDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		PrometheusPort: 2223,
		SamplingRate:   1.0,
		EnableTracing:  true,
		EnableMetrics:  true,
	}
}

func (t *Telemetry) createResource() (*resource.Resource, error) {
	hostname, _ := os.Hostname()

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.config.ServiceName),
			semconv.ServiceVersion(t.config.ServiceVersion),
			semconv.DeploymentEnvironment(t.config.Environment),
			attribute.String("host.name", hostname),
			attribute.String("service.namespace", "study"),
		),
	)
}

func (t *Telemetry) initTracing(res *resource.Resource) error {
	ctx := context.Background()

	client := otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(t.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  2 * time.Minute,
		}),
	)

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.config.SamplingRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithExportTimeout(30*time.Second),
		),
	)

	t.tracerProvider = tp
	t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)

	t.tracer = tp.Tracer(
		t.config.ServiceName,
		trace.WithInstrumentationVersion(t.config.ServiceVersion),
	)
	return nil
}

func (t *Telemetry) initMetrics(res *resource.Resource) error {
	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	t.meterProvider = mp
	t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)
	otel.SetMeterProvider(mp)

	t.meter = mp.Meter(
		t.config.ServiceName,
		metric.WithInstrumentationVersion(t.config.ServiceVersion),
	)
	return nil
}

// MetricsHandler exposes the Prometheus registry the exporter writes to.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics serves /metrics on the configured Prometheus port until ctx is done.
func (t *Telemetry) ServeMetrics(ctx context.Context) error {
	if !t.config.EnableMetrics || t.config.PrometheusPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.MetricsHandler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", t.config.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdownFuncs {
		if shutdownErr := fn(ctx); shutdownErr != nil {
			if err == nil {
				err = shutdownErr
			} else {
				err = fmt.Errorf("%v; %w", err, shutdownErr)
			}
		}
	}
	return err
}

// Tracer returns the configured tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the configured meter
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// StartSpan starts a new span with common attributes
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
