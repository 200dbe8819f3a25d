package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/export"
	"github.com/ncolesummers/open-study-agent/pkg/ingest"
	"github.com/ncolesummers/open-study-agent/pkg/llm"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
	"github.com/ncolesummers/open-study-agent/pkg/search"
	"github.com/ncolesummers/open-study-agent/pkg/state"
	"github.com/ncolesummers/open-study-agent/pkg/vectorstore"
	"github.com/ncolesummers/open-study-agent/pkg/workflow"
)

// app holds every wired component. Commands build one and close it on exit.
type app struct {
	cfg          *config.Config
	telemetry    *observability.Telemetry
	metrics      *observability.Metrics
	ollama       *llm.OllamaClient
	generator    domain.Generator
	store        domain.VectorStore
	history      state.HistoryStore
	graph        *workflow.StudyGraph
	session      *workflow.Session
	ingestor     *ingest.Ingestor
	exporter     *export.Exporter
	cartographer *agents.Cartographer
	oracle       *agents.Oracle

	closers []io.Closer
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	a.telemetry, a.metrics, err = initObservability(cfg)
	if err != nil {
		return nil, err
	}

	a.ollama = llm.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, &llm.OllamaOptions{
		EmbedModel: cfg.Ollama.EmbedModel,
		MaxTokens:  cfg.Ollama.MaxTokens,
		TopP:       cfg.Ollama.TopP,
		TopK:       cfg.Ollama.TopK,
		Timeout:    cfg.GetDuration(cfg.Ollama.Timeout, 2*time.Minute),
	})
	client, err := llm.NewInstrumentedLLMClient(a.ollama, a.telemetry, a.metrics, cfg.Ollama.Model)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to instrument llm client: %w", err)
	}
	a.generator = llm.NewGenerator(client, cfg.Ollama.Model)
	embedder := llm.NewEmbedder(client)

	if cfg.Storage.Type == "memory" {
		a.store = vectorstore.NewMemoryStore(embedder)
		a.history = state.NewMemoryHistoryStore(cfg.Pipeline.MemoryTurns)
	} else {
		store, err := vectorstore.OpenSQLite(cfg.DataPath(cfg.Storage.VectorDB), embedder)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store)

		history, err := state.OpenSQLiteHistoryStore(cfg.DataPath(cfg.Storage.HistoryDB), cfg.Pipeline.MemoryTurns)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		a.history = history
		a.closers = append(a.closers, history)
	}

	settings := agents.SettingsFromConfig(cfg)
	registry, err := search.NewRegistryFromConfig(cfg.Tools.Search, settings.ProviderTimeout)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build search registry: %w", err)
	}
	providers := agents.ResolveProviders(registry, cfg.Tools.Search)

	stages, err := workflow.BuildStages(workflow.Dependencies{
		Generator:  a.generator,
		Store:      a.store,
		Literature: providers,
		Settings:   settings,
		Policy:     agents.IntentPolicyFromConfig(cfg.Intent),
		Telemetry:  a.telemetry,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build stages: %w", err)
	}
	a.graph, err = workflow.NewStudyGraphWithTelemetry(stages, a.telemetry, a.metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build study graph: %w", err)
	}
	a.session, err = workflow.NewSession(a.graph, a.history, cfg.API.MaxTurns)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ingestor = ingest.NewIngestor(
		ingest.NewExtractor(cfg.Ingest),
		ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		a.store, a.metrics)

	a.exporter, err = export.New(cfg.Export)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build exporter: %w", err)
	}
	a.cartographer, err = agents.NewCartographer(a.generator, settings)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.oracle, err = agents.NewOracle(providers.Web, a.generator, settings)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// checkOllama fails fast when the model server is unreachable
func (a *app) checkOllama(ctx context.Context) error {
	ctx, span := a.telemetry.StartSpan(ctx, "ollama_health_check")
	defer span.End()

	if err := a.ollama.CheckHealth(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	return nil
}

// Close releases the stores and flushes telemetry
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
	if a.telemetry != nil {
		shutdownObservability(a.telemetry)
		a.telemetry = nil
	}
}

// withApp loads config, builds the app and runs fn with a signal-aware context
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
