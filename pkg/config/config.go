package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Ollama        OllamaConfig        `yaml:"ollama"`
	Generation    GenerationConfig    `yaml:"generation"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Intent        IntentConfig        `yaml:"intent"`
	Tools         ToolsConfig         `yaml:"tools"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Storage       StorageConfig       `yaml:"storage"`
	Export        ExportConfig        `yaml:"export"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// OllamaConfig contains Ollama-specific configuration
type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	EmbedModel  string  `yaml:"embed_model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p,omitempty"`
	TopK        int     `yaml:"top_k,omitempty"`
	Timeout     string  `yaml:"timeout"`
}

// Budget is a temperature / length pair for one kind of generation call
type Budget struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// GenerationConfig holds the per-call budgets
type GenerationConfig struct {
	Fast     Budget `yaml:"fast"`
	Analysis Budget `yaml:"analysis"`
	Critic   Budget `yaml:"critic"`
	Answer   Budget `yaml:"answer"`
}

// PipelineConfig holds the thresholds and caps used by the stages
type PipelineConfig struct {
	RetrievalK          int    `yaml:"retrieval_k"`
	MinDocumentChars    int    `yaml:"min_document_chars"`
	MinLiteratureChars  int    `yaml:"min_literature_chars"`
	PassageCap          int    `yaml:"passage_cap"`
	ContextCap          int    `yaml:"context_cap"`
	FollowUpPrefixChars int    `yaml:"followup_prefix_chars"`
	AnalystTurns        int    `yaml:"analyst_turns"`
	ScribeTurns         int    `yaml:"scribe_turns"`
	ScribePassageChars  int    `yaml:"scribe_passage_chars"`
	GroundingThreshold  int    `yaml:"grounding_threshold"`
	CriticContextChars  int    `yaml:"critic_context_chars"`
	ProviderTimeout     string `yaml:"provider_timeout"`
	MaxResults          int    `yaml:"max_results"`
	MemoryTurns         int    `yaml:"memory_turns"`
}

// IntentConfig overrides the planner's keyword lists. Empty lists keep the built-in policy.
type IntentConfig struct {
	Greetings         []string `yaml:"greetings,omitempty"`
	GreetingStarters  []string `yaml:"greeting_starters,omitempty"`
	GreetingPhrases   []string `yaml:"greeting_phrases,omitempty"`
	Feedback          []string `yaml:"feedback,omitempty"`
	FollowUpPrefixes  []string `yaml:"followup_prefixes,omitempty"`
	FollowUpMaxTokens int      `yaml:"followup_max_tokens,omitempty"`
	ExamKeywords      []string `yaml:"exam_keywords,omitempty"`
	ExamGuards        []string `yaml:"exam_guards,omitempty"`
	ResearchKeywords  []string `yaml:"research_keywords,omitempty"`
}

// ToolsConfig contains tool-specific configuration
type ToolsConfig struct {
	Search SearchConfig `yaml:"search"`
}

// SearchConfig selects the three literature providers and their credentials
type SearchConfig struct {
	Primary                string `yaml:"primary"`
	Secondary              string `yaml:"secondary"`
	Web                    string `yaml:"web"`
	SemanticScholarAPIKey  string `yaml:"semantic_scholar_api_key,omitempty"`
	TavilyAPIKey           string `yaml:"tavily_api_key,omitempty"`
	TavilyDepth            string `yaml:"tavily_depth"`
	WebMinChars            int    `yaml:"web_min_chars"`
	UserAgent              string `yaml:"user_agent"`
	BreakerFailures        int    `yaml:"breaker_failures"`
	BreakerCooldown        string `yaml:"breaker_cooldown"`
}

// IngestConfig controls document extraction and chunking
type IngestConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	MinPageChars  int    `yaml:"min_page_chars"`
	PdftotextPath string `yaml:"pdftotext_path"`
	OCRPath       string `yaml:"ocr_path,omitempty"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type         string `yaml:"type"` // "memory", "sqlite"
	Path         string `yaml:"path,omitempty"`
	VectorDB     string `yaml:"vector_db"`
	HistoryDB    string `yaml:"history_db"`
	EmbeddingDim int    `yaml:"embedding_dim,omitempty"`
}

// ExportConfig controls Q&A export
type ExportConfig struct {
	Dir         string `yaml:"dir"`
	Format      string `yaml:"format"` // "markdown", "html"
	MaxSources  int    `yaml:"max_sources"`
	SourceChars int    `yaml:"source_chars"`
}

// APIConfig contains API server configuration
type APIConfig struct {
	Enabled        bool       `yaml:"enabled"`
	Port           int        `yaml:"port"`
	Host           string     `yaml:"host"`
	CORS           CORSConfig `yaml:"cors"`
	MaxUploadMB    int        `yaml:"max_upload_mb"`
	RequestTimeout string     `yaml:"request_timeout"`
	MaxTurns       int        `yaml:"max_concurrent_turns"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns default config
// with environment overrides applied.
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
		config.overrideFromEnv()
	}
	return config
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.2,
			MaxTokens:   2000,
			Timeout:     "2m",
		},
		Generation: GenerationConfig{
			Fast:     Budget{Temperature: 0, MaxTokens: 1000},
			Analysis: Budget{Temperature: 0, MaxTokens: 1000},
			Critic:   Budget{Temperature: 0, MaxTokens: 1000},
			Answer:   Budget{Temperature: 0.2, MaxTokens: 2000},
		},
		Pipeline: PipelineConfig{
			RetrievalK:          5,
			MinDocumentChars:    50,
			MinLiteratureChars:  100,
			PassageCap:          2500,
			ContextCap:          6000,
			FollowUpPrefixChars: 200,
			AnalystTurns:        2,
			ScribeTurns:         3,
			ScribePassageChars:  1500,
			GroundingThreshold:  60,
			CriticContextChars:  2000,
			ProviderTimeout:     "30s",
			MaxResults:          5,
			MemoryTurns:         10,
		},
		Tools: ToolsConfig{
			Search: SearchConfig{
				Primary:         "arxiv",
				Secondary:       "semantic_scholar",
				Web:             "tavily",
				TavilyDepth:     "basic",
				WebMinChars:     300,
				UserAgent:       "open-study-agent/0.1",
				BreakerFailures: 5,
				BreakerCooldown: "30s",
			},
		},
		Ingest: IngestConfig{
			ChunkSize:     1500,
			ChunkOverlap:  150,
			MinPageChars:  50,
			PdftotextPath: "pdftotext",
		},
		Storage: StorageConfig{
			Type:      "sqlite",
			Path:      "./data",
			VectorDB:  "vectors.db",
			HistoryDB: "history.db",
		},
		Export: ExportConfig{
			Dir:         "./exports",
			Format:      "markdown",
			MaxSources:  5,
			SourceChars: 600,
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
			Host:    "0.0.0.0",
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         3600,
			},
			MaxUploadMB:    25,
			RequestTimeout: "3m",
			MaxTurns:       4,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Port:    2223,
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// applyDefaults fills every zero value with its default. Budgets are only
// defaulted when max_tokens is missing so that an explicit temperature of 0
// survives.
func (c *Config) applyDefaults() {
	d := Default()

	setString(&c.Ollama.BaseURL, d.Ollama.BaseURL)
	setString(&c.Ollama.Model, d.Ollama.Model)
	setString(&c.Ollama.EmbedModel, d.Ollama.EmbedModel)
	setString(&c.Ollama.Timeout, d.Ollama.Timeout)
	setInt(&c.Ollama.MaxTokens, d.Ollama.MaxTokens)

	for _, pair := range []struct{ cur, def *Budget }{
		{&c.Generation.Fast, &d.Generation.Fast},
		{&c.Generation.Analysis, &d.Generation.Analysis},
		{&c.Generation.Critic, &d.Generation.Critic},
		{&c.Generation.Answer, &d.Generation.Answer},
	} {
		if pair.cur.MaxTokens == 0 {
			*pair.cur = *pair.def
		}
	}

	p, dp := &c.Pipeline, d.Pipeline
	setInt(&p.RetrievalK, dp.RetrievalK)
	setInt(&p.MinDocumentChars, dp.MinDocumentChars)
	setInt(&p.MinLiteratureChars, dp.MinLiteratureChars)
	setInt(&p.PassageCap, dp.PassageCap)
	setInt(&p.ContextCap, dp.ContextCap)
	setInt(&p.FollowUpPrefixChars, dp.FollowUpPrefixChars)
	setInt(&p.AnalystTurns, dp.AnalystTurns)
	setInt(&p.ScribeTurns, dp.ScribeTurns)
	setInt(&p.ScribePassageChars, dp.ScribePassageChars)
	setInt(&p.GroundingThreshold, dp.GroundingThreshold)
	setInt(&p.CriticContextChars, dp.CriticContextChars)
	setString(&p.ProviderTimeout, dp.ProviderTimeout)
	setInt(&p.MaxResults, dp.MaxResults)
	setInt(&p.MemoryTurns, dp.MemoryTurns)

	s, ds := &c.Tools.Search, d.Tools.Search
	setString(&s.Primary, ds.Primary)
	setString(&s.Secondary, ds.Secondary)
	setString(&s.Web, ds.Web)
	setString(&s.TavilyDepth, ds.TavilyDepth)
	setInt(&s.WebMinChars, ds.WebMinChars)
	setString(&s.UserAgent, ds.UserAgent)
	setInt(&s.BreakerFailures, ds.BreakerFailures)
	setString(&s.BreakerCooldown, ds.BreakerCooldown)

	setInt(&c.Ingest.ChunkSize, d.Ingest.ChunkSize)
	setInt(&c.Ingest.ChunkOverlap, d.Ingest.ChunkOverlap)
	setInt(&c.Ingest.MinPageChars, d.Ingest.MinPageChars)
	setString(&c.Ingest.PdftotextPath, d.Ingest.PdftotextPath)

	setString(&c.Storage.Type, d.Storage.Type)
	setString(&c.Storage.Path, d.Storage.Path)
	setString(&c.Storage.VectorDB, d.Storage.VectorDB)
	setString(&c.Storage.HistoryDB, d.Storage.HistoryDB)

	setString(&c.Export.Dir, d.Export.Dir)
	setString(&c.Export.Format, d.Export.Format)
	setInt(&c.Export.MaxSources, d.Export.MaxSources)
	setInt(&c.Export.SourceChars, d.Export.SourceChars)

	setInt(&c.API.Port, d.API.Port)
	setString(&c.API.Host, d.API.Host)
	setInt(&c.API.MaxUploadMB, d.API.MaxUploadMB)
	setString(&c.API.RequestTimeout, d.API.RequestTimeout)
	setInt(&c.API.MaxTurns, d.API.MaxTurns)

	setString(&c.Observability.Tracing.Endpoint, d.Observability.Tracing.Endpoint)
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = d.Observability.Tracing.SamplingRate
	}
	setInt(&c.Observability.Metrics.Port, d.Observability.Metrics.Port)
	setString(&c.Observability.Logging.Level, d.Observability.Logging.Level)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		c.Ollama.BaseURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.Ollama.Model = model
	}
	if model := os.Getenv("OLLAMA_EMBED_MODEL"); model != "" {
		c.Ollama.EmbedModel = model
	}

	if port := os.Getenv("API_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.API.Port); err != nil {
			log.Printf("Invalid API_PORT value: %s, using default: %d", port, c.API.Port)
		}
	}

	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Tools.Search.TavilyAPIKey = key
	}
	if key := os.Getenv("SEMANTIC_SCHOLAR_API_KEY"); key != "" {
		c.Tools.Search.SemanticScholarAPIKey = key
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
	if level := os.Getenv("OSA_LOG_LEVEL"); level != "" {
		c.Observability.Logging.Level = level
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama base_url is required")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("ollama model is required")
	}

	p := c.Pipeline
	if p.RetrievalK < 1 {
		return fmt.Errorf("pipeline retrieval_k must be at least 1")
	}
	if p.GroundingThreshold < 0 || p.GroundingThreshold > 100 {
		return fmt.Errorf("pipeline grounding_threshold must be between 0 and 100")
	}
	if p.ContextCap < 1 || p.PassageCap < 1 {
		return fmt.Errorf("pipeline caps must be positive")
	}
	if _, err := time.ParseDuration(p.ProviderTimeout); err != nil {
		return fmt.Errorf("invalid pipeline provider_timeout: %w", err)
	}

	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest chunk_overlap must be smaller than chunk_size")
	}

	switch c.Storage.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.Export.Format {
	case "markdown", "html":
	default:
		return fmt.Errorf("unsupported export format: %s", c.Export.Format)
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api port must be between 1 and 65535")
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDuration parses a duration string from config, falling back to def
// when the value is empty or malformed.
func (c *Config) GetDuration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// DataPath resolves a storage file name under the storage directory
func (c *Config) DataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.Path, name)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "production" || env == "prod"
}
