// Package main is the entry point for the osa CLI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncolesummers/open-study-agent/pkg/config"
	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "osa",
	Short: "Open Study Agent: a tutoring and research assistant",
	Long: `osa answers questions about uploaded course material and academic
literature. Each question runs through a fixed pipeline of stages: the planner
routes it, a retriever gathers passages, the analyst condenses them, the scribe
writes the answer and, for textbook questions, the critic scores how well the
answer is grounded in the document.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.SetLogOutput(os.Stderr)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: built-in defaults)")
	flags.String("ollama-url", "", "Ollama base URL")
	flags.String("model", "", "generation model")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("ollama.base_url", flags.Lookup("ollama-url"))
	_ = viper.BindPFlag("ollama.model", flags.Lookup("model"))
	_ = viper.BindPFlag("observability.logging.level", flags.Lookup("log-level"))
}

func initConfig() {
	viper.SetEnvPrefix("OSA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the YAML config and layers flag and OSA_* env values on top
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault("")
	}

	if v := viper.GetString("ollama.base_url"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := viper.GetString("ollama.model"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := viper.GetString("observability.logging.level"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.SetLogLevel(observability.ParseLogLevel(cfg.Observability.Logging.Level))
	return cfg, nil
}

func initObservability(cfg *config.Config) (*observability.Telemetry, *observability.Metrics, error) {
	telemetry, err := observability.NewTelemetry(&observability.TelemetryConfig{
		ServiceName:    "open-study-agent",
		ServiceVersion: Version,
		Environment:    getEnvironment(),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		PrometheusPort: cfg.Observability.Metrics.Port,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return telemetry, metrics, nil
}

func shutdownObservability(telemetry *observability.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := telemetry.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down telemetry: %v", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
