// Package config defines configuration parsing and helpers for the
// benchmark harness.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all harness configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	// OutputDir is where persisted run-result files are written (spec.md §6).
	OutputDir string `env:"OUTPUT_DIR" envDefault:"./results"`
	RunLabel  string `env:"RUN_LABEL" envDefault:"default"`

	// Global LLM work pool concurrency cap (spec.md §4.2).
	LLMPoolConcurrency int           `env:"LLM_POOL_CONCURRENCY" envDefault:"10"`
	LLMPoolPollInterval time.Duration `env:"LLM_POOL_POLL_INTERVAL" envDefault:"50ms"`

	// Compile queue tuning (spec.md §4.3).
	CompileQueueMaxSize int           `env:"COMPILE_QUEUE_MAX_SIZE" envDefault:"100"`
	CompileQueueTimeout time.Duration `env:"COMPILE_QUEUE_TIMEOUT" envDefault:"300s"`

	// Orchestrator concurrency (spec.md §5).
	TaskConcurrency int `env:"TASK_CONCURRENCY" envDefault:"0"` // 0 = unbounded: every task runs concurrently

	// AI Backoff Configuration (per-provider rate limiter exponential cool-off).
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"180s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"1s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"60s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"2.0"`

	// Metrics / reporting.
	MetricsPort int  `env:"METRICS_PORT" envDefault:"9090"`
	ReportPort  int  `env:"REPORT_PORT" envDefault:"8080"`
	Debug       bool `env:"DEBUG" envDefault:"false"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"benchforge"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the harness is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the harness is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the harness is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the
// current environment. In test environments it uses much shorter timeouts so
// unit tests complete quickly.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 10 * time.Millisecond, 100 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
