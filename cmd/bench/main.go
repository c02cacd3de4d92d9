// Command bench runs the parallel benchmark harness: it loads task
// manifests and model variants, fans them out across the LLM work pool and
// compile queue pool, and persists the aggregated results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/benchforge/internal/aggregator"
	"github.com/fairyhunter13/benchforge/internal/codeextract"
	"github.com/fairyhunter13/benchforge/internal/compilequeue"
	"github.com/fairyhunter13/benchforge/internal/config"
	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/llmpool"
	"github.com/fairyhunter13/benchforge/internal/observability"
	"github.com/fairyhunter13/benchforge/internal/orchestrator"
	"github.com/fairyhunter13/benchforge/internal/promptrender"
	"github.com/fairyhunter13/benchforge/internal/provider"
	"github.com/fairyhunter13/benchforge/internal/ratelimiter"
	"github.com/fairyhunter13/benchforge/internal/reportserver"
	"github.com/fairyhunter13/benchforge/internal/sandbox"
	"github.com/fairyhunter13/benchforge/internal/taskspec"
	"github.com/fairyhunter13/benchforge/pkg/resultio"
)

// stringSlice accumulates repeated occurrences of a flag, e.g. -variant a -variant b.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func flagMulti(name, usage string) *stringSlice {
	var s stringSlice
	flag.Var(&s, name, usage)
	return &s
}

func main() {
	tasksPath := flag.String("tasks", "", "path to a YAML task-manifest list")
	variantSpecs := flagMulti("variant", "provider/model[@k=v;...] variant spec (repeatable)")
	sandboxCount := flag.Int("sandboxes", 2, "number of parallel compile sandboxes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	observability.MustRegisterAll(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		slog.Info("metrics server listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server exited", slog.String("err", err.Error()))
		}
	}()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.String("err", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifests, err := loadManifests(*tasksPath)
	if err != nil {
		slog.Error("failed to load task manifests", slog.String("err", err.Error()))
		os.Exit(1)
	}
	variants, err := loadVariants(*variantSpecs)
	if err != nil {
		slog.Error("failed to parse variant specs", slog.String("err", err.Error()))
		os.Exit(1)
	}

	_, initialInterval, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	limiter := ratelimiter.New(ratelimiter.Defaults(), ratelimiter.WithBackoffConfig(ratelimiter.BackoffConfig{
		InitialInterval: initialInterval,
		MaxInterval:     maxInterval,
		Multiplier:      multiplier,
	}))
	breakers := provider.NewCircuitBreakerManager()
	blocklist := provider.NewRateLimitCache()
	defer blocklist.Stop()

	pool := llmpool.New(cfg.LLMPoolConcurrency, limiter, breakers, blocklist, provider.MockFactory{}, codeextract.Extractor{}, llmpool.WithPollInterval(cfg.LLMPoolPollInterval))

	queues := make([]*compilequeue.Queue, *sandboxCount)
	for i := range queues {
		queues[i] = compilequeue.New(fmt.Sprintf("sandbox-%d", i+1), &sandbox.Stub{}, cfg.CompileQueueTimeout, cfg.CompileQueueMaxSize)
	}
	queuePool, err := compilequeue.NewPool(queues)
	if err != nil {
		slog.Error("failed to build compile queue pool", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer queuePool.Stop()

	orch := orchestrator.New(pool, queuePool, promptrender.TextRenderer{})
	agg := aggregator.New()
	var mu sync.Mutex
	orch.AddListener(func(ev domain.Event) {
		slog.Debug("event", slog.String("kind", string(ev.Kind)), slog.String("task", ev.TaskID), slog.String("variant", ev.VariantID))
	})

	runLabel := cfg.RunLabel
	summaryProvider := func() aggregator.Summary {
		mu.Lock()
		defer mu.Unlock()
		return agg.Finalize()
	}

	reportSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ReportPort),
		Handler: reportserver.BuildRouter(reportserver.ParseOrigins(""), summaryProvider),
	}
	go func() {
		slog.Info("report server listening", slog.Int("port", cfg.ReportPort))
		if err := reportSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("report server exited", slog.String("err", err.Error()))
		}
	}()

	start := time.Now()
	results, err := orch.Run(ctx, manifests, variants, orchestrator.RunConfig{TaskConcurrency: cfg.TaskConcurrency})
	if err != nil {
		slog.Error("run aborted", slog.String("err", err.Error()))
	}

	mu.Lock()
	for _, r := range results {
		agg.AddParallelTaskResult(r)
	}
	mu.Unlock()

	path, werr := resultio.Write(cfg.OutputDir, runLabel, start, results)
	if werr != nil {
		slog.Error("failed to persist results", slog.String("err", werr.Error()))
	} else {
		slog.Info("results persisted", slog.String("path", path), slog.Duration("elapsed", time.Since(start)))
	}

	_ = reportSrv.Shutdown(context.Background())
	if shutdownTracing != nil {
		_ = shutdownTracing(context.Background())
	}
}

func loadManifests(path string) ([]domain.TaskManifest, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: -tasks is required", domain.ErrInvalidArgument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return taskspec.ParseManifests(data)
}

func loadVariants(specs []string) ([]domain.ModelVariant, error) {
	out := make([]domain.ModelVariant, 0, len(specs))
	for _, s := range specs {
		v, err := taskspec.ParseVariantSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
