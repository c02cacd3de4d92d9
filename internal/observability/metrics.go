package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// RateLimiterActiveLeases is a gauge of in-flight leases per provider.
	RateLimiterActiveLeases = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimiter_active_leases",
			Help: "Number of currently active rate-limiter leases by provider",
		},
		[]string{"provider"},
	)
	// RateLimiterWaitSeconds records how long acquire() blocked before minting a lease.
	RateLimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimiter_wait_seconds",
			Help:    "Time spent waiting for rate-limiter admission",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"provider"},
	)
	// RateLimiterBackoffActive is 1 while a provider is under backoff, else 0.
	RateLimiterBackoffActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimiter_backoff_active",
			Help: "Whether a provider is currently under rate-limit backoff",
		},
		[]string{"provider"},
	)

	// LLMPoolActive is a gauge of in-flight LLM work-pool items.
	LLMPoolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_pool_active",
			Help: "Number of LLM work items currently in flight",
		},
	)
	// LLMPoolSubmittedTotal counts work items submitted by outcome.
	LLMPoolSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_pool_submitted_total",
			Help: "Total LLM work-pool submissions by outcome",
		},
		[]string{"outcome"},
	)

	// CompileQueueDepth is a gauge of pending items per sandbox queue.
	CompileQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compile_queue_depth",
			Help: "Number of pending items in a compile queue",
		},
		[]string{"sandbox"},
	)
	// CompileQueueWaitSeconds records time spent queued before processing started.
	CompileQueueWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_queue_wait_seconds",
			Help:    "Time an item waited in a compile queue before processing",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"sandbox"},
	)
	// CompileQueueProcessSeconds records compile+test processing time.
	CompileQueueProcessSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compile_queue_process_seconds",
			Help:    "Time spent compiling and testing a queued item",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"sandbox"},
	)

	// OrchestratorAttemptsTotal counts attempts by variant and outcome.
	OrchestratorAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_attempts_total",
			Help: "Total attempts run by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)
	// OrchestratorTaskScore records the final score distribution per variant.
	OrchestratorTaskScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_score",
			Help:    "Final task score (0-100) by variant",
			Buckets: []float64{0, 10, 25, 50, 70, 85, 95, 100},
		},
		[]string{"variant"},
	)
)

// MustRegisterAll registers every metric with the given registerer; panics on
// duplicate registration, matching the teacher's init-time registration style.
func MustRegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		RateLimiterActiveLeases,
		RateLimiterWaitSeconds,
		RateLimiterBackoffActive,
		LLMPoolActive,
		LLMPoolSubmittedTotal,
		CompileQueueDepth,
		CompileQueueWaitSeconds,
		CompileQueueProcessSeconds,
		OrchestratorAttemptsTotal,
		OrchestratorTaskScore,
	)
}
