// Package provider adapts external model-provider collaborators behind
// domain.ProviderAdapter/ProviderFactory, and supplements spec.md §4.2 with
// a per-variant circuit breaker and rate-limit blocklist cache so a
// persistently failing provider/model stops consuming LLM-pool capacity.
package provider

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of Closed, Open, or HalfOpen.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after a run of consecutive failures for one
// variant, and probes again (half-open) after recoveryTimeout elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	variantID        string
	failureThreshold int
	recoveryTimeout  time.Duration

	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	totalRequests   int64
	totalFailures   int64
}

// NewCircuitBreaker constructs a breaker with spec-reasonable defaults
// (3 consecutive failures trips it, 30s before a half-open probe).
func NewCircuitBreaker(variantID string) *CircuitBreaker {
	return &CircuitBreaker{
		variantID:        variantID,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            Closed,
	}
}

// ShouldAttempt reports whether a new attempt is allowed under the current
// state, transitioning Open -> HalfOpen once the recovery timeout has passed.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful attempt. Any success while HalfOpen
// closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalRequests++
	cb.successCount++
	cb.lastSuccessTime = time.Now()
	cb.failureCount = 0
	cb.state = Closed
}

// RecordFailure registers a failed attempt. Once failureCount reaches the
// threshold the breaker opens; a failure while HalfOpen re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalRequests++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == HalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = Open
	}
}

// GetState returns the current circuit state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitStats summarizes a breaker's accumulated counters.
type CircuitStats struct {
	VariantID     string
	State         CircuitState
	FailureCount  int
	SuccessCount  int
	TotalRequests int64
	TotalFailures int64
	SuccessRate   float64
	FailureRate   float64
}

// GetStats snapshots the breaker's counters.
func (cb *CircuitBreaker) GetStats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitStats{
		VariantID:     cb.variantID,
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		SuccessRate:   cb.getSuccessRate(),
		FailureRate:   cb.getFailureRate(),
	}
}

func (cb *CircuitBreaker) getSuccessRate() float64 {
	if cb.totalRequests == 0 {
		return 1
	}
	return float64(cb.totalRequests-cb.totalFailures) / float64(cb.totalRequests)
}

func (cb *CircuitBreaker) getFailureRate() float64 {
	if cb.totalRequests == 0 {
		return 0
	}
	return float64(cb.totalFailures) / float64(cb.totalRequests)
}

func (cb *CircuitBreaker) String() string {
	return fmt.Sprintf("CircuitBreaker{variant=%s state=%s failures=%d/%d}", cb.variantID, cb.state, cb.failureCount, cb.failureThreshold)
}

// CircuitBreakerManager owns one breaker per variant, created on first use.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager constructs an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: map[string]*CircuitBreaker{}}
}

// GetBreaker returns the breaker for variantID, creating one if needed.
func (m *CircuitBreakerManager) GetBreaker(variantID string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[variantID]
	if !ok {
		cb = NewCircuitBreaker(variantID)
		m.breakers[variantID] = cb
	}
	return cb
}

// GetAllStats snapshots every known breaker.
func (m *CircuitBreakerManager) GetAllStats() map[string]CircuitStats {
	m.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.Unlock()

	out := make(map[string]CircuitStats, len(breakers))
	for _, cb := range breakers {
		out[cb.variantID] = cb.GetStats()
	}
	return out
}

// GetHealthyModels returns the variant ids whose breaker currently allows attempts.
func (m *CircuitBreakerManager) GetHealthyModels() []string {
	m.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.Unlock()

	var healthy []string
	for _, cb := range breakers {
		if cb.ShouldAttempt() {
			healthy = append(healthy, cb.variantID)
		}
	}
	return healthy
}
