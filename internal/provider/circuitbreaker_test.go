package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("openai/gpt-5")
	for i := 0; i < 3; i++ {
		require.True(t, cb.ShouldAttempt())
		cb.RecordFailure()
	}
	assert.Equal(t, Open, cb.GetState())
	assert.False(t, cb.ShouldAttempt())
}

func TestCircuitBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("anthropic/claude")
	cb.recoveryTimeout = 0
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, Open, cb.GetState())

	assert.True(t, cb.ShouldAttempt(), "recovery timeout elapsed, should move to half-open")
	assert.Equal(t, HalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, Closed, cb.GetState())
}

func TestCircuitBreaker_FailureWhileHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker("gemini/pro")
	cb.recoveryTimeout = 0
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.ShouldAttempt() // transitions to half-open
	cb.RecordFailure()
	assert.Equal(t, Open, cb.GetState())
}

func TestCircuitBreakerManager_CreatesPerVariant(t *testing.T) {
	m := NewCircuitBreakerManager()
	a := m.GetBreaker("openai/gpt-5")
	b := m.GetBreaker("openai/gpt-5")
	c := m.GetBreaker("anthropic/claude")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestCircuitBreakerManager_GetHealthyModels(t *testing.T) {
	m := NewCircuitBreakerManager()
	healthy := m.GetBreaker("openai/gpt-5")
	for i := 0; i < 3; i++ {
		healthy.RecordFailure()
	}
	m.GetBreaker("anthropic/claude") // stays closed

	models := m.GetHealthyModels()
	assert.Contains(t, models, "anthropic/claude")
	assert.NotContains(t, models, "openai/gpt-5")
}

func TestCircuitBreaker_StatsReflectRates(t *testing.T) {
	cb := NewCircuitBreaker("openai/gpt-5")
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()
	stats := cb.GetStats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)
}
