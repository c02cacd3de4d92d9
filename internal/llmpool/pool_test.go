package llmpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/benchforge/internal/codeextract"
	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/provider"
	"github.com/fairyhunter13/benchforge/internal/ratelimiter"
)

func newTestPool(factory domain.ProviderFactory, concurrency int) *Pool {
	limiter := ratelimiter.New(map[string]ratelimiter.ProviderLimits{
		"mock": {Concurrent: 10, RPM: 1000, TPM: 1_000_000},
	})
	breakers := provider.NewCircuitBreakerManager()
	blocklist := provider.NewRateLimitCache()
	return New(concurrency, limiter, breakers, blocklist, factory, codeextract.Extractor{}, WithPollInterval(time.Millisecond))
}

func workItem(provider, model string, attempt int) domain.LLMWorkItem {
	return domain.LLMWorkItem{
		ID:            fmt.Sprintf("%s-%s-%d", provider, model, attempt),
		Manifest:      domain.TaskManifest{ID: "task-1"},
		Provider:      provider,
		Model:         model,
		AttemptNumber: attempt,
		Context:       domain.ExecutionContext{MaxTokens: 100},
	}
}

func TestSubmit_SuccessExtractsCode(t *testing.T) {
	factory := provider.MockFactory{}
	p := newTestPool(factory, 2)
	result := p.Submit(context.Background(), workItem("mock", "mock-1", 1))
	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Code)
	assert.True(t, result.ReadyForCompile)
}

func TestSubmit_TransientErrorRetriesThenSucceeds(t *testing.T) {
	var calls int32
	adapter := &provider.MockAdapter{Provider: "mock", Model: "mock-1", Generate: func(ctx context.Context, item domain.LLMWorkItem, isFix bool) (domain.LLMResponse, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return domain.LLMResponse{}, errors.New("connection reset by peer")
		}
		return domain.LLMResponse{Content: "```\nfunc Solve() {}\n```", Usage: domain.Usage{TotalTokens: 10}}, nil
	}}
	factory := stubFactory{adapter: adapter}
	p := newTestPool(factory, 2)

	result := p.Submit(context.Background(), workItem("mock", "mock-1", 1))
	require.NoError(t, result.Error)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSubmit_FatalErrorDoesNotRetry(t *testing.T) {
	var calls int32
	adapter := &provider.MockAdapter{Provider: "mock", Model: "mock-1", Generate: func(ctx context.Context, item domain.LLMWorkItem, isFix bool) (domain.LLMResponse, error) {
		atomic.AddInt32(&calls, 1)
		return domain.LLMResponse{}, errors.New("invalid api key")
	}}
	factory := stubFactory{adapter: adapter}
	p := newTestPool(factory, 2)

	result := p.Submit(context.Background(), workItem("mock", "mock-1", 1))
	require.Error(t, result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmit_RateLimitErrorEngagesBackoffAndCircuit(t *testing.T) {
	adapter := &provider.MockAdapter{Provider: "mock", Model: "mock-1", Generate: func(ctx context.Context, item domain.LLMWorkItem, isFix bool) (domain.LLMResponse, error) {
		return domain.LLMResponse{}, errors.New("429 rate limit exceeded, retry after: 1")
	}}
	factory := stubFactory{adapter: adapter}
	p := newTestPool(factory, 2)

	result := p.Submit(context.Background(), workItem("mock", "mock-1", 1))
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, domain.ErrUpstreamRateLimit)

	status := p.limiter.GetStatus("mock")
	assert.True(t, status.BackoffActive)
}

func TestSubmit_CircuitOpenShortCircuitsWithoutCallingAdapter(t *testing.T) {
	var calls int32
	adapter := &provider.MockAdapter{Provider: "mock", Model: "mock-1", Generate: func(ctx context.Context, item domain.LLMWorkItem, isFix bool) (domain.LLMResponse, error) {
		atomic.AddInt32(&calls, 1)
		return domain.LLMResponse{}, errors.New("invalid request")
	}}
	factory := stubFactory{adapter: adapter}
	p := newTestPool(factory, 2)

	item := workItem("mock", "mock-1", 1)
	for i := 0; i < 3; i++ {
		p.Submit(context.Background(), item)
	}
	before := atomic.LoadInt32(&calls)

	result := p.Submit(context.Background(), item)
	require.Error(t, result.Error)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "circuit should be open, adapter should not be called again")
}

func TestSubmitBatch_RunsAllItemsConcurrently(t *testing.T) {
	factory := provider.MockFactory{}
	p := newTestPool(factory, 4)

	items := []domain.LLMWorkItem{
		workItem("mock", "a", 1),
		workItem("mock", "b", 1),
		workItem("mock", "c", 1),
	}
	results := p.SubmitBatch(context.Background(), items)
	require.Len(t, results, 3)
	for _, model := range []string{"a", "b", "c"} {
		r, ok := results[model]
		require.True(t, ok, "expected a result keyed by model %q", model)
		assert.NoError(t, r.Error)
	}
}

func TestPool_DrainWaitsForInFlightSubmits(t *testing.T) {
	factory := provider.MockFactory{}
	p := newTestPool(factory, 4)

	for i := 0; i < 3; i++ {
		go func(i int) { p.Submit(context.Background(), workItem("mock", fmt.Sprintf("m%d", i), 1)) }(i)
	}
	p.Drain()
	assert.Equal(t, 0, len(p.sem), "no submission should still hold a concurrency slot after Drain")
}

type stubFactory struct {
	adapter domain.ProviderAdapter
}

func (s stubFactory) Adapter(provider, model string, temperature float64, maxTokens int) (domain.ProviderAdapter, error) {
	return s.adapter, nil
}
