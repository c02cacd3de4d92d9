// Package llmpool implements the global LLM work pool from spec.md §4.2: a
// bounded-concurrency dispatcher in front of per-provider rate limiting,
// circuit breaking, and transient-error retry.
package llmpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/observability"
	"github.com/fairyhunter13/benchforge/internal/provider"
	"github.com/fairyhunter13/benchforge/internal/ratelimiter"
	"github.com/fairyhunter13/benchforge/internal/tokencount"
)

// newTransientRetryPolicy builds the in-pool transient-retry backoff: short
// and capped since maxTransientRetries bounds the attempt count anyway.
func newTransientRetryPolicy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// maxTransientRetries bounds the in-pool retry of a transient failure before
// it is surfaced to the caller as a real failure (spec.md §4.2).
const maxTransientRetries = 2

// Pool dispatches LLMWorkItems against a bounded global concurrency budget,
// routing each call through the per-provider rate limiter and circuit
// breaker before invoking the resolved ProviderAdapter.
type Pool struct {
	limiter      *ratelimiter.Limiter
	breakers     *provider.CircuitBreakerManager
	blocklist    *provider.RateLimitCache
	factory      domain.ProviderFactory
	extractor    domain.CodeExtractor
	concurrency  int
	pollInterval time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithPollInterval sets the pool's stored poll interval (default 50ms).
// Admission waits on a semaphore channel and does not poll, so the value does
// not change how Submit is admitted.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollInterval = d }
}

// New constructs a Pool with the given global concurrency cap.
func New(concurrency int, limiter *ratelimiter.Limiter, breakers *provider.CircuitBreakerManager, blocklist *provider.RateLimitCache, factory domain.ProviderFactory, extractor domain.CodeExtractor, opts ...Option) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := &Pool{
		limiter:      limiter,
		breakers:     breakers,
		blocklist:    blocklist,
		factory:      factory,
		extractor:    extractor,
		concurrency:  concurrency,
		pollInterval: 50 * time.Millisecond,
		sem:          make(chan struct{}, concurrency),
	}
	return p
}

// Submit runs one LLM work item to completion (including in-pool transient
// retry), blocking until a global concurrency slot and the provider's rate
// budget both admit it.
func (p *Pool) Submit(ctx context.Context, item domain.LLMWorkItem) domain.LLMWorkResult {
	p.wg.Add(1)
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: domain.ErrCancelled}
	}
	observability.LLMPoolActive.Inc()
	defer func() {
		<-p.sem
		observability.LLMPoolActive.Dec()
	}()

	variantID := domain.ModelVariant{Provider: item.Provider, Model: item.Model}.DisplayID()
	breaker := p.breakers.GetBreaker(variantID)

	if p.blocklist.IsBlocked(variantID) {
		observability.LLMPoolSubmittedTotal.WithLabelValues("blocked").Inc()
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: fmt.Errorf("%w: %s is cooling off", domain.ErrRateLimited, variantID)}
	}
	if !breaker.ShouldAttempt() {
		observability.LLMPoolSubmittedTotal.WithLabelValues("circuit_open").Inc()
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: fmt.Errorf("%w: circuit open for %s", domain.ErrRateLimited, variantID)}
	}

	estimatedTokens := tokencount.Estimate(item.Context.Instructions) + item.Context.MaxTokens
	retryPolicy := newTransientRetryPolicy()
	var result domain.LLMWorkResult
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		result = p.attemptOnce(ctx, item, variantID, estimatedTokens)
		if result.Error == nil {
			breaker.RecordSuccess()
			p.blocklist.RecordSuccess(variantID)
			observability.LLMPoolSubmittedTotal.WithLabelValues("success").Inc()
			return result
		}

		if isRateLimitErr(result.Error) {
			breaker.RecordFailure()
			observability.LLMPoolSubmittedTotal.WithLabelValues("rate_limited").Inc()
			return result
		}
		if !provider.IsTransientError(result.Error.Error()) || attempt == maxTransientRetries {
			breaker.RecordFailure()
			observability.LLMPoolSubmittedTotal.WithLabelValues("failed").Inc()
			return result
		}

		delay := retryPolicy.NextBackOff()
		slog.Debug("llmpool: transient failure, retrying", slog.String("item", item.ID), slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.String("err", result.Error.Error()))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.LLMWorkResult{WorkItemID: item.ID, Error: domain.ErrCancelled}
		}
	}
	return result
}

func (p *Pool) attemptOnce(ctx context.Context, item domain.LLMWorkItem, variantID string, estimatedTokens int) domain.LLMWorkResult {
	lease, err := p.limiter.Acquire(ctx, item.Provider, estimatedTokens)
	if err != nil {
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: err}
	}

	adapter, err := p.factory.Adapter(item.Provider, item.Model, item.Context.Temperature, item.Context.MaxTokens)
	if err != nil {
		p.limiter.Release(item.Provider, lease, 0)
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: fmt.Errorf("resolve adapter: %w", err)}
	}

	start := time.Now()
	var resp domain.LLMResponse
	if item.AttemptNumber <= 1 {
		resp, err = adapter.GenerateCode(ctx, item)
	} else {
		resp, err = adapter.GenerateFix(ctx, item, item.PreviousCode, item.PreviousReasons)
	}
	duration := time.Since(start)

	actualTokens := resp.Usage.TotalTokens
	p.limiter.Release(item.Provider, lease, actualTokens)

	if err != nil {
		msg := err.Error()
		if provider.IsRateLimitError(msg) {
			retryAfter := provider.ParseRetryAfter(msg)
			p.limiter.UpdateFromError(item.Provider, retryAfter, true)
			p.blocklist.RecordRateLimit(variantID, retryAfter)
			return domain.LLMWorkResult{WorkItemID: item.ID, Error: fmt.Errorf("%w: %s", domain.ErrUpstreamRateLimit, msg)}
		}
		return domain.LLMWorkResult{WorkItemID: item.ID, Error: err, Duration: duration}
	}

	code, confidence := p.extractor.Extract(resp.Content)
	return domain.LLMWorkResult{
		WorkItemID:      item.ID,
		Success:         true,
		Code:            code,
		LLMResponse:     &resp,
		Duration:        duration,
		ReadyForCompile: confidence > 0.5,
	}
}

func isRateLimitErr(err error) bool {
	return err != nil && (provider.IsRateLimitError(err.Error()))
}

// SubmitBatch submits every item concurrently (bounded by the pool's global
// concurrency cap) and returns a map of model -> result (spec.md §4.2).
func (p *Pool) SubmitBatch(ctx context.Context, items []domain.LLMWorkItem) map[string]domain.LLMWorkResult {
	results := make(map[string]domain.LLMWorkResult, len(items))
	if len(items) == 0 {
		return results
	}

	type keyedResult struct {
		model  string
		result domain.LLMWorkResult
	}
	done := make(chan keyedResult, len(items))
	for _, item := range items {
		go func(item domain.LLMWorkItem) {
			done <- keyedResult{model: item.Model, result: p.Submit(ctx, item)}
		}(item)
	}
	for range items {
		kr := <-done
		results[kr.model] = kr.result
	}
	return results
}

// Drain blocks until every in-flight Submit call has returned.
func (p *Pool) Drain() {
	p.wg.Wait()
}
