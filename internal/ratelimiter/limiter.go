// Package ratelimiter implements the per-provider admission control
// described in spec.md §4.1: concurrent-request, requests-per-minute, and
// tokens-per-minute budgets with exponential backoff on upstream rejection.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/observability"
)

// window is how far back request/token history is retained for RPM/TPM accounting.
const window = 60 * time.Second

// BackoffConfig tunes the exponential backoff engaged on upstream rate-limit
// errors (spec.md §4.1). It mirrors config.Config.GetAIBackoffConfig.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultBackoffConfig matches the harness's historical 1s-doubling-to-60s behavior.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{InitialInterval: time.Second, MaxInterval: 60 * time.Second, Multiplier: 2}
}

func (c BackoffConfig) newPolicy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.MaxInterval = c.MaxInterval
	bo.Multiplier = c.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // the limiter, not the policy, decides when to stop retrying
	bo.Reset()
	return bo
}

// ProviderLimits bounds one provider's admission budgets.
type ProviderLimits struct {
	Concurrent int
	RPM        int
	TPM        int
}

// Defaults mirrors the per-provider defaults table in spec.md §4.1.
func Defaults() map[string]ProviderLimits {
	return map[string]ProviderLimits{
		"anthropic":  {Concurrent: 3, RPM: 50, TPM: 100_000},
		"openai":     {Concurrent: 5, RPM: 60, TPM: 150_000},
		"gemini":     {Concurrent: 2, RPM: 30, TPM: 50_000},
		"openrouter": {Concurrent: 10, RPM: 100, TPM: 200_000},
		"azure":      {Concurrent: 5, RPM: 60, TPM: 150_000},
		"local":      {Concurrent: 1, RPM: 999, TPM: 999_999},
		"mock":       {Concurrent: 100, RPM: 999, TPM: 999_999},
	}
}

type tokenEntry struct {
	at     time.Time
	tokens int64
}

type waiter struct {
	ch chan struct{}
}

type providerState struct {
	mu sync.Mutex

	limits ProviderLimits

	activeLeases map[uint64]domain.RateLease
	requests     []time.Time
	tokens       []tokenEntry
	leaseTokens  map[uint64]int64 // estimated tokens reserved per lease id, for Release reconciliation

	backoffUntil      time.Time
	backoffMultiplier float64
	backoffPolicy     *backoff.ExponentialBackOff

	waiters []*waiter

	nextLeaseID uint64
}

func newProviderState(limits ProviderLimits, backoffCfg BackoffConfig) *providerState {
	return &providerState{
		limits:            limits,
		activeLeases:      map[uint64]domain.RateLease{},
		leaseTokens:       map[uint64]int64{},
		backoffMultiplier: 1,
		backoffPolicy:     backoffCfg.newPolicy(),
	}
}

// Status is a read-only snapshot of one provider's admission state.
type Status struct {
	Provider          string
	Limits            ProviderLimits
	ActiveLeases      int
	RecentRequests    int
	RecentTokens      int64
	BackoffActive     bool
	BackoffUntil      time.Time
	BackoffMultiplier float64
	QueuedWaiters     int
}

// Limiter is the per-provider admission controller described in spec.md §4.1.
type Limiter struct {
	mu         sync.Mutex
	state      map[string]*providerState
	backoffCfg BackoffConfig
}

// Option configures optional Limiter behavior.
type Option func(*Limiter)

// WithBackoffConfig overrides the default exponential backoff tuning.
func WithBackoffConfig(cfg BackoffConfig) Option {
	return func(l *Limiter) { l.backoffCfg = cfg }
}

// New constructs a Limiter seeded with the given per-provider limits. Missing
// providers fall back to Defaults() on first use.
func New(limits map[string]ProviderLimits, opts ...Option) *Limiter {
	l := &Limiter{state: map[string]*providerState{}, backoffCfg: DefaultBackoffConfig()}
	for _, opt := range opts {
		opt(l)
	}
	for p, lim := range limits {
		l.state[p] = newProviderState(lim, l.backoffCfg)
	}
	return l
}

func (l *Limiter) providerState(provider string) *providerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.state[provider]
	if !ok {
		lim, known := Defaults()[provider]
		if !known {
			lim = ProviderLimits{Concurrent: 1, RPM: 60, TPM: 100_000}
		}
		ps = newProviderState(lim, l.backoffCfg)
		l.state[provider] = ps
	}
	return ps
}

// SetLimits updates or creates the bucket configuration for a provider.
func (l *Limiter) SetLimits(provider string, limits ProviderLimits) {
	ps := l.providerState(provider)
	ps.mu.Lock()
	ps.limits = limits
	ps.mu.Unlock()
}

func evictOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func evictTokensOlderThan(entries []tokenEntry, cutoff time.Time) []tokenEntry {
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	return entries[i:]
}

func (ps *providerState) evict(now time.Time) {
	cutoff := now.Add(-window)
	ps.requests = evictOlderThan(ps.requests, cutoff)
	ps.tokens = evictTokensOlderThan(ps.tokens, cutoff)
}

func (ps *providerState) sumTokens() int64 {
	var sum int64
	for _, e := range ps.tokens {
		sum += e.tokens
	}
	return sum
}

// admit attempts to mint a lease under the lock. It returns (lease, waitFor,
// ok): ok is true iff a lease was minted; otherwise waitFor is the suggested
// sleep duration before retrying (zero means "wait on the concurrency FIFO
// instead of a timer").
func (ps *providerState) admit(now time.Time, estimatedTokens int) (domain.RateLease, time.Duration, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.evict(now)

	if ps.backoffUntil.After(now) {
		return domain.RateLease{}, ps.backoffUntil.Sub(now), false
	}
	if ps.limits.Concurrent > 0 && len(ps.activeLeases) >= ps.limits.Concurrent {
		return domain.RateLease{}, 0, false
	}
	if ps.limits.RPM > 0 && len(ps.requests) >= ps.limits.RPM {
		return domain.RateLease{}, ps.requests[0].Add(window).Sub(now), false
	}
	if ps.limits.TPM > 0 && len(ps.tokens) > 0 {
		if sum := ps.sumTokens(); sum >= int64(ps.limits.TPM) || sum+int64(estimatedTokens) > int64(ps.limits.TPM) {
			return domain.RateLease{}, ps.tokens[0].at.Add(window).Sub(now), false
		}
	}

	ps.nextLeaseID++
	id := ps.nextLeaseID
	lease := domain.RateLease{ID: id, AcquiredAt: now, EstimatedTokens: estimatedTokens}
	ps.activeLeases[id] = lease
	ps.requests = append(ps.requests, now)
	if estimatedTokens > 0 {
		ps.tokens = append(ps.tokens, tokenEntry{at: now, tokens: int64(estimatedTokens)})
		ps.leaseTokens[id] = int64(estimatedTokens)
	}
	return lease, 0, true
}

// Acquire blocks until admission is possible under all three budgets and no
// backoff is active, then mints a lease. Cancellable via ctx.
func (l *Limiter) Acquire(ctx context.Context, provider string, estimatedTokens int) (domain.RateLease, error) {
	ps := l.providerState(provider)
	start := time.Now()
	defer func() {
		observability.RateLimiterWaitSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	for {
		select {
		case <-ctx.Done():
			return domain.RateLease{}, domain.ErrCancelled
		default:
		}

		lease, waitFor, ok := ps.admit(time.Now(), estimatedTokens)
		if ok {
			lease.Provider = provider
			observability.RateLimiterActiveLeases.WithLabelValues(provider).Inc()
			return lease, nil
		}

		if waitFor > 0 {
			t := time.NewTimer(waitFor)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return domain.RateLease{}, domain.ErrCancelled
			}
			continue
		}

		// Concurrency-limited: suspend on the provider's waiter FIFO.
		w := &waiter{ch: make(chan struct{})}
		ps.mu.Lock()
		ps.waiters = append(ps.waiters, w)
		ps.mu.Unlock()

		select {
		case <-w.ch:
		case <-ctx.Done():
			ps.removeWaiter(w)
			return domain.RateLease{}, domain.ErrCancelled
		}
	}
}

func (ps *providerState) removeWaiter(w *waiter) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i, cur := range ps.waiters {
		if cur == w {
			ps.waiters = append(ps.waiters[:i], ps.waiters[i+1:]...)
			return
		}
	}
}

// wakeWaiters wakes every currently queued waiter in FIFO order so each can
// re-run the admission algorithm; waiters that still don't fit re-queue.
func (ps *providerState) wakeWaiters() {
	ps.mu.Lock()
	pending := ps.waiters
	ps.waiters = nil
	ps.mu.Unlock()
	for _, w := range pending {
		close(w.ch)
	}
}

// TryAcquire is the non-blocking version of Acquire: it returns ok=false when
// any budget would be exceeded or backoff is active.
func (l *Limiter) TryAcquire(provider string, estimatedTokens int) (domain.RateLease, bool) {
	ps := l.providerState(provider)
	lease, _, ok := ps.admit(time.Now(), estimatedTokens)
	if ok {
		lease.Provider = provider
		observability.RateLimiterActiveLeases.WithLabelValues(provider).Inc()
	}
	return lease, ok
}

// Release removes the lease; if actualTokens differs from the reserved
// estimate, the token-window entry is corrected. Releasing an unknown lease
// is a no-op. Releasing resets the consecutive-error backoff multiplier to 1
// and wakes any pending waiters.
func (l *Limiter) Release(provider string, lease domain.RateLease, actualTokens int) {
	ps := l.providerState(provider)
	ps.mu.Lock()
	if _, ok := ps.activeLeases[lease.ID]; !ok {
		ps.mu.Unlock()
		return
	}
	delete(ps.activeLeases, lease.ID)

	if actualTokens > 0 {
		reserved, hadReservation := ps.leaseTokens[lease.ID]
		if hadReservation && reserved != int64(actualTokens) {
			for i := range ps.tokens {
				if ps.tokens[i].tokens == reserved {
					ps.tokens[i].tokens = int64(actualTokens)
					break
				}
			}
		} else if !hadReservation {
			ps.tokens = append(ps.tokens, tokenEntry{at: time.Now(), tokens: int64(actualTokens)})
		}
	}
	delete(ps.leaseTokens, lease.ID)
	ps.backoffMultiplier = 1
	ps.backoffPolicy.Reset()
	ps.mu.Unlock()

	observability.RateLimiterActiveLeases.WithLabelValues(provider).Dec()
	ps.wakeWaiters()
}

// UpdateFromError reacts to an upstream error. When isRateLimit is true it
// sets backoffUntil = now + retryAfter, falling back to the next interval
// from the provider's exponential backoff policy, and tracks a capped
// (at 64x) multiplier for status reporting. A non-rate-limit error is a no-op.
func (l *Limiter) UpdateFromError(provider string, retryAfter time.Duration, isRateLimit bool) {
	if !isRateLimit {
		return
	}
	ps := l.providerState(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delay := retryAfter
	if delay <= 0 {
		delay = ps.backoffPolicy.NextBackOff()
	}
	ps.backoffUntil = time.Now().Add(delay)
	ps.backoffMultiplier *= 2
	if ps.backoffMultiplier > 64 {
		ps.backoffMultiplier = 64
	}
	observability.RateLimiterBackoffActive.WithLabelValues(provider).Set(1)
	slog.Warn("provider backoff engaged",
		slog.String("provider", provider),
		slog.Duration("delay", delay),
		slog.Float64("multiplier", ps.backoffMultiplier))
}

// GetStatus returns a snapshot of one provider's admission state.
func (l *Limiter) GetStatus(provider string) Status {
	ps := l.providerState(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.evict(time.Now())
	return Status{
		Provider:          provider,
		Limits:            ps.limits,
		ActiveLeases:      len(ps.activeLeases),
		RecentRequests:    len(ps.requests),
		RecentTokens:      ps.sumTokens(),
		BackoffActive:     ps.backoffUntil.After(time.Now()),
		BackoffUntil:      ps.backoffUntil,
		BackoffMultiplier: ps.backoffMultiplier,
		QueuedWaiters:     len(ps.waiters),
	}
}

// GetAllStatus returns a snapshot for every provider known to the limiter.
func (l *Limiter) GetAllStatus() map[string]Status {
	l.mu.Lock()
	providers := make([]string, 0, len(l.state))
	for p := range l.state {
		providers = append(providers, p)
	}
	l.mu.Unlock()

	out := make(map[string]Status, len(providers))
	for _, p := range providers {
		out[p] = l.GetStatus(p)
	}
	return out
}

// Reset clears a provider back to its pristine admission state (no active
// leases, no history, no backoff), preserving its configured limits.
func (l *Limiter) Reset(provider string) {
	ps := l.providerState(provider)
	ps.mu.Lock()
	limits := ps.limits
	ps.mu.Unlock()

	l.mu.Lock()
	fresh := newProviderState(limits, l.backoffCfg)
	l.state[provider] = fresh
	l.mu.Unlock()
	observability.RateLimiterActiveLeases.WithLabelValues(provider).Set(0)
	observability.RateLimiterBackoffActive.WithLabelValues(provider).Set(0)
}

// ResetAll resets every known provider.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	providers := make([]string, 0, len(l.state))
	for p := range l.state {
		providers = append(providers, p)
	}
	l.mu.Unlock()
	for _, p := range providers {
		l.Reset(p)
	}
}
