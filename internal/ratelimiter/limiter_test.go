package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

func TestAcquireRelease_UnderConcurrencyLimit(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 2, RPM: 1000, TPM: 1_000_000},
	})

	lease1, err := l.Acquire(context.Background(), "mock", 100)
	require.NoError(t, err)
	lease2, err := l.Acquire(context.Background(), "mock", 100)
	require.NoError(t, err)

	status := l.GetStatus("mock")
	assert.Equal(t, 2, status.ActiveLeases)

	l.Release("mock", lease1, 100)
	l.Release("mock", lease2, 100)

	status = l.GetStatus("mock")
	assert.Equal(t, 0, status.ActiveLeases)
}

func TestAcquire_BlocksOnConcurrencyAndWakesOnRelease(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 1, RPM: 1000, TPM: 1_000_000},
	})

	lease, err := l.Acquire(context.Background(), "mock", 10)
	require.NoError(t, err)

	var secondAcquired int32
	done := make(chan struct{})
	go func() {
		l2, err := l.Acquire(context.Background(), "mock", 10)
		require.NoError(t, err)
		atomic.StoreInt32(&secondAcquired, 1)
		l.Release("mock", l2, 10)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondAcquired), "second acquire should still be blocked")

	l.Release("mock", lease, 10)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondAcquired))
}

func TestAcquire_RespectsContextCancellation(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 1, RPM: 1000, TPM: 1_000_000},
	})
	lease, err := l.Acquire(context.Background(), "mock", 1)
	require.NoError(t, err)
	defer l.Release("mock", lease, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "mock", 1)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestAcquire_ManyConcurrentGoroutinesNeverExceedConcurrencyBudget(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 3, RPM: 100000, TPM: 10_000_000},
	})

	var active int32
	var maxSeen int32
	var wg sync.WaitGroup
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(context.Background(), "mock", 5)
			if err != nil {
				errs <- err
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			l.Release("mock", lease, 5)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	assert.LessOrEqual(t, int(maxSeen), 3)
}

func TestTryAcquire_NonBlockingRejectsWhenFull(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 1, RPM: 1000, TPM: 1_000_000},
	})
	lease, ok := l.TryAcquire("mock", 1)
	require.True(t, ok)

	_, ok = l.TryAcquire("mock", 1)
	assert.False(t, ok, "should not acquire a second lease beyond the concurrency budget")

	l.Release("mock", lease, 1)
	_, ok = l.TryAcquire("mock", 1)
	assert.True(t, ok, "should be able to acquire again after release")
}

func TestTryAcquire_RejectsOverRPMBudget(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 100, RPM: 2, TPM: 1_000_000},
	})
	l1, ok := l.TryAcquire("mock", 1)
	require.True(t, ok)
	l2, ok := l.TryAcquire("mock", 1)
	require.True(t, ok)
	_, ok = l.TryAcquire("mock", 1)
	assert.False(t, ok, "third request should exceed the RPM budget")
	l.Release("mock", l1, 1)
	l.Release("mock", l2, 1)
}

func TestTryAcquire_RejectsOverTPMBudget(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 100, RPM: 1000, TPM: 150},
	})
	l1, ok := l.TryAcquire("mock", 100)
	require.True(t, ok)
	_, ok = l.TryAcquire("mock", 100)
	assert.False(t, ok, "second request should exceed the TPM budget")
	l.Release("mock", l1, 100)
}

func TestUpdateFromError_EngagesBackoffAndBlocksAdmission(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 10, RPM: 1000, TPM: 1_000_000},
	})
	l.UpdateFromError("mock", 100*time.Millisecond, true)

	_, ok := l.TryAcquire("mock", 1)
	assert.False(t, ok, "admission should be blocked while backoff is active")

	status := l.GetStatus("mock")
	assert.True(t, status.BackoffActive)

	time.Sleep(150 * time.Millisecond)
	_, ok = l.TryAcquire("mock", 1)
	assert.True(t, ok, "admission should resume once backoff elapses")
}

func TestUpdateFromError_NonRateLimitIsNoop(t *testing.T) {
	l := New(map[string]ProviderLimits{
		"mock": {Concurrent: 10, RPM: 1000, TPM: 1_000_000},
	})
	l.UpdateFromError("mock", time.Second, false)
	status := l.GetStatus("mock")
	assert.False(t, status.BackoffActive)
}

func TestUpdateFromError_MultiplierDoublesAndCaps(t *testing.T) {
	l := New(map[string]ProviderLimits{"mock": {Concurrent: 10, RPM: 1000, TPM: 1_000_000}})
	for i := 0; i < 10; i++ {
		l.UpdateFromError("mock", 0, true)
	}
	status := l.GetStatus("mock")
	assert.LessOrEqual(t, status.BackoffMultiplier, 64.0)
}

func TestRelease_ResetsBackoffMultiplier(t *testing.T) {
	l := New(map[string]ProviderLimits{"mock": {Concurrent: 10, RPM: 1000, TPM: 1_000_000}})
	// Take the lease before backoff engages: admission is refused while it is active.
	lease, ok := l.TryAcquire("mock", 1)
	require.True(t, ok)

	l.UpdateFromError("mock", 0, true)
	l.UpdateFromError("mock", 0, true)
	before := l.GetStatus("mock").BackoffMultiplier
	assert.Greater(t, before, 1.0)

	l.Release("mock", lease, 1)

	after := l.GetStatus("mock").BackoffMultiplier
	assert.Equal(t, 1.0, after)
}

func TestDefaults_CoversExpectedProviders(t *testing.T) {
	d := Defaults()
	for _, p := range []string{"anthropic", "openai", "gemini", "openrouter", "azure", "local", "mock"} {
		lim, ok := d[p]
		require.True(t, ok, "expected default limits for provider %q", p)
		assert.Greater(t, lim.Concurrent, 0)
	}
}

func TestUnknownProvider_FallsBackToSaneDefault(t *testing.T) {
	l := New(nil)
	lease, ok := l.TryAcquire("some-unlisted-provider", 1)
	require.True(t, ok)
	l.Release("some-unlisted-provider", lease, 1)
}

func TestResetAll_ClearsActiveLeasesAndBackoff(t *testing.T) {
	l := New(map[string]ProviderLimits{"mock": {Concurrent: 1, RPM: 1000, TPM: 1_000_000}})
	_, ok := l.TryAcquire("mock", 1)
	require.True(t, ok)
	l.UpdateFromError("mock", 0, true)

	l.ResetAll()

	status := l.GetStatus("mock")
	assert.Equal(t, 0, status.ActiveLeases)
	assert.False(t, status.BackoffActive)
	_, ok = l.TryAcquire("mock", 1)
	assert.True(t, ok)
}
