// Package compilequeue implements spec.md §4.3: one FIFO queue serializing
// access to a single sandbox, plus a pool of queues routed by least load.
package compilequeue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/observability"
)

// Stats summarizes one queue's lifetime activity.
type Stats struct {
	SandboxName      string
	Length           int
	Processing       bool
	TotalProcessed   int64
	TotalTimedOut    int64
	TotalFailed      int64
	AverageWaitMs    float64
	AverageCompileMs float64
}

type job struct {
	item       domain.CompileWorkItem
	resultCh   chan domain.CompileWorkResult
	errCh      chan error
	enqueuedAt time.Time
}

// Queue serializes compile+test work against one named sandbox, draining a
// FIFO channel on a single worker goroutine so the sandbox never sees
// concurrent access.
type Queue struct {
	sandboxName  string
	sandbox      domain.SandboxProvider
	timeout      time.Duration
	maxQueueSize int

	mu         sync.Mutex
	pending    []*job
	processing bool

	totalProcessed int64
	totalTimedOut  int64
	totalFailed    int64
	waitMsSum      float64
	compileMsSum   float64

	workCh chan *job
	stopCh chan struct{}
	once   sync.Once
}

// New constructs a Queue bound to one sandbox, and starts its worker
// goroutine. maxQueueSize bounds how many items may be pending at once
// (spec.md §4.3); 0 means unbounded.
func New(sandboxName string, sandbox domain.SandboxProvider, timeout time.Duration, maxQueueSize int) *Queue {
	q := &Queue{
		sandboxName:  sandboxName,
		sandbox:      sandbox,
		timeout:      timeout,
		maxQueueSize: maxQueueSize,
		workCh:       make(chan *job, 1),
		stopCh:       make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue submits a compile work item, blocking until it is processed,
// timed out, or ctx is cancelled. The sandbox only ever processes one item
// at a time, in submission order. If the queue is already at maxQueueSize,
// Enqueue rejects the item synchronously with domain.ErrQueueFull instead of
// blocking.
func (q *Queue) Enqueue(ctx context.Context, item domain.CompileWorkItem) (domain.CompileWorkResult, error) {
	j := &job{item: item, resultCh: make(chan domain.CompileWorkResult, 1), errCh: make(chan error, 1), enqueuedAt: time.Now()}

	q.mu.Lock()
	if q.maxQueueSize > 0 && len(q.pending) >= q.maxQueueSize {
		q.mu.Unlock()
		return domain.CompileWorkResult{}, fmt.Errorf("%w: compile queue %s", domain.ErrQueueFull, q.sandboxName)
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()
	observability.CompileQueueDepth.WithLabelValues(q.sandboxName).Set(float64(q.Length()))

	select {
	case q.workCh <- j:
	default:
		// worker already has a job queued in the channel; run() drains
		// q.pending directly once it finishes, no action needed here.
	}

	timeout := q.timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-j.resultCh:
		observability.CompileQueueWaitSeconds.WithLabelValues(q.sandboxName).Observe(time.Since(j.enqueuedAt).Seconds())
		return res, nil
	case err := <-j.errCh:
		return domain.CompileWorkResult{}, err
	case <-timer.C:
		q.removePending(j)
		q.mu.Lock()
		q.totalTimedOut++
		q.mu.Unlock()
		return domain.CompileWorkResult{}, fmt.Errorf("%w: compile queue %s", domain.ErrQueueTimeout, q.sandboxName)
	case <-ctx.Done():
		q.removePending(j)
		return domain.CompileWorkResult{}, domain.ErrCancelled
	}
}

func (q *Queue) removePending(target *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.pending {
		if j == target {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) run() {
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.workCh:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			j := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = true
			q.mu.Unlock()

			observability.CompileQueueDepth.WithLabelValues(q.sandboxName).Set(float64(q.Length()))
			q.process(j)

			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
		}
	}
}

func (q *Queue) process(j *job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	project := buildProject(j.item)

	compileStart := time.Now()
	compileResult, err := q.sandbox.CompileProject(ctx, q.sandboxName, project)
	compileDuration := time.Since(compileStart)

	q.mu.Lock()
	q.compileMsSum += float64(compileDuration.Milliseconds())
	q.waitMsSum += float64(start.Sub(j.enqueuedAt).Milliseconds())
	q.mu.Unlock()
	observability.CompileQueueProcessSeconds.WithLabelValues(q.sandboxName).Observe(compileDuration.Seconds())

	if err != nil {
		q.mu.Lock()
		q.totalFailed++
		q.mu.Unlock()
		j.errCh <- err
		return
	}

	result := domain.CompileWorkResult{
		WorkItemID:        j.item.ID,
		CompilationResult: compileResult,
		CompileDuration:   compileDuration,
	}

	if compileResult.Success && (project.TestApp != "" || j.item.Context.Manifest.Expected.TestApp != "") {
		testStart := time.Now()
		testResult, terr := q.sandbox.RunTests(ctx, q.sandboxName, project)
		result.TestDuration = time.Since(testStart)
		if terr == nil {
			result.TestResult = &testResult
		}
	}
	result.Duration = time.Since(start)

	q.mu.Lock()
	q.totalProcessed++
	q.mu.Unlock()

	j.resultCh <- result
}

// buildProject translates a CompileWorkItem's manifest expectations into the
// sandbox's CONTAINS/NOT_CONTAINS assertion text.
func buildProject(item domain.CompileWorkItem) domain.Project {
	expected := item.Context.Manifest.Expected
	var lines []string
	for _, c := range expected.MustContain {
		lines = append(lines, "CONTAINS:"+c)
	}
	for _, c := range expected.MustNotContain {
		lines = append(lines, "NOT_CONTAINS:"+c)
	}
	return domain.Project{
		ID:       item.ID,
		Platform: item.Context.TaskType,
		FileName: item.Context.TargetFileName,
		Code:     item.Code,
		TestApp:  strings.Join(lines, "\n"),
	}
}

// Length returns the current pending-item count.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsProcessing reports whether the worker is currently compiling/testing an item.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Drain blocks until no item is pending and the worker is idle. It polls
// rather than signaling, since pending/processing can flip between an
// Enqueue call returning and a waiter observing it.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && !q.processing
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Clear drops all pending (not-yet-started) items, failing their Enqueue
// callers with domain.ErrCleared.
func (q *Queue) Clear() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, j := range pending {
		j.errCh <- domain.ErrCleared
	}
}

// GetStats snapshots the queue's lifetime counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	avgWait, avgCompile := 0.0, 0.0
	if q.totalProcessed > 0 {
		avgWait = q.waitMsSum / float64(q.totalProcessed)
		avgCompile = q.compileMsSum / float64(q.totalProcessed)
	}
	return Stats{
		SandboxName:      q.sandboxName,
		Length:           len(q.pending),
		Processing:       q.processing,
		TotalProcessed:   q.totalProcessed,
		TotalTimedOut:    q.totalTimedOut,
		TotalFailed:      q.totalFailed,
		AverageWaitMs:    avgWait,
		AverageCompileMs: avgCompile,
	}
}

// Stop halts the queue's worker goroutine. Safe to call multiple times.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stopCh) })
}
