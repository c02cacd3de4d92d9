package compilequeue

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// Pool routes compile work across N independent sandbox queues, always
// picking the least-loaded one (pending length, plus one while it is
// processing an item) at submission time; ties go to the earliest queue.
type Pool struct {
	queues []*Queue
}

// NewPool constructs a Pool over the given queues. Construction fails with
// domain.ErrInvalidArgument if queues is empty.
func NewPool(queues []*Queue) (*Pool, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("%w: compile queue pool requires at least one queue", domain.ErrInvalidArgument)
	}
	return &Pool{queues: queues}, nil
}

// Enqueue routes item to the least-loaded queue and blocks until it completes.
func (p *Pool) Enqueue(ctx context.Context, item domain.CompileWorkItem) (domain.CompileWorkResult, error) {
	return p.leastLoaded().Enqueue(ctx, item)
}

func (p *Pool) leastLoaded() *Queue {
	best := p.queues[0]
	bestLoad := load(best)
	for _, q := range p.queues[1:] {
		if l := load(q); l < bestLoad {
			best, bestLoad = q, l
		}
	}
	return best
}

// load counts a queue's pending items plus one if it is actively processing,
// so a busy-but-empty-queue sandbox isn't mistaken for an idle one.
func load(q *Queue) int {
	n := q.Length()
	if q.IsProcessing() {
		n++
	}
	return n
}

// GetStats aggregates every queue's stats into one Stats value (spec.md
// §4.4): count-like fields sum across queues, and the two averages are
// re-averaged unweighted across queues rather than recombined from the
// underlying per-queue totals.
func (p *Pool) GetStats() Stats {
	var agg Stats
	var waitSum, compileSum float64
	for _, q := range p.queues {
		s := q.GetStats()
		agg.Length += s.Length
		agg.TotalProcessed += s.TotalProcessed
		agg.TotalTimedOut += s.TotalTimedOut
		agg.TotalFailed += s.TotalFailed
		if s.Processing {
			agg.Processing = true
		}
		waitSum += s.AverageWaitMs
		compileSum += s.AverageCompileMs
	}
	n := float64(len(p.queues))
	if n > 0 {
		agg.AverageWaitMs = waitSum / n
		agg.AverageCompileMs = compileSum / n
	}
	return agg
}

// TotalLength sums the pending length across every queue.
func (p *Pool) TotalLength() int {
	total := 0
	for _, q := range p.queues {
		total += q.Length()
	}
	return total
}

// IsProcessing reports whether any queue in the pool is currently
// compiling/testing an item.
func (p *Pool) IsProcessing() bool {
	for _, q := range p.queues {
		if q.IsProcessing() {
			return true
		}
	}
	return false
}

// Drain blocks until every queue in the pool is idle.
func (p *Pool) Drain(ctx context.Context) error {
	for _, q := range p.queues {
		if err := q.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts every queue's worker goroutine.
func (p *Pool) Stop() {
	for _, q := range p.queues {
		q.Stop()
	}
}
