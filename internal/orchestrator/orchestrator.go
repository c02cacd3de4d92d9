// Package orchestrator implements spec.md §4.5: task × variant fan-out, the
// generate -> compile -> test -> score attempt loop with repair-prompt
// retries, and the typed event stream consumed by report printers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/benchforge/internal/aggregator"
	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/observability"
)

var tracer = otel.Tracer("orchestrator")

// defaultMaxAttempts is used when a manifest doesn't specify one.
const defaultMaxAttempts = 3

// CompileSubmitter abstracts over a single compilequeue.Queue or a
// compilequeue.Pool; the orchestrator only needs to submit and block.
type CompileSubmitter interface {
	Enqueue(ctx context.Context, item domain.CompileWorkItem) (domain.CompileWorkResult, error)
}

// LLMSubmitter abstracts over llmpool.Pool.
type LLMSubmitter interface {
	Submit(ctx context.Context, item domain.LLMWorkItem) domain.LLMWorkResult
}

// Orchestrator drives every (task, variant) pair through the attempt loop.
type Orchestrator struct {
	pool     LLMSubmitter
	queue    CompileSubmitter
	renderer domain.TemplateRenderer

	// CriticalErrorAborts, when true, cancels the entire run the first time
	// an attempt returns a domain.CriticalError-wrapped error.
	CriticalErrorAborts bool

	mu        sync.Mutex
	listeners []domain.EventListener

	cancelOnce sync.Once
	runCancel  context.CancelFunc
}

// New constructs an Orchestrator.
func New(pool LLMSubmitter, queue CompileSubmitter, renderer domain.TemplateRenderer) *Orchestrator {
	return &Orchestrator{pool: pool, queue: queue, renderer: renderer, CriticalErrorAborts: true}
}

// AddListener registers an event listener. Not safe to call concurrently
// with Run.
func (o *Orchestrator) AddListener(l domain.EventListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

func (o *Orchestrator) emit(ev domain.Event) {
	o.mu.Lock()
	listeners := append([]domain.EventListener(nil), o.listeners...)
	o.mu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("orchestrator: event listener panicked", slog.Any("recover", r), slog.String("event", string(ev.Kind)))
				}
			}()
			l(ev)
		}()
	}
}

func (o *Orchestrator) abortRun() {
	o.cancelOnce.Do(func() {
		if o.runCancel != nil {
			o.runCancel()
		}
	})
}

// RunConfig bounds a Run call's concurrency.
type RunConfig struct {
	// TaskConcurrency caps how many tasks run concurrently; 0 means all
	// tasks run concurrently (fan-out is still bounded by the LLM pool's
	// and compile queue's own concurrency limits).
	TaskConcurrency int
}

// Run fans every manifest out across every variant and returns one
// ParallelTaskResult per manifest, in manifest order. If CriticalErrorAborts
// is true and any attempt anywhere returns a domain.CriticalError, the
// remaining work is cancelled and Run returns early with that error.
func (o *Orchestrator) Run(ctx context.Context, manifests []domain.TaskManifest, variants []domain.ModelVariant, cfg RunConfig) ([]domain.ParallelTaskResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	o.runCancel = cancel
	defer cancel()

	results := make([]domain.ParallelTaskResult, len(manifests))
	start := time.Now()

	sem := make(chan struct{}, taskSlots(cfg.TaskConcurrency, len(manifests)))
	var wg sync.WaitGroup
	var firstCritical error
	var critMu sync.Mutex
	completed := 0

	for i, manifest := range manifests {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, manifest domain.TaskManifest) {
			defer wg.Done()
			defer func() { <-sem }()

			o.emit(domain.Event{Kind: domain.EventTaskStarted, TaskID: manifest.ID})
			result := o.runTask(runCtx, manifest, variants)
			results[i] = result

			for _, failErr := range result.Failures {
				if critErr := asCritical(failErr); critErr != nil && o.CriticalErrorAborts {
					critMu.Lock()
					if firstCritical == nil {
						firstCritical = critErr
					}
					critMu.Unlock()
					o.abortRun()
				}
			}

			critMu.Lock()
			completed++
			completedSoFar := completed
			critMu.Unlock()

			o.emit(domain.Event{Kind: domain.EventTaskCompleted, TaskID: manifest.ID})
			o.emit(domain.Event{Kind: domain.EventProgress, Progress: &domain.ProgressEvent{
				TotalTasks:     len(manifests),
				CompletedTasks: completedSoFar,
				ElapsedTime:    time.Since(start).Seconds(),
			}})
		}(i, manifest)
	}
	wg.Wait()

	if firstCritical != nil {
		return results, firstCritical
	}
	return results, nil
}

func taskSlots(requested, total int) int {
	if requested <= 0 || requested > total {
		if total <= 0 {
			return 1
		}
		return total
	}
	return requested
}

func asCritical(err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.CriticalError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// runTask fans one task out across every variant concurrently.
func (o *Orchestrator) runTask(ctx context.Context, manifest domain.TaskManifest, variants []domain.ModelVariant) domain.ParallelTaskResult {
	start := time.Now()
	modelResults := make(map[string]domain.TaskExecutionResult, len(variants))
	failures := map[string]error{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, v := range variants {
		wg.Add(1)
		go func(v domain.ModelVariant) {
			defer wg.Done()
			variantID := v.DisplayID()
			execResult, err := o.runVariant(ctx, manifest, v)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[variantID] = err
				return
			}
			modelResults[variantID] = execResult
		}(v)
	}
	wg.Wait()

	comparison := buildComparisonFor(modelResults)
	return domain.ParallelTaskResult{
		TaskID:         manifest.ID,
		ModelResults:   modelResults,
		Failures:       failures,
		PartialSuccess: len(failures) > 0 && len(modelResults) > 0,
		Comparison:     comparison,
		Duration:       time.Since(start),
	}
}

// runVariant runs the generate -> compile -> test -> score attempt loop for
// one (task, variant) pair.
func (o *Orchestrator) runVariant(ctx context.Context, manifest domain.TaskManifest, variant domain.ModelVariant) (domain.TaskExecutionResult, error) {
	variantID := variant.DisplayID()
	execStart := time.Now()
	executionID := fmt.Sprintf("%s_%s_%d", manifest.ID, variantID, execStart.UnixMilli())

	execCtx := buildExecutionContext(manifest, variant)

	maxAttempts := manifest.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	result := domain.TaskExecutionResult{
		TaskID:      manifest.ID,
		ExecutionID: executionID,
		Context:     execCtx,
		ExecutedAt:  execStart,
	}

	var previousCode string
	var previousReasons []string
	var maxAttemptScore float64

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		attemptRecord, ready, critical := o.runAttempt(ctx, manifest, execCtx, variant, attempt, previousCode, previousReasons, variantID)
		result.Attempts = append(result.Attempts, attemptRecord)
		if critical != nil {
			return result, critical
		}
		result.TotalTokens += attemptRecord.TokensUsed
		result.TotalCost += attemptRecord.Cost
		result.TotalDuration += attemptRecord.Duration

		observability.OrchestratorAttemptsTotal.WithLabelValues(variantID, outcomeLabel(attemptRecord.Success)).Inc()

		if attemptRecord.Score > maxAttemptScore {
			maxAttemptScore = attemptRecord.Score
		}

		if attemptRecord.Success {
			result.Success = true
			result.FinalCode = attemptRecord.ExtractedCode
			// spec.md §4.6: a success at attempt k is penalized 10 points per
			// retry it took, never dropping below 0.
			result.FinalScore = math.Max(0, attemptRecord.Score-float64(attempt-1)*10)
			result.PassedAttemptNumber = attempt
			break
		}

		result.FinalCode = attemptRecord.ExtractedCode
		previousCode = attemptRecord.ExtractedCode
		previousReasons = attemptRecord.FailureReasons

		if !ready {
			// The LLM call itself failed hard enough that retrying with a
			// repair prompt makes no sense (e.g. cancelled, circuit open).
			break
		}
	}

	if !result.Success {
		// spec.md §4.6: when no attempt ever succeeds, the task's score is
		// half of the best attempt seen, not the last one tried.
		result.FinalScore = maxAttemptScore * 0.5
	}

	result.SuccessRate = 0
	if len(result.Attempts) > 0 && result.Success {
		result.SuccessRate = 1.0 / float64(result.PassedAttemptNumber)
	}
	observability.OrchestratorTaskScore.WithLabelValues(variantID).Observe(result.FinalScore)

	return result, nil
}

// runAttempt executes one generate -> compile -> test -> score cycle. ready
// reports whether the LLM call itself succeeded well enough to continue the
// attempt loop on failure (vs. aborting immediately).
func (o *Orchestrator) runAttempt(ctx context.Context, manifest domain.TaskManifest, execCtx domain.ExecutionContext, variant domain.ModelVariant, attempt int, previousCode string, previousReasons []string, variantID string) (domain.ExecutionAttempt, bool, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.runAttempt", trace.WithAttributes(
		attribute.String("task_id", manifest.ID),
		attribute.String("variant_id", variantID),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	start := time.Now()
	record := domain.ExecutionAttempt{AttemptNumber: attempt, StartTime: start}

	var prompt string
	var err error
	if attempt == 1 {
		prompt, err = o.renderer.RenderPrompt(execCtx)
	} else {
		prompt, err = o.renderer.RenderFixPrompt(execCtx, previousCode, previousReasons)
	}
	record.Prompt = prompt
	if err != nil {
		record.FailureReasons = []string{"prompt render error: " + err.Error()}
		record.EndTime = time.Now()
		record.Duration = record.EndTime.Sub(start)
		return record, false, nil
	}

	o.emit(domain.Event{Kind: domain.EventLLMStarted, TaskID: manifest.ID, VariantID: variantID, Attempt: attempt})

	item := domain.LLMWorkItem{
		ID:              uuid.NewString(),
		Manifest:        manifest,
		Provider:        variant.Provider,
		Model:           variant.Model,
		AttemptNumber:   attempt,
		PreviousCode:    previousCode,
		PreviousReasons: previousReasons,
		CreatedAt:       time.Now(),
		Context:         withInstructions(execCtx, prompt),
	}

	llmStart := time.Now()
	llmResult := o.pool.Submit(ctx, item)
	record.LLMDuration = time.Since(llmStart)

	o.emit(domain.Event{Kind: domain.EventLLMCompleted, TaskID: manifest.ID, VariantID: variantID, Attempt: attempt, Success: llmResult.Error == nil})

	if llmResult.Error != nil {
		slog.Debug("orchestrator: llm call failed", slog.String("task", manifest.ID), slog.String("variant", variantID), slog.Int("attempt", attempt), slog.String("err", llmResult.Error.Error()))
		record.FailureReasons = []string{"LLM call failed"}
		record.EndTime = time.Now()
		record.Duration = record.EndTime.Sub(start)
		var critErr *domain.CriticalError
		if errors.As(llmResult.Error, &critErr) {
			return record, false, critErr
		}
		return record, false, nil
	}

	record.LLMResponse = llmResult.LLMResponse
	record.ExtractedCode = llmResult.Code
	if llmResult.LLMResponse != nil {
		record.TokensUsed = llmResult.LLMResponse.Usage.TotalTokens
		record.Cost = llmResult.LLMResponse.Usage.EstimatedCost
	}

	if !llmResult.ReadyForCompile {
		record.FailureReasons = []string{"malformed response: low-confidence code extraction"}
		record.EndTime = time.Now()
		record.Duration = record.EndTime.Sub(start)
		return record, true, nil
	}

	o.emit(domain.Event{Kind: domain.EventCompileQueued, TaskID: manifest.ID, VariantID: variantID, Attempt: attempt})
	o.emit(domain.Event{Kind: domain.EventCompileStarted, TaskID: manifest.ID, VariantID: variantID, Attempt: attempt})

	compileItem := domain.CompileWorkItem{
		ID:            uuid.NewString(),
		LLMWorkItemID: item.ID,
		Code:          llmResult.Code,
		Context:       execCtx,
		AttemptNumber: attempt,
		LLMResponse:   llmResult.LLMResponse,
		CreatedAt:     time.Now(),
	}

	compileStart := time.Now()
	compileResult, err := o.queue.Enqueue(ctx, compileItem)
	record.CompileDuration = time.Since(compileStart)

	ok := err == nil && passed(manifest.Expected, llmResult.Code, compileResult.CompilationResult, compileResult.TestResult)
	o.emit(domain.Event{Kind: domain.EventCompileCompleted, TaskID: manifest.ID, VariantID: variantID, Attempt: attempt, Success: ok})

	if err != nil {
		record.FailureReasons = []string{"compile queue error: " + err.Error()}
		record.EndTime = time.Now()
		record.Duration = record.EndTime.Sub(start)
		return record, true, nil
	}

	record.TestDuration = compileResult.TestDuration
	s, reasons := score(manifest.Expected, llmResult.Code, compileResult.CompilationResult, compileResult.TestResult)
	record.Score = s
	record.FailureReasons = reasons
	record.Success = ok
	record.EndTime = time.Now()
	record.Duration = record.EndTime.Sub(start)
	return record, true, nil
}

func withInstructions(ctx domain.ExecutionContext, rendered string) domain.ExecutionContext {
	ctx.Instructions = rendered
	return ctx
}

func buildExecutionContext(manifest domain.TaskManifest, variant domain.ModelVariant) domain.ExecutionContext {
	temperature := 0.7
	if variant.Config.Temperature != nil {
		temperature = *variant.Config.Temperature
	}
	maxTokens := 4096
	if variant.Config.MaxTokens != nil {
		maxTokens = *variant.Config.MaxTokens
	}
	timeout := variant.Config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return domain.ExecutionContext{
		Manifest:       manifest,
		TaskType:       manifest.Metadata.Category,
		Instructions:   manifest.Description,
		PromptTemplate: manifest.PromptTemplate,
		FixTemplate:    manifest.FixTemplate,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		Timeout:        timeout,
		Metadata:       manifest.Metadata,
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func buildComparisonFor(results map[string]domain.TaskExecutionResult) domain.Comparison {
	return aggregator.BuildTaskComparison(results)
}
