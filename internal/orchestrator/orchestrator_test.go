package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/benchforge/internal/domain"
	"github.com/fairyhunter13/benchforge/internal/promptrender"
)

type fakeLLM struct {
	responses []domain.LLMWorkResult
	calls     int
}

func (f *fakeLLM) Submit(ctx context.Context, item domain.LLMWorkItem) domain.LLMWorkResult {
	r := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	r.WorkItemID = item.ID
	return r
}

type fakeQueue struct {
	responses []domain.CompileWorkResult
	errs      []error
	calls     int
}

func (f *fakeQueue) Enqueue(ctx context.Context, item domain.CompileWorkItem) (domain.CompileWorkResult, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return f.responses[i], err
}

func manifest() domain.TaskManifest {
	return domain.TaskManifest{
		ID:          "task-1",
		Description: "write a function",
		MaxAttempts: 2,
		Expected:    domain.TaskExpected{MustContain: []string{"func Solve"}},
	}
}

func TestRunVariant_SucceedsOnFirstAttempt(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func Solve() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{Usage: domain.Usage{TotalTokens: 100}}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: true, TotalTests: 1, PassedTests: 1}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	result, err := o.runVariant(context.Background(), manifest(), domain.ModelVariant{Provider: "mock", Model: "m1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.PassedAttemptNumber)
	assert.Equal(t, 100.0, result.FinalScore)
	assert.Len(t, result.Attempts, 1)
}

func TestRunVariant_RetriesWithRepairPromptAfterCompileFailure(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func Solve( {", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
		{Success: true, Code: "func Solve() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: false, Errors: []domain.CompileError{{Message: "syntax error"}}}},
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: true, TotalTests: 1, PassedTests: 1}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	result, err := o.runVariant(context.Background(), manifest(), domain.ModelVariant{Provider: "mock", Model: "m1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.PassedAttemptNumber)
	assert.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].FailureReasons[0], "compile error")
	// attempt 2 scores 100 raw, penalized 10 points for the one retry it took.
	assert.Equal(t, 90.0, result.FinalScore)
}

func TestRunVariant_ExhaustsAttemptsWithoutSuccess(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func Solve( {", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: false, Errors: []domain.CompileError{{Message: "syntax error"}}}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	m := manifest()
	m.MaxAttempts = 2
	result, err := o.runVariant(context.Background(), m, domain.ModelVariant{Provider: "mock", Model: "m1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Attempts, 2)
	// no attempt ever compiled, so the best (and only) raw score is 0.
	assert.Equal(t, 0.0, result.FinalScore)
}

func TestRunVariant_LLMErrorStopsRetryLoop(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Error: errors.New("circuit open")},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{{}}}
	o := New(llm, queue, promptrender.TextRenderer{})

	m := manifest()
	m.MaxAttempts = 3
	result, err := o.runVariant(context.Background(), m, domain.ModelVariant{Provider: "mock", Model: "m1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Attempts, 1, "should not retry after a hard LLM error")
	assert.Equal(t, []string{"LLM call failed"}, result.Attempts[0].FailureReasons)
}

func TestRunVariant_NoSuccessScoresHalfOfBestAttempt(t *testing.T) {
	// Both attempts compile and run tests, but never satisfy mustContain, so
	// the task never succeeds even though it racks up partial test credit.
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func other() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
		{Success: true, Code: "func other() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: true, TotalTests: 2, PassedTests: 2}},
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: false, TotalTests: 2, PassedTests: 0}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	m := manifest()
	m.MaxAttempts = 2
	m.Expected = domain.TaskExpected{TestApp: "app", MustContain: []string{"unobtainium"}}
	result, err := o.runVariant(context.Background(), m, domain.ModelVariant{Provider: "mock", Model: "m1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	// attempt 1 scores 100*(50+30+0+10)/100 = 90 (full test credit, mustContain
	// never satisfied); attempt 2 scores 100*(50+0+0+10)/100 = 60. FinalScore
	// should be half of the best attempt seen (attempt 1's 90), not the last.
	assert.InDelta(t, 45.0, result.FinalScore, 0.01)
}

func TestRun_FansOutAcrossVariantsAndEmitsEvents(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func Solve() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: true, TotalTests: 1, PassedTests: 1}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	var events []domain.EventKind
	o.AddListener(func(e domain.Event) { events = append(events, e.Kind) })

	results, err := o.Run(context.Background(), []domain.TaskManifest{manifest()}, []domain.ModelVariant{
		{Provider: "mock", Model: "m1"},
		{Provider: "mock", Model: "m2"},
	}, RunConfig{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].ModelResults, 2)
	assert.Contains(t, events, domain.EventTaskStarted)
	assert.Contains(t, events, domain.EventTaskCompleted)
	assert.Contains(t, events, domain.EventLLMStarted)
	assert.Contains(t, events, domain.EventCompileCompleted)
}

func TestRun_PanickingListenerDoesNotBreakDelivery(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Success: true, Code: "func Solve() {}", ReadyForCompile: true, LLMResponse: &domain.LLMResponse{}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{
		{CompilationResult: domain.CompilationResult{Success: true}, TestResult: &domain.TestResult{Success: true, TotalTests: 1, PassedTests: 1}},
	}}
	o := New(llm, queue, promptrender.TextRenderer{})

	var secondListenerCalled bool
	o.AddListener(func(e domain.Event) { panic("boom") })
	o.AddListener(func(e domain.Event) { secondListenerCalled = true })

	_, err := o.Run(context.Background(), []domain.TaskManifest{manifest()}, []domain.ModelVariant{{Provider: "mock", Model: "m1"}}, RunConfig{})
	require.NoError(t, err)
	assert.True(t, secondListenerCalled)
}

func TestRun_CriticalErrorAbortsRemainingWork(t *testing.T) {
	llm := &fakeLLM{responses: []domain.LLMWorkResult{
		{Error: &criticalWrap{&domain.CriticalError{Err: errors.New("sandbox unreachable")}}},
	}}
	queue := &fakeQueue{responses: []domain.CompileWorkResult{{}}}
	o := New(llm, queue, promptrender.TextRenderer{})

	_, err := o.Run(context.Background(), []domain.TaskManifest{manifest()}, []domain.ModelVariant{{Provider: "mock", Model: "m1"}}, RunConfig{})
	require.Error(t, err)
	var ce *domain.CriticalError
	assert.ErrorAs(t, err, &ce)
}

// criticalWrap lets a test attach a *domain.CriticalError as an LLM result's
// Error without tripping "use of internal type across packages" concerns;
// it just forwards Error()/Unwrap().
type criticalWrap struct{ ce *domain.CriticalError }

func (c *criticalWrap) Error() string { return c.ce.Error() }
func (c *criticalWrap) Unwrap() error { return c.ce }
