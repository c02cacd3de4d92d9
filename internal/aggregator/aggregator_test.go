package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

func execResult(taskID string, success bool, score float64, passedAttempt int, attempts int) domain.TaskExecutionResult {
	var atts []domain.ExecutionAttempt
	for i := 1; i <= attempts; i++ {
		atts = append(atts, domain.ExecutionAttempt{
			AttemptNumber: i,
			Success:       i == passedAttempt,
			TokensUsed:    50,
		})
	}
	return domain.TaskExecutionResult{
		TaskID:              taskID,
		Success:              success,
		FinalScore:           score,
		PassedAttemptNumber:  passedAttempt,
		Attempts:             atts,
		TotalDuration:        time.Second,
	}
}

func TestAggregator_AddAndFinalize_ComputesPerModelAverages(t *testing.T) {
	a := New()
	a.Add("openai/gpt-5", execResult("task-1", true, 90, 1, 1))
	a.Add("openai/gpt-5", execResult("task-2", true, 70, 2, 2))
	a.Add("openai/gpt-5", execResult("task-3", false, 0, 0, 2))

	summary := a.Finalize()
	m := summary.Models["openai/gpt-5"]
	require.NotNil(t, m)
	assert.Equal(t, 2, m.TasksPassed)
	assert.Equal(t, 1, m.TasksFailed)
	assert.InDelta(t, (90.0+70.0+0.0)/3.0, m.AvgScore, 0.001)
	assert.Equal(t, 1, m.PassedOnAttempt1)
	assert.Equal(t, 1, m.PassedOnAttempt2)
}

func TestAggregator_Finalize_IsIdempotent(t *testing.T) {
	a := New()
	a.Add("mock/m1", execResult("task-1", true, 80, 1, 1))
	s1 := a.Finalize()
	s2 := a.Finalize()
	assert.Equal(t, s1.Models["mock/m1"].AvgScore, s2.Models["mock/m1"].AvgScore)
	assert.Equal(t, s1.TotalTasks, s2.TotalTasks)
}

func TestAggregator_TaskStats_TracksBestModel(t *testing.T) {
	a := New()
	a.Add("model-a", execResult("task-1", true, 60, 1, 1))
	a.Add("model-b", execResult("task-1", true, 95, 1, 1))
	a.Add("model-c", execResult("task-1", false, 0, 0, 1))

	summary := a.Finalize()
	task := summary.Tasks["task-1"]
	require.NotNil(t, task)
	assert.Equal(t, "model-b", task.BestModel)
	assert.Equal(t, 95.0, task.BestScore)
	assert.ElementsMatch(t, []string{"model-a", "model-b"}, task.ModelsPassed)
	assert.ElementsMatch(t, []string{"model-c"}, task.ModelsFailed)
}

func TestBuildTaskComparison_NoTieProducesWinner(t *testing.T) {
	results := map[string]domain.TaskExecutionResult{
		"model-a": {FinalScore: 80, Success: true},
		"model-b": {FinalScore: 95, Success: true},
		"model-c": {FinalScore: 40, Success: false},
	}
	comparison := BuildTaskComparison(results)
	assert.Equal(t, "model-b", comparison.Winner)
	assert.Equal(t, 95.0, comparison.BestScore)
	assert.Len(t, comparison.Ranking, 3)
	assert.Equal(t, 1, comparison.Ranking[0].Rank)
}

func TestBuildTaskComparison_TieAtTopYieldsNoWinner(t *testing.T) {
	results := map[string]domain.TaskExecutionResult{
		"model-a": {FinalScore: 90, Success: true},
		"model-b": {FinalScore: 90, Success: true},
	}
	comparison := BuildTaskComparison(results)
	assert.Empty(t, comparison.Winner)
	assert.Equal(t, comparison.Ranking[0].Rank, comparison.Ranking[1].Rank)
}

func TestBuildTaskComparison_DenseRankingSkipsNoGaps(t *testing.T) {
	results := map[string]domain.TaskExecutionResult{
		"a": {FinalScore: 90},
		"b": {FinalScore: 90},
		"c": {FinalScore: 70},
	}
	comparison := BuildTaskComparison(results)
	ranks := map[string]int{}
	for _, r := range comparison.Ranking {
		ranks[r.VariantID] = r.Rank
	}
	assert.Equal(t, 1, ranks["a"])
	assert.Equal(t, 1, ranks["b"])
	assert.Equal(t, 2, ranks["c"])
}

func TestBuildTaskComparison_EmptyResultsYieldsZeroValue(t *testing.T) {
	comparison := BuildTaskComparison(nil)
	assert.Empty(t, comparison.Ranking)
	assert.Empty(t, comparison.Winner)
}

func TestAggregator_ClassifiesOnlyTheLastAttemptsFailureReason(t *testing.T) {
	a := New()
	// Three retries within one task execution: only the last attempt's
	// outcome should count toward a failure category, not every retry.
	a.Add("model-a", domain.TaskExecutionResult{
		TaskID:  "task-1",
		Success: false,
		Attempts: []domain.ExecutionAttempt{
			{Success: false, FailureReasons: []string{"compile error: syntax"}},
			{Success: false, FailureReasons: []string{"test failure: expected 5 got 4"}},
			{Success: false, FailureReasons: []string{"malformed response: no code block"}},
		},
	})
	a.Add("model-a", domain.TaskExecutionResult{
		TaskID:  "task-2",
		Success: false,
		Attempts: []domain.ExecutionAttempt{
			{Success: false, FailureReasons: []string{"LLM call failed"}},
			{Success: false, FailureReasons: []string{"compile error: unbalanced braces"}},
		},
	})

	summary := a.Finalize()
	m := summary.Models["model-a"]
	assert.Equal(t, 1, m.CompileFailures, "only task-2's last attempt (a compile failure) should count")
	assert.Equal(t, 0, m.TestFailures, "task-1's earlier test failure was superseded by its last attempt")
	assert.Equal(t, 1, m.MalformedFailures)
}
