// Package aggregator implements spec.md §4.4/§4.5: per-model and per-task
// rollups over completed task executions, plus tie-aware cross-model
// comparisons.
package aggregator

import (
	"sort"
	"strings"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// ModelStats is the per-variant rollup, keyed by variant DisplayID.
type ModelStats struct {
	VariantID            string
	TasksPassed          int
	TasksFailed          int
	TotalScore           float64
	AvgScore             float64
	TotalAttempts        int
	AvgAttempts          float64
	PassedOnAttempt1     int
	PassedOnAttempt2     int
	CompileFailures      int
	TestFailures         int
	MalformedFailures    int
	TotalPromptTokens    int
	TotalCompletionTokens int
	TotalCost            float64
	TotalDurationSeconds float64
}

// TaskStats is the per-task rollup across every variant that attempted it.
type TaskStats struct {
	TaskID        string
	ModelsPassed  []string
	ModelsFailed  []string
	AvgScore      float64
	BestScore     float64
	BestModel     string
	totalScore    float64
	attemptsCount int
}

// Summary is the final aggregate report.
type Summary struct {
	Models        map[string]*ModelStats
	Tasks         map[string]*TaskStats
	TotalTasks    int
	PassRateAtt1  float64
	PassRateAtt2  float64
	PassCountAtt1 int
	PassCountAtt2 int
}

// Aggregator accumulates TaskExecutionResults and ParallelTaskResults into
// per-model/per-task rollups. Not safe for concurrent Add calls; callers
// serialize writes (e.g. the orchestrator's single result-consumer goroutine).
type Aggregator struct {
	models    map[string]*ModelStats
	tasks     map[string]*TaskStats
	modelSeen map[string][]float64 // variantID -> per-call attempt count, for AvgAttempts
}

// New constructs an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		models:    map[string]*ModelStats{},
		tasks:     map[string]*TaskStats{},
		modelSeen: map[string][]float64{},
	}
}

func (a *Aggregator) modelFor(variantID string) *ModelStats {
	m, ok := a.models[variantID]
	if !ok {
		m = &ModelStats{VariantID: variantID}
		a.models[variantID] = m
	}
	return m
}

func (a *Aggregator) taskFor(taskID string) *TaskStats {
	t, ok := a.tasks[taskID]
	if !ok {
		t = &TaskStats{TaskID: taskID}
		a.tasks[taskID] = t
	}
	return t
}

// Add records one (task, variant) execution result.
func (a *Aggregator) Add(variantID string, result domain.TaskExecutionResult) {
	m := a.modelFor(variantID)
	t := a.taskFor(result.TaskID)

	attempts := len(result.Attempts)
	m.TotalAttempts += attempts
	a.modelSeen[variantID] = append(a.modelSeen[variantID], float64(attempts))

	for _, att := range result.Attempts {
		m.TotalPromptTokens += att.TokensUsed
		m.TotalCost += att.Cost
	}
	// Only the last attempt's outcome determines the task's failure category
	// (spec.md §4.5); earlier retries that failed differently don't count.
	if n := len(result.Attempts); n > 0 {
		if last := result.Attempts[n-1]; !last.Success {
			classifyFailure(m, last.FailureReasons)
		}
	}

	if result.Success {
		m.TasksPassed++
		t.ModelsPassed = append(t.ModelsPassed, variantID)
		switch result.PassedAttemptNumber {
		case 1:
			m.PassedOnAttempt1++
		case 2:
			m.PassedOnAttempt2++
		}
	} else {
		m.TasksFailed++
		t.ModelsFailed = append(t.ModelsFailed, variantID)
	}

	m.TotalScore += result.FinalScore
	m.TotalDurationSeconds += result.TotalDuration.Seconds()

	t.totalScore += result.FinalScore
	t.attemptsCount++
	if result.FinalScore > t.BestScore || t.BestModel == "" {
		t.BestScore = result.FinalScore
		t.BestModel = variantID
	}
}

// classifyFailure counts one failed task in at most one category, checked in
// order: malformed (including "LLM call failed"), then test, then compile.
func classifyFailure(m *ModelStats, reasons []string) {
	has := func(subs ...string) bool {
		for _, r := range reasons {
			lr := strings.ToLower(r)
			for _, s := range subs {
				if strings.Contains(lr, s) {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("malformed", "extract", "llm call failed"):
		m.MalformedFailures++
	case has("test"):
		m.TestFailures++
	case has("compile"):
		m.CompileFailures++
	}
}

// AddParallelTaskResult records every model result within a fanned-out task.
func (a *Aggregator) AddParallelTaskResult(r domain.ParallelTaskResult) {
	for variantID, execResult := range r.ModelResults {
		a.Add(variantID, execResult)
	}
}

// Finalize computes derived averages and returns the immutable Summary.
// Idempotent: calling it multiple times recomputes from the same raw totals.
func (a *Aggregator) Finalize() Summary {
	summary := Summary{Models: map[string]*ModelStats{}, Tasks: map[string]*TaskStats{}}

	var passAtt1, passAtt2, total int
	for id, m := range a.models {
		copyM := *m
		n := len(a.modelSeen[id])
		if n > 0 {
			sum := 0.0
			for _, v := range a.modelSeen[id] {
				sum += v
			}
			copyM.AvgAttempts = sum / float64(n)
		}
		tasksTotal := copyM.TasksPassed + copyM.TasksFailed
		if tasksTotal > 0 {
			copyM.AvgScore = copyM.TotalScore / float64(tasksTotal)
		}
		summary.Models[id] = &copyM
		passAtt1 += copyM.PassedOnAttempt1
		passAtt2 += copyM.PassedOnAttempt1 + copyM.PassedOnAttempt2
		total += tasksTotal
	}

	for id, t := range a.tasks {
		copyT := *t
		if t.attemptsCount > 0 {
			copyT.AvgScore = t.totalScore / float64(t.attemptsCount)
		}
		summary.Tasks[id] = &copyT
	}

	summary.TotalTasks = total
	summary.PassCountAtt1 = passAtt1
	summary.PassCountAtt2 = passAtt2
	if total > 0 {
		summary.PassRateAtt1 = float64(passAtt1) / float64(total)
		summary.PassRateAtt2 = float64(passAtt2) / float64(total)
	}
	return summary
}

// BuildTaskComparison computes spec.md §4.4's dense-ranked, tie-aware
// cross-model comparison for one task's results.
func BuildTaskComparison(results map[string]domain.TaskExecutionResult) domain.Comparison {
	if len(results) == 0 {
		return domain.Comparison{}
	}

	type scored struct {
		variantID string
		score     float64
		passed    bool
	}
	rows := make([]scored, 0, len(results))
	var sum float64
	for variantID, r := range results {
		rows = append(rows, scored{variantID: variantID, score: r.FinalScore, passed: r.Success})
		sum += r.FinalScore
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].variantID < rows[j].variantID
	})

	comparison := domain.Comparison{
		AvgScore: sum / float64(len(rows)),
	}

	rank := 0
	var prevScore float64
	hasPrev := false
	for _, row := range rows {
		if !hasPrev || row.score != prevScore {
			rank++
			prevScore = row.score
			hasPrev = true
		}
		comparison.Ranking = append(comparison.Ranking, domain.RankEntry{VariantID: row.variantID, Score: row.score, Rank: rank})
		if row.passed {
			comparison.PassingModels = append(comparison.PassingModels, row.variantID)
		} else {
			comparison.FailingModels = append(comparison.FailingModels, row.variantID)
		}
	}

	comparison.BestScore = rows[0].score
	if comparison.BestScore > 0 {
		tied := 0
		for _, row := range rows {
			if row.score == comparison.BestScore {
				tied++
			}
		}
		if tied == 1 {
			comparison.Winner = rows[0].variantID
		}
	}

	return comparison
}
