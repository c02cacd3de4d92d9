package domain

import "time"

// TaskExpected declares the success criteria for a benchmark task.
type TaskExpected struct {
	// MustCompile is true when the generated artifact must compile to be
	// considered for scoring at all.
	MustCompile bool
	// TestApp, when non-empty, names the test application the sandbox must
	// run against the compiled artifact.
	TestApp string
	// MustContain lists substrings that must all appear in the generated code.
	MustContain []string
	// MustNotContain lists substrings that must not appear in the generated code.
	MustNotContain []string
}

// TaskMetadata carries fields used only for reporting; they never affect
// scoring or control flow.
type TaskMetadata struct {
	Difficulty      string
	Category        string
	Tags            []string
	EstimatedTokens int
}

// TaskManifest is the immutable declarative description of one benchmark item.
type TaskManifest struct {
	ID             string
	Description    string
	PromptTemplate string
	FixTemplate    string
	MaxAttempts    int
	Expected       TaskExpected
	Metadata       TaskMetadata
}

// VariantConfig overlays recognized keys on provider/model defaults.
type VariantConfig struct {
	Temperature    *float64
	MaxTokens      *int
	SystemPrompt   string // named or inline
	Timeout        time.Duration
	ThinkingBudget string // numeric string or discrete effort tag, e.g. "high"
}

// ModelVariant is a (provider, model, config) triple identified by a
// deterministic DisplayID (provider/model optionally suffixed by @k=v;...
// with keys sorted). Two variants are equal iff their DisplayIDs are equal.
type ModelVariant struct {
	Provider string
	Model    string
	Config   VariantConfig
}

// ExecutionContext is a per (task, variant) frozen snapshot built once before
// the attempt loop and never mutated afterwards.
type ExecutionContext struct {
	Manifest         TaskManifest
	TaskType         string
	Instructions     string
	TargetFileName   string
	PromptTemplate   string
	FixTemplate      string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	SandboxProvider  string
	SandboxName      string
	OutputDir        string
	Debug            bool
	PromptOverride   string
	Metadata         TaskMetadata
}

// LLMWorkItem is a unit of work submitted to the LLM work pool.
type LLMWorkItem struct {
	ID                string
	Manifest          TaskManifest
	Provider          string
	Model             string
	AttemptNumber     int
	PreviousCode      string
	PreviousReasons   []string
	Priority          int
	CreatedAt         time.Time
	Context           ExecutionContext
}

// Usage reports token accounting for one LLM call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
}

// LLMResponse is the provider adapter's raw reply.
type LLMResponse struct {
	Content      string
	Model        string
	Usage        Usage
	Duration     time.Duration
	FinishReason string // "stop", "length", "error", ...
}

// LLMWorkResult is the outcome of one LLM work-pool submission.
//
// ReadyForCompile is true iff Success and the code extractor's confidence on
// the response text exceeded 0.5; callers may still proceed when false since
// the flag is advisory only.
type LLMWorkResult struct {
	WorkItemID      string
	Success         bool
	Code            string
	LLMResponse     *LLMResponse
	Error           error
	Duration        time.Duration
	ReadyForCompile bool
}

// CompileWorkItem is a unit of work submitted to a compile queue.
type CompileWorkItem struct {
	ID            string
	LLMWorkItemID string
	Code          string
	Context       ExecutionContext
	AttemptNumber int
	LLMResponse   *LLMResponse
	CreatedAt     time.Time
}

// CompileError describes one compiler diagnostic.
type CompileError struct {
	Code     string
	Message  string
	File     string
	Line     int
	Column   int
	Severity string
}

// CompilationResult is the sandbox's compile outcome.
type CompilationResult struct {
	Success      bool
	Errors       []CompileError
	Warnings     []string
	Output       string
	Duration     time.Duration
	ArtifactPath string
}

// TestCaseResult is one individual test's outcome.
type TestCaseResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string
}

// TestResult is the sandbox's test-run outcome.
type TestResult struct {
	Success     bool
	TotalTests  int
	PassedTests int
	FailedTests int
	Duration    time.Duration
	Results     []TestCaseResult
	Output      string
}

// CompileWorkResult is the outcome of one compile-queue submission.
type CompileWorkResult struct {
	WorkItemID        string
	CompilationResult CompilationResult
	TestResult        *TestResult
	Duration          time.Duration
	CompileDuration   time.Duration
	TestDuration      time.Duration
}

// ExecutionAttempt is the append-only record for one generate -> compile ->
// (test) -> score cycle within a task-for-variant execution.
type ExecutionAttempt struct {
	AttemptNumber    int
	StartTime        time.Time
	EndTime          time.Time
	Prompt           string
	LLMResponse      *LLMResponse
	ExtractedCode    string
	CodeLanguage     string
	Success          bool
	Score            float64
	FailureReasons   []string
	TokensUsed       int
	Cost             float64
	Duration         time.Duration
	LLMDuration      time.Duration
	CompileDuration  time.Duration
	TestDuration     time.Duration
}

// TaskExecutionResult is the full record of one (task, variant) execution.
type TaskExecutionResult struct {
	TaskID             string
	ExecutionID        string
	Context            ExecutionContext
	Attempts           []ExecutionAttempt
	Success            bool
	FinalCode          string
	FinalScore         float64
	TotalTokens        int
	TotalCost          float64
	TotalDuration      time.Duration
	PassedAttemptNumber int
	SuccessRate        float64
	ExecutedAt         time.Time
	ExecutedBy         string
	Environment        string
}

// Comparison is a per-task cross-model roll-up.
type Comparison struct {
	BestScore      float64
	AvgScore       float64
	PassingModels  []string
	FailingModels  []string
	Ranking        []RankEntry
	Winner         string // empty when undefined (tie or all-zero)
}

// RankEntry is one row of a Comparison's dense ranking.
type RankEntry struct {
	VariantID string
	Score     float64
	Rank      int
}

// ParallelTaskResult is the outcome of fanning one task out across variants.
type ParallelTaskResult struct {
	TaskID         string
	ModelResults   map[string]TaskExecutionResult
	Failures       map[string]error
	PartialSuccess bool
	Comparison     Comparison
	Duration       time.Duration
}

// RateLease grants one in-flight call against a provider's budgets; owned by
// the acquirer until Release is called.
type RateLease struct {
	ID              uint64
	Provider        string
	AcquiredAt      time.Time
	EstimatedTokens int
}
