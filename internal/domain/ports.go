package domain

import "context"

// Context is a type alias to stdlib context.Context, kept for symmetry with
// the rest of the domain package's naming and to make call sites read as
// domain operations rather than plumbing.
type Context = context.Context

// ProviderAdapter is the external collaborator (§6) consumed by the LLM work
// pool. Implementations talk to a concrete LLM vendor; the pool never
// depends on vendor-specific types.
type ProviderAdapter interface {
	// GenerateCode produces a first-attempt response for the given context.
	GenerateCode(ctx Context, item LLMWorkItem) (LLMResponse, error)
	// GenerateFix produces a repair-prompt response given the previous
	// attempt's extracted code and failure reasons.
	GenerateFix(ctx Context, item LLMWorkItem, previousCode string, failureReasons []string) (LLMResponse, error)
}

// ProviderFactory resolves (provider, model, temperature, maxTokens) to a
// ProviderAdapter instance.
type ProviderFactory interface {
	Adapter(provider, model string, temperature float64, maxTokens int) (ProviderAdapter, error)
}

// CodeExtractor extracts a fenced or inferred code block and a confidence
// score from raw LLM response text. Deterministic; no I/O.
type CodeExtractor interface {
	Extract(text string) (code string, confidence float64)
}

// SandboxProvider is the external collaborator (§6) consumed by the compile
// queue. One logical sandbox machine per queue.
type SandboxProvider interface {
	CompileProject(ctx Context, sandboxName string, project Project) (CompilationResult, error)
	RunTests(ctx Context, sandboxName string, project Project) (TestResult, error)
}

// SandboxFactory resolves a provider name to a SandboxProvider implementation.
type SandboxFactory interface {
	Sandbox(name string) (SandboxProvider, error)
}

// TemplateRenderer is the external collaborator (§6) that turns a task's
// prompt/fix template plus an ExecutionContext (and, for repair prompts, the
// previous attempt's code and failure reasons) into the literal text sent to
// a ProviderAdapter. Real template engines (file-based, Go text/template,
// etc.) are out of scope for this harness core.
type TemplateRenderer interface {
	RenderPrompt(ctx ExecutionContext) (string, error)
	RenderFixPrompt(ctx ExecutionContext, previousCode string, failureReasons []string) (string, error)
}

// Project is the materialized temporary project directory handed to the
// sandbox: a manifest plus the generated source file.
type Project struct {
	ID       string
	Platform string
	Runtime  string
	Dir      string
	FileName string
	Code     string
	TestApp  string
}

// EventKind enumerates the orchestrator's typed event stream.
type EventKind string

const (
	EventTaskStarted     EventKind = "task_started"
	EventLLMStarted      EventKind = "llm_started"
	EventLLMCompleted    EventKind = "llm_completed"
	EventCompileQueued   EventKind = "compile_queued"
	EventCompileStarted  EventKind = "compile_started"
	EventCompileCompleted EventKind = "compile_completed"
	EventResult          EventKind = "result"
	EventTaskCompleted   EventKind = "task_completed"
	EventProgress        EventKind = "progress"
	EventError           EventKind = "error"
)

// Event is one typed notification emitted by the orchestrator.
type Event struct {
	Kind      EventKind
	TaskID    string
	VariantID string
	Attempt   int
	Success   bool
	QueueLen  int
	Err       error
	Progress  *ProgressEvent
	Result    *TaskExecutionResult
}

// ProgressEvent is emitted after each task completes.
type ProgressEvent struct {
	TotalTasks            int
	CompletedTasks        int
	ActiveLLMCalls        int
	CompileQueueLength    int
	Errors                []error
	ElapsedTime           float64 // seconds
	EstimatedTimeRemaining float64 // seconds; 0 when undefined
}

// EventListener receives orchestrator events. A throwing/panicking listener
// must not abort delivery to other listeners; the orchestrator recovers
// around each listener call.
type EventListener func(Event)
