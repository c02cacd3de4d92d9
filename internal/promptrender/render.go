// Package promptrender provides a minimal domain.TemplateRenderer: real
// prompt-template rendering (file-based templates, partials, includes) is
// out of scope for this harness core, but the orchestrator needs something
// concrete to drive its generate/repair attempt loop.
package promptrender

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// TextRenderer renders a task's PromptTemplate/FixTemplate using Go's
// strings.Replacer-style "{{field}}" substitution rather than a full
// templating engine.
type TextRenderer struct{}

var _ domain.TemplateRenderer = TextRenderer{}

// RenderPrompt substitutes {{instructions}} and {{target_file}} in the
// context's PromptTemplate (or PromptOverride, when set).
func (TextRenderer) RenderPrompt(ctx domain.ExecutionContext) (string, error) {
	tmpl := ctx.PromptTemplate
	if ctx.PromptOverride != "" {
		tmpl = ctx.PromptOverride
	}
	if tmpl == "" {
		tmpl = "{{instructions}}"
	}
	r := strings.NewReplacer(
		"{{instructions}}", ctx.Instructions,
		"{{target_file}}", ctx.TargetFileName,
		"{{task_type}}", ctx.TaskType,
	)
	return r.Replace(tmpl), nil
}

// RenderFixPrompt substitutes the same fields as RenderPrompt plus
// {{previous_code}} and {{failure_reasons}} in the context's FixTemplate.
func (TextRenderer) RenderFixPrompt(ctx domain.ExecutionContext, previousCode string, failureReasons []string) (string, error) {
	tmpl := ctx.FixTemplate
	if tmpl == "" {
		tmpl = "The previous attempt failed:\n{{failure_reasons}}\n\nPrevious code:\n{{previous_code}}\n\n{{instructions}}"
	}
	r := strings.NewReplacer(
		"{{instructions}}", ctx.Instructions,
		"{{target_file}}", ctx.TargetFileName,
		"{{task_type}}", ctx.TaskType,
		"{{previous_code}}", previousCode,
		"{{failure_reasons}}", formatReasons(failureReasons),
	)
	return r.Replace(tmpl), nil
}

func formatReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "(no specific reason recorded)"
	}
	var b strings.Builder
	for i, r := range reasons {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return strings.TrimRight(b.String(), "\n")
}
