package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// MockAdapter is a deterministic, in-process stand-in for a real model
// provider. Real adapters (Anthropic, OpenAI, Gemini, OpenRouter, Azure...)
// are out of scope for this harness core; MockAdapter exists so the
// llmpool/orchestrator can be exercised and tested without network access.
type MockAdapter struct {
	Provider string
	Model    string

	// Generate, when set, overrides the default canned response for
	// GenerateCode/GenerateFix, letting tests script specific behavior.
	Generate func(ctx context.Context, item domain.LLMWorkItem, isFix bool) (domain.LLMResponse, error)
}

var _ domain.ProviderAdapter = (*MockAdapter)(nil)

// GenerateCode returns a canned, deterministic response unless Generate is set.
func (m *MockAdapter) GenerateCode(ctx context.Context, item domain.LLMWorkItem) (domain.LLMResponse, error) {
	if m.Generate != nil {
		return m.Generate(ctx, item, false)
	}
	return m.canned(item), nil
}

// GenerateFix returns a canned, deterministic repair response unless Generate is set.
func (m *MockAdapter) GenerateFix(ctx context.Context, item domain.LLMWorkItem, previousCode string, failureReasons []string) (domain.LLMResponse, error) {
	if m.Generate != nil {
		return m.Generate(ctx, item, true)
	}
	return m.canned(item), nil
}

func (m *MockAdapter) canned(item domain.LLMWorkItem) domain.LLMResponse {
	code := fmt.Sprintf("```\n// generated for task %s by %s/%s\nfunc Solve() {}\n```", item.Manifest.ID, m.Provider, m.Model)
	return domain.LLMResponse{
		Content:      code,
		Model:        m.Model,
		Usage:        domain.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		Duration:     10 * time.Millisecond,
		FinishReason: "stop",
	}
}

// MockFactory constructs MockAdapters on demand; it is the
// domain.ProviderFactory implementation that cmd/bench wires in.
type MockFactory struct{}

var _ domain.ProviderFactory = MockFactory{}

// Adapter returns a MockAdapter for provider/model; temperature and maxTokens
// are accepted for interface conformance but do not affect the canned output.
func (MockFactory) Adapter(providerName, model string, temperature float64, maxTokens int) (domain.ProviderAdapter, error) {
	return &MockAdapter{Provider: providerName, Model: model}, nil
}
