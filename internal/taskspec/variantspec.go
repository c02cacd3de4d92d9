package taskspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// keyAliases maps the short keys accepted in a variant-spec string to their
// canonical VariantConfig field name, per spec.md §6.
var keyAliases = map[string]string{
	"temp":           "temperature",
	"temperature":    "temperature",
	"max_tokens":     "maxTokens",
	"maxtokens":      "maxTokens",
	"maxTokens":      "maxTokens",
	"tokens":         "maxTokens",
	"sys":            "systemPrompt",
	"system":         "systemPrompt",
	"systemPrompt":   "systemPrompt",
	"prompt":         "systemPrompt",
	"systemprompt":   "systemPrompt",
	"system_prompt":  "systemPrompt",
	"systemPromptName": "systemPrompt",
	"timeout":        "timeout",
	"thinking":       "thinkingBudget",
	"budget":         "thinkingBudget",
	"thinkingBudget": "thinkingBudget",
	"thinkingbudget": "thinkingBudget",
	"thinking_budget": "thinkingBudget",
	"reasoning":       "thinkingBudget",
	"reasoning_budget": "thinkingBudget",
}

// ParseVariantSpec parses a "provider/model" or
// "provider/model@k=v;k=v;..." string into a domain.ModelVariant.
func ParseVariantSpec(spec string) (domain.ModelVariant, error) {
	base, kvPart, hasConfig := strings.Cut(spec, "@")

	provider, model, ok := strings.Cut(base, "/")
	if !ok || provider == "" || model == "" {
		return domain.ModelVariant{}, fmt.Errorf("%w: variant spec %q must be provider/model[@k=v;...]", domain.ErrInvalidArgument, spec)
	}

	variant := domain.ModelVariant{Provider: provider, Model: model}
	if !hasConfig || kvPart == "" {
		return variant, nil
	}

	for _, pair := range strings.Split(kvPart, ";") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return domain.ModelVariant{}, fmt.Errorf("%w: malformed config pair %q in variant spec %q", domain.ErrInvalidArgument, pair, spec)
		}
		canonical, known := keyAliases[k]
		if !known {
			return domain.ModelVariant{}, fmt.Errorf("%w: unknown variant config key %q", domain.ErrInvalidArgument, k)
		}
		if err := applyConfig(&variant.Config, canonical, v); err != nil {
			return domain.ModelVariant{}, fmt.Errorf("variant spec %q: %w", spec, err)
		}
	}
	return variant, nil
}

func applyConfig(cfg *domain.VariantConfig, key, value string) error {
	switch key {
	case "temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid temperature %q", domain.ErrInvalidArgument, value)
		}
		cfg.Temperature = &f
	case "maxTokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: invalid maxTokens %q", domain.ErrInvalidArgument, value)
		}
		cfg.MaxTokens = &n
	case "systemPrompt":
		cfg.SystemPrompt = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: invalid timeout %q", domain.ErrInvalidArgument, value)
		}
		cfg.Timeout = d
	case "thinkingBudget":
		cfg.ThinkingBudget = value
	}
	return nil
}

// EncodeVariantSpec renders a domain.ModelVariant back into its canonical
// "provider/model[@k=v;...]" string; identical to ModelVariant.DisplayID but
// exposed here too since it is the textual counterpart of ParseVariantSpec.
func EncodeVariantSpec(v domain.ModelVariant) string {
	return v.DisplayID()
}
