package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DisplayID returns the canonical "provider/model" id, optionally suffixed
// by "@k=v;k=v;..." with keys sorted so that equivalent configs share one id.
func (v ModelVariant) DisplayID() string {
	base := v.Provider + "/" + v.Model
	kv := v.Config.canonicalPairs()
	if len(kv) == 0 {
		return base
	}
	return base + "@" + strings.Join(kv, ";")
}

// Equal reports whether two variants share the same DisplayID.
func (v ModelVariant) Equal(other ModelVariant) bool {
	return v.DisplayID() == other.DisplayID()
}

func (c VariantConfig) canonicalPairs() []string {
	pairs := map[string]string{}
	if c.Temperature != nil {
		pairs["temperature"] = strconv.FormatFloat(*c.Temperature, 'g', -1, 64)
	}
	if c.MaxTokens != nil {
		pairs["maxTokens"] = strconv.Itoa(*c.MaxTokens)
	}
	if c.SystemPrompt != "" {
		pairs["systemPromptName"] = c.SystemPrompt
	}
	if c.Timeout > 0 {
		pairs["timeout"] = c.Timeout.String()
	}
	if c.ThinkingBudget != "" {
		pairs["thinkingBudget"] = c.ThinkingBudget
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, pairs[k]))
	}
	return out
}
