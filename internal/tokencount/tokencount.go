// Package tokencount estimates token usage for prompts and completions using
// an offline BPE loader, matching the teacher's tiktoken-go wiring so the
// harness never needs network access to count tokens.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var (
	initOnce sync.Once
	encoding *tiktoken.Tiktoken
	initErr  error
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

func encodingFor() (*tiktoken.Tiktoken, error) {
	initOnce.Do(func() {
		encoding, initErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoding, initErr
}

// Estimate returns a best-effort token count for s. If the offline encoder
// cannot be initialized, it falls back to a conservative chars/4 heuristic
// rather than failing the caller, since token estimation here only feeds
// admission-control budgeting, not billing.
func Estimate(s string) int {
	enc, err := encodingFor()
	if err != nil || enc == nil {
		return fallbackEstimate(s)
	}
	return len(enc.Encode(s, nil, nil))
}

func fallbackEstimate(s string) int {
	n := len(s) / 4
	if n < 1 && s != "" {
		n = 1
	}
	return n
}

// EstimatePromptAndCompletion is a convenience for the common two-string case
// (prompt text in, completion text out).
func EstimatePromptAndCompletion(prompt, completion string) (promptTokens, completionTokens int) {
	return Estimate(prompt), Estimate(completion)
}
