// Package codeextract pulls source code out of an LLM's free-form response
// text and scores how confident that extraction is, per spec.md §4.2.
package codeextract

import (
	"regexp"
	"strings"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")

// Extractor is the default domain.CodeExtractor: it prefers the largest
// fenced code block in the response, falling back to the whole trimmed text.
type Extractor struct{}

var _ domain.CodeExtractor = Extractor{}

// Extract returns the best-guess code and a confidence score in [0, 1]:
//   - 1.0 when exactly one fenced block is found and it is non-empty.
//   - 0.7 when multiple fenced blocks are found (the largest is used).
//   - 0.3 when no fenced block is found (the whole trimmed text is used).
//   - 0.0 when the response is empty after trimming.
func (Extractor) Extract(text string) (string, float64) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", 0
	}

	matches := fencedBlock.FindAllStringSubmatch(trimmed, -1)
	if len(matches) == 0 {
		return trimmed, 0.3
	}

	best := ""
	for _, m := range matches {
		candidate := strings.TrimSpace(m[1])
		if len(candidate) > len(best) {
			best = candidate
		}
	}
	if best == "" {
		return trimmed, 0.3
	}
	if len(matches) == 1 {
		return best, 1.0
	}
	return best, 0.7
}
