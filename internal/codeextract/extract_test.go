package codeextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_SingleFencedBlock(t *testing.T) {
	text := "Here is the solution:\n```go\nfunc Solve() int { return 42 }\n```\nLet me know if you need changes."
	code, confidence := Extractor{}.Extract(text)
	assert.Equal(t, "func Solve() int { return 42 }", code)
	assert.Equal(t, 1.0, confidence)
}

func TestExtract_MultipleFencedBlocksUsesLargest(t *testing.T) {
	text := "```\nshort\n```\nsome prose\n```go\nfunc Solve() int {\n    return 42\n}\n```"
	code, confidence := Extractor{}.Extract(text)
	assert.Contains(t, code, "func Solve")
	assert.Equal(t, 0.7, confidence)
}

func TestExtract_NoFencedBlockFallsBackToWholeText(t *testing.T) {
	text := "func Solve() int { return 42 }"
	code, confidence := Extractor{}.Extract(text)
	assert.Equal(t, text, code)
	assert.Equal(t, 0.3, confidence)
}

func TestExtract_EmptyTextYieldsZeroConfidence(t *testing.T) {
	code, confidence := Extractor{}.Extract("   \n\t  ")
	assert.Equal(t, "", code)
	assert.Equal(t, 0.0, confidence)
}
