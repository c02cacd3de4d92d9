// Package taskspec loads and validates benchmark task manifests from YAML,
// and parses/encodes the "baseModel@k=v;..." variant-spec string grammar
// described in spec.md §6.
package taskspec

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// rawManifest mirrors domain.TaskManifest's shape for YAML unmarshalling
// plus validator tags; domain.TaskManifest itself stays free of yaml/validate
// struct tags so the domain package has no serialization dependency.
type rawManifest struct {
	ID             string   `yaml:"id" validate:"required"`
	Description    string   `yaml:"description" validate:"required"`
	PromptTemplate string   `yaml:"prompt_template"`
	FixTemplate    string   `yaml:"fix_template"`
	MaxAttempts    int      `yaml:"max_attempts" validate:"gte=0"`
	Expected       rawExpected `yaml:"expected"`
	Metadata       rawMetadata `yaml:"metadata"`
}

type rawExpected struct {
	MustCompile    bool     `yaml:"must_compile"`
	TestApp        string   `yaml:"test_app"`
	MustContain    []string `yaml:"must_contain"`
	MustNotContain []string `yaml:"must_not_contain"`
}

type rawMetadata struct {
	Difficulty      string   `yaml:"difficulty"`
	Category        string   `yaml:"category"`
	Tags            []string `yaml:"tags"`
	EstimatedTokens int      `yaml:"estimated_tokens"`
}

var validate = validator.New()

// ParseManifest parses and validates one YAML task manifest document.
func ParseManifest(data []byte) (domain.TaskManifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.TaskManifest{}, fmt.Errorf("op=taskspec.ParseManifest: %w", err)
	}
	if err := validate.Struct(raw); err != nil {
		return domain.TaskManifest{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	return domain.TaskManifest{
		ID:             raw.ID,
		Description:    raw.Description,
		PromptTemplate: raw.PromptTemplate,
		FixTemplate:    raw.FixTemplate,
		MaxAttempts:    raw.MaxAttempts,
		Expected: domain.TaskExpected{
			MustCompile:    raw.Expected.MustCompile,
			TestApp:        raw.Expected.TestApp,
			MustContain:    raw.Expected.MustContain,
			MustNotContain: raw.Expected.MustNotContain,
		},
		Metadata: domain.TaskMetadata{
			Difficulty:      raw.Metadata.Difficulty,
			Category:        raw.Metadata.Category,
			Tags:            raw.Metadata.Tags,
			EstimatedTokens: raw.Metadata.EstimatedTokens,
		},
	}, nil
}

// ParseManifests parses a YAML document containing a top-level list of manifests.
func ParseManifests(data []byte) ([]domain.TaskManifest, error) {
	var raws []rawManifest
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("op=taskspec.ParseManifests: %w", err)
	}
	out := make([]domain.TaskManifest, 0, len(raws))
	for _, raw := range raws {
		b, err := yaml.Marshal(raw)
		if err != nil {
			return nil, err
		}
		m, err := ParseManifest(b)
		if err != nil {
			return nil, fmt.Errorf("manifest %q: %w", raw.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}
