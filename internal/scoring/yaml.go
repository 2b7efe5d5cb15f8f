package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"proctoring-engine/internal/session/domain"
)

// ParseWeights decodes a YAML policy document on top of DefaultWeights. Keys that are not set keep
// their default; unknown keys are an error.
//
//	severity:
//	  critical: 60
//	flagged_verification: 10
//	reject_above: 70
func ParseWeights(data []byte) (Weights, error) {
	w := DefaultWeights()
	overrides := struct {
		Severity            map[string]int `yaml:"severity"`
		FlaggedVerification *int           `yaml:"flagged_verification"`
		Cap                 *int           `yaml:"cap"`
		RejectAbove         *int           `yaml:"reject_above"`
		ReviewAbove         *int           `yaml:"review_above"`
	}{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		return Weights{}, fmt.Errorf("scoring: parse policy: %w", err)
	}
	for sev, points := range overrides.Severity {
		w.Severity[severityKey(sev)] = points
	}
	if overrides.FlaggedVerification != nil {
		w.FlaggedVerification = *overrides.FlaggedVerification
	}
	if overrides.Cap != nil {
		w.Cap = *overrides.Cap
	}
	if overrides.RejectAbove != nil {
		w.RejectAbove = *overrides.RejectAbove
	}
	if overrides.ReviewAbove != nil {
		w.ReviewAbove = *overrides.ReviewAbove
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// LoadWeights reads and parses the YAML policy file at path.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("scoring: read policy: %w", err)
	}
	return ParseWeights(data)
}

func severityKey(s string) domain.Severity {
	return domain.Severity(strings.ToLower(strings.TrimSpace(s)))
}
