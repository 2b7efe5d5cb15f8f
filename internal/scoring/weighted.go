package scoring

import (
	"context"
	"errors"
	"fmt"

	"proctoring-engine/internal/session/domain"
)

// Weights parameterizes WeightedPolicy. Field tags match the YAML policy file.
type Weights struct {
	Severity            map[domain.Severity]int `yaml:"severity"`
	FlaggedVerification int                     `yaml:"flagged_verification"`
	Cap                 int                     `yaml:"cap"`
	RejectAbove         int                     `yaml:"reject_above"`
	ReviewAbove         int                     `yaml:"review_above"`
}

// DefaultWeights returns the stock policy: 5/15/30/50 points per low/medium/high/critical violation,
// 10 per failed or multiple-face verification, capped at 100; reject above 70, review above 40.
func DefaultWeights() Weights {
	return Weights{
		Severity: map[domain.Severity]int{
			domain.SeverityLow:      5,
			domain.SeverityMedium:   15,
			domain.SeverityHigh:     30,
			domain.SeverityCritical: 50,
		},
		FlaggedVerification: 10,
		Cap:                 100,
		RejectAbove:         70,
		ReviewAbove:         40,
	}
}

// Validate checks that the weights describe a usable policy.
func (w Weights) Validate() error {
	for _, sev := range severityOrder {
		p, ok := w.Severity[sev]
		if !ok {
			return fmt.Errorf("scoring: missing weight for severity %q", sev)
		}
		if p < 0 {
			return fmt.Errorf("scoring: negative weight for severity %q", sev)
		}
	}
	for sev := range w.Severity {
		if !sev.Valid() {
			return fmt.Errorf("scoring: unknown severity %q", sev)
		}
	}
	if w.FlaggedVerification < 0 {
		return errors.New("scoring: flagged_verification must not be negative")
	}
	if w.Cap <= 0 {
		return errors.New("scoring: cap must be positive")
	}
	if w.ReviewAbove < 0 || w.ReviewAbove >= w.RejectAbove {
		return errors.New("scoring: need 0 <= review_above < reject_above")
	}
	if w.RejectAbove >= w.Cap {
		return errors.New("scoring: reject_above must be below cap")
	}
	return nil
}

// WeightedPolicy is the default additive policy.
type WeightedPolicy struct {
	w Weights
}

// NewWeightedPolicy validates w and returns the policy.
func NewWeightedPolicy(w Weights) (*WeightedPolicy, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &WeightedPolicy{w: w}, nil
}

// DefaultPolicy returns a WeightedPolicy with DefaultWeights.
func DefaultPolicy() *WeightedPolicy {
	return &WeightedPolicy{w: DefaultWeights()}
}

// Score returns the capped additive score for in.
func (p *WeightedPolicy) Score(in Input) int {
	score := 0
	for _, v := range in.Violations {
		score += p.w.Severity[v.Severity]
	}
	for _, r := range in.Verifications {
		if flagged(r.Result) {
			score += p.w.FlaggedVerification
		}
	}
	if score > p.w.Cap {
		score = p.w.Cap
	}
	return score
}

// Recommend maps a score to a recommendation using the policy thresholds.
func (p *WeightedPolicy) Recommend(score int) domain.Recommendation {
	switch {
	case score > p.w.RejectAbove:
		return domain.RecommendationReject
	case score > p.w.ReviewAbove:
		return domain.RecommendationReview
	default:
		return domain.RecommendationAccept
	}
}

// Assess never fails.
func (p *WeightedPolicy) Assess(_ context.Context, in Input) (Assessment, error) {
	score := p.Score(in)
	return Assessment{
		RiskScore:       score,
		Recommendation:  p.Recommend(score),
		TotalViolations: len(in.Violations),
		Notes:           notes(in),
	}, nil
}
