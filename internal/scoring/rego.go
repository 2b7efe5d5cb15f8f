package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"proctoring-engine/internal/session/domain"
)

const regoQuery = "data.proctoring.scoring.assessment"

// DefaultRegoPolicy reproduces DefaultWeights in Rego. Custom policies must define
// data.proctoring.scoring.assessment as {"risk_score": <0..100>, "recommendation": "accept"|"review"|"reject"}.
const DefaultRegoPolicy = `package proctoring.scoring

weights := {"low": 5, "medium": 15, "high": 30, "critical": 50}

violation_points := sum([weights[v.severity] | some v in input.violations])

flagged := count([r | some r in input.verifications; r.result in {"failed", "multiple_faces"}])

risk_score := min([violation_points + (10 * flagged), 100])

recommendation := "reject" if {
	risk_score > 70
} else := "review" if {
	risk_score > 40
} else := "accept"

assessment := {"risk_score": risk_score, "recommendation": recommendation}
`

// RegoPolicy evaluates a Rego module. Evaluation errors or malformed results fall back to another
// policy so a broken policy never blocks finalization.
type RegoPolicy struct {
	query    rego.PreparedEvalQuery
	fallback Policy
}

// NewRegoPolicy compiles module. fallback nil means DefaultPolicy().
func NewRegoPolicy(ctx context.Context, module string, fallback Policy) (*RegoPolicy, error) {
	compiler, err := ast.CompileModules(map[string]string{"scoring.rego": module})
	if err != nil {
		return nil, fmt.Errorf("scoring: compile rego policy: %w", err)
	}
	pq, err := rego.New(rego.Query(regoQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("scoring: prepare rego policy: %w", err)
	}
	if fallback == nil {
		fallback = DefaultPolicy()
	}
	return &RegoPolicy{query: pq, fallback: fallback}, nil
}

// LoadRegoPolicy reads and compiles the module at path.
func LoadRegoPolicy(ctx context.Context, path string, fallback Policy) (*RegoPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scoring: read rego policy: %w", err)
	}
	return NewRegoPolicy(ctx, string(data), fallback)
}

func regoInput(in Input) map[string]interface{} {
	violations := make([]map[string]interface{}, 0, len(in.Violations))
	for _, v := range in.Violations {
		violations = append(violations, map[string]interface{}{
			"type":     v.Type,
			"severity": string(v.Severity),
		})
	}
	verifications := make([]map[string]interface{}, 0, len(in.Verifications))
	for _, r := range in.Verifications {
		verifications = append(verifications, map[string]interface{}{
			"result":     string(r.Result),
			"confidence": r.Confidence,
		})
	}
	return map[string]interface{}{
		"violations":         violations,
		"verifications":      verifications,
		"terminated":         in.Terminated,
		"termination_reason": in.TerminationReason,
	}
}

// Assess evaluates the policy and falls back on any failure.
func (p *RegoPolicy) Assess(ctx context.Context, in Input) (Assessment, error) {
	a, err := p.eval(ctx, in)
	if err != nil {
		log.Printf("scoring: rego evaluation failed: %v, using fallback policy", err)
		return p.fallback.Assess(ctx, in)
	}
	return a, nil
}

func (p *RegoPolicy) eval(ctx context.Context, in Input) (Assessment, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(regoInput(in)))
	if err != nil {
		return Assessment{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Assessment{}, fmt.Errorf("query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Assessment{}, fmt.Errorf("assessment is %T, want object", rs[0].Expressions[0].Value)
	}
	score, err := toInt(obj["risk_score"])
	if err != nil {
		return Assessment{}, fmt.Errorf("risk_score: %w", err)
	}
	if score < 0 || score > 100 {
		return Assessment{}, fmt.Errorf("risk_score %d out of range", score)
	}
	recStr, _ := obj["recommendation"].(string)
	rec := domain.Recommendation(recStr)
	if !rec.Valid() {
		return Assessment{}, fmt.Errorf("invalid recommendation %q", recStr)
	}
	return Assessment{
		RiskScore:       score,
		Recommendation:  rec,
		TotalViolations: len(in.Violations),
		Notes:           notes(in),
	}, nil
}

// HealthCheck evaluates the compiled policy against an empty session.
func (p *RegoPolicy) HealthCheck(ctx context.Context) error {
	_, err := p.eval(ctx, Input{})
	return err
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, err
			}
			return int(f), nil
		}
		return int(i), nil
	case float64:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
