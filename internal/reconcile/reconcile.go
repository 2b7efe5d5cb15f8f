// Package reconcile matches externally reported identity labels (from a vision pipeline) against a roster
// using a normalize-and-contain heuristic. The first roster entry, in declaration order, that satisfies a
// rule wins; there is no ranking among candidates.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"proctoring-engine/internal/platform/errs"
)

// Mode selects how permissive containment matching is.
type Mode string

const (
	// ModeStrict requires the contained string to be longer than MinContainedLen runes.
	ModeStrict Mode = "strict"
	// ModeLenient accepts any containment, including one-letter labels.
	ModeLenient Mode = "lenient"
)

// MinContainedLen is the strict-mode gate: contained strings must be longer than this.
const MinContainedLen = 2

// DefaultMinConfidence is the recognition confidence below which a detection is ignored.
const DefaultMinConfidence = 0.40

// ParseMode parses a configured mode. Empty means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	default:
		return "", fmt.Errorf("reconcile: unknown mode %q", s)
	}
}

// Rule records which comparison produced a match.
type Rule string

const (
	RuleExact               Rule = "exact"
	RuleRosterContainsLabel Rule = "roster_contains_label"
	RuleLabelContainsRoster Rule = "label_contains_roster"
)

// Outcome is the verdict kind.
type Outcome string

const (
	Matched  Outcome = "matched"
	NotFound Outcome = "not_found"
)

// Reasons attached to NotFound verdicts.
const (
	ReasonEmptyLabel    = "empty label"
	ReasonUnknownLabel  = "unrecognized face"
	ReasonLowConfidence = "confidence below threshold"
	ReasonNoCandidate   = "no roster entry matched"
)

// unknownLabel is what recognizers report for a face they could not name.
const unknownLabel = "unknown"

// Entry is one roster member.
type Entry struct {
	IdentityRef string
	FullName    string
}

// Roster is a read-only, ordered set of entries with names normalized once up front.
type Roster struct {
	entries    []Entry
	normalized []string
}

// NewRoster indexes entries. Order is preserved and decides ties.
func NewRoster(entries []Entry) *Roster {
	r := &Roster{
		entries:    append([]Entry(nil), entries...),
		normalized: make([]string, len(entries)),
	}
	for i, e := range entries {
		r.normalized[i] = Normalize(e.FullName)
	}
	return r
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of the roster in declaration order.
func (r *Roster) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Detection is one reported label. Confidence is optional; nil means the recognizer gave none.
type Detection struct {
	Label      string
	Confidence *float64
}

// Verdict is the result for exactly one Detection.
type Verdict struct {
	Label       string
	Outcome     Outcome
	IdentityRef string
	FullName    string
	RosterIndex int // -1 for NotFound
	Rule        Rule
	Reason      string
	Confidence  *float64
}

// Options configures an Engine.
type Options struct {
	Mode          Mode
	MinConfidence float64
	MaxBatch      int // 0 means unlimited
}

// Engine applies the matching rules. It is stateless and safe for concurrent use.
type Engine struct {
	opts Options
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Mode == "" {
		opts.Mode = ModeStrict
	}
	if opts.Mode != ModeStrict && opts.Mode != ModeLenient {
		return nil, fmt.Errorf("reconcile: unknown mode %q", opts.Mode)
	}
	if math.IsNaN(opts.MinConfidence) || opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("reconcile: min confidence %v outside [0,1]", opts.MinConfidence)
	}
	if opts.MaxBatch < 0 {
		return nil, fmt.Errorf("reconcile: negative max batch")
	}
	return &Engine{opts: opts}, nil
}

// Mode returns the engine's matching mode.
func (e *Engine) Mode() Mode {
	return e.opts.Mode
}

// Normalize lowercases s, trims it and collapses inner whitespace runs to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (e *Engine) containedOK(contained string) bool {
	if e.opts.Mode == ModeLenient {
		return true
	}
	return utf8.RuneCountInString(contained) > MinContainedLen
}

func notFound(d Detection, reason string) Verdict {
	return Verdict{Label: d.Label, Outcome: NotFound, RosterIndex: -1, Reason: reason, Confidence: d.Confidence}
}

// Match returns the verdict for one detection against roster.
// A nil roster has no candidates.
func (e *Engine) Match(roster *Roster, d Detection) Verdict {
	if roster == nil {
		return notFound(d, ReasonNoCandidate)
	}
	label := Normalize(d.Label)
	if label == "" {
		return notFound(d, ReasonEmptyLabel)
	}
	if label == unknownLabel {
		return notFound(d, ReasonUnknownLabel)
	}
	if d.Confidence != nil && (math.IsNaN(*d.Confidence) || *d.Confidence < e.opts.MinConfidence) {
		return notFound(d, ReasonLowConfidence)
	}
	for i, name := range roster.normalized {
		if name == "" {
			continue
		}
		var rule Rule
		switch {
		case name == label:
			rule = RuleExact
		case strings.Contains(name, label) && e.containedOK(label):
			rule = RuleRosterContainsLabel
		case strings.Contains(label, name) && e.containedOK(name):
			rule = RuleLabelContainsRoster
		default:
			continue
		}
		entry := roster.entries[i]
		return Verdict{
			Label:       d.Label,
			Outcome:     Matched,
			IdentityRef: entry.IdentityRef,
			FullName:    entry.FullName,
			RosterIndex: i,
			Rule:        rule,
			Confidence:  d.Confidence,
		}
	}
	return notFound(d, ReasonNoCandidate)
}

// Reconcile returns one verdict per detection, in input order. Batches larger than MaxBatch are rejected.
// Cancellation is checked between labels; on cancel the verdicts computed so far are returned with the
// context error.
func (e *Engine) Reconcile(ctx context.Context, roster *Roster, detections []Detection) ([]Verdict, error) {
	if e.opts.MaxBatch > 0 && len(detections) > e.opts.MaxBatch {
		return nil, errs.Validation(fmt.Sprintf("batch of %d labels exceeds limit %d", len(detections), e.opts.MaxBatch))
	}
	out := make([]Verdict, 0, len(detections))
	for _, d := range detections {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, e.Match(roster, d))
	}
	return out, nil
}
