package pattern

import (
	"fmt"
	"sort"
	"strings"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
)

// Signal strengths for the individual match criteria.
const (
	signalExactName   = 1.0
	signalContainName = 0.8
	signalTokenBase   = 0.5
	signalTokenSpan   = 0.3
	signalHint        = 0.7
	signalSamples     = 0.6

	// sampleThreshold is the share of samples that must match a rule's
	// sample pattern for the sample signal to count.
	sampleThreshold = 0.8

	// corroboration is added once per additional criterion that agrees.
	corroboration = 0.1

	// contradiction scales the evidence when samples exist and mostly fail
	// the rule's sample pattern.
	contradiction = 0.7

	// MinEvidence is the evidence below which a rule does not fire.
	MinEvidence = 0.3
)

// WeightSource supplies learned per-rule adjustment factors.
type WeightSource interface {
	RuleFactor(ruleID string) float64
}

type neutralWeights struct{}

func (neutralWeights) RuleFactor(string) float64 { return 1 }

// Matcher produces pattern candidates. It only reads the rule table and
// the weight source, so one Matcher may serve concurrent requests.
type Matcher struct {
	table   *Table
	weights WeightSource
}

// NewMatcher creates a matcher. A nil weight source uses neutral factors.
func NewMatcher(table *Table, weights WeightSource) *Matcher {
	if weights == nil {
		weights = neutralWeights{}
	}
	if table == nil {
		table = &Table{}
	}
	return &Matcher{table: table, weights: weights}
}

// Table returns the matcher's rule table.
func (m *Matcher) Table() *Table { return m.table }

type scored struct {
	candidate mm.MappingCandidate
	order     int
}

// Match returns the pattern candidates for fc against a target resource
// type, one per target path, ordered by confidence then rule registration
// order. Identical inputs and weights always give identical output.
func (m *Matcher) Match(fc field.Context, resource string) []mm.MappingCandidate {
	best := make(map[string]*scored)
	var order []string

	for i, r := range m.table.rules {
		if r.Resource != resource && r.Resource != "*" {
			continue
		}
		evidence, why := r.evidence(fc)
		if evidence < MinEvidence {
			continue
		}
		factor := m.weights.RuleFactor(r.ID)
		conf := mm.Clamp01(r.Weight * evidence * factor)

		c := mm.MappingCandidate{
			TargetPath: r.Target,
			Transform:  r.Transform,
			Expression: r.Expression,
			Confidence: conf,
			Rationale:  rationale(r, why),
			Origin:     mm.Origin{Kind: mm.OriginPattern, Source: r.ID},
		}
		if prev, ok := best[r.Target]; ok {
			if conf > prev.candidate.Confidence {
				prev.candidate = c
				prev.order = i
			}
			continue
		}
		best[r.Target] = &scored{candidate: c, order: i}
		order = append(order, r.Target)
	}

	out := make([]*scored, 0, len(order))
	for _, path := range order {
		out = append(out, best[path])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].candidate.Confidence != out[j].candidate.Confidence {
			return out[i].candidate.Confidence > out[j].candidate.Confidence
		}
		return out[i].order < out[j].order
	})

	candidates := make([]mm.MappingCandidate, len(out))
	for i, s := range out {
		candidates[i] = s.candidate
	}
	return candidates
}

// evidence combines the rule's criteria into a single score in [0,1] and
// reports which criteria fired.
func (r *Rule) evidence(fc field.Context) (float64, []string) {
	var signals []float64
	var why []string

	if s, w := r.nameSignal(fc); s > 0 {
		signals = append(signals, s)
		why = append(why, w)
	}

	samples := fc.Samples()
	rate := field.MatchRate(r.sampleRe, samples)
	if r.sampleRe != nil && rate >= sampleThreshold {
		signals = append(signals, signalSamples*rate)
		why = append(why, fmt.Sprintf("%.0f%% of samples match", rate*100))
	}

	if h := string(fc.Hint()); h != "" {
		for _, rh := range r.Hints {
			if strings.EqualFold(rh, h) {
				signals = append(signals, signalHint)
				why = append(why, "hint "+h)
				break
			}
		}
	}

	if len(signals) == 0 {
		return 0, nil
	}

	top := 0.0
	for _, s := range signals {
		if s > top {
			top = s
		}
	}
	ev := top + corroboration*float64(len(signals)-1)
	if r.sampleRe != nil && len(samples) > 0 && rate < 0.5 {
		ev *= contradiction
		why = append(why, "samples disagree")
	}
	if ev > 1 {
		ev = 1
	}
	return ev, why
}

func (r *Rule) nameSignal(fc field.Context) (float64, string) {
	name := fc.Normalized()
	if name == "" {
		return 0, ""
	}

	best, why := 0.0, ""
	for _, n := range r.names {
		switch {
		case n == name:
			return signalExactName, "name " + name
		case len(n) >= 3 && strings.Contains(name, n), len(name) >= 3 && strings.Contains(n, name):
			if signalContainName > best {
				best, why = signalContainName, "name contains "+n
			}
		}
	}

	if len(r.tokens) > 0 {
		overlap := 0
		for _, tok := range fc.Tokens() {
			if _, ok := r.tokens[tok]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			ratio := float64(overlap) / float64(len(r.tokens))
			if ratio > 1 {
				ratio = 1
			}
			if s := signalTokenBase + signalTokenSpan*ratio; s > best {
				best, why = s, fmt.Sprintf("%d shared name tokens", overlap)
			}
		}
	}
	return best, why
}

func rationale(r *Rule, why []string) string {
	base := r.Rationale
	if base == "" {
		base = "rule " + r.ID
	}
	if len(why) == 0 {
		return base
	}
	return base + " (" + strings.Join(why, ", ") + ")"
}
