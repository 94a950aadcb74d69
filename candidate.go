package mapmaster

import "fmt"

// OriginKind identifies which producer proposed a mapping candidate.
type OriginKind string

const (
	// OriginPattern marks candidates produced by an explicit pattern rule.
	OriginPattern OriginKind = "pattern"
	// OriginAI marks candidates returned by an external suggestion provider.
	OriginAI OriginKind = "ai"
	// OriginHistorical marks candidates reused from accepted past decisions.
	OriginHistorical OriginKind = "historical"
)

// Priority orders origin kinds for tie-breaking. Lower ranks first.
func (k OriginKind) Priority() int {
	switch k {
	case OriginPattern:
		return 0
	case OriginAI:
		return 1
	case OriginHistorical:
		return 2
	default:
		return 3
	}
}

// Origin tags a candidate with its producer. Source is the rule id for
// pattern candidates and the provider name otherwise.
type Origin struct {
	Kind   OriginKind `json:"kind"`
	Source string     `json:"source"`
}

// String returns "kind:source".
func (o Origin) String() string {
	return string(o.Kind) + ":" + o.Source
}

// WeightKey returns the learner key the origin's feedback adjusts.
// Pattern origins adjust their rule factor; every other origin adjusts the
// trust score of the provider that produced it.
func (o Origin) WeightKey() string {
	if o.Kind == OriginPattern {
		return "rule:" + o.Source
	}
	if o.Kind == OriginHistorical {
		return "provider:" + string(OriginHistorical)
	}
	return "provider:" + o.Source
}

// Transform describes how a source value becomes the target element value.
type Transform string

const (
	TransformDirect   Transform = "direct"
	TransformTemplate Transform = "template"
	TransformLookup   Transform = "lookup"
	TransformComputed Transform = "computed"
)

// IsValid reports whether t is one of the known transforms.
func (t Transform) IsValid() bool {
	switch t {
	case TransformDirect, TransformTemplate, TransformLookup, TransformComputed:
		return true
	default:
		return false
	}
}

// MappingCandidate is a proposed target element for one source field.
type MappingCandidate struct {
	// TargetPath is the resource element path, e.g. "Patient.birthDate".
	TargetPath string `json:"targetPath"`

	// Transform describes how the value is carried over.
	Transform Transform `json:"transform"`

	// Expression is an optional source expression (template, lookup table
	// name or computation) used by non-direct transforms.
	Expression string `json:"expression,omitempty"`

	// Confidence is the producer's own confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Rationale is free text explaining the proposal.
	Rationale string `json:"rationale,omitempty"`

	// Origin is the producer of the candidate.
	Origin Origin `json:"origin"`
}

// String returns a compact human-readable form.
func (c MappingCandidate) String() string {
	return fmt.Sprintf("%s (%.2f, %s)", c.TargetPath, c.Confidence, c.Origin)
}

// Clamp01 limits v to the closed interval [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
