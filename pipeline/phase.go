package pipeline

import (
	"context"

	mm "github.com/aks129/FhirMapMaster"
)

// Phase implements one validation layer.
//
// Phases should be:
// - Stateless: all per-resource state lives in the Context
// - Thread-safe: several resources may be validated at once
// - Read-only: the Context must not be modified
type Phase interface {
	// Layer returns the layer this phase implements.
	Layer() mm.Layer

	// Validate checks the resource and returns the issues found.
	Validate(ctx context.Context, pctx *Context) []mm.Issue
}

// PhaseFunc is a function type that implements Phase.
type PhaseFunc struct {
	layer mm.Layer
	fn    func(ctx context.Context, pctx *Context) []mm.Issue
}

// NewPhaseFunc creates a Phase from a function.
func NewPhaseFunc(layer mm.Layer, fn func(ctx context.Context, pctx *Context) []mm.Issue) Phase {
	return &PhaseFunc{layer: layer, fn: fn}
}

// Layer returns the phase layer.
func (p *PhaseFunc) Layer() mm.Layer {
	return p.layer
}

// Validate calls the wrapped function.
func (p *PhaseFunc) Validate(ctx context.Context, pctx *Context) []mm.Issue {
	return p.fn(ctx, pctx)
}
