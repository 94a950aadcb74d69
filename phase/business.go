package phase

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
)

// Rule is a business rule. Check must treat the context as read-only:
// rules of one resource run concurrently.
type Rule interface {
	// ID identifies the rule in issues.
	ID() string
	// Applies reports whether the rule checks resources of this type.
	Applies(resourceType string) bool
	// Check returns the rule's issues for the resource.
	Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue
}

// BusinessPhase runs business rules. Issues are reported in rule
// registration order whatever order the rules finish in.
type BusinessPhase struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewBusinessPhase creates a phase with the given rules.
func NewBusinessPhase(rules ...Rule) *BusinessPhase {
	return &BusinessPhase{rules: rules}
}

// NewDefaultBusinessPhase creates a phase with the built-in rules.
func NewDefaultBusinessPhase() *BusinessPhase {
	return NewBusinessPhase(BuiltinRules()...)
}

// BuiltinRules returns the built-in rules in their registration order.
func BuiltinRules() []Rule {
	return []Rule{
		PeriodOrderRule{},
		ReferenceRule{},
		PatientNameRule{},
		BirthDateRule{},
		ObservationValueRule{},
	}
}

// Add appends rules.
func (p *BusinessPhase) Add(rules ...Rule) {
	p.mu.Lock()
	p.rules = append(p.rules, rules...)
	p.mu.Unlock()
}

// Rules returns the registered rules.
func (p *BusinessPhase) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Rule(nil), p.rules...)
}

// Layer returns mm.LayerBusinessRules.
func (p *BusinessPhase) Layer() mm.Layer {
	return mm.LayerBusinessRules
}

// Validate runs every applicable rule concurrently.
func (p *BusinessPhase) Validate(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	rules := p.Rules()
	results := make([][]mm.Issue, len(rules))

	var g errgroup.Group
	for i, r := range rules {
		if !r.Applies(pctx.ResourceType) {
			continue
		}
		g.Go(func() error {
			results[i] = runRule(ctx, r, pctx)
			return nil
		})
	}
	_ = g.Wait()

	var issues []mm.Issue
	for _, rs := range results {
		issues = append(issues, rs...)
	}
	return issues
}

// runRule calls one rule, turning a panic into a warning so that a broken
// rule cannot take down the validation of the resource.
func runRule(ctx context.Context, r Rule, pctx *pipeline.Context) (issues []mm.Issue) {
	id := r.ID()
	defer func() {
		if rec := recover(); rec != nil {
			issues = []mm.Issue{mm.Warning(mm.CodeBusinessRule).
				In(mm.LayerBusinessRules).
				Rule(id).
				At(pctx.ResourceType).
				Message(fmt.Sprintf("rule %s failed: %v", id, rec)).
				Build()}
		}
	}()
	issues = r.Check(ctx, pctx)
	for i := range issues {
		issues[i].Layer = mm.LayerBusinessRules
		if issues[i].Rule == "" {
			issues[i].Rule = id
		}
	}
	return issues
}
