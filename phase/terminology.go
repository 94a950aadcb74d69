package phase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/service"
)

// maxFixCodes is the largest value set whose codes are listed in a fix.
const maxFixCodes = 10

// TerminologyPhase checks every bound coded element against its value set,
// or against its code system when the binding names no value set.
type TerminologyPhase struct{}

// NewTerminologyPhase creates the terminology phase.
func NewTerminologyPhase() *TerminologyPhase {
	return &TerminologyPhase{}
}

// Layer returns mm.LayerTerminology.
func (p *TerminologyPhase) Layer() mm.Layer {
	return mm.LayerTerminology
}

// Validate performs terminology validation. Without a terminology source
// there is nothing to check against and no issues are reported.
func (p *TerminologyPhase) Validate(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	if pctx.Terminology == nil || pctx.Resource == nil {
		return nil
	}

	var issues []mm.Issue
	for _, path := range boundPaths(pctx) {
		if ctx.Err() != nil {
			return issues
		}
		def, ok := pctx.Element(path)
		if !ok || def.Binding == nil {
			continue
		}
		for _, node := range pipeline.Resolve(pctx.Resource, path) {
			if issue, bad := p.checkNode(ctx, pctx.Terminology, node, &def); bad {
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

// boundPaths returns the element paths carrying a binding in the base or
// the profile, in declaration order, base first.
func boundPaths(pctx *pipeline.Context) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, p := range []*service.Profile{pctx.Base, pctx.Profile} {
		if p == nil {
			continue
		}
		for _, e := range p.Elements {
			if e.Binding != nil && !seen[e.Path] {
				seen[e.Path] = true
				paths = append(paths, e.Path)
			}
		}
	}
	return paths
}

func (p *TerminologyPhase) checkNode(ctx context.Context, src service.TerminologySource,
	node pipeline.Node, def *service.ElementConstraint) (mm.Issue, bool) {
	binding := def.Binding
	codings, concept := codingsOf(node.Value, def.PrimaryType(), binding.System)
	target := binding.ValueSet
	if target == "" {
		target = binding.System
	}

	if len(codings) == 0 {
		if concept && binding.Strength == service.BindingRequired {
			return mm.Error(mm.CodeCodeInvalid).
				In(mm.LayerTerminology).
				At(node.Path).
				Message(fmt.Sprintf("no coding from required value set %s", target)).
				Fix(p.allowedCodes(ctx, src, binding.ValueSet)).
				Build(), true
		}
		return mm.Issue{}, false
	}

	var (
		first      service.Coding
		unresolved error
	)
	for i, c := range codings {
		if i == 0 {
			first = c
		}
		res, err := p.lookup(ctx, src, c, binding)
		if err != nil {
			unresolved = err
			continue
		}
		if res.Member {
			if res.Display != "" && c.Display != "" && !strings.EqualFold(res.Display, c.Display) {
				return mm.Info(mm.CodeCodeInvalid).
					In(mm.LayerTerminology).
					At(node.Path).
					Message(fmt.Sprintf("display %q for code %s does not match %q", c.Display, c.Code, res.Display)).
					Build(), true
			}
			return mm.Issue{}, false
		}
	}

	if unresolved != nil && errors.Is(unresolved, service.ErrUnknownValueSet) {
		return mm.Warning(mm.CodeTerminologyUnavailable).
			In(mm.LayerTerminology).
			At(node.Path).
			Message(fmt.Sprintf("cannot check binding to %s: %v", target, unresolved)).
			Build(), true
	}
	if unresolved != nil {
		// ctx ended; the pipeline reports the cancellation.
		return mm.Issue{}, false
	}

	b := mm.Warning(mm.CodeCodeInvalid)
	if binding.Strength == service.BindingRequired {
		b = mm.Error(mm.CodeCodeInvalid)
	}
	return b.In(mm.LayerTerminology).
		At(node.Path).
		Message(fmt.Sprintf("code %s is not in %s value set %s", codeLabel(first), binding.Strength, target)).
		Fix(p.allowedCodes(ctx, src, binding.ValueSet)).
		Build(), true
}

func (p *TerminologyPhase) lookup(ctx context.Context, src service.TerminologySource,
	c service.Coding, binding *service.Binding) (*service.CodeResult, error) {
	var (
		res *service.CodeResult
		err error
	)
	switch {
	case binding.ValueSet != "":
		res, err = src.ValidateCode(ctx, c.System, c.Code, binding.ValueSet)
	case c.System != "" && c.System != binding.System:
		return &service.CodeResult{System: c.System}, nil
	default:
		res, err = src.ValidateCode(ctx, binding.System, c.Code, "")
	}
	if err == nil && res == nil {
		// A source without an answer does not vouch for the code.
		res = &service.CodeResult{System: c.System}
	}
	return res, err
}

// allowedCodes lists the codes of a small value set, or returns "".
func (p *TerminologyPhase) allowedCodes(ctx context.Context, src service.TerminologySource, valueSet string) string {
	exp, ok := src.(service.Expander)
	if !ok || valueSet == "" {
		return ""
	}
	codes, err := exp.Expand(ctx, valueSet)
	if err != nil || len(codes) == 0 || len(codes) > maxFixCodes {
		return ""
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.Code
	}
	sort.Strings(names)
	return "use one of: " + strings.Join(names, ", ")
}

// codingsOf extracts the codings of a coded value. concept is true for a
// CodeableConcept, which may legitimately carry only text.
func codingsOf(v any, typ, system string) (codings []service.Coding, concept bool) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil, false
		}
		return []service.Coding{{System: system, Code: val}}, false
	case map[string]any:
		if typ == "CodeableConcept" || val["coding"] != nil {
			arr, _ := val["coding"].([]any)
			for _, item := range arr {
				if m, ok := item.(map[string]any); ok {
					if c, ok := codingOf(m); ok {
						codings = append(codings, c)
					}
				}
			}
			return codings, true
		}
		if c, ok := codingOf(val); ok {
			return []service.Coding{c}, false
		}
	}
	return nil, false
}

func codingOf(m map[string]any) (service.Coding, bool) {
	code, _ := m["code"].(string)
	if code == "" {
		return service.Coding{}, false
	}
	system, _ := m["system"].(string)
	display, _ := m["display"].(string)
	return service.Coding{System: system, Code: code, Display: display}, true
}

func codeLabel(c service.Coding) string {
	if c.System == "" {
		return c.Code
	}
	return c.System + "#" + c.Code
}
