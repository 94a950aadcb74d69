package phase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/service"
)

// ProfilePhase checks the constraints a profile adds on top of the base
// definition: tightened cardinality and fixed values. It is a no-op when
// the resource is validated against its base definition only.
type ProfilePhase struct{}

// NewProfilePhase creates the profile phase.
func NewProfilePhase() *ProfilePhase {
	return &ProfilePhase{}
}

// Layer returns mm.LayerProfile.
func (p *ProfilePhase) Layer() mm.Layer {
	return mm.LayerProfile
}

// Validate performs profile validation.
func (p *ProfilePhase) Validate(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	if pctx.Profile == nil || pctx.Profile.IsBase() || pctx.Resource == nil {
		return nil
	}

	var issues []mm.Issue
	for i := range pctx.Profile.Elements {
		if ctx.Err() != nil {
			return issues
		}
		def := &pctx.Profile.Elements[i]
		name := pipeline.LastSegment(def.Path)
		for _, parent := range pipeline.Parents(pctx.Resource, def.Path) {
			obj, _ := parent.Object()
			issues = append(issues, p.checkElement(obj, parent.Path, name, def, pctx.Profile)...)
		}
	}
	return issues
}

func (p *ProfilePhase) checkElement(obj map[string]any, parentPath, name string,
	def *service.ElementConstraint, profile *service.Profile) []mm.Issue {
	key, value, found := pipeline.Child(obj, name)
	count := 0
	switch v := value.(type) {
	case nil:
	case []any:
		count = len(v)
	default:
		count = 1
	}
	if !found {
		key = name
	}
	path := parentPath + "." + key

	var issues []mm.Issue
	if count < def.Min {
		code := mm.CodeRequired
		msg := fmt.Sprintf("%s is required by profile %s", name, profile.ID)
		if count > 0 {
			code = mm.CodeCardinality
			msg = fmt.Sprintf("%s requires at least %d values in profile %s, found %d", name, def.Min, profile.ID, count)
		}
		issues = append(issues, mm.Error(code).
			In(mm.LayerProfile).
			At(path).
			Message(msg).
			Fix(mustSupportHint(def)).
			Build())
	}
	if n, ok := def.MaxCount(); ok && count > n {
		issues = append(issues, mm.Error(mm.CodeCardinality).
			In(mm.LayerProfile).
			At(path).
			Message(fmt.Sprintf("%s allows at most %d values in profile %s, found %d", name, n, profile.ID, count)).
			Build())
	}

	if def.Fixed == nil || count == 0 {
		return issues
	}
	values := []any{value}
	arr, isArray := value.([]any)
	if isArray {
		values = arr
	}
	for i, v := range values {
		if fixedEqual(v, def.Fixed) {
			continue
		}
		at := path
		if isArray {
			at = path + "[" + strconv.Itoa(i) + "]"
		}
		issues = append(issues, mm.Error(mm.CodeFixedValue).
			In(mm.LayerProfile).
			At(at).
			Message(fmt.Sprintf("%s must be %s, found %s", name, describe(def.Fixed), describe(v))).
			Fix("set " + strings.TrimPrefix(at, profile.Type+".") + " to " + describe(def.Fixed)).
			Build())
	}
	return issues
}

func mustSupportHint(def *service.ElementConstraint) string {
	if def.MustSupport {
		return "populate " + def.Path + "; the profile marks it must-support"
	}
	return "populate " + def.Path
}
