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

// StructuralPhase checks the resource against its base definition: shape,
// required elements, cardinality and primitive formats. Any error it
// reports stops validation of the later layers.
type StructuralPhase struct{}

// NewStructuralPhase creates the structural phase.
func NewStructuralPhase() *StructuralPhase {
	return &StructuralPhase{}
}

// Layer returns mm.LayerStructural.
func (p *StructuralPhase) Layer() mm.Layer {
	return mm.LayerStructural
}

// Validate performs structural validation.
func (p *StructuralPhase) Validate(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	if pctx.Resource == nil {
		return []mm.Issue{structureError("", "resource is not a JSON object")}
	}
	rt, ok := pctx.Resource["resourceType"].(string)
	if !ok || rt == "" {
		return []mm.Issue{structureError("", "resource has no resourceType")}
	}
	if pctx.Base == nil {
		return []mm.Issue{mm.Error(mm.CodeUnknownType).
			In(mm.LayerStructural).
			At(rt).
			Message(fmt.Sprintf("no base definition for resource type %s", rt)).
			Build()}
	}

	var issues []mm.Issue
	for i := range pctx.Base.Elements {
		if ctx.Err() != nil {
			return issues
		}
		def := &pctx.Base.Elements[i]
		name := pipeline.LastSegment(def.Path)
		for _, parent := range pipeline.Parents(pctx.Resource, def.Path) {
			obj, _ := parent.Object()
			issues = append(issues, checkElement(obj, parent.Path, name, def)...)
		}
	}
	return issues
}

// checkElement checks one declared element inside one parent object.
func checkElement(obj map[string]any, parentPath, name string, def *service.ElementConstraint) []mm.Issue {
	var issues []mm.Issue

	key, value, found := pipeline.Child(obj, name)
	if strings.HasSuffix(name, "[x]") {
		keys := pipeline.ChoiceKeys(obj, name)
		if len(keys) > 1 {
			issues = append(issues, structureError(parentPath+"."+name,
				fmt.Sprintf("only one %s may be present, found %s", name, strings.Join(keys, ", "))))
		}
	}

	if !found || value == nil {
		if def.Min > 0 {
			issues = append(issues, mm.Error(mm.CodeRequired).
				In(mm.LayerStructural).
				At(parentPath+"."+name).
				Message(fmt.Sprintf("missing required element %s", name)).
				Build())
		}
		return issues
	}

	path := parentPath + "." + key
	typ := def.PrimaryType()
	if strings.HasSuffix(name, "[x]") {
		typ = pipeline.ChoiceType(name, key)
		if !contains(def.Types, typ) {
			return append(issues, structureError(path,
				fmt.Sprintf("%s is not an allowed type for %s (allowed: %s)", typ, name, strings.Join(def.Types, ", "))))
		}
	}

	values := []any{value}
	arr, isArray := value.([]any)
	switch {
	case isArray && !def.Repeats():
		return append(issues, mm.Error(mm.CodeCardinality).
			In(mm.LayerStructural).
			At(path).
			Message(fmt.Sprintf("%s allows a single value but holds an array of %d", key, len(arr))).
			Build())
	case isArray && len(arr) == 0:
		return append(issues, structureError(path, "arrays must not be empty"))
	case isArray:
		if n, ok := def.MaxCount(); ok && len(arr) > n {
			issues = append(issues, mm.Error(mm.CodeCardinality).
				In(mm.LayerStructural).
				At(path).
				Message(fmt.Sprintf("%s allows at most %d values, found %d", key, n, len(arr))).
				Build())
		}
		values = arr
	case def.Repeats():
		return append(issues, structureError(path, fmt.Sprintf("%s repeats and must be an array", key)))
	}

	for i, v := range values {
		at := path
		if isArray {
			at = path + "[" + strconv.Itoa(i) + "]"
		}
		if issue, bad := checkValue(typ, v, at); bad {
			issues = append(issues, issue)
		}
	}
	return issues
}

// checkValue checks one value against its declared type.
func checkValue(typ string, v any, path string) (mm.Issue, bool) {
	if typ == "" {
		return mm.Issue{}, false
	}
	if pipeline.IsPrimitive(typ) {
		if err := checkPrimitive(typ, v); err != nil {
			return mm.Error(mm.CodeValue).
				In(mm.LayerStructural).
				At(path).
				Message(err.Error()).
				Build(), true
		}
		return mm.Issue{}, false
	}
	if _, ok := v.(map[string]any); !ok {
		return structureError(path, fmt.Sprintf("%s must be an object, got %s", typ, jsonKind(v))), true
	}
	return mm.Issue{}, false
}

func structureError(path, msg string) mm.Issue {
	return mm.Error(mm.CodeStructure).In(mm.LayerStructural).At(path).Message(msg).Build()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
