package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofhir/fhir/r4"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/service"
)

// ConvertStructureDefinition turns an R4 StructureDefinition into a Profile.
// The snapshot is used when present, otherwise the differential. Slices and
// the root element are not modeled and are skipped. A definition whose URL
// is the core URL of its type becomes a base definition.
func ConvertStructureDefinition(sd *r4.StructureDefinition) (*service.Profile, error) {
	if sd == nil {
		return nil, errors.New("structure definition is nil")
	}
	typ := derefString(sd.Type)
	if typ == "" {
		return nil, fmt.Errorf("structure definition %s has no type", derefString(sd.Url))
	}

	p := &service.Profile{
		ID:   derefString(sd.Id),
		URL:  derefString(sd.Url),
		Name: derefString(sd.Name),
		Type: typ,
	}
	if p.URL != CoreURLPrefix+typ {
		p.Base = typ
	}

	var elements []r4.ElementDefinition
	switch {
	case sd.Snapshot != nil && len(sd.Snapshot.Element) > 0:
		elements = sd.Snapshot.Element
	case sd.Differential != nil:
		elements = sd.Differential.Element
	}

	for i := range elements {
		ed := &elements[i]
		path := derefString(ed.Path)
		if path == "" || path == typ || ed.SliceName != nil || !strings.HasPrefix(path, typ+".") {
			continue
		}
		p.Elements = append(p.Elements, convertElement(path, ed))
	}
	return p, nil
}

func convertElement(path string, ed *r4.ElementDefinition) service.ElementConstraint {
	ec := service.ElementConstraint{
		Path:        path,
		Max:         derefString(ed.Max),
		MustSupport: ed.MustSupport != nil && *ed.MustSupport,
		Fixed:       fixedValue(ed),
	}
	if ed.Min != nil {
		ec.Min = int(*ed.Min)
	}
	for _, t := range ed.Type {
		if code := derefString(t.Code); code != "" {
			ec.Types = append(ec.Types, code)
		}
	}
	if b := ed.Binding; b != nil && b.Strength != nil {
		ec.Binding = &service.Binding{
			Strength: service.BindingStrength(*b.Strength),
			ValueSet: derefString(b.ValueSet),
		}
	}
	return ec
}

// fixedValue returns the fixed[x] value, falling back to a primitive
// pattern[x], which constrains a primitive the same way. Complex values are
// converted to their JSON form so they compare against parsed resources.
func fixedValue(ed *r4.ElementDefinition) any {
	switch {
	case ed.FixedString != nil:
		return *ed.FixedString
	case ed.FixedCode != nil:
		return *ed.FixedCode
	case ed.FixedUri != nil:
		return *ed.FixedUri
	case ed.FixedUrl != nil:
		return *ed.FixedUrl
	case ed.FixedCanonical != nil:
		return *ed.FixedCanonical
	case ed.FixedBoolean != nil:
		return *ed.FixedBoolean
	case ed.FixedInteger != nil:
		return *ed.FixedInteger
	case ed.FixedCoding != nil:
		return asJSON(ed.FixedCoding)
	case ed.FixedCodeableConcept != nil:
		return asJSON(ed.FixedCodeableConcept)
	case ed.FixedIdentifier != nil:
		return asJSON(ed.FixedIdentifier)
	case ed.PatternCode != nil:
		return *ed.PatternCode
	case ed.PatternString != nil:
		return *ed.PatternString
	case ed.PatternUri != nil:
		return *ed.PatternUri
	case ed.PatternBoolean != nil:
		return *ed.PatternBoolean
	}
	return nil
}

func asJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// ImportStructureDefinition converts and registers an R4 StructureDefinition.
// It returns the profile as stored, with its id derived from the URL when
// the definition has none.
func (r *Registry) ImportStructureDefinition(sd *r4.StructureDefinition) (*service.Profile, error) {
	p, err := ConvertStructureDefinition(sd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mm.ErrConfiguration, err)
	}
	return r.register(p)
}

// LoadJSON imports a StructureDefinition, or every StructureDefinition in a
// Bundle, from JSON. It returns the number of profiles registered.
func (r *Registry) LoadJSON(data []byte) (int, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("%w: invalid JSON: %w", mm.ErrConfiguration, err)
	}

	switch probe.ResourceType {
	case "StructureDefinition":
		if err := r.importJSON(data); err != nil {
			return 0, err
		}
		return 1, nil
	case "Bundle":
		n := 0
		for _, e := range probe.Entry {
			if resourceTypeOf(e.Resource) != "StructureDefinition" {
				continue
			}
			if err := r.importJSON(e.Resource); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unsupported resourceType %q", mm.ErrConfiguration, probe.ResourceType)
	}
}

func (r *Registry) importJSON(data []byte) error {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("%w: parse StructureDefinition: %w", mm.ErrConfiguration, err)
	}
	_, err := r.ImportStructureDefinition(&sd)
	return err
}

func resourceTypeOf(data []byte) string {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if len(data) == 0 || json.Unmarshal(data, &probe) != nil {
		return ""
	}
	return probe.ResourceType
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
