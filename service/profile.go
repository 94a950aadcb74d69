// Package service defines the knowledge-source contracts the validation
// engine consumes: profile constraints, terminology membership and FHIRPath
// evaluation. Following Go's philosophy of small interfaces, each has 1-2
// methods.
package service

import (
	"context"
	"strconv"
	"strings"
)

// BindingStrength is the strength of a terminology binding.
type BindingStrength string

const (
	BindingRequired   BindingStrength = "required"
	BindingExtensible BindingStrength = "extensible"
	BindingPreferred  BindingStrength = "preferred"
	BindingExample    BindingStrength = "example"
)

// IsValid reports whether s is a known strength.
func (s BindingStrength) IsValid() bool {
	switch s {
	case BindingRequired, BindingExtensible, BindingPreferred, BindingExample:
		return true
	default:
		return false
	}
}

// Binding ties a coded element to a value set or, when ValueSet is empty,
// to a single code system.
type Binding struct {
	Strength BindingStrength `yaml:"strength" json:"strength"`
	ValueSet string          `yaml:"valueSet,omitempty" json:"valueSet,omitempty"`
	System   string          `yaml:"system,omitempty" json:"system,omitempty"`
}

// ElementConstraint is the constraint a profile places on one element.
type ElementConstraint struct {
	// Path is the full element path, e.g. "Patient.name.family".
	// Choice elements end in "[x]".
	Path        string   `yaml:"path" json:"path"`
	Min         int      `yaml:"min" json:"min"`
	Max         string   `yaml:"max,omitempty" json:"max,omitempty"`
	Types       []string `yaml:"types,omitempty" json:"types,omitempty"`
	Fixed       any      `yaml:"fixed,omitempty" json:"fixed,omitempty"`
	Binding     *Binding `yaml:"binding,omitempty" json:"binding,omitempty"`
	MustSupport bool     `yaml:"mustSupport,omitempty" json:"mustSupport,omitempty"`
}

// MaxCount returns the numeric maximum. ok is false for "*" or an empty max.
func (e ElementConstraint) MaxCount() (n int, ok bool) {
	if e.Max == "" || e.Max == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(e.Max)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Repeats reports whether the element may hold more than one value.
func (e ElementConstraint) Repeats() bool {
	n, ok := e.MaxCount()
	return !ok || n > 1
}

// Name returns the last path segment.
func (e ElementConstraint) Name() string {
	if i := strings.LastIndexByte(e.Path, '.'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Depth returns the number of segments below the resource type.
func (e ElementConstraint) Depth() int {
	return strings.Count(e.Path, ".")
}

// PrimaryType returns the first declared type, or "".
func (e ElementConstraint) PrimaryType() string {
	if len(e.Types) == 0 {
		return ""
	}
	return e.Types[0]
}

// Profile is a resolved set of element constraints for one resource type.
// A base definition is a profile with an empty Base.
type Profile struct {
	ID       string              `yaml:"id" json:"id"`
	URL      string              `yaml:"url,omitempty" json:"url,omitempty"`
	Name     string              `yaml:"name,omitempty" json:"name,omitempty"`
	Type     string              `yaml:"type" json:"type"`
	Base     string              `yaml:"base,omitempty" json:"base,omitempty"`
	Elements []ElementConstraint `yaml:"elements" json:"elements"`
}

// Element looks up a constraint by path.
func (p *Profile) Element(path string) (*ElementConstraint, bool) {
	for i := range p.Elements {
		if p.Elements[i].Path == path {
			return &p.Elements[i], true
		}
	}
	return nil, false
}

// TopLevel returns the constraints on direct children of the resource.
func (p *Profile) TopLevel() []ElementConstraint {
	var out []ElementConstraint
	for _, e := range p.Elements {
		if e.Depth() == 1 {
			out = append(out, e)
		}
	}
	return out
}

// IsBase reports whether p is a base resource definition.
func (p *Profile) IsBase() bool { return p.Base == "" }

// --- Small Interfaces ---

// ProfileSource resolves profiles and base definitions. Unknown identifiers
// yield an error wrapping mapmaster.ErrUnknownProfile.
type ProfileSource interface {
	Profile(ctx context.Context, id string) (*Profile, error)
	BaseDefinition(ctx context.Context, resourceType string) (*Profile, error)
}

// DefaultProfiler names the profile to use when the caller gives none.
type DefaultProfiler interface {
	DefaultProfileFor(resourceType string) string
}
