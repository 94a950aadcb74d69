package service

import (
	"context"
	"errors"
	"fmt"

	mm "github.com/aks129/FhirMapMaster"
)

// ProfileChain tries several profile sources in order. A source that does
// not know an id passes it on; any other error stops the chain.
type ProfileChain struct {
	sources []ProfileSource
}

// NewProfileChain creates a chain.
func NewProfileChain(sources ...ProfileSource) *ProfileChain {
	return &ProfileChain{sources: sources}
}

// Add appends a source.
func (c *ProfileChain) Add(source ProfileSource) {
	c.sources = append(c.sources, source)
}

// Profile resolves id from the first source that knows it.
func (c *ProfileChain) Profile(ctx context.Context, id string) (*Profile, error) {
	for _, s := range c.sources {
		p, err := s.Profile(ctx, id)
		if err == nil && p != nil {
			return p, nil
		}
		if err != nil && !errors.Is(err, mm.ErrUnknownProfile) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", mm.ErrUnknownProfile, id)
}

// BaseDefinition resolves a base definition from the first source that
// knows the type.
func (c *ProfileChain) BaseDefinition(ctx context.Context, resourceType string) (*Profile, error) {
	for _, s := range c.sources {
		p, err := s.BaseDefinition(ctx, resourceType)
		if err == nil && p != nil {
			return p, nil
		}
		if err != nil && !errors.Is(err, mm.ErrUnknownProfile) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no base definition for %s", mm.ErrUnknownProfile, resourceType)
}

// DefaultProfileFor returns the first non-empty default among sources that
// name one.
func (c *ProfileChain) DefaultProfileFor(resourceType string) string {
	for _, s := range c.sources {
		if d, ok := s.(DefaultProfiler); ok {
			if id := d.DefaultProfileFor(resourceType); id != "" {
				return id
			}
		}
	}
	return ""
}

// TerminologyChain tries several terminology sources in order, skipping
// sources that do not know the value set.
type TerminologyChain struct {
	sources []TerminologySource
}

// NewTerminologyChain creates a chain.
func NewTerminologyChain(sources ...TerminologySource) *TerminologyChain {
	return &TerminologyChain{sources: sources}
}

// Add appends a source.
func (c *TerminologyChain) Add(source TerminologySource) {
	c.sources = append(c.sources, source)
}

// ValidateCode returns the first definitive answer.
func (c *TerminologyChain) ValidateCode(ctx context.Context, system, code, valueSet string) (*CodeResult, error) {
	for _, s := range c.sources {
		res, err := s.ValidateCode(ctx, system, code, valueSet)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrUnknownValueSet) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownValueSet, firstNonEmpty(valueSet, system))
}

// Expand returns the expansion from the first source that can expand the
// value set.
func (c *TerminologyChain) Expand(ctx context.Context, valueSet string) ([]Coding, error) {
	for _, s := range c.sources {
		exp, ok := s.(Expander)
		if !ok {
			continue
		}
		codes, err := exp.Expand(ctx, valueSet)
		if err == nil {
			return codes, nil
		}
		if !errors.Is(err, ErrUnknownValueSet) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownValueSet, valueSet)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Verify interface compliance
var (
	_ ProfileSource     = (*ProfileChain)(nil)
	_ TerminologySource = (*TerminologyChain)(nil)
	_ DefaultProfiler   = (*ProfileChain)(nil)
	_ Expander          = (*TerminologyChain)(nil)
)
