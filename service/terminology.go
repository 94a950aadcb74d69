package service

import (
	"context"
	"errors"
)

// ErrUnknownValueSet is returned when a value set or code system cannot be
// found. Validation reports it as unavailable terminology, not as a bad code.
var ErrUnknownValueSet = errors.New("unknown value set")

// Coding is a system/code pair found in a resource.
type Coding struct {
	System  string
	Code    string
	Display string
}

// CodeResult is the outcome of a membership check.
type CodeResult struct {
	Member bool
	// Display is the canonical display text, when known.
	Display string
	System  string
}

// TerminologySource checks code membership. An empty valueSet means the
// code is checked against system alone.
type TerminologySource interface {
	ValidateCode(ctx context.Context, system, code, valueSet string) (*CodeResult, error)
}

// TerminologySourceFunc adapts a function to TerminologySource.
type TerminologySourceFunc func(ctx context.Context, system, code, valueSet string) (*CodeResult, error)

// ValidateCode calls f.
func (f TerminologySourceFunc) ValidateCode(ctx context.Context, system, code, valueSet string) (*CodeResult, error) {
	return f(ctx, system, code, valueSet)
}

// Expander lists the codes of a value set. Terminology sources that can
// enumerate small value sets implement it so issues can suggest fixes.
type Expander interface {
	Expand(ctx context.Context, valueSet string) ([]Coding, error)
}
