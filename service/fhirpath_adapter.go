package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
)

// FHIRPathEvaluator evaluates boolean FHIRPath expressions.
type FHIRPathEvaluator interface {
	// Evaluate returns true if the expression holds for the resource.
	Evaluate(ctx context.Context, expression string, resource any) (bool, error)
}

// FHIRPathAdapter adapts the fhirpath package to the FHIRPathEvaluator
// interface. Compiled expressions are cached and shared between goroutines.
type FHIRPathAdapter struct {
	mu    sync.RWMutex
	cache map[string]*fhirpath.Expression
}

// NewFHIRPathAdapter creates a new FHIRPath adapter.
func NewFHIRPathAdapter() *FHIRPathAdapter {
	return &FHIRPathAdapter{
		cache: make(map[string]*fhirpath.Expression),
	}
}

// Compile checks that expression parses and caches it.
func (a *FHIRPathAdapter) Compile(expression string) error {
	_, err := a.getOrCompile(expression)
	return err
}

// Evaluate evaluates a FHIRPath expression against a resource.
//
// Non-boolean results follow FHIRPath truthiness:
// - Empty collection = false
// - Single boolean = that boolean's value
// - Non-empty collection = true
func (a *FHIRPathAdapter) Evaluate(ctx context.Context, expression string, resource any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	resourceBytes, err := toJSON(resource)
	if err != nil {
		return false, fmt.Errorf("failed to convert resource to JSON: %w", err)
	}

	compiled, err := a.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	result, err := compiled.Evaluate(resourceBytes)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate FHIRPath expression '%s': %w", expression, err)
	}
	return toBool(result), nil
}

func toJSON(resource any) ([]byte, error) {
	switch v := resource.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

func (a *FHIRPathAdapter) getOrCompile(expression string) (*fhirpath.Expression, error) {
	a.mu.RLock()
	compiled, ok := a.cache[expression]
	a.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to compile FHIRPath expression '%s': %w", expression, err)
	}

	a.mu.Lock()
	if existing, ok := a.cache[expression]; ok {
		compiled = existing
	} else {
		a.cache[expression] = compiled
	}
	a.mu.Unlock()
	return compiled, nil
}

func toBool(result types.Collection) bool {
	if len(result) == 0 {
		return false
	}
	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool()
		}
	}
	return true
}

// CacheSize returns the number of cached expressions.
func (a *FHIRPathAdapter) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// Verify interface compliance
var _ FHIRPathEvaluator = (*FHIRPathAdapter)(nil)
