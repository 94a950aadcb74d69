package terminology

import (
	"context"
	"fmt"

	"github.com/aks129/FhirMapMaster/cache"
	"github.com/aks129/FhirMapMaster/service"
)

// Cached wraps a terminology source with an LRU of membership results.
// Errors, including unknown value sets, are not cached.
type Cached struct {
	inner service.TerminologySource
	cache *cache.Cache[string, service.CodeResult]
}

// NewCached creates a cached source holding up to size results.
func NewCached(inner service.TerminologySource, size int) *Cached {
	return &Cached{
		inner: inner,
		cache: cache.New[string, service.CodeResult](size),
	}
}

// ValidateCode implements service.TerminologySource.
func (c *Cached) ValidateCode(ctx context.Context, system, code, valueSet string) (*service.CodeResult, error) {
	key := system + "|" + code + "|" + valueSet
	if res, ok := c.cache.Get(key); ok {
		return &res, nil
	}
	res, err := c.inner.ValidateCode(ctx, system, code, valueSet)
	if err != nil || res == nil {
		return res, err
	}
	stored, _ := c.cache.PutIfAbsent(key, *res)
	return &stored, nil
}

// Expand passes through to the wrapped source when it can expand value
// sets. Expansions are not cached.
func (c *Cached) Expand(ctx context.Context, valueSet string) ([]service.Coding, error) {
	exp, ok := c.inner.(service.Expander)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot be expanded", service.ErrUnknownValueSet, valueSet)
	}
	return exp.Expand(ctx, valueSet)
}

// Stats returns cache statistics.
func (c *Cached) Stats() cache.Stats { return c.cache.Stats() }

// Clear drops all cached results.
func (c *Cached) Clear() { c.cache.Clear() }

var (
	_ service.TerminologySource = (*Cached)(nil)
	_ service.Expander          = (*Cached)(nil)
	_ service.Expander          = (*InMemoryService)(nil)
)
