package suggest

import (
	"context"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/cache"
	"github.com/aks129/FhirMapMaster/field"
)

// CachingProvider memoizes the successful responses of another provider.
// Failures are never cached, so a recovered provider is retried next time.
type CachingProvider struct {
	inner Provider
	cache *cache.Cache[string, []mm.MappingCandidate]
}

// NewCachingProvider wraps inner with an LRU of the given size.
func NewCachingProvider(inner Provider, size int) *CachingProvider {
	return &CachingProvider{
		inner: inner,
		cache: cache.New[string, []mm.MappingCandidate](size),
	}
}

// Name returns the wrapped provider's name so trust and origins are shared.
func (p *CachingProvider) Name() string { return p.inner.Name() }

// Propose returns a cached response or calls the wrapped provider.
func (p *CachingProvider) Propose(ctx context.Context, fc field.Context, resource, ig string) ([]mm.MappingCandidate, error) {
	key := p.inner.Name() + "|" + fc.Fingerprint() + "|" + resource + "|" + ig
	if c, ok := p.cache.Get(key); ok {
		return cloneCandidates(c), nil
	}
	c, err := p.inner.Propose(ctx, fc, resource, ig)
	if err != nil {
		return nil, err
	}
	stored, _ := p.cache.PutIfAbsent(key, cloneCandidates(c))
	return cloneCandidates(stored), nil
}

// Stats returns cache statistics.
func (p *CachingProvider) Stats() cache.Stats { return p.cache.Stats() }

func cloneCandidates(in []mm.MappingCandidate) []mm.MappingCandidate {
	if in == nil {
		return nil
	}
	out := make([]mm.MappingCandidate, len(in))
	copy(out, in)
	return out
}
