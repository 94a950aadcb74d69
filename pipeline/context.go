// Package pipeline runs the validation layers over one resource as a
// sequential state machine.
package pipeline

import (
	"sort"
	"strings"
	"sync"

	"github.com/aks129/FhirMapMaster/service"
)

// Context holds the state shared by the layers validating one resource.
// It is read-only while the layers run.
type Context struct {
	// Resource is the parsed resource.
	Resource map[string]any

	// ResourceType is the FHIR resource type, e.g. "Patient".
	ResourceType string

	// ResourceID is the resource id, if present.
	ResourceID string

	// ProfileID names the profile the resource is validated against.
	ProfileID string

	// Base is the base definition of ResourceType, nil when unknown.
	Base *service.Profile

	// Profile is the constraining profile, nil when validating against the
	// base definition only.
	Profile *service.Profile

	// Batch indexes the other resources validated together with this one.
	Batch *BatchIndex

	// Terminology answers code membership questions.
	Terminology service.TerminologySource
}

var contextPool = sync.Pool{
	New: func() any { return &Context{} },
}

// AcquireContext gets a Context from the pool.
// Call Release() when done to return it to the pool.
func AcquireContext() *Context {
	return contextPool.Get().(*Context)
}

// Release returns the Context to the pool.
// After calling Release, the Context should not be used.
func (c *Context) Release() {
	if c == nil {
		return
	}
	*c = Context{}
	contextPool.Put(c)
}

// Element returns the effective constraint for an element path: the
// profile's constraint layered over the base one. ok is false when neither
// declares the path.
func (c *Context) Element(path string) (service.ElementConstraint, bool) {
	var base, prof *service.ElementConstraint
	if c.Base != nil {
		base, _ = c.Base.Element(path)
	}
	if c.Profile != nil {
		prof, _ = c.Profile.Element(path)
	}
	switch {
	case base == nil && prof == nil:
		return service.ElementConstraint{}, false
	case prof == nil:
		return *base, true
	case base == nil:
		return *prof, true
	}
	merged := *base
	if prof.Min > merged.Min {
		merged.Min = prof.Min
	}
	if prof.Max != "" {
		merged.Max = prof.Max
	}
	if len(prof.Types) > 0 {
		merged.Types = prof.Types
	}
	if prof.Fixed != nil {
		merged.Fixed = prof.Fixed
	}
	if prof.Binding != nil {
		merged.Binding = prof.Binding
	}
	merged.MustSupport = merged.MustSupport || prof.MustSupport
	return merged, true
}

// BatchIndex is the set of resources validated together, keyed by
// "Type/id" and by full URL. It is immutable once built.
type BatchIndex struct {
	keys map[string]bool
}

// NewBatchIndex indexes resources by "Type/id". fullURLs, when given, are
// added as extra keys.
func NewBatchIndex(resources []map[string]any, fullURLs ...string) *BatchIndex {
	idx := &BatchIndex{keys: make(map[string]bool, len(resources)+len(fullURLs))}
	for _, r := range resources {
		typ, _ := r["resourceType"].(string)
		id, _ := r["id"].(string)
		if typ != "" && id != "" {
			idx.keys[typ+"/"+id] = true
		}
	}
	for _, u := range fullURLs {
		if u != "" {
			idx.keys[u] = true
		}
	}
	return idx
}

// Has reports whether key is in the batch.
func (b *BatchIndex) Has(key string) bool {
	return b != nil && b.keys[key]
}

// Keys returns the sorted keys.
func (b *BatchIndex) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.keys))
	for k := range b.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (b *BatchIndex) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// String returns the canonical form used in cache fingerprints.
func (b *BatchIndex) String() string {
	return strings.Join(b.Keys(), ",")
}
