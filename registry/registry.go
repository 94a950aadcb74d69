// Package registry provides an in-memory profile source: base resource
// definitions, constraining profiles such as US Core, and the default
// profile per resource type.
package registry

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/service"
)

// CoreURLPrefix is the canonical URL prefix of base FHIR definitions.
const CoreURLPrefix = "http://hl7.org/fhir/StructureDefinition/"

//go:embed data/base.yaml
var baseYAML []byte

//go:embed data/uscore.yaml
var usCoreYAML []byte

// commonElements are carried by every resource.
var commonElements = []service.ElementConstraint{
	{Path: "id", Max: "1", Types: []string{"id"}},
	{Path: "meta", Max: "1", Types: []string{"Meta"}},
	{Path: "implicitRules", Max: "1", Types: []string{"uri"}},
	{Path: "language", Max: "1", Types: []string{"code"}},
	{Path: "text", Max: "1", Types: []string{"Narrative"}},
	{Path: "contained", Max: "*", Types: []string{"Resource"}},
	{Path: "extension", Max: "*", Types: []string{"Extension"}},
	{Path: "modifierExtension", Max: "*", Types: []string{"Extension"}},
}

// Registry holds profiles indexed by id, URL and, for base definitions,
// resource type. It is safe for concurrent use. Returned profiles are
// shared and must not be modified.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*service.Profile
	byURL    map[string]*service.Profile
	bases    map[string]*service.Profile
	defaults map[string]string
}

// NewEmpty creates a registry without any definitions.
func NewEmpty() *Registry {
	return &Registry{
		byID:     make(map[string]*service.Profile),
		byURL:    make(map[string]*service.Profile),
		bases:    make(map[string]*service.Profile),
		defaults: make(map[string]string),
	}
}

// New creates a registry with the built-in base definitions and US Core
// profiles.
func New() *Registry {
	r := NewEmpty()
	for _, data := range [][]byte{baseYAML, usCoreYAML} {
		if _, err := r.LoadYAML(data); err != nil {
			panic(fmt.Sprintf("registry: built-in profiles: %v", err))
		}
	}
	return r
}

// Register validates and stores a profile, replacing any with the same id
// or URL. A profile with an empty Base is a base definition for its type.
func (r *Registry) Register(p *service.Profile) error {
	_, err := r.register(p)
	return err
}

// register stores a copy of p and returns it with its derived fields set.
func (r *Registry) register(p *service.Profile) (*service.Profile, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil profile", mm.ErrConfiguration)
	}
	stored := *p
	stored.Elements = append([]service.ElementConstraint(nil), p.Elements...)
	if stored.ID == "" && stored.URL != "" {
		stored.ID = stored.URL[strings.LastIndexByte(stored.URL, '/')+1:]
	}
	if err := validateProfile(&stored); err != nil {
		return nil, err
	}
	if stored.IsBase() {
		stored.Elements = withCommonElements(stored.Type, stored.Elements)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[stored.ID] = &stored
	if stored.URL != "" {
		r.byURL[stored.URL] = &stored
	}
	if stored.IsBase() {
		r.bases[stored.Type] = &stored
	}
	out := stored
	return &out, nil
}

// SetDefault makes id the profile used for resourceType when the caller
// names none.
func (r *Registry) SetDefault(resourceType, id string) {
	r.mu.Lock()
	r.defaults[resourceType] = id
	r.mu.Unlock()
}

// Profile implements service.ProfileSource. id may be a profile id or a
// canonical URL, with or without a "|version" suffix.
func (r *Registry) Profile(ctx context.Context, id string) (*service.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i := strings.IndexByte(id, '|'); i >= 0 {
		id = id[:i]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	if p, ok := r.byURL[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", mm.ErrUnknownProfile, id)
}

// BaseDefinition implements service.ProfileSource.
func (r *Registry) BaseDefinition(ctx context.Context, resourceType string) (*service.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.bases[resourceType]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: no base definition for %s", mm.ErrUnknownProfile, resourceType)
}

// DefaultProfileFor returns the configured default profile for a resource
// type, the base definition URL when only that is known, or "".
func (r *Registry) DefaultProfileFor(resourceType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.defaults[resourceType]; ok {
		return id
	}
	if base, ok := r.bases[resourceType]; ok {
		if base.URL != "" {
			return base.URL
		}
		return base.ID
	}
	return ""
}

// IDs returns the registered profile ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

type profileFile struct {
	Profiles []service.Profile `yaml:"profiles"`
	Defaults map[string]string `yaml:"defaults"`
}

// LoadYAML registers the profiles of a YAML document with "profiles" and
// optional "defaults" (resource type to profile id or URL).
func (r *Registry) LoadYAML(data []byte) (int, error) {
	var doc profileFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: parse profiles: %w", mm.ErrConfiguration, err)
	}
	for i := range doc.Profiles {
		if err := r.Register(&doc.Profiles[i]); err != nil {
			return i, err
		}
	}
	for resourceType, id := range doc.Defaults {
		r.SetDefault(resourceType, id)
	}
	return len(doc.Profiles), nil
}

func validateProfile(p *service.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("%w: profile without id or url", mm.ErrConfiguration)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: profile %s: missing type", mm.ErrConfiguration, p.ID)
	}
	for _, e := range p.Elements {
		if !strings.HasPrefix(e.Path, p.Type+".") {
			return fmt.Errorf("%w: profile %s: element %q outside %s", mm.ErrConfiguration, p.ID, e.Path, p.Type)
		}
		if e.Min < 0 {
			return fmt.Errorf("%w: profile %s: %s: negative min", mm.ErrConfiguration, p.ID, e.Path)
		}
		if e.Max != "" && e.Max != "*" {
			n, err := strconv.Atoi(e.Max)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: profile %s: %s: invalid max %q", mm.ErrConfiguration, p.ID, e.Path, e.Max)
			}
			if e.Min > n {
				return fmt.Errorf("%w: profile %s: %s: min %d exceeds max %d", mm.ErrConfiguration, p.ID, e.Path, e.Min, n)
			}
		}
		if e.Binding != nil && !e.Binding.Strength.IsValid() {
			return fmt.Errorf("%w: profile %s: %s: invalid binding strength %q", mm.ErrConfiguration, p.ID, e.Path, e.Binding.Strength)
		}
	}
	return nil
}

// withCommonElements prepends the common resource elements the definition
// does not declare itself.
func withCommonElements(resourceType string, elements []service.ElementConstraint) []service.ElementConstraint {
	declared := make(map[string]bool, len(elements))
	for _, e := range elements {
		declared[e.Path] = true
	}
	out := make([]service.ElementConstraint, 0, len(commonElements)+len(elements))
	for _, c := range commonElements {
		c.Path = resourceType + "." + c.Path
		if !declared[c.Path] {
			out = append(out, c)
		}
	}
	return append(out, elements...)
}

var (
	_ service.ProfileSource   = (*Registry)(nil)
	_ service.DefaultProfiler = (*Registry)(nil)
)
