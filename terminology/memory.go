package terminology

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"

	"github.com/aks129/FhirMapMaster/service"
)

// InMemoryService implements service.TerminologySource using in-memory
// storage. It stores ValueSets and CodeSystems and checks membership
// against them.
type InMemoryService struct {
	mu          sync.RWMutex
	valueSets   map[string]*valueSetData
	codeSystems map[string]*codeSystemData
}

// valueSetData holds a ValueSet and its expanded codes for fast lookup.
type valueSetData struct {
	url      string
	codes    map[string]map[string]codeEntry // system -> code -> entry
	filters  []pendingFilter                 // filters to expand lazily
	expanded bool                            // true if filters have been expanded
}

// codeSystemData holds a CodeSystem for code lookup.
type codeSystemData struct {
	url      string
	codes    map[string]codeEntry // code -> entry
	parents  map[string][]string  // code -> parent codes
	children map[string][]string  // code -> child codes (reverse of parents)
}

type codeEntry struct {
	code    string
	display string
	system  string
}

// pendingFilter stores a filter definition for lazy expansion.
type pendingFilter struct {
	system   string
	property string
	op       string
	value    string
}

const opIncludeAll = "include-all"

// Concept is one code of a code system.
type Concept struct {
	Code    string `yaml:"code"`
	Display string `yaml:"display"`
	// Parent is the code this one is subsumed by, if any.
	Parent string `yaml:"parent,omitempty"`
}

// Filter selects codes of a code system by property.
// Supported: concept is-a / descendent-of, code regex, code =.
type Filter struct {
	Property string `yaml:"property"`
	Op       string `yaml:"op"`
	Value    string `yaml:"value"`
}

// Include adds codes of one system to a value set. With no codes and no
// filter the whole system is included.
type Include struct {
	System string   `yaml:"system"`
	Codes  []string `yaml:"codes,omitempty"`
	Filter *Filter  `yaml:"filter,omitempty"`
}

// NewInMemoryService creates a service preloaded with the built-in code
// systems and value sets.
func NewInMemoryService() *InMemoryService {
	s := NewEmptyService()
	if _, err := s.LoadYAML(builtinYAML); err != nil {
		panic(fmt.Sprintf("terminology: embedded built-in terminology: %v", err))
	}
	return s
}

// NewEmptyService creates a service with no terminology loaded.
func NewEmptyService() *InMemoryService {
	return &InMemoryService{
		valueSets:   make(map[string]*valueSetData),
		codeSystems: make(map[string]*codeSystemData),
	}
}

// AddCodeSystem registers a code system, replacing any with the same URL.
func (s *InMemoryService) AddCodeSystem(url string, concepts []Concept) error {
	if url == "" {
		return errors.New("codesystem has no URL")
	}
	cs := newCodeSystemData(url)
	for _, c := range concepts {
		if c.Code == "" {
			return fmt.Errorf("codesystem %s: concept without code", url)
		}
		cs.codes[c.Code] = codeEntry{code: c.Code, display: c.Display, system: url}
		if c.Parent != "" {
			cs.parents[c.Code] = append(cs.parents[c.Code], c.Parent)
		}
	}
	cs.linkChildren()

	s.mu.Lock()
	s.codeSystems[url] = cs
	s.mu.Unlock()
	return nil
}

// AddValueSet registers a value set built from includes. Filters and
// whole-system includes expand lazily, so the code systems may be added
// later.
func (s *InMemoryService) AddValueSet(url string, includes ...Include) error {
	if url == "" {
		return errors.New("valueset has no URL")
	}
	vs := &valueSetData{url: url, codes: make(map[string]map[string]codeEntry)}
	for _, inc := range includes {
		if inc.System == "" {
			return fmt.Errorf("valueset %s: include without system", url)
		}
		if vs.codes[inc.System] == nil {
			vs.codes[inc.System] = make(map[string]codeEntry)
		}
		for _, code := range inc.Codes {
			vs.codes[inc.System][code] = codeEntry{code: code, system: inc.System}
		}
		switch {
		case inc.Filter != nil:
			vs.filters = append(vs.filters, pendingFilter{
				system:   inc.System,
				property: inc.Filter.Property,
				op:       inc.Filter.Op,
				value:    inc.Filter.Value,
			})
		case len(inc.Codes) == 0:
			vs.filters = append(vs.filters, pendingFilter{system: inc.System, op: opIncludeAll})
		}
	}

	s.mu.Lock()
	s.valueSets[url] = vs
	s.mu.Unlock()
	return nil
}

// LoadR4ValueSet loads an R4 ValueSet into the service.
func (s *InMemoryService) LoadR4ValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil {
		return errors.New("valueset is nil or has no URL")
	}

	vsData := &valueSetData{
		url:   *vs.Url,
		codes: make(map[string]map[string]codeEntry),
	}

	// Expansion is preferred over compose.
	if vs.Expansion != nil {
		for i := range vs.Expansion.Contains {
			extractExpansionContains(&vs.Expansion.Contains[i], vsData)
		}
		vsData.expanded = true
	}
	if vs.Compose != nil && !vsData.expanded {
		extractCompose(vs.Compose, vsData)
	}

	s.mu.Lock()
	s.valueSets[*vs.Url] = vsData
	s.mu.Unlock()
	return nil
}

// LoadR4CodeSystem loads an R4 CodeSystem into the service.
func (s *InMemoryService) LoadR4CodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil {
		return errors.New("codesystem is nil or has no URL")
	}

	csData := newCodeSystemData(*cs.Url)
	extractCodeSystemCodes(cs.Concept, csData, "")
	csData.linkChildren()

	s.mu.Lock()
	s.codeSystems[*cs.Url] = csData
	s.mu.Unlock()
	return nil
}

// ValidateCode implements service.TerminologySource. Unknown value sets and
// code systems yield service.ErrUnknownValueSet.
func (s *InMemoryService) ValidateCode(ctx context.Context, system, code, valueSetURL string) (*service.CodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valueSetURL = stripVersionFromURL(valueSetURL)
	if valueSetURL != "" {
		if err := s.ensureValueSetExpanded(valueSetURL); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if valueSetURL == "" {
		if system == "" {
			return &service.CodeResult{}, nil
		}
		cs, ok := s.codeSystems[system]
		if !ok {
			return nil, fmt.Errorf("%w: codesystem %s", service.ErrUnknownValueSet, system)
		}
		if entry, ok := cs.codes[code]; ok && code != "" {
			return &service.CodeResult{Member: true, Display: entry.display, System: system}, nil
		}
		return &service.CodeResult{System: system}, nil
	}

	vs := s.valueSets[valueSetURL]
	if code == "" {
		return &service.CodeResult{System: system}, nil
	}
	if system != "" {
		if entry, ok := vs.codes[system][code]; ok {
			return &service.CodeResult{Member: true, Display: s.display(entry), System: system}, nil
		}
		return &service.CodeResult{System: system}, nil
	}
	for _, sys := range sortedKeys(vs.codes) {
		if entry, ok := vs.codes[sys][code]; ok {
			return &service.CodeResult{Member: true, Display: s.display(entry), System: sys}, nil
		}
	}
	return &service.CodeResult{}, nil
}

// display fills in a missing value set display from the code system.
// Must be called with mu held.
func (s *InMemoryService) display(entry codeEntry) string {
	if entry.display != "" {
		return entry.display
	}
	if cs, ok := s.codeSystems[entry.system]; ok {
		return cs.codes[entry.code].display
	}
	return ""
}

// Expand returns the codes of a value set ordered by system then code.
func (s *InMemoryService) Expand(ctx context.Context, valueSetURL string) ([]service.Coding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	valueSetURL = stripVersionFromURL(valueSetURL)
	if err := s.ensureValueSetExpanded(valueSetURL); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.valueSets[valueSetURL]
	var out []service.Coding
	for _, sys := range sortedKeys(vs.codes) {
		for _, code := range sortedKeys(vs.codes[sys]) {
			entry := vs.codes[sys][code]
			out = append(out, service.Coding{System: sys, Code: code, Display: s.display(entry)})
		}
	}
	return out, nil
}

// ensureValueSetExpanded expands pending filters once, with double-checked
// locking.
func (s *InMemoryService) ensureValueSetExpanded(valueSetURL string) error {
	s.mu.RLock()
	vs, ok := s.valueSets[valueSetURL]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: valueset %s", service.ErrUnknownValueSet, valueSetURL)
	}
	if vs.expanded || len(vs.filters) == 0 {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	vs = s.valueSets[valueSetURL]
	if vs.expanded {
		return nil
	}

	for _, filter := range vs.filters {
		cs, ok := s.codeSystems[filter.system]
		if !ok {
			continue
		}
		if vs.codes[filter.system] == nil {
			vs.codes[filter.system] = make(map[string]codeEntry)
		}
		target := vs.codes[filter.system]

		switch {
		case filter.op == opIncludeAll:
			for code, entry := range cs.codes {
				target[code] = entry
			}
		case filter.property == "concept" && (filter.op == "descendent-of" || filter.op == "is-a"):
			for _, code := range cs.descendants(filter.value, filter.op == "is-a") {
				if entry, ok := cs.codes[code]; ok {
					target[code] = entry
				}
			}
		case filter.property == "code" && filter.op == "regex":
			re, err := regexp.Compile(filter.value)
			if err != nil {
				continue
			}
			for code, entry := range cs.codes {
				if re.MatchString(code) {
					target[code] = entry
				}
			}
		case filter.property == "code" && filter.op == "=":
			if entry, ok := cs.codes[filter.value]; ok {
				target[filter.value] = entry
			}
		}
	}

	// A value set over a code system that is not loaded yet stays
	// unexpanded so it can pick the system up later.
	for _, filter := range vs.filters {
		if _, ok := s.codeSystems[filter.system]; !ok {
			return nil
		}
	}
	vs.expanded = true
	return nil
}

func newCodeSystemData(url string) *codeSystemData {
	return &codeSystemData{
		url:      url,
		codes:    make(map[string]codeEntry),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

func (cs *codeSystemData) linkChildren() {
	for code, parents := range cs.parents {
		for _, parent := range parents {
			cs.children[parent] = append(cs.children[parent], code)
		}
	}
	for parent := range cs.children {
		sort.Strings(cs.children[parent])
	}
}

// descendants collects all descendants of a code, and the code itself if
// includeSelf is set. Abstract codes (leading "_") are skipped.
func (cs *codeSystemData) descendants(start string, includeSelf bool) []string {
	var result []string
	visited := make(map[string]bool)

	var collect func(code string)
	collect = func(code string) {
		if visited[code] {
			return
		}
		visited[code] = true
		if (includeSelf || code != start) && (code == "" || code[0] != '_') {
			result = append(result, code)
		}
		for _, child := range cs.children[code] {
			collect(child)
		}
	}
	collect(start)
	return result
}

func extractExpansionContains(contains *r4.ValueSetExpansionContains, vsData *valueSetData) {
	if contains.Code != nil && contains.System != nil {
		system := *contains.System
		if vsData.codes[system] == nil {
			vsData.codes[system] = make(map[string]codeEntry)
		}
		vsData.codes[system][*contains.Code] = codeEntry{
			code:    *contains.Code,
			display: derefString(contains.Display),
			system:  system,
		}
	}
	for i := range contains.Contains {
		extractExpansionContains(&contains.Contains[i], vsData)
	}
}

func extractCompose(compose *r4.ValueSetCompose, vsData *valueSetData) {
	for i := range compose.Include {
		include := &compose.Include[i]
		if include.System == nil {
			continue
		}
		system := *include.System
		if vsData.codes[system] == nil {
			vsData.codes[system] = make(map[string]codeEntry)
		}

		for j := range include.Concept {
			concept := &include.Concept[j]
			if concept.Code == nil {
				continue
			}
			vsData.codes[system][*concept.Code] = codeEntry{
				code:    *concept.Code,
				display: derefString(concept.Display),
				system:  system,
			}
		}

		for _, filter := range include.Filter {
			if filter.Property == nil || filter.Op == nil || filter.Value == nil {
				continue
			}
			vsData.filters = append(vsData.filters, pendingFilter{
				system:   system,
				property: *filter.Property,
				op:       string(*filter.Op),
				value:    *filter.Value,
			})
		}

		if len(include.Concept) == 0 && len(include.Filter) == 0 {
			vsData.filters = append(vsData.filters, pendingFilter{system: system, op: opIncludeAll})
		}
	}
}

func extractCodeSystemCodes(concepts []r4.CodeSystemConcept, csData *codeSystemData, parent string) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.Code == nil {
			continue
		}
		code := *concept.Code
		csData.codes[code] = codeEntry{
			code:    code,
			display: derefString(concept.Display),
			system:  csData.url,
		}
		if parent != "" {
			csData.parents[code] = append(csData.parents[code], parent)
		}
		for _, prop := range concept.Property {
			if prop.Code != nil && *prop.Code == "subsumedBy" && prop.ValueCode != nil {
				csData.parents[code] = append(csData.parents[code], *prop.ValueCode)
			}
		}
		if len(concept.Concept) > 0 {
			extractCodeSystemCodes(concept.Concept, csData, code)
		}
	}
}

// CountValueSets returns the number of loaded ValueSets.
func (s *InMemoryService) CountValueSets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.valueSets)
}

// CountCodeSystems returns the number of loaded CodeSystems.
func (s *InMemoryService) CountCodeSystems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codeSystems)
}

// Verify interface compliance
var _ service.TerminologySource = (*InMemoryService)(nil)

// stripVersionFromURL removes the version suffix from a canonical URL:
// "http://hl7.org/fhir/ValueSet/request-status|4.0.1" -> "http://hl7.org/fhir/ValueSet/request-status".
func stripVersionFromURL(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
