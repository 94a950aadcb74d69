// Package pattern implements the deterministic, rule-based mapping
// candidate generator.
package pattern

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// Rule maps source fields that look a certain way to one target path.
type Rule struct {
	ID         string           `yaml:"id"`
	Resource   string           `yaml:"resource"`
	Target     string           `yaml:"target"`
	Transform  mm.Transform     `yaml:"transform"`
	Expression string           `yaml:"expression,omitempty"`
	Weight     float64          `yaml:"weight"`
	Names      []string         `yaml:"names,omitempty"`
	Tokens     []string         `yaml:"tokens,omitempty"`
	Samples    field.SampleKind `yaml:"samples,omitempty"`
	Regex      string           `yaml:"regex,omitempty"`
	Hints      []string         `yaml:"hints,omitempty"`
	Rationale  string           `yaml:"rationale,omitempty"`

	names    []string
	tokens   map[string]struct{}
	sampleRe *regexp.Regexp
}

// Table is an ordered, validated rule table. Registration order breaks
// ties between equally confident rules.
type Table struct {
	rules []*Rule
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *Table {
	t, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("pattern: built-in rules: %v", err))
	}
	return t
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", mm.ErrMalformedRules, path, err)
	}
	return ParseRules(data)
}

// ParseRules parses and validates a YAML rule table.
func ParseRules(data []byte) (*Table, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", mm.ErrMalformedRules, err)
	}
	return NewTable(f.Rules...)
}

// NewTable validates rules and builds a table in the given order.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(rules))}
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := rules[i]
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("%w: rule %d (%q): %v", mm.ErrMalformedRules, i, r.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", mm.ErrMalformedRules, r.ID)
		}
		seen[r.ID] = true
		t.rules = append(t.rules, &r)
	}
	return t, nil
}

// Extend returns a new table with more rules appended after the existing ones.
func (t *Table) Extend(rules ...Rule) (*Table, error) {
	all := make([]Rule, 0, len(t.rules)+len(rules))
	for _, r := range t.rules {
		all = append(all, *r)
	}
	return NewTable(append(all, rules...)...)
}

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }

// Rule returns the rule with the given id.
func (t *Table) Rule(id string) (Rule, bool) {
	for _, r := range t.rules {
		if r.ID == id {
			return *r, true
		}
	}
	return Rule{}, false
}

func (r *Rule) compile() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("missing id")
	case r.Target == "":
		return fmt.Errorf("missing target")
	case r.Resource == "":
		return fmt.Errorf("missing resource")
	case r.Weight <= 0 || r.Weight > 1:
		return fmt.Errorf("weight %v outside (0,1]", r.Weight)
	case len(r.Names) == 0 && len(r.Tokens) == 0 && r.Samples == "" && r.Regex == "" && len(r.Hints) == 0:
		return fmt.Errorf("no match criteria")
	}
	if r.Transform == "" {
		r.Transform = mm.TransformDirect
	}
	if !r.Transform.IsValid() {
		return fmt.Errorf("unknown transform %q", r.Transform)
	}

	switch {
	case r.Regex != "":
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return fmt.Errorf("regex: %v", err)
		}
		r.sampleRe = re
	case r.Samples != "":
		re, ok := field.Pattern(r.Samples)
		if !ok {
			return fmt.Errorf("unknown sample kind %q", r.Samples)
		}
		r.sampleRe = re
	}

	r.names = make([]string, 0, len(r.Names))
	for _, n := range r.Names {
		r.names = append(r.names, field.Normalize(n))
	}
	r.tokens = make(map[string]struct{}, len(r.Tokens))
	for _, tok := range r.Tokens {
		r.tokens[field.Normalize(tok)] = struct{}{}
	}
	return nil
}
