package terminology

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/builtin.yaml
var builtinYAML []byte

type yamlFile struct {
	CodeSystems []struct {
		URL      string    `yaml:"url"`
		ValueSet string    `yaml:"valueSet"`
		Concepts []Concept `yaml:"concepts"`
	} `yaml:"codeSystems"`
	ValueSets []struct {
		URL     string    `yaml:"url"`
		Include []Include `yaml:"include"`
	} `yaml:"valueSets"`
}

// LoadYAML loads code systems and value sets from a YAML document with
// "codeSystems" and "valueSets" lists. A code system's optional valueSet
// URL registers a value set holding all of its codes.
func (s *InMemoryService) LoadYAML(data []byte) (*LoadStats, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse terminology yaml: %w", err)
	}

	stats := &LoadStats{}
	for _, cs := range doc.CodeSystems {
		if err := s.AddCodeSystem(cs.URL, cs.Concepts); err != nil {
			return stats, err
		}
		stats.CodeSystemsLoaded++
		if cs.ValueSet != "" {
			if err := s.AddValueSet(cs.ValueSet, Include{System: cs.URL}); err != nil {
				return stats, err
			}
			stats.ValueSetsLoaded++
		}
	}
	for _, vs := range doc.ValueSets {
		if err := s.AddValueSet(vs.URL, vs.Include...); err != nil {
			return stats, err
		}
		stats.ValueSetsLoaded++
	}
	return stats, nil
}
