package terminology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofhir/fhir/r4"
)

// LoadStats counts what a load call added.
type LoadStats struct {
	CodeSystemsLoaded int64
	ValueSetsLoaded   int64
	Errors            int64
}

func (st *LoadStats) add(other *LoadStats) {
	if other == nil {
		return
	}
	st.CodeSystemsLoaded += other.CodeSystemsLoaded
	st.ValueSetsLoaded += other.ValueSetsLoaded
	st.Errors += other.Errors
}

type resourceProbe struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadFromJSON loads an R4 CodeSystem, ValueSet, or a Bundle of them.
// Bundle entries of other types are ignored; CodeSystems are loaded before
// ValueSets so filters can expand.
func (s *InMemoryService) LoadFromJSON(data []byte) (*LoadStats, error) {
	var probe resourceProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	stats := &LoadStats{}
	switch probe.ResourceType {
	case "CodeSystem", "ValueSet":
		if err := s.loadResource(probe.ResourceType, data, stats); err != nil {
			return stats, err
		}
	case "Bundle":
		for _, want := range []string{"CodeSystem", "ValueSet"} {
			for _, e := range probe.Entry {
				var inner resourceProbe
				if len(e.Resource) == 0 || json.Unmarshal(e.Resource, &inner) != nil || inner.ResourceType != want {
					continue
				}
				if err := s.loadResource(want, e.Resource, stats); err != nil {
					stats.Errors++
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported resourceType: %s", probe.ResourceType)
	}
	return stats, nil
}

func (s *InMemoryService) loadResource(resourceType string, data []byte, stats *LoadStats) error {
	switch resourceType {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		if err := s.LoadR4CodeSystem(&cs); err != nil {
			return err
		}
		stats.CodeSystemsLoaded++
	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("failed to parse ValueSet: %w", err)
		}
		if err := s.LoadR4ValueSet(&vs); err != nil {
			return err
		}
		stats.ValueSetsLoaded++
	}
	return nil
}

// LoadFromDirectory loads every terminology file in dir: YAML documents
// (see LoadYAML) and CodeSystem-*.json / ValueSet-*.json / Bundle JSON
// files. Files that fail to load are counted in Errors and skipped.
func (s *InMemoryService) LoadFromDirectory(dir string) (*LoadStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminology directory: %w", err)
	}

	// CodeSystems sort before ValueSets so filter expansion sees them.
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "package.json" || name == ".index.json" {
			continue
		}
		switch filepath.Ext(name) {
		case ".json", ".yaml", ".yml":
			files = append(files, name)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return fileRank(files[i]) < fileRank(files[j]) })

	stats := &LoadStats{}
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			stats.Errors++
			continue
		}
		var st *LoadStats
		if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
			st, err = s.LoadYAML(data)
		} else {
			st, err = s.LoadFromJSON(data)
		}
		stats.add(st)
		if err != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

func fileRank(name string) int {
	switch {
	case strings.HasPrefix(name, "CodeSystem-"):
		return 0
	case strings.HasPrefix(name, "ValueSet-"):
		return 2
	default:
		return 1
	}
}
