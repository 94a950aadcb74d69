package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aks129/FhirMapMaster/terminology"
)

// LoadStats contains statistics about package loading.
type LoadStats struct {
	Profiles    int
	CodeSystems int64
	ValueSets   int64
	Errors      int
}

// PackageLoader loads a directory of conformance resources into a registry
// and a terminology service. Either target may be nil to skip its files.
type PackageLoader struct {
	profiles *Registry
	terms    *terminology.InMemoryService
	logger   *zap.Logger
}

// NewPackageLoader creates a package loader.
func NewPackageLoader(profiles *Registry, terms *terminology.InMemoryService, logger *zap.Logger) *PackageLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackageLoader{profiles: profiles, terms: terms, logger: logger}
}

// LoadPackage loads every JSON and YAML file of a package directory, using
// its "package" subdirectory when there is one (the npm package layout).
// Profiles load first, then code systems, then value sets, so value set
// filters can expand. Files that fail are logged, counted and skipped.
func (l *PackageLoader) LoadPackage(dir string) (*LoadStats, error) {
	contentDir := dir
	if st, err := os.Stat(filepath.Join(dir, "package")); err == nil && st.IsDir() {
		contentDir = filepath.Join(dir, "package")
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

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
	sort.SliceStable(files, func(i, j int) bool { return loadRank(files[i]) < loadRank(files[j]) })

	stats := &LoadStats{}
	for _, name := range files {
		path := filepath.Join(contentDir, name)
		if err := l.loadFile(path, stats); err != nil {
			stats.Errors++
			l.logger.Warn("skipping package file", zap.String("file", path), zap.Error(err))
		}
	}
	l.logger.Info("package loaded",
		zap.String("dir", contentDir),
		zap.Int("profiles", stats.Profiles),
		zap.Int64("code_systems", stats.CodeSystems),
		zap.Int64("value_sets", stats.ValueSets),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (l *PackageLoader) loadFile(path string, stats *LoadStats) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		return l.loadYAML(data, stats)
	}

	switch resourceTypeOf(data) {
	case "StructureDefinition":
		return l.loadProfiles(data, stats)
	case "CodeSystem", "ValueSet":
		return l.loadTerminology(data, stats)
	case "Bundle":
		if err := l.loadProfiles(data, stats); err != nil {
			return err
		}
		return l.loadTerminology(data, stats)
	case "":
		return fmt.Errorf("not a FHIR resource")
	}
	return nil
}

// loadYAML accepts both profile documents and terminology documents.
func (l *PackageLoader) loadYAML(data []byte, stats *LoadStats) error {
	if l.profiles != nil {
		n, err := l.profiles.LoadYAML(data)
		stats.Profiles += n
		if err != nil {
			return err
		}
	}
	if l.terms != nil {
		st, err := l.terms.LoadYAML(data)
		if st != nil {
			stats.CodeSystems += st.CodeSystemsLoaded
			stats.ValueSets += st.ValueSetsLoaded
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *PackageLoader) loadProfiles(data []byte, stats *LoadStats) error {
	if l.profiles == nil {
		return nil
	}
	n, err := l.profiles.LoadJSON(data)
	stats.Profiles += n
	return err
}

func (l *PackageLoader) loadTerminology(data []byte, stats *LoadStats) error {
	if l.terms == nil {
		return nil
	}
	st, err := l.terms.LoadFromJSON(data)
	if st != nil {
		stats.CodeSystems += st.CodeSystemsLoaded
		stats.ValueSets += st.ValueSetsLoaded
		stats.Errors += int(st.Errors)
	}
	return err
}

func loadRank(name string) int {
	switch {
	case strings.HasPrefix(name, "StructureDefinition-"):
		return 0
	case strings.HasPrefix(name, "CodeSystem-"):
		return 1
	case strings.HasPrefix(name, "ValueSet-"):
		return 3
	default:
		return 2
	}
}
