package engine

import (
	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/service"
)

// measureQuality reports how much of profile the resource populates.
// Completeness counts the profile's top-level elements; must-support
// coverage counts its must-support elements at any depth.
func measureQuality(resource map[string]any, profile *service.Profile) *mm.Quality {
	q := &mm.Quality{Completeness: 1, MustSupportCoverage: 1}

	top := profile.TopLevel()
	if len(top) > 0 {
		populated := 0
		for _, e := range top {
			if len(pipeline.Resolve(resource, e.Path)) > 0 {
				populated++
			} else {
				q.Missing = append(q.Missing, e.Path)
			}
		}
		q.Completeness = ratio(populated, len(top))
	}

	declared, populated := 0, 0
	for _, e := range profile.Elements {
		if !e.MustSupport {
			continue
		}
		declared++
		if len(pipeline.Resolve(resource, e.Path)) > 0 {
			populated++
		}
	}
	if declared > 0 {
		q.MustSupportCoverage = ratio(populated, declared)
	}
	return q
}

// ratio rounds to four decimals so reports stay stable across platforms.
func ratio(n, d int) float64 {
	return float64(n*10000/d) / 10000
}
