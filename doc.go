// Package mapmaster holds the value types shared by the mapping suggestion
// engine and the multi-layer validation engine.
//
// Suggestions flow from a normalized field context through the pattern
// matcher and any number of suggestion providers into a fused, ranked set.
// Human decisions are appended to a feedback log that drives the learned
// rule factors and provider trust scores. Once a resource is assembled it is
// validated layer by layer and the report is memoized by content fingerprint.
//
// # Quick Start
//
//	import (
//	    mm "github.com/aks129/FhirMapMaster"
//	    "github.com/aks129/FhirMapMaster/engine"
//	    "github.com/aks129/FhirMapMaster/field"
//	    "github.com/aks129/FhirMapMaster/pattern"
//	    "github.com/aks129/FhirMapMaster/suggest"
//	)
//
//	matcher := pattern.NewMatcher(pattern.DefaultRules(), nil)
//	s := suggest.New(matcher, nil)
//	set := s.Suggest(ctx, field.New("dob", []string{"1980-01-15"}), "Patient", "")
//
//	v, err := engine.New(profiles, terminology, mm.WithLevel(mm.LevelStrict))
//	report, err := v.Validate(ctx, resource, profileID)
//	if report.Status == mm.StatusFail {
//	    for _, issue := range report.Errors() {
//	        fmt.Println(issue)
//	    }
//	}
//
// # Validation Layers
//
// Layers always run in this order and stop after a structural error:
//
//   - Structural: required elements, cardinality, primitive formats
//   - Profile: implementation guide constraints on top of the base resource
//   - Terminology: value set and code system membership of coded elements
//   - BusinessRules: cross-field and cross-resource rules
//
// # Errors
//
// Validation problems are always reported as Issue values inside a Report.
// Go errors are reserved for configuration problems (ErrConfiguration) and
// feedback storage failures (ErrStorage). Provider failures
// (ErrProviderUnavailable) never leave the suggestion engine.
package mapmaster
