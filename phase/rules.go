package phase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
)

// Built-in rule ids.
const (
	RulePeriodOrder      = "period-order"
	RuleReference        = "reference-resolution"
	RulePatientName      = "patient-name"
	RuleBirthDate        = "birth-date-format"
	RuleObservationValue = "observation-value"
)

// PeriodOrderRule requires every object with start and end to end no
// earlier than it starts.
type PeriodOrderRule struct{}

func (PeriodOrderRule) ID() string { return RulePeriodOrder }

func (PeriodOrderRule) Applies(string) bool { return true }

func (PeriodOrderRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	var issues []mm.Issue
	walkObjects(pctx.ResourceType, pctx.Resource, func(path string, obj map[string]any) {
		start, ok1 := obj["start"].(string)
		end, ok2 := obj["end"].(string)
		if !ok1 || !ok2 {
			return
		}
		s, err1 := parseFHIRTime(start)
		e, err2 := parseFHIRTime(end)
		if err1 != nil || err2 != nil || !e.latest().Before(s.Time) {
			return
		}
		issues = append(issues, mm.Error(mm.CodeBusinessRule).
			At(path).
			Message(fmt.Sprintf("period ends (%s) before it starts (%s)", end, start)).
			Fix("swap start and end or correct the dates").
			Build())
	})
	return issues
}

// fhirTime is a parsed FHIR date, dateTime or instant with the width of
// the interval it denotes.
type fhirTime struct {
	time.Time
	window func(time.Time) time.Time
}

// latest returns the last instant covered by t: the end of the year,
// month or day for partial dates, t itself otherwise.
func (t fhirTime) latest() time.Time {
	if t.window == nil {
		return t.Time
	}
	return t.window(t.Time).Add(-time.Nanosecond)
}

var timeLayouts = []struct {
	layout string
	window func(time.Time) time.Time
}{
	{time.RFC3339Nano, nil},
	{"2006-01-02T15:04:05", nil},
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
}

// parseFHIRTime parses a FHIR date, dateTime or instant. Partial dates
// resolve to their earliest instant.
func parseFHIRTime(s string) (fhirTime, error) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return fhirTime{Time: t, window: l.window}, nil
		}
	}
	return fhirTime{}, fmt.Errorf("unparseable time %q", s)
}

// ReferenceRule checks that references resolve: "#id" against contained
// resources, and "Type/id" or full URLs against the batch being validated.
// Outside a batch only local references are checked.
type ReferenceRule struct{}

func (ReferenceRule) ID() string { return RuleReference }

func (ReferenceRule) Applies(string) bool { return true }

func (ReferenceRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	contained := containedIDs(pctx.Resource)
	var issues []mm.Issue
	walkObjects(pctx.ResourceType, pctx.Resource, func(path string, obj map[string]any) {
		ref, ok := obj["reference"].(string)
		if !ok {
			return
		}
		if issue, bad := checkReference(ref, path+".reference", contained, pctx.Batch); bad {
			issues = append(issues, issue)
		}
	})
	return issues
}

var relativeRef = regexp.MustCompile(`^([A-Z][A-Za-z]+)/([A-Za-z0-9\-.]{1,64})(/_history/[A-Za-z0-9\-.]{1,64})?$`)

func checkReference(ref, path string, contained map[string]bool, batch *pipeline.BatchIndex) (mm.Issue, bool) {
	switch {
	case ref == "":
		return mm.Warning(mm.CodeNotFound).At(path).Message("empty reference").Build(), true
	case ref == "#":
		return mm.Issue{}, false
	case strings.HasPrefix(ref, "#"):
		if contained[ref[1:]] {
			return mm.Issue{}, false
		}
		return mm.Error(mm.CodeNotFound).
			At(path).
			Message(fmt.Sprintf("reference %s does not match a contained resource", ref)).
			Build(), true
	}

	key := ref
	if m := relativeRef.FindStringSubmatch(ref); m != nil {
		key = m[1] + "/" + m[2]
	} else if !strings.HasPrefix(ref, "urn:") && !strings.Contains(ref, "://") {
		return mm.Warning(mm.CodeNotFound).
			At(path).
			Message(fmt.Sprintf("reference %q is not a valid relative or absolute reference", ref)).
			Build(), true
	}

	if batch.Len() == 0 || batch.Has(key) || batch.Has(ref) {
		return mm.Issue{}, false
	}
	if strings.Contains(ref, "://") {
		// Absolute references may point at servers outside the batch.
		return mm.Issue{}, false
	}
	return mm.Error(mm.CodeNotFound).
		At(path).
		Message(fmt.Sprintf("reference %s does not resolve within the batch", ref)).
		Build(), true
}

func containedIDs(resource map[string]any) map[string]bool {
	ids := make(map[string]bool)
	arr, _ := resource["contained"].([]any)
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			if id, ok := m["id"].(string); ok {
				ids[id] = true
			}
		}
	}
	return ids
}

// PatientNameRule warns when a Patient has no name.
type PatientNameRule struct{}

func (PatientNameRule) ID() string { return RulePatientName }

func (PatientNameRule) Applies(resourceType string) bool { return resourceType == "Patient" }

func (PatientNameRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	names, _ := pctx.Resource["name"].([]any)
	for _, n := range names {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := m["text"].(string); s != "" {
			return nil
		}
		if s, _ := m["family"].(string); s != "" {
			return nil
		}
		if given, _ := m["given"].([]any); len(given) > 0 {
			return nil
		}
	}
	return []mm.Issue{mm.Warning(mm.CodeBusinessRule).
		At("Patient.name").
		Message("patient has no name").
		Fix("map a source field to Patient.name.family or Patient.name.text").
		Build()}
}

var birthDateRegex = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)

// BirthDateRule requires birthDate to be YYYY, YYYY-MM or YYYY-MM-DD.
type BirthDateRule struct{}

func (BirthDateRule) ID() string { return RuleBirthDate }

func (BirthDateRule) Applies(resourceType string) bool {
	return resourceType == "Patient" || resourceType == "Practitioner" || resourceType == "RelatedPerson"
}

func (BirthDateRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	v, ok := pctx.Resource["birthDate"]
	if !ok {
		return nil
	}
	s, _ := v.(string)
	if birthDateRegex.MatchString(s) {
		return nil
	}
	return []mm.Issue{mm.Error(mm.CodeBusinessRule).
		At(pctx.ResourceType + ".birthDate").
		Message(fmt.Sprintf("birth date %v must be YYYY, YYYY-MM or YYYY-MM-DD", v)).
		Fix("reformat the source date as YYYY-MM-DD").
		Build()}
}

// ObservationValueRule requires an Observation to carry a value, a
// dataAbsentReason or components.
type ObservationValueRule struct{}

func (ObservationValueRule) ID() string { return RuleObservationValue }

func (ObservationValueRule) Applies(resourceType string) bool { return resourceType == "Observation" }

func (ObservationValueRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	if len(pipeline.ChoiceKeys(pctx.Resource, "value[x]")) > 0 {
		return nil
	}
	if _, ok := pctx.Resource["dataAbsentReason"]; ok {
		return nil
	}
	if comps, _ := pctx.Resource["component"].([]any); len(comps) > 0 {
		return nil
	}
	return []mm.Issue{mm.Error(mm.CodeBusinessRule).
		At("Observation.value[x]").
		Message("observation has no value, dataAbsentReason or component").
		Fix("map the result to a value[x] element or set dataAbsentReason").
		Build()}
}
