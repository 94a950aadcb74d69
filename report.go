package mapmaster

import (
	"encoding/json"
)

// Status is the overall pass/fail verdict of a report.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Outcome refines Status for display.
type Outcome string

const (
	OutcomeValid             Outcome = "valid"
	OutcomeValidWithWarnings Outcome = "valid_with_warnings"
	OutcomeInvalid           Outcome = "invalid"
)

// Quality summarizes how much of a profile a resource populates.
type Quality struct {
	// Completeness is populated / declared top-level profile elements.
	Completeness float64 `json:"completeness"`

	// MustSupportCoverage is populated / declared must-support elements.
	MustSupportCoverage float64 `json:"mustSupportCoverage"`

	// Missing lists declared top-level elements that are absent, in profile order.
	Missing []string `json:"missing,omitempty"`
}

// Report contains the outcome of validating one resource.
//
// Reports carry no timing data so that a memoized report is byte-for-byte
// identical to a fresh one for the same inputs.
type Report struct {
	// ResourceID is the id of the validated resource, if it has one
	ResourceID string `json:"resourceId,omitempty"`

	// ResourceType is the type of resource that was validated
	ResourceType string `json:"resourceType,omitempty"`

	// ProfileID is the profile the resource was validated against
	ProfileID string `json:"profileId,omitempty"`

	// Status is fail iff Issues contains an error
	Status Status `json:"status"`

	// Issues in layer order
	Issues []Issue `json:"issues"`

	// Completed lists the layers that ran to completion
	Completed []Layer `json:"completed"`

	// Skipped lists the layers that were requested but not run because an
	// earlier layer failed fatally
	Skipped []Layer `json:"skipped,omitempty"`

	// Quality is set when the resource was validated against a profile
	Quality *Quality `json:"quality,omitempty"`
}

// NewReport creates an empty passing report.
func NewReport(resourceType, resourceID, profileID string) *Report {
	return &Report{
		ResourceID:   resourceID,
		ResourceType: resourceType,
		ProfileID:    profileID,
		Status:       StatusPass,
		Issues:       make([]Issue, 0, 8),
		Completed:    make([]Layer, 0, 4),
	}
}

// AddIssues appends issues and updates the status.
func (r *Report) AddIssues(issues []Issue) {
	for _, issue := range issues {
		r.Issues = append(r.Issues, issue)
		if issue.IsError() {
			r.Status = StatusFail
		}
	}
}

// MarkCompleted records that a layer ran to completion.
func (r *Report) MarkCompleted(l Layer) {
	r.Completed = append(r.Completed, l)
}

// MarkSkipped records that a layer was skipped.
func (r *Report) MarkSkipped(l Layer) {
	r.Skipped = append(r.Skipped, l)
}

// LayerCompleted reports whether l ran to completion.
func (r *Report) LayerCompleted(l Layer) bool {
	for _, c := range r.Completed {
		if c == l {
			return true
		}
	}
	return false
}

// HasErrors returns true if there are any error issues.
func (r *Report) HasErrors() bool {
	return r.ErrorCount() > 0
}

// ErrorCount returns the number of error issues.
func (r *Report) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.IsError() {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning issues.
func (r *Report) WarningCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.IsWarning() {
			count++
		}
	}
	return count
}

// Errors returns all error issues.
func (r *Report) Errors() []Issue {
	return r.filter(func(i Issue) bool { return i.IsError() })
}

// Warnings returns all warning issues.
func (r *Report) Warnings() []Issue {
	return r.filter(func(i Issue) bool { return i.IsWarning() })
}

// IssuesIn returns the issues produced by one layer.
func (r *Report) IssuesIn(l Layer) []Issue {
	return r.filter(func(i Issue) bool { return i.Layer == l })
}

func (r *Report) filter(keep func(Issue) bool) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if keep(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// Outcome returns valid, valid_with_warnings or invalid.
func (r *Report) Outcome() Outcome {
	switch {
	case r.HasErrors():
		return OutcomeInvalid
	case r.WarningCount() > 0:
		return OutcomeValidWithWarnings
	default:
		return OutcomeValid
	}
}

// PromoteWarnings turns every warning into an error. Used by strict
// validation so that the status stays a pure function of the error count.
func (r *Report) PromoteWarnings() {
	for i := range r.Issues {
		if r.Issues[i].Severity == SeverityWarning {
			r.Issues[i].Severity = SeverityError
			r.Status = StatusFail
		}
	}
}

// Clone creates a deep copy of the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Issues = append(make([]Issue, 0, len(r.Issues)), r.Issues...)
	clone.Completed = append(make([]Layer, 0, len(r.Completed)), r.Completed...)
	if r.Skipped != nil {
		clone.Skipped = append(make([]Layer, 0, len(r.Skipped)), r.Skipped...)
	}
	if r.Quality != nil {
		q := *r.Quality
		q.Missing = append([]string(nil), r.Quality.Missing...)
		clone.Quality = &q
	}
	return &clone
}

// Encode returns the canonical JSON form of the report.
func (r *Report) Encode() ([]byte, error) {
	return json.Marshal(r)
}
