package mapmaster

import (
	"testing"
)

func TestIssue_IsError(t *testing.T) {
	tests := []struct {
		severity Severity
		want     bool
	}{
		{SeverityError, true},
		{SeverityWarning, false},
		{SeverityInformation, false},
	}

	for _, tt := range tests {
		issue := Issue{Severity: tt.severity}
		if got := issue.IsError(); got != tt.want {
			t.Errorf("Issue{Severity: %s}.IsError() = %v; want %v", tt.severity, got, tt.want)
		}
	}
}

func TestIssue_IsWarning(t *testing.T) {
	tests := []struct {
		severity Severity
		want     bool
	}{
		{SeverityError, false},
		{SeverityWarning, true},
		{SeverityInformation, false},
	}

	for _, tt := range tests {
		issue := Issue{Severity: tt.severity}
		if got := issue.IsWarning(); got != tt.want {
			t.Errorf("Issue{Severity: %s}.IsWarning() = %v; want %v", tt.severity, got, tt.want)
		}
	}
}

func TestIssue_String(t *testing.T) {
	tests := []struct {
		issue Issue
		want  string
	}{
		{
			issue: Issue{
				Severity: SeverityError,
				Layer:    LayerStructural,
				Message:  "Invalid value",
			},
			want: "error [structural]: Invalid value",
		},
		{
			issue: Issue{
				Severity: SeverityWarning,
				Layer:    LayerTerminology,
				Message:  "Code not in value set",
				Path:     "Patient.gender",
			},
			want: "warning [terminology]: Code not in value set at Patient.gender",
		},
	}

	for _, tt := range tests {
		if got := tt.issue.String(); got != tt.want {
			t.Errorf("Issue.String() = %q; want %q", got, tt.want)
		}
	}
}

func TestIssueBuilder(t *testing.T) {
	issue := Error(CodeRequired).
		In(LayerProfile).
		At("Patient.identifier").
		Message("missing identifier").
		Fix("map a source column to Patient.identifier").
		Build()

	if issue.Severity != SeverityError {
		t.Errorf("Severity = %s; want %s", issue.Severity, SeverityError)
	}
	if issue.Code != CodeRequired {
		t.Errorf("Code = %s; want %s", issue.Code, CodeRequired)
	}
	if issue.Layer != LayerProfile {
		t.Errorf("Layer = %s; want %s", issue.Layer, LayerProfile)
	}
	if issue.Path != "Patient.identifier" {
		t.Errorf("Path = %q; want %q", issue.Path, "Patient.identifier")
	}
	if issue.SuggestedFix == "" {
		t.Error("SuggestedFix is empty")
	}
}

func TestWarningAndInfo(t *testing.T) {
	if got := Warning(CodeValue).Build().Severity; got != SeverityWarning {
		t.Errorf("Warning().Severity = %s; want %s", got, SeverityWarning)
	}
	if got := Info(CodeValue).Build().Severity; got != SeverityInformation {
		t.Errorf("Info().Severity = %s; want %s", got, SeverityInformation)
	}
	if got := Warning(CodeBusinessRule).Rule("period-order").Build().Rule; got != "period-order" {
		t.Errorf("Rule = %q; want %q", got, "period-order")
	}
}
