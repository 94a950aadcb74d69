package phase

import (
	"context"
	"testing"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
)

func TestStructuralPhase(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		code     mm.IssueCode
		path     string
	}{
		{
			name:     "missing required element",
			resource: `{"resourceType": "Observation", "code": {"text": "x"}}`,
			code:     mm.CodeRequired,
			path:     "Observation.status",
		},
		{
			name:     "nested required element",
			resource: `{"resourceType": "Patient", "communication": [{"preferred": true}]}`,
			code:     mm.CodeRequired,
			path:     "Patient.communication[0].language",
		},
		{
			name:     "array on single element",
			resource: `{"resourceType": "Patient", "gender": ["male", "female"]}`,
			code:     mm.CodeCardinality,
			path:     "Patient.gender",
		},
		{
			name:     "repeating element not an array",
			resource: `{"resourceType": "Patient", "name": {"family": "Smith"}}`,
			code:     mm.CodeStructure,
			path:     "Patient.name",
		},
		{
			name:     "empty array",
			resource: `{"resourceType": "Patient", "name": []}`,
			code:     mm.CodeStructure,
			path:     "Patient.name",
		},
		{
			name:     "bad boolean",
			resource: `{"resourceType": "Patient", "active": "yes"}`,
			code:     mm.CodeValue,
			path:     "Patient.active",
		},
		{
			name:     "bad date",
			resource: `{"resourceType": "Patient", "birthDate": "04/02/1980"}`,
			code:     mm.CodeValue,
			path:     "Patient.birthDate",
		},
		{
			name:     "bad primitive in array",
			resource: `{"resourceType": "Patient", "name": [{"given": ["Jane", 7]}]}`,
			code:     mm.CodeValue,
			path:     "Patient.name[0].given[1]",
		},
		{
			name:     "disallowed choice type",
			resource: `{"resourceType": "Patient", "deceasedString": "yes"}`,
			code:     mm.CodeStructure,
			path:     "Patient.deceasedString",
		},
		{
			name:     "two choice keys",
			resource: `{"resourceType": "Patient", "deceasedBoolean": true, "deceasedDateTime": "2020-01-01"}`,
			code:     mm.CodeStructure,
			path:     "Patient.deceased[x]",
		},
		{
			name:     "complex type holds primitive",
			resource: `{"resourceType": "Observation", "status": "final", "code": "1234-5"}`,
			code:     mm.CodeStructure,
			path:     "Observation.code",
		},
	}

	phase := NewStructuralPhase()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := phase.Validate(context.Background(), newContext(t, tt.resource, ""))
			issue, ok := findIssue(issues, tt.code, tt.path)
			if !ok {
				t.Fatalf("no %s issue at %s in %v", tt.code, tt.path, issues)
			}
			if !issue.IsError() || issue.Layer != mm.LayerStructural {
				t.Errorf("issue = %+v; want a structural error", issue)
			}
		})
	}
}

func TestStructuralPhase_Valid(t *testing.T) {
	resources := []string{
		validPatient,
		`{"resourceType": "Patient", "deceasedDateTime": "2021-03-04T10:00:00Z", "multipleBirthInteger": 2}`,
		`{"resourceType": "Observation", "status": "final", "code": {"text": "bp"},
		  "valueQuantity": {"value": 120.5, "unit": "mmHg"},
		  "component": [{"code": {"text": "systolic"}, "valueInteger": 120}]}`,
	}
	phase := NewStructuralPhase()
	for _, r := range resources {
		if issues := phase.Validate(context.Background(), newContext(t, r, "")); len(issues) != 0 {
			t.Errorf("issues = %v; want none for %s", issues, r)
		}
	}
}

func TestStructuralPhase_UnknownResource(t *testing.T) {
	phase := NewStructuralPhase()
	ctx := context.Background()

	issues := phase.Validate(ctx, &pipeline.Context{})
	if len(issues) != 1 || issues[0].Code != mm.CodeStructure {
		t.Errorf("nil resource issues = %v", issues)
	}

	issues = phase.Validate(ctx, &pipeline.Context{Resource: map[string]any{"id": "x"}})
	if len(issues) != 1 || issues[0].Code != mm.CodeStructure {
		t.Errorf("missing resourceType issues = %v", issues)
	}

	issues = phase.Validate(ctx, newContext(t, `{"resourceType": "Spaceship"}`, ""))
	if len(issues) != 1 || issues[0].Code != mm.CodeUnknownType || !issues[0].IsError() {
		t.Errorf("unknown type issues = %v", issues)
	}
}

func TestCheckPrimitive(t *testing.T) {
	tests := []struct {
		typ   string
		value any
		ok    bool
	}{
		{"boolean", true, true},
		{"boolean", "true", false},
		{"integer", float64(42), true},
		{"integer", 4.2, false},
		{"positiveInt", float64(0), false},
		{"unsignedInt", float64(0), true},
		{"decimal", 3.14, true},
		{"decimal", true, false},
		{"string", "hello", true},
		{"string", "   ", false},
		{"code", "final", true},
		{"code", " final", false},
		{"id", "abc-123.x", true},
		{"id", "abc_123", false},
		{"uri", "http://loinc.org", true},
		{"date", "2024", true},
		{"date", "2024-02", true},
		{"date", "2024-02-30x", false},
		{"dateTime", "2024-02-01T10:00:00Z", true},
		{"instant", "2024-02-01", false},
		{"time", "10:30:00", true},
	}
	for _, tt := range tests {
		err := checkPrimitive(tt.typ, tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("checkPrimitive(%s, %v) error = %v; want ok=%v", tt.typ, tt.value, err, tt.ok)
		}
	}
}
