package phase

import (
	"context"
	"encoding/json"
	"testing"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/registry"
	"github.com/aks129/FhirMapMaster/terminology"
)

var testRegistry = registry.New()

// newContext builds a validation context for data against profileID, or
// against the base definition when profileID is empty.
func newContext(t *testing.T, data, profileID string) *pipeline.Context {
	t.Helper()
	var res map[string]any
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		t.Fatalf("invalid test resource: %v", err)
	}
	rt, _ := res["resourceType"].(string)
	pctx := &pipeline.Context{
		Resource:     res,
		ResourceType: rt,
		ProfileID:    profileID,
		Terminology:  terminology.NewInMemoryService(),
	}
	ctx := context.Background()
	if base, err := testRegistry.BaseDefinition(ctx, rt); err == nil {
		pctx.Base = base
	}
	pctx.Profile = pctx.Base
	if profileID != "" {
		p, err := testRegistry.Profile(ctx, profileID)
		if err != nil {
			t.Fatalf("Profile(%s) error = %v", profileID, err)
		}
		pctx.Profile = p
	}
	return pctx
}

// findIssue returns the first issue with the code at the path.
func findIssue(issues []mm.Issue, code mm.IssueCode, path string) (mm.Issue, bool) {
	for _, i := range issues {
		if i.Code == code && i.Path == path {
			return i, true
		}
	}
	return mm.Issue{}, false
}

func errorCount(issues []mm.Issue) int {
	n := 0
	for _, i := range issues {
		if i.IsError() {
			n++
		}
	}
	return n
}

const validPatient = `{
  "resourceType": "Patient",
  "id": "p1",
  "identifier": [{"use": "official", "system": "http://hospital.example/mrn", "value": "12345"}],
  "name": [{"family": "Smith", "given": ["Jane"]}],
  "gender": "female",
  "birthDate": "1980-04-02",
  "telecom": [{"system": "phone", "value": "555-0100"}]
}`

func TestPhaseLayers(t *testing.T) {
	tests := []struct {
		phase pipeline.Phase
		want  mm.Layer
	}{
		{NewStructuralPhase(), mm.LayerStructural},
		{NewProfilePhase(), mm.LayerProfile},
		{NewTerminologyPhase(), mm.LayerTerminology},
		{NewDefaultBusinessPhase(), mm.LayerBusinessRules},
	}
	for _, tt := range tests {
		if got := tt.phase.Layer(); got != tt.want {
			t.Errorf("Layer() = %s; want %s", got, tt.want)
		}
	}
}

func TestValidPatientPassesAllLayers(t *testing.T) {
	pctx := newContext(t, validPatient, "us-core-patient")
	ctx := context.Background()

	for _, p := range []pipeline.Phase{
		NewStructuralPhase(),
		NewProfilePhase(),
		NewTerminologyPhase(),
		NewDefaultBusinessPhase(),
	} {
		if issues := p.Validate(ctx, pctx); len(issues) != 0 {
			t.Errorf("%s issues = %v; want none", p.Layer(), issues)
		}
	}
}
