package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/phase"
	"github.com/aks129/FhirMapMaster/registry"
	"github.com/aks129/FhirMapMaster/service"
	"github.com/aks129/FhirMapMaster/terminology"
)

const usCorePatientURL = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient"

const patientJSON = `{
  "resourceType": "Patient",
  "id": "p1",
  "identifier": [{"use": "official", "system": "http://hospital.example/mrn", "value": "12345"}],
  "name": [{"family": "Smith", "given": ["Jane"]}],
  "gender": "female",
  "birthDate": "1980-04-02",
  "telecom": [{"system": "phone", "value": "555-0100"}]
}`

const observationJSON = `{
  "resourceType": "Observation",
  "id": "o1",
  "status": "final",
  "category": [{"coding": [{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "laboratory"}]}],
  "code": {"coding": [{"system": "http://loinc.org", "code": "718-7", "display": "Hemoglobin"}]},
  "subject": {"reference": "Patient/p1"},
  "valueQuantity": {"value": 13.2, "unit": "g/dL"}
}`

func parse(t testing.TB, data string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func newValidator(t testing.TB, opts ...mm.Option) *Validator {
	t.Helper()
	v, err := New(registry.New(), terminology.NewInMemoryService(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestNew(t *testing.T) {
	v := newValidator(t)
	if v.Options() == nil || v.Metrics() == nil {
		t.Error("Options and Metrics should not be nil")
	}
	if v.Options().Layers.Len() != 4 || v.Options().StrictMode {
		t.Errorf("default options = %+v", v.Options())
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	if _, err := New(nil, terminology.NewInMemoryService()); !errors.Is(err, mm.ErrConfiguration) {
		t.Errorf("nil profiles error = %v; want ErrConfiguration", err)
	}
	if _, err := New(registry.New(), nil); !errors.Is(err, mm.ErrConfiguration) {
		t.Errorf("nil terminology error = %v; want ErrConfiguration", err)
	}
	if _, err := New(registry.New(), nil, mm.WithLevel(mm.LevelBasic)); err != nil {
		t.Errorf("basic level without terminology error = %v", err)
	}
}

func TestValidate_ValidPatient(t *testing.T) {
	v := newValidator(t)
	report, err := v.Validate(context.Background(), parse(t, patientJSON), "")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if report.Status != mm.StatusPass || len(report.Issues) != 0 {
		t.Errorf("report = %+v; want a clean pass", report)
	}
	if report.ProfileID != usCorePatientURL {
		t.Errorf("ProfileID = %s; want the US Core default", report.ProfileID)
	}
	if len(report.Completed) != 4 {
		t.Errorf("Completed = %v", report.Completed)
	}

	q := report.Quality
	if q == nil {
		t.Fatal("Quality not attached")
	}
	if q.Completeness != 0.7142 || q.MustSupportCoverage != 0.7777 {
		t.Errorf("Quality = %+v", q)
	}
	if strings.Join(q.Missing, ",") != "Patient.address,Patient.communication" {
		t.Errorf("Missing = %v", q.Missing)
	}
}

func TestValidate_ProfileErrors(t *testing.T) {
	v := newValidator(t)
	res := parse(t, patientJSON)
	delete(res, "gender")
	res["maritalStatus"] = map[string]any{"coding": []any{map[string]any{"system": "http://example.org", "code": "wed"}}}

	report, err := v.Validate(context.Background(), res, "us-core-patient")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != mm.StatusFail {
		t.Errorf("Status = %s; want fail", report.Status)
	}

	profileIssues := report.IssuesIn(mm.LayerProfile)
	if len(profileIssues) != 1 || profileIssues[0].Path != "Patient.gender" || profileIssues[0].Code != mm.CodeRequired {
		t.Errorf("profile issues = %v", profileIssues)
	}
	termIssues := report.IssuesIn(mm.LayerTerminology)
	if len(termIssues) != 1 || !termIssues[0].IsWarning() {
		t.Errorf("terminology issues = %v; want one extensible warning", termIssues)
	}
	if report.Outcome() != mm.OutcomeInvalid {
		t.Errorf("Outcome = %s", report.Outcome())
	}
}

func TestValidate_StructuralErrorSkipsLayers(t *testing.T) {
	v := newValidator(t)
	res := parse(t, patientJSON)
	res["birthDate"] = "April 2nd"

	report, err := v.Validate(context.Background(), res, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != mm.StatusFail || len(report.Skipped) != 3 {
		t.Errorf("Status = %s, Skipped = %v", report.Status, report.Skipped)
	}
	for _, issue := range report.Issues {
		if issue.Layer != mm.LayerStructural {
			t.Errorf("issue from skipped layer: %v", issue)
		}
	}
}

func TestValidate_UnknownProfile(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(context.Background(), parse(t, patientJSON), "http://example.org/StructureDefinition/nope")
	if !errors.Is(err, mm.ErrUnknownProfile) || !errors.Is(err, mm.ErrConfiguration) {
		t.Errorf("error = %v; want ErrUnknownProfile", err)
	}

	_, err = v.Validate(context.Background(), parse(t, patientJSON), "us-core-encounter")
	if !errors.Is(err, mm.ErrConfiguration) {
		t.Errorf("mismatched profile error = %v; want ErrConfiguration", err)
	}
}

func TestValidate_DefaultFallsBackToBase(t *testing.T) {
	reg := registry.New()
	reg.SetDefault("Patient", "http://example.org/StructureDefinition/retired")
	v, err := New(reg, terminology.NewInMemoryService())
	if err != nil {
		t.Fatal(err)
	}

	report, err := v.Validate(context.Background(), parse(t, `{"resourceType": "Patient", "name": [{"text": "X"}]}`), "")
	if err != nil {
		t.Fatalf("Validate() error = %v; a missing default is not fatal", err)
	}
	if report.ProfileID != registry.CoreURLPrefix+"Patient" || report.Quality != nil {
		t.Errorf("report = %+v; want base-only validation", report)
	}
}

func TestValidate_UnknownResourceType(t *testing.T) {
	v := newValidator(t)
	report, err := v.Validate(context.Background(), parse(t, `{"resourceType": "Starship"}`), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Code != mm.CodeUnknownType {
		t.Errorf("issues = %v", report.Issues)
	}
}

func TestValidateBytes_InvalidJSON(t *testing.T) {
	v := newValidator(t)
	report, err := v.ValidateBytes(context.Background(), []byte("not json"), "")
	if err != nil {
		t.Fatalf("ValidateBytes() error = %v", err)
	}
	if !report.HasErrors() || report.Issues[0].Code != mm.CodeStructure {
		t.Errorf("issues = %v; want a structure error", report.Issues)
	}
	if len(report.Skipped) != 3 {
		t.Errorf("Skipped = %v", report.Skipped)
	}
}

func TestValidate_StrictMode(t *testing.T) {
	res := `{"resourceType": "Patient", "identifier": [{"system": "urn:x", "value": "1"}],
	         "name": [{"use": "official"}], "gender": "male"}`

	report, err := newValidator(t).Validate(context.Background(), parse(t, res), "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome() != mm.OutcomeValidWithWarnings {
		t.Errorf("Outcome = %s; want valid_with_warnings", report.Outcome())
	}

	strict := newValidator(t, mm.StrictOptions()...)
	report, err = strict.Validate(context.Background(), parse(t, res), "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != mm.StatusFail || report.WarningCount() != 0 {
		t.Errorf("strict report = %+v; warnings must count as errors", report)
	}
}

func TestValidate_BasicLevel(t *testing.T) {
	v, err := New(registry.New(), nil, mm.FastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	res := parse(t, `{"resourceType": "Patient", "gender": "F"}`)
	report, err := v.Validate(context.Background(), res, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != mm.StatusPass || len(report.Completed) != 1 {
		t.Errorf("report = %+v; want structural-only pass", report)
	}
}

func TestValidate_Cancelled(t *testing.T) {
	v := newValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Validate(ctx, parse(t, patientJSON), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v; want context.Canceled", err)
	}
}

func TestValidate_ExpressionRules(t *testing.T) {
	v := newValidator(t)
	rules, err := phase.ParseExpressionRules([]byte(`
rules:
  - id: patient-telecom
    resource: Patient
    severity: error
    expression: telecom.where(system = 'email').exists()
    message: patient has no email address
    path: Patient.telecom
`), service.NewFHIRPathAdapter())
	if err != nil {
		t.Fatal(err)
	}

	// Warm the cache, then add the rule: the cached report must not be reused.
	if _, err := v.Validate(context.Background(), parse(t, patientJSON), ""); err != nil {
		t.Fatal(err)
	}
	v.AddRules(rules...)

	report, err := v.Validate(context.Background(), parse(t, patientJSON), "")
	if err != nil {
		t.Fatal(err)
	}
	issues := report.IssuesIn(mm.LayerBusinessRules)
	if len(issues) != 1 || issues[0].Rule != "patient-telecom" || !issues[0].IsError() {
		t.Errorf("business issues = %v", issues)
	}
}

func TestValidate_Cache(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	first, err := v.Validate(ctx, parse(t, patientJSON), "")
	if err != nil {
		t.Fatal(err)
	}
	firstJSON, _ := first.Encode()

	// Mutating a returned report must not leak into the cache.
	first.Issues = append(first.Issues, mm.Error(mm.CodeValue).Build())
	first.Status = mm.StatusFail

	second, err := v.Validate(ctx, parse(t, patientJSON), "")
	if err != nil {
		t.Fatal(err)
	}
	secondJSON, _ := second.Encode()
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Errorf("cached report differs:\n%s\n%s", firstJSON, secondJSON)
	}
	if v.Metrics().CacheHits() != 1 || v.CacheLen() != 1 {
		t.Errorf("hits = %d, len = %d", v.Metrics().CacheHits(), v.CacheLen())
	}

	// A different profile is a different fingerprint.
	if _, err := v.Validate(ctx, parse(t, patientJSON), "Patient"); err != nil {
		t.Fatal(err)
	}
	if v.CacheLen() != 2 {
		t.Errorf("CacheLen() = %d; want 2", v.CacheLen())
	}

	v.ClearCache()
	if v.CacheLen() != 0 {
		t.Errorf("CacheLen() after clear = %d", v.CacheLen())
	}
}

func TestValidate_CacheMatchesFreshComputation(t *testing.T) {
	resources := []string{
		patientJSON,
		observationJSON,
		`{"resourceType": "Patient", "gender": "F", "birthDate": "1990"}`,
		`{"resourceType": "Encounter", "status": "bogus"}`,
	}
	warm := newValidator(t)
	for _, r := range resources {
		if _, err := warm.Validate(context.Background(), parse(t, r), ""); err != nil {
			t.Fatal(err)
		}
	}
	for _, r := range resources {
		cold := newValidator(t)
		fresh, err := cold.Validate(context.Background(), parse(t, r), "")
		if err != nil {
			t.Fatal(err)
		}
		cached, err := warm.Validate(context.Background(), parse(t, r), "")
		if err != nil {
			t.Fatal(err)
		}
		a, _ := fresh.Encode()
		b, _ := cached.Encode()
		if !bytes.Equal(a, b) {
			t.Errorf("cached != fresh for %s:\n%s\n%s", r, b, a)
		}
	}
}

func TestValidate_ConcurrentIdenticalRequests(t *testing.T) {
	v := newValidator(t)
	res := parse(t, observationJSON)

	const n = 16
	encoded := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := v.Validate(context.Background(), res, "")
			if err != nil {
				t.Error(err)
				return
			}
			encoded[i], _ = report.Encode()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if !bytes.Equal(encoded[0], encoded[i]) {
			t.Fatalf("report %d differs from report 0", i)
		}
	}
	if v.CacheLen() != 1 {
		t.Errorf("CacheLen() = %d; want 1", v.CacheLen())
	}
}

func TestValidate_TerminologySourceWithoutAnswer(t *testing.T) {
	silent := service.TerminologySourceFunc(func(context.Context, string, string, string) (*service.CodeResult, error) {
		return nil, nil
	})
	v, err := New(registry.New(), terminology.NewCached(silent, 8))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report, err := v.Validate(context.Background(), parse(t, patientJSON), "")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if report.Status != mm.StatusFail {
		t.Errorf("Status = %s; want fail when no code can be confirmed", report.Status)
	}
	if !report.LayerCompleted(mm.LayerTerminology) {
		t.Errorf("Completed = %v; want the terminology layer", report.Completed)
	}
}
