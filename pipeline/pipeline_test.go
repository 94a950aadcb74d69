package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/service"
)

func recordingPhase(layer mm.Layer, order *[]mm.Layer, issues ...mm.Issue) Phase {
	return NewPhaseFunc(layer, func(ctx context.Context, pctx *Context) []mm.Issue {
		*order = append(*order, layer)
		return append([]mm.Issue(nil), issues...)
	})
}

func allPhases(order *[]mm.Layer, structural ...mm.Issue) *Pipeline {
	p := NewPipeline(nil, nil)
	p.Register(recordingPhase(mm.LayerBusinessRules, order))
	p.Register(recordingPhase(mm.LayerTerminology, order))
	p.Register(recordingPhase(mm.LayerProfile, order, mm.Warning(mm.CodeRequired).Message("w").Build()))
	p.Register(recordingPhase(mm.LayerStructural, order, structural...))
	return p
}

func TestPipeline_Execute(t *testing.T) {
	var order []mm.Layer
	p := allPhases(&order)

	pctx := &Context{ResourceType: "Patient", ResourceID: "p1", ProfileID: "us-core-patient"}
	report, err := p.Execute(context.Background(), pctx, mm.AllLayers())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []mm.Layer{mm.LayerStructural, mm.LayerProfile, mm.LayerTerminology, mm.LayerBusinessRules}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("execution order = %v; want %v", order, want)
	}
	if !reflect.DeepEqual(report.Completed, want) {
		t.Errorf("Completed = %v; want %v", report.Completed, want)
	}
	if report.Status != mm.StatusPass {
		t.Errorf("Status = %v; want pass", report.Status)
	}
	if len(report.Issues) != 1 || report.Issues[0].Layer != mm.LayerProfile {
		t.Errorf("Issues = %v; want one profile warning with its layer stamped", report.Issues)
	}
	if report.ResourceID != "p1" || report.ProfileID != "us-core-patient" {
		t.Errorf("report identity = %s/%s", report.ResourceID, report.ProfileID)
	}
}

func TestPipeline_StructuralErrorSkipsLaterLayers(t *testing.T) {
	var order []mm.Layer
	p := allPhases(&order, mm.Error(mm.CodeStructure).Message("broken").Build())

	report, err := p.Execute(context.Background(), &Context{ResourceType: "Patient"}, mm.AllLayers())
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 {
		t.Errorf("phases run = %v; want only structural", order)
	}
	if report.Status != mm.StatusFail {
		t.Errorf("Status = %v; want fail", report.Status)
	}
	wantSkipped := []mm.Layer{mm.LayerProfile, mm.LayerTerminology, mm.LayerBusinessRules}
	if !reflect.DeepEqual(report.Skipped, wantSkipped) {
		t.Errorf("Skipped = %v; want %v", report.Skipped, wantSkipped)
	}
}

func TestPipeline_StructuralWarningIsNotFatal(t *testing.T) {
	var order []mm.Layer
	p := allPhases(&order, mm.Warning(mm.CodeStructure).Message("odd").Build())

	report, err := p.Execute(context.Background(), &Context{}, mm.AllLayers())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Completed) != 4 || len(report.Skipped) != 0 {
		t.Errorf("Completed = %v, Skipped = %v", report.Completed, report.Skipped)
	}
}

func TestPipeline_LayerSubset(t *testing.T) {
	var order []mm.Layer
	p := allPhases(&order)

	report, err := p.Execute(context.Background(), &Context{}, mm.LevelBasic.Layers())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []mm.Layer{mm.LayerStructural}) {
		t.Errorf("order = %v; want structural only", order)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("Skipped = %v; unrequested layers are not skipped", report.Skipped)
	}
}

func TestPipeline_MissingPhase(t *testing.T) {
	p := NewPipeline(nil, nil)
	var order []mm.Layer
	p.Register(recordingPhase(mm.LayerStructural, &order))

	_, err := p.Execute(context.Background(), &Context{}, mm.AllLayers())
	if !errors.Is(err, mm.ErrConfiguration) {
		t.Errorf("error = %v; want ErrConfiguration", err)
	}
	if !p.Has(mm.LayerStructural) || p.Has(mm.LayerProfile) {
		t.Error("Has() does not reflect registrations")
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	var order []mm.Layer
	p := allPhases(&order)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Execute(ctx, &Context{}, mm.AllLayers()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v; want context.Canceled", err)
	}
	if len(order) != 0 {
		t.Errorf("phases ran after cancellation: %v", order)
	}
}

func TestPipeline_Metrics(t *testing.T) {
	var order []mm.Layer
	metrics := mm.NewMetrics()
	p := allPhases(&order)
	p.metrics = metrics

	if _, err := p.Execute(context.Background(), &Context{}, mm.AllLayers()); err != nil {
		t.Fatal(err)
	}
	if got := len(metrics.AllLayerStats()); got != 4 {
		t.Errorf("layer stats = %d; want 4", got)
	}
}

func TestContext_Element(t *testing.T) {
	pctx := &Context{
		Base: &service.Profile{ID: "Patient", Type: "Patient", Elements: []service.ElementConstraint{
			{Path: "Patient.gender", Max: "1", Types: []string{"code"},
				Binding: &service.Binding{Strength: service.BindingRequired, ValueSet: "base-vs"}},
			{Path: "Patient.name", Max: "*", Types: []string{"HumanName"}},
		}},
		Profile: &service.Profile{ID: "p", Type: "Patient", Base: "Patient", Elements: []service.ElementConstraint{
			{Path: "Patient.gender", Min: 1, MustSupport: true,
				Binding: &service.Binding{Strength: service.BindingRequired, ValueSet: "profile-vs"}},
			{Path: "Patient.birthDate", Min: 1},
		}},
	}

	gender, ok := pctx.Element("Patient.gender")
	if !ok {
		t.Fatal("Patient.gender not found")
	}
	if gender.Min != 1 || gender.Max != "1" || !gender.MustSupport || gender.PrimaryType() != "code" {
		t.Errorf("gender = %+v", gender)
	}
	if gender.Binding.ValueSet != "profile-vs" {
		t.Errorf("binding = %s; profile binding should override base", gender.Binding.ValueSet)
	}

	if name, ok := pctx.Element("Patient.name"); !ok || name.Max != "*" {
		t.Errorf("name = %+v, %v", name, ok)
	}
	if birth, ok := pctx.Element("Patient.birthDate"); !ok || birth.Min != 1 {
		t.Errorf("birthDate = %+v, %v", birth, ok)
	}
	if _, ok := pctx.Element("Patient.photo"); ok {
		t.Error("undeclared element should not be found")
	}
}

func TestBatchIndex(t *testing.T) {
	idx := NewBatchIndex([]map[string]any{
		{"resourceType": "Patient", "id": "p1"},
		{"resourceType": "Observation", "id": "o1"},
		{"resourceType": "Observation"},
	}, "urn:uuid:0b3c-1", "")

	if !idx.Has("Patient/p1") || !idx.Has("urn:uuid:0b3c-1") || idx.Has("Patient/p2") {
		t.Errorf("Has() wrong for keys %v", idx.Keys())
	}
	if idx.Len() != 3 {
		t.Errorf("Len() = %d; want 3", idx.Len())
	}
	if got := idx.String(); got != "Observation/o1,Patient/p1,urn:uuid:0b3c-1" {
		t.Errorf("String() = %q", got)
	}

	var empty *BatchIndex
	if empty.Has("Patient/p1") || empty.String() != "" {
		t.Error("nil index should be empty")
	}
}

func TestAcquireRelease(t *testing.T) {
	pctx := AcquireContext()
	pctx.ResourceType = "Patient"
	pctx.Release()

	again := AcquireContext()
	if again.ResourceType != "" {
		t.Errorf("acquired context not reset: %q", again.ResourceType)
	}
	again.Release()
}
