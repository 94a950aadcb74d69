package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/config"
	"github.com/aks129/FhirMapMaster/feedback"
	"github.com/aks129/FhirMapMaster/field"
	"github.com/aks129/FhirMapMaster/suggest"
)

const validPatient = `{
  "resourceType": "Patient",
  "id": "p1",
  "identifier": [{"system": "http://hospital.example/mrn", "value": "12345"}],
  "name": [{"family": "Smith", "given": ["Jane"]}],
  "gender": "female",
  "birthDate": "1980-04-02"
}`

const invalidPatient = `{
  "resourceType": "Patient",
  "id": "p2",
  "identifier": [{"system": "http://hospital.example/mrn", "value": "9"}],
  "name": [{"family": "Doe"}],
  "gender": "unknown-ish",
  "birthDate": "04/02/1980"
}`

type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := "log:\n  level: error\nfeedback:\n  driver: sqlite\n  path: " + filepath.Join(dir, "feedback.db") + "\n"
	path := filepath.Join(dir, "mapmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &harness{dir: dir, config: path}
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd(&out, strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := newHarness(t).run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mapmaster version "+mm.Version)
}

func TestSuggest_JSON(t *testing.T) {
	out, err := newHarness(t).run(t, "", "suggest", "-o", "json", "dob", "1980-01-15", "1975-06-02")
	require.NoError(t, err)

	var sets []suggest.Set
	require.NoError(t, json.Unmarshal([]byte(out), &sets))
	require.Len(t, sets, 1)
	require.NotEmpty(t, sets[0].Suggestions)
	assert.Equal(t, "Patient.birthDate", sets[0].Suggestions[0].TargetPath())
}

func TestSuggest_AcceptThenReplay(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "suggest", "--accept", "Patient.birthDate", "dob", "1980-01-15")
	require.NoError(t, err)

	out, err := h.run(t, "", "feedback", "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "rule:patient-birthdate")
	assert.Contains(t, out, "1.0500")

	// The accepted path now comes back from history as well.
	out, err = h.run(t, "", "suggest", "dob", "1980-01-15")
	require.NoError(t, err)
	assert.Contains(t, out, "historical:historical")
}

func TestSuggest_DecisionErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "suggest", "--accept", "Patient.photo", "dob", "1980-01-15")
	assert.ErrorIs(t, err, mm.ErrConfiguration)

	_, err = h.run(t, "", "suggest", "--accept", "Patient.birthDate", "--reject-all", "dob")
	assert.ErrorIs(t, err, mm.ErrConfiguration)

	_, err = h.run(t, "", "suggest", "--modify", "Patient.birthDate", "dob")
	assert.ErrorIs(t, err, mm.ErrConfiguration)

	_, err = h.run(t, "", "suggest")
	assert.ErrorIs(t, err, mm.ErrConfiguration)
}

func TestSuggest_CSV(t *testing.T) {
	h := newHarness(t)
	csv := "mrn,dob,sex\n12345,1980-01-15,F\n67890,1975-06-02,M\n"

	out, err := h.run(t, csv, "suggest", "--csv", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "== mrn -> Patient ==")
	assert.Contains(t, out, "== dob -> Patient ==")
	assert.Contains(t, out, "Patient.birthDate")
	assert.Contains(t, out, "Patient.gender")
}

func TestReadCSVFields(t *testing.T) {
	fields, err := readCSVFields(strings.NewReader("a,,b\n1,x,2\n3\n"))
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Name())
	assert.Equal(t, []string{"1", "3"}, fields[0].Samples())
	assert.Equal(t, []string{"2"}, fields[1].Samples())

	_, err = readCSVFields(strings.NewReader(""))
	assert.Error(t, err)
}

func TestValidate_Files(t *testing.T) {
	h := newHarness(t)
	good := h.write(t, "good.json", validPatient)

	out, err := h.run(t, "", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: VALID")

	bad := h.write(t, "bad.json", invalidPatient)
	out, err = h.run(t, "", "validate", good, bad)
	assert.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, "Status: INVALID")
	assert.Contains(t, out, "Patient.birthDate")
}

func TestValidate_JSONFromStdin(t *testing.T) {
	out, err := newHarness(t).run(t, "{not json", "validate", "-o", "json", "-")
	assert.ErrorIs(t, err, errFailed)

	var results []fileResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "stdin", results[0].Source)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, mm.StatusFail, results[0].Report.Status)
}

func TestValidate_Bundle(t *testing.T) {
	h := newHarness(t)
	bundle := h.write(t, "bundle.json", `{
	  "resourceType": "Bundle",
	  "type": "collection",
	  "entry": [
	    {"fullUrl": "urn:uuid:1", "resource": `+validPatient+`},
	    {"resource": {"resourceType": "Observation", "id": "o1", "status": "final",
	      "category": [{"coding": [{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "laboratory"}]}],
	      "code": {"coding": [{"system": "http://loinc.org", "code": "718-7", "display": "Hemoglobin"}]},
	      "subject": {"reference": "Patient/p1"},
	      "valueQuantity": {"value": 13.2, "unit": "g/dL"}}}
	  ]
	}`)

	out, err := h.run(t, "", "validate", "--bundle", bundle)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Patient/p1")
	assert.Contains(t, out, "Observation/o1")
}

func TestValidate_UnknownProfile(t *testing.T) {
	h := newHarness(t)
	good := h.write(t, "good.json", validPatient)

	out, err := h.run(t, "", "validate", "--profile", "no-such-profile", good)
	assert.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, "Error:")
}

func TestValidate_PackageProfile(t *testing.T) {
	h := newHarness(t)
	pkg := filepath.Join(h.dir, "pkg")
	require.NoError(t, os.Mkdir(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "profiles.yaml"), []byte(`
profiles:
  - id: contactable-patient
    type: Patient
    base: Patient
    elements:
      - {path: Patient.telecom, min: 1, max: "*"}
`), 0o644))
	cfg := h.write(t, "pkg.yaml", "log:\n  level: error\nvalidation:\n  profiles_dir: "+pkg+"\n")
	good := h.write(t, "good.json", validPatient)

	var out bytes.Buffer
	cmd := rootCmd(&out, strings.NewReader(""))
	cmd.SetArgs([]string{"--config", cfg, "validate", "--profile", "contactable-patient", good})
	err := cmd.Execute()
	assert.ErrorIs(t, err, errFailed)
	assert.Contains(t, out.String(), "Patient.telecom")

	// Built-in profiles still resolve behind the package.
	out.Reset()
	cmd = rootCmd(&out, strings.NewReader(""))
	cmd.SetArgs([]string{"--config", cfg, "validate", "--profile", "us-core-patient", good})
	require.NoError(t, cmd.Execute(), out.String())
}

func TestValidate_NoMatches(t *testing.T) {
	_, err := newHarness(t).run(t, "", "validate", filepath.Join(t.TempDir(), "*.json"))
	assert.Error(t, err)
}

func TestRoot_BadOutput(t *testing.T) {
	_, err := newHarness(t).run(t, "", "version", "-o", "xml")
	assert.ErrorIs(t, err, mm.ErrConfiguration)
}

func TestBuildSuggester_CachesExternalProviders(t *testing.T) {
	calls := 0
	llm := suggest.ProviderFunc{
		ProviderName: "llm",
		Fn: func(context.Context, field.Context, string, string) ([]mm.MappingCandidate, error) {
			calls++
			return []mm.MappingCandidate{{TargetPath: "Patient.birthDate", Confidence: 0.6}}, nil
		},
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Suggest.ResponseCacheSize = 8

	learner := feedback.NewLearner(feedback.NewMemoryStore())
	s, err := buildSuggester(cfg.Suggest, learner, zap.NewNop(), mm.NewMetrics(), llm)
	require.NoError(t, err)

	fc := field.New("dob", []string{"1980-01-15"})
	first := s.Suggest(context.Background(), fc, "Patient", "")
	s.Suggest(context.Background(), fc, "Patient", "")

	assert.Equal(t, 1, calls)
	top, ok := first.Top()
	require.True(t, ok)
	assert.Contains(t, top.Origins, mm.Origin{Kind: mm.OriginAI, Source: "llm"})
	assert.ElementsMatch(t, []string{"llm", suggest.HistoryProviderName}, s.Providers())
}

func TestServeMetrics_StopClosesListener(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := &globals{
		cfg:    &config.Config{Metrics: config.MetricsConfig{Addr: "127.0.0.1:0"}},
		logger: zap.New(core),
	}

	stop := g.serveMetrics(mm.NewMetrics())
	entries := logs.FilterMessage("serving metrics").All()
	require.Len(t, entries, 1)
	url := "http://" + entries[0].ContextMap()["addr"].(string) + "/metrics"

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stop()
	_, err = http.Get(url)
	assert.Error(t, err)
	assert.Empty(t, logs.FilterMessage("metrics server stopped").All())
}

func TestServeMetrics_Disabled(t *testing.T) {
	g := &globals{cfg: &config.Config{}, logger: zap.NewNop()}
	stop := g.serveMetrics(mm.NewMetrics())
	stop()
}
