package terminology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aks129/FhirMapMaster/service"
)

const (
	genderSystem = "http://hl7.org/fhir/administrative-gender"
	genderVS     = "http://hl7.org/fhir/ValueSet/administrative-gender"
)

func TestInMemoryService(t *testing.T) {
	ctx := context.Background()

	t.Run("built-in terminology is loaded", func(t *testing.T) {
		ts := NewInMemoryService()
		if ts.CountCodeSystems() == 0 || ts.CountValueSets() == 0 {
			t.Fatalf("counts = %d code systems, %d value sets; want built-ins", ts.CountCodeSystems(), ts.CountValueSets())
		}
	})

	t.Run("code in code system", func(t *testing.T) {
		res, err := NewInMemoryService().ValidateCode(ctx, genderSystem, "male", "")
		if err != nil {
			t.Fatalf("ValidateCode() error = %v", err)
		}
		if !res.Member || res.Display != "Male" {
			t.Errorf("ValidateCode() = %+v; want member with display Male", res)
		}
	})

	t.Run("code in value set", func(t *testing.T) {
		res, err := NewInMemoryService().ValidateCode(ctx, genderSystem, "female", genderVS)
		if err != nil || !res.Member {
			t.Errorf("ValidateCode() = %+v, %v; want member", res, err)
		}
	})

	t.Run("versioned value set url", func(t *testing.T) {
		res, err := NewInMemoryService().ValidateCode(ctx, "", "female", genderVS+"|4.0.1")
		if err != nil || !res.Member || res.System != genderSystem {
			t.Errorf("ValidateCode() = %+v, %v; want member of %s", res, err, genderSystem)
		}
	})

	t.Run("code not in value set", func(t *testing.T) {
		res, err := NewInMemoryService().ValidateCode(ctx, genderSystem, "M", genderVS)
		if err != nil {
			t.Fatalf("ValidateCode() error = %v", err)
		}
		if res.Member {
			t.Error("expected 'M' not to be a member")
		}
	})

	t.Run("empty code", func(t *testing.T) {
		res, err := NewInMemoryService().ValidateCode(ctx, genderSystem, "", genderVS)
		if err != nil || res.Member {
			t.Errorf("ValidateCode() = %+v, %v; want non-member", res, err)
		}
	})

	t.Run("unknown value set", func(t *testing.T) {
		_, err := NewInMemoryService().ValidateCode(ctx, "", "x", "http://example.org/vs")
		if !errors.Is(err, service.ErrUnknownValueSet) {
			t.Errorf("error = %v; want ErrUnknownValueSet", err)
		}
		_, err = NewInMemoryService().ValidateCode(ctx, "http://example.org/cs", "x", "")
		if !errors.Is(err, service.ErrUnknownValueSet) {
			t.Errorf("error = %v; want ErrUnknownValueSet", err)
		}
	})

	t.Run("is-a filter", func(t *testing.T) {
		ts := NewInMemoryService()
		vs := "http://hl7.org/fhir/ValueSet/observation-interpretation-abnormal"
		for code, want := range map[string]bool{"A": true, "H": true, "HH": true, "LL": true, "N": false} {
			res, err := ts.ValidateCode(ctx, "", code, vs)
			if err != nil {
				t.Fatalf("ValidateCode(%s) error = %v", code, err)
			}
			if res.Member != want {
				t.Errorf("ValidateCode(%s).Member = %v; want %v", code, res.Member, want)
			}
		}
	})

	t.Run("value set added before its code system", func(t *testing.T) {
		ts := NewEmptyService()
		if err := ts.AddValueSet("http://example.org/vs", Include{System: "http://example.org/cs"}); err != nil {
			t.Fatal(err)
		}
		res, err := ts.ValidateCode(ctx, "", "a", "http://example.org/vs")
		if err != nil || res.Member {
			t.Fatalf("before code system: %+v, %v; want non-member", res, err)
		}
		if err := ts.AddCodeSystem("http://example.org/cs", []Concept{{Code: "a", Display: "Alpha"}}); err != nil {
			t.Fatal(err)
		}
		res, err = ts.ValidateCode(ctx, "", "a", "http://example.org/vs")
		if err != nil || !res.Member || res.Display != "Alpha" {
			t.Errorf("after code system: %+v, %v; want member Alpha", res, err)
		}
	})

	t.Run("expand", func(t *testing.T) {
		codes, err := NewInMemoryService().Expand(ctx, genderVS)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, c := range codes {
			got = append(got, c.Code)
		}
		want := []string{"female", "male", "other", "unknown"}
		if len(got) != len(want) {
			t.Fatalf("Expand() = %v; want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Expand()[%d] = %s; want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := NewInMemoryService().ValidateCode(cctx, genderSystem, "male", ""); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v; want context.Canceled", err)
		}
	})
}

const codeSystemJSON = `{
  "resourceType": "CodeSystem",
  "url": "http://example.org/cs/colors",
  "concept": [
    {"code": "red", "display": "Red", "concept": [{"code": "crimson", "display": "Crimson"}]},
    {"code": "blue", "display": "Blue"}
  ]
}`

const valueSetJSON = `{
  "resourceType": "ValueSet",
  "url": "http://example.org/vs/reds",
  "compose": {"include": [{"system": "http://example.org/cs/colors",
    "filter": [{"property": "concept", "op": "is-a", "value": "red"}]}]}
}`

func TestLoadFromJSON(t *testing.T) {
	ctx := context.Background()
	ts := NewEmptyService()

	if _, err := ts.LoadFromJSON([]byte(codeSystemJSON)); err != nil {
		t.Fatalf("LoadFromJSON(CodeSystem) error = %v", err)
	}
	if _, err := ts.LoadFromJSON([]byte(valueSetJSON)); err != nil {
		t.Fatalf("LoadFromJSON(ValueSet) error = %v", err)
	}

	for code, want := range map[string]bool{"red": true, "crimson": true, "blue": false} {
		res, err := ts.ValidateCode(ctx, "http://example.org/cs/colors", code, "http://example.org/vs/reds")
		if err != nil {
			t.Fatal(err)
		}
		if res.Member != want {
			t.Errorf("%s member = %v; want %v", code, res.Member, want)
		}
	}

	if _, err := ts.LoadFromJSON([]byte(`{"resourceType":"Patient"}`)); err == nil {
		t.Error("LoadFromJSON(Patient) = nil; want error")
	}
}

func TestLoadFromJSON_Bundle(t *testing.T) {
	bundle := `{"resourceType":"Bundle","entry":[{"resource":` + valueSetJSON + `},{"resource":` + codeSystemJSON + `}]}`
	stats, err := NewEmptyService().LoadFromJSON([]byte(bundle))
	if err != nil {
		t.Fatal(err)
	}
	if stats.CodeSystemsLoaded != 1 || stats.ValueSetsLoaded != 1 {
		t.Errorf("stats = %+v; want 1 code system and 1 value set", stats)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("ValueSet-reds.json", valueSetJSON)
	write("CodeSystem-colors.json", codeSystemJSON)
	write("local.yaml", "codeSystems:\n  - url: http://example.org/cs/local\n    valueSet: http://example.org/vs/local\n    concepts: [{code: x, display: X}]\n")
	write("broken.json", "{")
	write("notes.txt", "ignored")

	ts := NewEmptyService()
	stats, err := ts.LoadFromDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CodeSystemsLoaded != 2 || stats.ValueSetsLoaded != 2 || stats.Errors != 1 {
		t.Errorf("stats = %+v; want 2 code systems, 2 value sets, 1 error", stats)
	}
	res, err := ts.ValidateCode(context.Background(), "", "x", "http://example.org/vs/local")
	if err != nil || !res.Member {
		t.Errorf("ValidateCode(x) = %+v, %v; want member", res, err)
	}

	if _, err := ts.LoadFromDirectory(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadFromDirectory(missing) = nil; want error")
	}
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	calls := 0
	inner := service.TerminologySourceFunc(func(_ context.Context, system, code, vs string) (*service.CodeResult, error) {
		calls++
		if vs == "unknown" {
			return nil, service.ErrUnknownValueSet
		}
		return &service.CodeResult{Member: code == "male", System: system}, nil
	})
	c := NewCached(inner, 16)

	for i := 0; i < 3; i++ {
		res, err := c.ValidateCode(ctx, genderSystem, "male", genderVS)
		if err != nil || !res.Member {
			t.Fatalf("ValidateCode() = %+v, %v", res, err)
		}
	}
	if calls != 1 {
		t.Errorf("inner calls = %d; want 1", calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.ValidateCode(ctx, genderSystem, "male", "unknown"); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 3 {
		t.Errorf("inner calls = %d; want 3 (errors are not cached)", calls)
	}
	if c.Stats().Hits != 2 {
		t.Errorf("hits = %d; want 2", c.Stats().Hits)
	}
}

func TestCached_NilResult(t *testing.T) {
	calls := 0
	inner := service.TerminologySourceFunc(func(context.Context, string, string, string) (*service.CodeResult, error) {
		calls++
		return nil, nil
	})
	c := NewCached(inner, 4)

	for i := 0; i < 2; i++ {
		res, err := c.ValidateCode(context.Background(), genderSystem, "male", genderVS)
		if res != nil || err != nil {
			t.Fatalf("ValidateCode() = %+v, %v; want nil, nil", res, err)
		}
	}
	if calls != 2 {
		t.Errorf("inner calls = %d; want 2 (empty answers are not cached)", calls)
	}
}
