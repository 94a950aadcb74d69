package field

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	tests := map[string][]string{
		"birthDate":        {"birth", "date"},
		"patient_dob":      {"patient", "dob"},
		"MRN_ID":           {"mrn", "id"},
		"XMLParser":        {"xml", "parser"},
		"HL7Version":       {"hl7", "version"},
		"  Date of Birth ": {"date", "of", "birth"},
		"address.line-1":   {"address", "line", "1"},
		"":                 nil,
	}
	for in, want := range tests {
		assert.Equal(t, want, Tokens(in), "Tokens(%q)", in)
	}
}

func TestNormalize(t *testing.T) {
	for _, in := range []string{"patientDOB", "Patient DOB", "patient-dob", "PATIENT_DOB"} {
		assert.Equal(t, "patient_dob", Normalize(in), "Normalize(%q)", in)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		samples []string
		want    Type
	}{
		{nil, TypeString},
		{[]string{"true", "False"}, TypeBoolean},
		{[]string{"1980-01-15", "1975-06-02"}, TypeDate},
		{[]string{"2024-01-01T10:00:00Z"}, TypeDateTime},
		{[]string{"12", "-4"}, TypeInteger},
		{[]string{"12", "4.5"}, TypeDecimal},
		{[]string{"MRN-00012345", "MRN-00012346"}, TypeIdentifier},
		{[]string{"M", "F"}, TypeCode},
		{[]string{"John Smith", "Ann Lee"}, TypeString},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferType(tt.samples), "InferType(%v)", tt.samples)
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(KindDate, "1980-01-15"))
	assert.True(t, Matches(KindDate, "01/15/1980"))
	assert.False(t, Matches(KindDate, "yesterday"))
	assert.True(t, Matches(KindGender, "Female"))
	assert.True(t, Matches(KindEmail, "a@b.org"))
	assert.True(t, Matches(KindPostal, "02139"))
	assert.False(t, Matches(SampleKind("nope"), "x"))
	assert.True(t, KnownKind(KindPhone))
	assert.False(t, KnownKind("nope"))
}

func TestNew_BoundsAndCleansSamples(t *testing.T) {
	var samples []string
	samples = append(samples, "  ", "")
	for i := 0; i < 30; i++ {
		samples = append(samples, fmt.Sprintf(" %d ", i))
	}

	c := New("count", samples)

	got := c.Samples()
	require.Len(t, got, MaxSamples)
	assert.Equal(t, "0", got[0])
	assert.Equal(t, "19", got[MaxSamples-1])
	assert.Equal(t, TypeInteger, c.Type())
}

func TestNew_DeclaredTypeAndHint(t *testing.T) {
	c := New("code", []string{"123"}, WithDeclaredType(TypeCode), WithHint(" Identifier "))

	assert.Equal(t, TypeCode, c.Type())
	assert.Equal(t, Hint("identifier"), c.Hint())
	assert.Equal(t, "code", c.Normalized())
}

func TestNew_SamplesAreCopied(t *testing.T) {
	in := []string{"a", "b"}
	c := New("x", in)
	in[0] = "changed"
	out := c.Samples()
	out[1] = "changed"

	assert.Equal(t, []string{"a", "b"}, c.Samples())
}

func TestFingerprint(t *testing.T) {
	a := New("dob", []string{"1980-01-15", "1975-06-02"})
	b := New("dob", []string{"1980-01-15", "1975-06-02"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	differing := []Context{
		New("dob", []string{"1975-06-02", "1980-01-15"}),
		New("birth", []string{"1980-01-15", "1975-06-02"}),
		New("dob", []string{"1980-01-15", "1975-06-02"}, WithHint("date")),
		New("dob", []string{"1980-01-15", "1975-06-02"}, WithDeclaredType(TypeString)),
		New("dob", []string{"1980-01-151975-06-02"}),
	}
	for _, d := range differing {
		assert.NotEqual(t, a.Fingerprint(), d.Fingerprint(), "context %q %v", d.Name(), d.Samples())
	}
}
