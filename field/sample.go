package field

import (
	"regexp"
	"strings"
)

// SampleKind names a recognizable format of sample values.
type SampleKind string

const (
	KindDate       SampleKind = "date"
	KindDateTime   SampleKind = "dateTime"
	KindGender     SampleKind = "gender"
	KindPhone      SampleKind = "phone"
	KindEmail      SampleKind = "email"
	KindPostal     SampleKind = "postal"
	KindIdentifier SampleKind = "identifier"
	KindBoolean    SampleKind = "boolean"
	KindNumeric    SampleKind = "numeric"
	KindCode       SampleKind = "code"
)

// samplePatterns are matched against sample values, never against names.
var samplePatterns = map[SampleKind]*regexp.Regexp{
	KindDate:       regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|\d{8})$`),
	KindDateTime:   regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?$`),
	KindGender:     regexp.MustCompile(`(?i)^(m|f|u|male|female|other|unknown)$`),
	KindPhone:      regexp.MustCompile(`^\+?[\d\s().-]{7,20}$`),
	KindEmail:      regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`),
	KindPostal:     regexp.MustCompile(`^(\d{5}(-\d{4})?|[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d)$`),
	KindIdentifier: regexp.MustCompile(`^[A-Za-z]{0,4}[-_]?\d{4,}[A-Za-z0-9]*$`),
	KindBoolean:    regexp.MustCompile(`(?i)^(true|false|yes|no|y|n|0|1)$`),
	KindNumeric:    regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`),
	KindCode:       regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,15}$`),
}

// KnownKind reports whether k has a built-in pattern.
func KnownKind(k SampleKind) bool {
	_, ok := samplePatterns[k]
	return ok
}

// Matches reports whether value has the format k.
func Matches(k SampleKind, value string) bool {
	re, ok := samplePatterns[k]
	return ok && re.MatchString(strings.TrimSpace(value))
}

// MatchRate returns the share of samples matching re. It is 0 for an empty
// sample.
func MatchRate(re *regexp.Regexp, samples []string) float64 {
	if re == nil || len(samples) == 0 {
		return 0
	}
	n := 0
	for _, s := range samples {
		if re.MatchString(s) {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

// Pattern returns the regular expression of a built-in kind.
func Pattern(k SampleKind) (*regexp.Regexp, bool) {
	re, ok := samplePatterns[k]
	return re, ok
}
