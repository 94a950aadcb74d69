package field

import "regexp"

// Type is the inferred primitive type of a field.
type Type string

const (
	TypeBoolean    Type = "boolean"
	TypeInteger    Type = "integer"
	TypeDecimal    Type = "decimal"
	TypeDate       Type = "date"
	TypeDateTime   Type = "dateTime"
	TypeCode       Type = "code"
	TypeIdentifier Type = "identifier"
	TypeString     Type = "string"
)

var (
	integerRe = regexp.MustCompile(`^[-+]?\d+$`)
	decimalRe = regexp.MustCompile(`^[-+]?\d*\.\d+$`)
	booleanRe = regexp.MustCompile(`(?i)^(true|false|yes|no)$`)
)

// inference order: the first type every sample satisfies wins.
var inference = []struct {
	typ Type
	ok  func(string) bool
}{
	{TypeBoolean, booleanRe.MatchString},
	{TypeDateTime, func(s string) bool { return Matches(KindDateTime, s) }},
	{TypeDate, func(s string) bool { return Matches(KindDate, s) }},
	{TypeInteger, integerRe.MatchString},
	{TypeDecimal, func(s string) bool { return integerRe.MatchString(s) || decimalRe.MatchString(s) }},
	{TypeIdentifier, func(s string) bool { return Matches(KindIdentifier, s) }},
	{TypeCode, func(s string) bool { return Matches(KindCode, s) }},
}

// InferType returns the most specific type that all samples satisfy, or
// TypeString. An empty sample infers TypeString.
func InferType(samples []string) Type {
	if len(samples) == 0 {
		return TypeString
	}
	for _, cand := range inference {
		all := true
		for _, s := range samples {
			if !cand.ok(s) {
				all = false
				break
			}
		}
		if all {
			return cand.typ
		}
	}
	return TypeString
}
