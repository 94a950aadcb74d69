package field

import (
	"strings"
	"unicode"
)

// Normalize returns the canonical form of a source field name: lower-case
// tokens joined by "_". "patientDOB", "Patient DOB" and "patient-dob" all
// normalize to "patient_dob".
func Normalize(name string) string {
	return strings.Join(Tokens(name), "_")
}

// Tokens splits a field name into lower-case tokens on separators and
// camelCase boundaries.
//
//   - "birthDate" -> ["birth", "date"]
//   - "MRN_ID" -> ["mrn", "id"]
//   - "HL7Version" -> ["hl7", "version"]
func Tokens(name string) []string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) == 0 {
		return nil
	}

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for i, r := range runes {
		if isSeparator(r) {
			flush()
			continue
		}
		if i > 0 && startsToken(runes, i) {
			flush()
		}
		current.WriteRune(r)
	}
	flush()

	return tokens
}

func isSeparator(r rune) bool {
	switch r {
	case '_', '-', ' ', '.', '/', ':', '\t':
		return true
	}
	return false
}

// startsToken reports whether a new token begins at runes[i].
func startsToken(runes []rune, i int) bool {
	r, prev := runes[i], runes[i-1]
	if isSeparator(prev) || !unicode.IsUpper(r) {
		return false
	}
	// lower -> Upper: "birthDate"
	if !unicode.IsUpper(prev) {
		return true
	}
	// end of an acronym: "XMLParser" splits before 'P'
	return i+1 < len(runes) && unicode.IsLower(runes[i+1])
}
