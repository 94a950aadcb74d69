// Package terminology provides terminology sources for checking codes
// against value sets and code systems.
//
// The package provides:
//   - InMemoryService: checks membership against locally loaded terminology
//     and ships the common FHIR R4 code systems (gender, statuses, marital
//     status, encounter class and others)
//   - Cached: an LRU wrapper for any service.TerminologySource
//
// Example usage:
//
//	ts := terminology.NewInMemoryService()
//	if _, err := ts.LoadFromDirectory("terminology/"); err != nil {
//		return err
//	}
//	res, err := ts.ValidateCode(ctx, "http://hl7.org/fhir/administrative-gender", "male",
//		"http://hl7.org/fhir/ValueSet/administrative-gender")
package terminology
