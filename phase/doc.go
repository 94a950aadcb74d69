// Package phase provides the four validation layers.
//
//   - structural: resource shape, required elements, cardinality and
//     primitive formats against the base definition. Fatal.
//   - profile: constraints a profile adds on top of the base definition
//   - terminology: coded elements against their bindings
//   - business-rule: built-in and FHIRPath rules, run concurrently
//
// Phases implement the pipeline.Phase interface. They only read the
// pipeline.Context and are safe for concurrent use.
package phase
