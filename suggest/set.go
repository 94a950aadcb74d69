package suggest

import (
	"fmt"

	mm "github.com/aks129/FhirMapMaster"
)

// ProviderFailure records a provider that failed or timed out while a set
// was being built.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Err returns the failure as an error wrapping ErrProviderUnavailable.
func (f ProviderFailure) Err() error {
	return fmt.Errorf("%w: %s: %s", mm.ErrProviderUnavailable, f.Provider, f.Reason)
}

// Set is the fused suggestion set for one field against one resource type.
// It never holds two suggestions with the same target path.
type Set struct {
	Field       string `json:"field"`
	Fingerprint string `json:"fingerprint"`
	Resource    string `json:"resource"`
	IG          string `json:"ig,omitempty"`

	// Suggestions are the top K suggestions shown to the reviewer.
	Suggestions []Suggestion `json:"suggestions"`

	// All is the complete ranked set, retained for audit.
	All []Suggestion `json:"all"`

	// Degraded is true when at least one provider contribution is missing.
	Degraded bool              `json:"degraded,omitempty"`
	Failures []ProviderFailure `json:"failures,omitempty"`
}

// Empty reports whether no suggestion was produced.
func (s *Set) Empty() bool { return len(s.All) == 0 }

// Top returns the best suggestion.
func (s *Set) Top() (Suggestion, bool) {
	if len(s.Suggestions) == 0 {
		return Suggestion{}, false
	}
	return s.Suggestions[0], true
}

// Find looks up a suggestion by target path in the full set.
func (s *Set) Find(path string) (Suggestion, bool) {
	for _, sg := range s.All {
		if sg.TargetPath() == path {
			return sg, true
		}
	}
	return Suggestion{}, false
}

// Paths returns the exposed target paths in rank order.
func (s *Set) Paths() []string {
	paths := make([]string, len(s.Suggestions))
	for i, sg := range s.Suggestions {
		paths[i] = sg.TargetPath()
	}
	return paths
}
