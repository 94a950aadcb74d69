// Package suggest fuses pattern candidates and external provider
// candidates into one ranked suggestion set.
package suggest

import (
	"context"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
)

// Provider is an external source of mapping candidates, typically an AI
// backend. Implementations must honor ctx cancellation where they can; the
// Suggester never waits past its per-provider timeout either way.
type Provider interface {
	Name() string
	Propose(ctx context.Context, fc field.Context, resource, ig string) ([]mm.MappingCandidate, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, fc field.Context, resource, ig string) ([]mm.MappingCandidate, error)
}

// Name returns the provider name.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Propose calls Fn.
func (p ProviderFunc) Propose(ctx context.Context, fc field.Context, resource, ig string) ([]mm.MappingCandidate, error) {
	return p.Fn(ctx, fc, resource, ig)
}

// TrustSource supplies learned per-provider trust scores.
type TrustSource interface {
	ProviderTrust(name string) float64
}

type neutralTrust struct{}

func (neutralTrust) ProviderTrust(string) float64 { return 1 }
