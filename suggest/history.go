package suggest

import (
	"context"
	"fmt"
	"math"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
)

// HistoryProviderName is the name under which reused decisions are trusted.
const HistoryProviderName = string(mm.OriginHistorical)

// historyCeiling is the confidence approached by a path accepted many times.
const historyCeiling = 0.8

// HistoryEntry is a target path previously accepted for a field name.
type HistoryEntry struct {
	TargetPath string
	Count      int
}

// HistorySource looks up accepted paths by resource type and normalized
// field name.
type HistorySource interface {
	History(resource, normalizedName string) []HistoryEntry
}

// HistoryProvider proposes paths reviewers accepted before for fields with
// the same normalized name.
type HistoryProvider struct {
	source HistorySource
}

// NewHistoryProvider creates a provider over source.
func NewHistoryProvider(source HistorySource) *HistoryProvider {
	return &HistoryProvider{source: source}
}

// Name returns "historical".
func (p *HistoryProvider) Name() string { return HistoryProviderName }

// Propose returns one historical candidate per previously accepted path.
func (p *HistoryProvider) Propose(ctx context.Context, fc field.Context, resource, _ string) ([]mm.MappingCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := p.source.History(resource, fc.Normalized())
	out := make([]mm.MappingCandidate, 0, len(entries))
	for _, e := range entries {
		if e.Count <= 0 {
			continue
		}
		out = append(out, mm.MappingCandidate{
			TargetPath: e.TargetPath,
			Transform:  mm.TransformDirect,
			Confidence: historyConfidence(e.Count),
			Rationale:  fmt.Sprintf("accepted %d time(s) for %q", e.Count, fc.Normalized()),
			Origin:     mm.Origin{Kind: mm.OriginHistorical, Source: HistoryProviderName},
		})
	}
	return out, nil
}

func historyConfidence(count int) float64 {
	return historyCeiling * (1 - math.Pow(0.5, float64(count)))
}
