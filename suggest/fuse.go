package suggest

import (
	"sort"

	mm "github.com/aks129/FhirMapMaster"
)

// Default fusion parameters.
const (
	DefaultAgreementBonus = 0.1
	DefaultTopK           = 3
)

// Suggestion is one fused group of candidates sharing a target path.
type Suggestion struct {
	// Candidate is the most confident contributor; its Confidence is the
	// contributor's own score, not the fused one.
	Candidate mm.MappingCandidate `json:"candidate"`

	// Fused is the combined confidence used for ranking.
	Fused float64 `json:"fused"`

	// Origins lists the distinct agreeing origins in insertion order.
	Origins []mm.Origin `json:"origins"`

	// Contributors holds every candidate that proposed this path.
	Contributors []mm.MappingCandidate `json:"contributors"`

	priority  int
	insertion int
}

// TargetPath returns the suggested element path.
func (s Suggestion) TargetPath() string { return s.Candidate.TargetPath }

// Fuser merges candidate lists into ranked suggestions.
type Fuser struct {
	// Bonus is added per additional agreeing origin.
	Bonus float64
	// TopK is the number of suggestions exposed to the reviewer.
	TopK int
	// MinConfidence hides exposed suggestions whose fused score is lower.
	MinConfidence float64
}

// DefaultFuser returns a Fuser with bonus 0.1 and top 3.
func DefaultFuser() Fuser {
	return Fuser{Bonus: DefaultAgreementBonus, TopK: DefaultTopK}
}

// Fuse groups the candidates of all lists by target path and ranks the
// groups. Lists are consumed in argument order, which defines insertion
// order; pass pattern candidates first. It returns the exposed top K and the
// full ranked set.
func (f Fuser) Fuse(lists ...[]mm.MappingCandidate) (exposed, all []Suggestion) {
	groups := make(map[string]*Suggestion)
	var order []*Suggestion

	for _, list := range lists {
		for _, c := range list {
			if c.TargetPath == "" {
				continue
			}
			c.Confidence = mm.Clamp01(c.Confidence)
			g, ok := groups[c.TargetPath]
			if !ok {
				g = &Suggestion{
					Candidate: c,
					priority:  c.Origin.Kind.Priority(),
					insertion: len(order),
				}
				groups[c.TargetPath] = g
				order = append(order, g)
			} else if better(c, g.Candidate) {
				g.Candidate = c
			}
			g.Contributors = append(g.Contributors, c)
			if p := c.Origin.Kind.Priority(); p < g.priority {
				g.priority = p
			}
			if !hasOrigin(g.Origins, c.Origin) {
				g.Origins = append(g.Origins, c.Origin)
			}
		}
	}

	all = make([]Suggestion, 0, len(order))
	for _, g := range order {
		best := 0.0
		for _, c := range g.Contributors {
			if c.Confidence > best {
				best = c.Confidence
			}
		}
		g.Fused = mm.Clamp01(best + f.Bonus*float64(len(g.Origins)-1))
		all = append(all, *g)
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.insertion < b.insertion
	})

	k := f.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	for _, s := range all {
		if len(exposed) == k {
			break
		}
		if s.Fused < f.MinConfidence {
			continue
		}
		exposed = append(exposed, s)
	}
	return exposed, all
}

// better reports whether a should represent a group instead of b.
func better(a, b mm.MappingCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Origin.Kind.Priority() < b.Origin.Kind.Priority()
}

func hasOrigin(origins []mm.Origin, o mm.Origin) bool {
	for _, x := range origins {
		if x == o {
			return true
		}
	}
	return false
}
