package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
	"github.com/aks129/FhirMapMaster/pattern"
)

// DefaultProviderTimeout bounds each provider call.
const DefaultProviderTimeout = 5 * time.Second

// Option configures a Suggester.
type Option func(*Suggester)

// WithProviders registers providers. Registration order defines insertion
// order among provider candidates.
func WithProviders(providers ...Provider) Option {
	return func(s *Suggester) {
		s.providers = append(s.providers, providers...)
	}
}

// WithTimeout sets the per-provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Suggester) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTopK sets how many suggestions are exposed.
func WithTopK(k int) Option {
	return func(s *Suggester) {
		if k > 0 {
			s.fuser.TopK = k
		}
	}
}

// WithAgreementBonus sets the per-origin agreement bonus.
func WithAgreementBonus(bonus float64) Option {
	return func(s *Suggester) {
		if bonus >= 0 {
			s.fuser.Bonus = bonus
		}
	}
}

// WithMinConfidence hides exposed suggestions below floor.
func WithMinConfidence(floor float64) Option {
	return func(s *Suggester) {
		s.fuser.MinConfidence = mm.Clamp01(floor)
	}
}

// WithTrust sets the provider trust source.
func WithTrust(trust TrustSource) Option {
	return func(s *Suggester) {
		if trust != nil {
			s.trust = trust
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Suggester) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *mm.Metrics) Option {
	return func(s *Suggester) { s.metrics = m }
}

// Suggester builds suggestion sets from the pattern matcher and any number
// of providers. It holds no per-request state and is safe for concurrent use.
type Suggester struct {
	matcher   *pattern.Matcher
	providers []Provider
	timeout   time.Duration
	fuser     Fuser
	trust     TrustSource
	logger    *zap.Logger
	metrics   *mm.Metrics
}

// New creates a Suggester around a pattern matcher.
func New(matcher *pattern.Matcher, opts ...Option) *Suggester {
	if matcher == nil {
		matcher = pattern.NewMatcher(nil, nil)
	}
	s := &Suggester{
		matcher: matcher,
		timeout: DefaultProviderTimeout,
		fuser:   DefaultFuser(),
		trust:   neutralTrust{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers returns the registered provider names.
func (s *Suggester) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

type providerResult struct {
	candidates []mm.MappingCandidate
	failure    *ProviderFailure
}

// Suggest returns the fused suggestion set for fc against resource. It
// never fails: provider errors and timeouts degrade the set to whatever
// the remaining sources produced.
func (s *Suggester) Suggest(ctx context.Context, fc field.Context, resource, ig string) *Set {
	patterns := s.matcher.Match(fc, resource)

	results := make([]providerResult, len(s.providers))
	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			results[i] = s.call(ctx, p, fc, resource, ig)
			return nil
		})
	}
	_ = g.Wait()

	lists := make([][]mm.MappingCandidate, 0, len(results)+1)
	lists = append(lists, patterns)

	set := &Set{
		Field:       fc.Name(),
		Fingerprint: fc.Fingerprint(),
		Resource:    resource,
		IG:          ig,
	}
	for _, r := range results {
		if r.failure != nil {
			set.Degraded = true
			set.Failures = append(set.Failures, *r.failure)
			continue
		}
		lists = append(lists, r.candidates)
	}

	set.Suggestions, set.All = s.fuser.Fuse(lists...)

	if s.metrics != nil {
		s.metrics.RecordSuggestion(set.Degraded)
	}
	s.logger.Debug("suggestions built",
		zap.String("field", fc.Name()),
		zap.String("resource", resource),
		zap.Int("candidates", len(set.All)),
		zap.Bool("degraded", set.Degraded),
	)
	return set
}

// call runs one provider under the timeout. The provider runs in its own
// goroutine so one that ignores its context cannot hold up the request.
func (s *Suggester) call(ctx context.Context, p Provider, fc field.Context, resource, ig string) providerResult {
	name := p.Name()
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type reply struct {
		candidates []mm.MappingCandidate
		err        error
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		c, err := p.Propose(pctx, fc, resource, ig)
		done <- reply{candidates: c, err: err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-pctx.Done():
		rep = reply{err: pctx.Err()}
	}
	elapsed := time.Since(start)

	if rep.err != nil {
		timedOut := errors.Is(rep.err, context.DeadlineExceeded)
		outcome := mm.ProviderFailed
		if timedOut {
			outcome = mm.ProviderTimedOut
		}
		if s.metrics != nil {
			s.metrics.RecordProvider(name, elapsed, outcome)
		}
		f := &ProviderFailure{Provider: name, Reason: rep.err.Error(), TimedOut: timedOut}
		s.logger.Warn("suggestion provider unavailable",
			zap.String("provider", name),
			zap.Bool("timed_out", timedOut),
			zap.Duration("elapsed", elapsed),
			zap.Error(f.Err()),
		)
		return providerResult{failure: f}
	}

	if s.metrics != nil {
		s.metrics.RecordProvider(name, elapsed, mm.ProviderOK)
	}
	return providerResult{candidates: s.stamp(name, resource, rep.candidates)}
}

// stamp tags provider candidates with their origin, drops paths outside
// the target resource and scales confidence by the provider's trust.
func (s *Suggester) stamp(name, resource string, in []mm.MappingCandidate) []mm.MappingCandidate {
	out := make([]mm.MappingCandidate, 0, len(in))
	prefix := resource + "."
	for _, c := range in {
		if !strings.HasPrefix(c.TargetPath, prefix) {
			s.logger.Debug("dropping off-resource candidate",
				zap.String("provider", name),
				zap.String("path", c.TargetPath),
			)
			continue
		}
		trustKey := name
		if c.Origin.Kind == mm.OriginHistorical {
			trustKey = string(mm.OriginHistorical)
			if c.Origin.Source == "" {
				c.Origin.Source = name
			}
		} else {
			c.Origin = mm.Origin{Kind: mm.OriginAI, Source: name}
		}
		if c.Transform == "" {
			c.Transform = mm.TransformDirect
		}
		c.Confidence = mm.Clamp01(c.Confidence * s.trust.ProviderTrust(trustKey))
		out = append(out, c)
	}
	return out
}
