// Package engine provides the multi-layer FHIR validation engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/cache"
	"github.com/aks129/FhirMapMaster/phase"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/service"
)

// Validator validates resources through the layered pipeline and memoizes
// reports by content fingerprint. It is safe for concurrent use.
type Validator struct {
	// Configuration
	options *mm.Options

	// Services
	profiles    service.ProfileSource
	defaults    service.DefaultProfiler
	terminology service.TerminologySource

	// Pipeline
	pipe     *pipeline.Pipeline
	business *phase.BusinessPhase

	// Memoization
	cache  *cache.Cache[string, *mm.Report]
	flight singleflight.Group

	metrics *mm.Metrics
	logger  *zap.Logger
}

// New creates a Validator. profiles is required; terminology is required
// when the terminology layer is active. If profiles also implements
// service.DefaultProfiler it picks the profile for resources validated
// without one.
func New(profiles service.ProfileSource, terminology service.TerminologySource, opts ...mm.Option) (*Validator, error) {
	options := mm.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if profiles == nil {
		return nil, fmt.Errorf("%w: no profile source", mm.ErrConfiguration)
	}
	if terminology == nil && options.Layers.Has(mm.LayerTerminology) {
		return nil, fmt.Errorf("%w: terminology layer requested without a terminology source", mm.ErrConfiguration)
	}
	if options.Layers.Len() == 0 {
		return nil, fmt.Errorf("%w: no validation layers selected", mm.ErrConfiguration)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = mm.NewMetrics()
	}

	v := &Validator{
		options:     options,
		profiles:    profiles,
		terminology: terminology,
		business:    phase.NewDefaultBusinessPhase(),
		cache:       cache.New[string, *mm.Report](options.CacheSize),
		metrics:     metrics,
		logger:      logger.Named("engine"),
	}
	v.defaults, _ = profiles.(service.DefaultProfiler)

	v.pipe = pipeline.NewPipeline(metrics, v.logger)
	v.pipe.Register(phase.NewStructuralPhase())
	v.pipe.Register(phase.NewProfilePhase())
	v.pipe.Register(phase.NewTerminologyPhase())
	v.pipe.Register(v.business)

	return v, nil
}

// AddRules registers extra business rules after the built-in ones. Cached
// reports are dropped since they were computed without the new rules.
func (v *Validator) AddRules(rules ...phase.Rule) {
	v.business.Add(rules...)
	v.cache.Clear()
}

// Validate validates one resource against profileID, or against the
// default profile for its type when profileID is empty. Validation
// problems are reported as issues; the error is reserved for
// configuration problems such as an unknown profile, and for ctx ending.
func (v *Validator) Validate(ctx context.Context, resource map[string]any, profileID string) (*mm.Report, error) {
	return v.validate(ctx, resource, profileID, nil)
}

// ValidateBytes parses and validates a JSON resource. Malformed JSON
// produces a failing report, not an error.
func (v *Validator) ValidateBytes(ctx context.Context, data []byte, profileID string) (*mm.Report, error) {
	var resource map[string]any
	if err := json.Unmarshal(data, &resource); err != nil {
		report := mm.NewReport("", "", profileID)
		report.AddIssues([]mm.Issue{mm.Error(mm.CodeStructure).
			In(mm.LayerStructural).
			Message(fmt.Sprintf("invalid JSON: %v", err)).
			Build()})
		for _, l := range v.options.Layers.Layers() {
			if l == mm.LayerStructural {
				report.MarkCompleted(l)
			} else {
				report.MarkSkipped(l)
			}
		}
		v.metrics.RecordValidation(0, false)
		v.metrics.RecordIssue(mm.SeverityError)
		return report, nil
	}
	return v.Validate(ctx, resource, profileID)
}

// target is a resolved validation target.
type target struct {
	key     string
	base    *service.Profile
	profile *service.Profile
}

func (v *Validator) validate(ctx context.Context, resource map[string]any, profileID string, batch *pipeline.BatchIndex) (*mm.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tgt, err := v.resolve(ctx, resource, profileID)
	if err != nil {
		return nil, err
	}

	fp, err := v.fingerprint(resource, tgt.key, batch)
	if err != nil {
		return nil, err
	}
	if report, ok := v.cache.Get(fp); ok {
		v.metrics.RecordCacheHit()
		v.logger.Debug("validation cache hit", zap.String("fingerprint", fp[:12]))
		return report.Clone(), nil
	}
	v.metrics.RecordCacheMiss()

	res, err, shared := v.flight.Do(fp, func() (any, error) {
		report, err := v.run(ctx, resource, tgt, batch)
		if err != nil {
			return nil, err
		}
		stored, _ := v.cache.PutIfAbsent(fp, report)
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		v.metrics.RecordCacheShared()
	}
	return res.(*mm.Report).Clone(), nil
}

// resolve picks the base definition and profile for resource. An explicit
// profile that cannot be found is a configuration error; a default that
// cannot be found falls back to the base definition.
func (v *Validator) resolve(ctx context.Context, resource map[string]any, profileID string) (target, error) {
	rt, _ := resource["resourceType"].(string)
	if rt == "" {
		return target{key: profileID}, nil
	}

	var tgt target
	base, err := v.profiles.BaseDefinition(ctx, rt)
	switch {
	case err == nil:
		tgt.base = base
	case errors.Is(err, mm.ErrUnknownProfile):
		// Structural validation reports the unknown type.
	default:
		return target{}, err
	}

	if profileID != "" {
		p, err := v.profiles.Profile(ctx, profileID)
		if err != nil {
			return target{}, err
		}
		if p.Type != rt {
			return target{}, fmt.Errorf("%w: profile %s constrains %s, not %s", mm.ErrConfiguration, profileID, p.Type, rt)
		}
		tgt.profile = p
	} else if v.defaults != nil {
		if id := v.defaults.DefaultProfileFor(rt); id != "" {
			p, err := v.profiles.Profile(ctx, id)
			switch {
			case err == nil && p.Type == rt:
				tgt.profile = p
			case err != nil && !errors.Is(err, mm.ErrUnknownProfile):
				return target{}, err
			default:
				v.logger.Debug("default profile unavailable, using base definition",
					zap.String("resource_type", rt), zap.String("profile", id))
			}
		}
	}

	if tgt.profile == nil {
		tgt.profile = tgt.base
	}
	if tgt.profile != nil {
		tgt.key = profileKey(tgt.profile)
	}
	return tgt, nil
}

func profileKey(p *service.Profile) string {
	if p.URL != "" {
		return p.URL
	}
	return p.ID
}

// run executes the pipeline for one resource.
func (v *Validator) run(ctx context.Context, resource map[string]any, tgt target, batch *pipeline.BatchIndex) (*mm.Report, error) {
	start := time.Now()

	pctx := pipeline.AcquireContext()
	defer pctx.Release()
	pctx.Resource = resource
	pctx.ResourceType, _ = resource["resourceType"].(string)
	pctx.ResourceID, _ = resource["id"].(string)
	pctx.ProfileID = tgt.key
	pctx.Base = tgt.base
	pctx.Profile = tgt.profile
	pctx.Batch = batch
	pctx.Terminology = v.terminology

	report, err := v.pipe.Execute(ctx, pctx, v.options.Layers)
	if err != nil {
		return nil, err
	}

	if v.options.Quality && tgt.profile != nil && !tgt.profile.IsBase() {
		report.Quality = measureQuality(resource, tgt.profile)
	}
	if v.options.StrictMode {
		report.PromoteWarnings()
	}

	elapsed := time.Since(start)
	v.metrics.RecordValidation(elapsed, report.Status == mm.StatusPass)
	for _, issue := range report.Issues {
		v.metrics.RecordIssue(issue.Severity)
	}
	v.logger.Debug("resource validated",
		zap.String("resource_type", report.ResourceType),
		zap.String("profile", report.ProfileID),
		zap.String("status", string(report.Status)),
		zap.Int("issues", len(report.Issues)),
		zap.Duration("elapsed", elapsed),
	)
	return report, nil
}

// Metrics returns the validator's metrics.
func (v *Validator) Metrics() *mm.Metrics {
	return v.metrics
}

// Options returns the validator's options.
func (v *Validator) Options() *mm.Options {
	return v.options
}

// CacheLen returns the number of memoized reports.
func (v *Validator) CacheLen() int {
	return v.cache.Len()
}

// ClearCache drops every memoized report, e.g. after the knowledge
// sources have been reloaded.
func (v *Validator) ClearCache() {
	v.cache.Clear()
}
