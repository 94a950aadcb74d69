package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/config"
	"github.com/aks129/FhirMapMaster/engine"
	"github.com/aks129/FhirMapMaster/feedback"
	"github.com/aks129/FhirMapMaster/pattern"
	"github.com/aks129/FhirMapMaster/phase"
	"github.com/aks129/FhirMapMaster/registry"
	"github.com/aks129/FhirMapMaster/service"
	"github.com/aks129/FhirMapMaster/session"
	"github.com/aks129/FhirMapMaster/suggest"
	"github.com/aks129/FhirMapMaster/terminology"
)

// app holds the components wired from one configuration.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *mm.Metrics
	store     feedback.Store
	learner   *feedback.Learner
	suggester *suggest.Suggester
	validator *engine.Validator
	session   *session.Session
}

// newApp builds every component. External suggestion providers are
// optional; each is wrapped in a response cache when configured.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, external ...suggest.Provider) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: mm.NewMetrics()}

	store, err := openStore(cfg.Feedback)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.learner = feedback.NewLearner(store,
		feedback.WithBounds(cfg.Learning.Bounds()),
		feedback.WithLearnerLogger(logger),
		feedback.WithLearnerMetrics(a.metrics),
	)
	if err := a.learner.Replay(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("replay feedback: %w", err)
	}

	if a.suggester, err = buildSuggester(cfg.Suggest, a.learner, logger, a.metrics, external...); err != nil {
		a.Close()
		return nil, err
	}
	if a.validator, err = buildValidator(cfg.Validation, logger, a.metrics); err != nil {
		a.Close()
		return nil, err
	}
	a.session = session.New(a.suggester, a.learner, a.validator,
		session.WithRetry(cfg.Feedback.Retry()),
		session.WithLogger(logger),
	)
	return a, nil
}

// Close releases the feedback store.
func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing feedback store", zap.Error(err))
	}
}

func openStore(cfg config.FeedbackConfig) (feedback.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return feedback.OpenSQLite(cfg.Path)
	default:
		return feedback.NewMemoryStore(), nil
	}
}

func buildSuggester(cfg config.SuggestConfig, learner *feedback.Learner, logger *zap.Logger, metrics *mm.Metrics, external ...suggest.Provider) (*suggest.Suggester, error) {
	table := pattern.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := pattern.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	providers := make([]suggest.Provider, 0, len(external)+1)
	for _, p := range external {
		if cfg.ResponseCacheSize > 0 {
			p = suggest.NewCachingProvider(p, cfg.ResponseCacheSize)
		}
		providers = append(providers, p)
	}
	providers = append(providers, suggest.NewHistoryProvider(learner))

	return suggest.New(pattern.NewMatcher(table, learner),
		suggest.WithProviders(providers...),
		suggest.WithTimeout(cfg.ProviderTimeout),
		suggest.WithTopK(cfg.TopK),
		suggest.WithAgreementBonus(cfg.AgreementBonus),
		suggest.WithMinConfidence(cfg.MinConfidence),
		suggest.WithTrust(learner),
		suggest.WithLogger(logger),
		suggest.WithMetrics(metrics),
	), nil
}

// buildValidator chains package directories ahead of the built-in
// definitions, so a loaded profile or value set replaces a built-in one
// with the same id.
func buildValidator(cfg config.ValidationConfig, logger *zap.Logger, metrics *mm.Metrics) (*engine.Validator, error) {
	profiles := service.NewProfileChain()
	terms := service.NewTerminologyChain()

	for _, dir := range []string{cfg.ProfilesDir, cfg.TerminologyDir} {
		if dir == "" {
			continue
		}
		pkgProfiles := registry.NewEmpty()
		pkgTerms := terminology.NewEmptyService()
		if _, err := registry.NewPackageLoader(pkgProfiles, pkgTerms, logger).LoadPackage(dir); err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", mm.ErrConfiguration, dir, err)
		}
		profiles.Add(pkgProfiles)
		terms.Add(pkgTerms)
	}
	profiles.Add(registry.New())
	terms.Add(terminology.NewInMemoryService())

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, mm.WithLogger(logger), mm.WithMetrics(metrics))

	v, err := engine.New(profiles, terminology.NewCached(terms, cfg.CacheSize), opts...)
	if err != nil {
		return nil, err
	}

	if cfg.ExpressionRulesFile != "" {
		rules, err := phase.LoadExpressionRules(cfg.ExpressionRulesFile, service.NewFHIRPathAdapter())
		if err != nil {
			return nil, err
		}
		v.AddRules(rules...)
	}
	return v, nil
}
