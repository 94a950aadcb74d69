package mapmaster

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks engine activity using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	// Validation counts
	validationsTotal  atomic.Uint64
	validationsPassed atomic.Uint64

	// Timing (stored as nanoseconds)
	validationTimeTotal atomic.Uint64
	validationTimeMax   atomic.Uint64

	// Validation cache
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheShared atomic.Uint64

	// Issue counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Suggestions
	suggestionsTotal    atomic.Uint64
	suggestionsDegraded atomic.Uint64

	// Feedback
	feedbackRecorded atomic.Uint64
	feedbackFailures atomic.Uint64

	layerTiming   sync.Map // map[Layer]*layerMetrics
	providerStats sync.Map // map[string]*providerMetrics
}

type layerMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64
	issuesFound atomic.Uint64
}

type providerMetrics struct {
	calls     atomic.Uint64
	failures  atomic.Uint64
	timeouts  atomic.Uint64
	totalTime atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// --- Recording Methods ---

// RecordValidation records a completed validation.
func (m *Metrics) RecordValidation(duration time.Duration, passed bool) {
	m.validationsTotal.Add(1)
	if passed {
		m.validationsPassed.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations are non-negative
	m.validationTimeTotal.Add(ns)

	for {
		old := m.validationTimeMax.Load()
		if ns <= old || m.validationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCacheHit records a validation cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss records a validation cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordCacheShared records a request served by another in-flight computation.
func (m *Metrics) RecordCacheShared() { m.cacheShared.Add(1) }

// RecordIssue records an issue based on severity.
func (m *Metrics) RecordIssue(severity Severity) {
	switch severity {
	case SeverityError:
		m.errorsTotal.Add(1)
	case SeverityWarning:
		m.warningsTotal.Add(1)
	case SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// RecordLayer records metrics for a validation layer.
func (m *Metrics) RecordLayer(layer Layer, duration time.Duration, issuesFound int) {
	lm := loadOrCreate(&m.layerTiming, layer, func() *layerMetrics { return &layerMetrics{} })
	lm.invocations.Add(1)
	lm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // durations are non-negative
	lm.issuesFound.Add(uint64(issuesFound))          //nolint:gosec // counts are non-negative
}

// RecordSuggestion records a suggestion request. degraded is true when at
// least one provider failed or timed out.
func (m *Metrics) RecordSuggestion(degraded bool) {
	m.suggestionsTotal.Add(1)
	if degraded {
		m.suggestionsDegraded.Add(1)
	}
}

// ProviderOutcome classifies a provider call.
type ProviderOutcome int

const (
	ProviderOK ProviderOutcome = iota
	ProviderFailed
	ProviderTimedOut
)

// RecordProvider records one provider call.
func (m *Metrics) RecordProvider(name string, duration time.Duration, outcome ProviderOutcome) {
	pm := loadOrCreate(&m.providerStats, name, func() *providerMetrics { return &providerMetrics{} })
	pm.calls.Add(1)
	pm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // durations are non-negative
	switch outcome {
	case ProviderFailed:
		pm.failures.Add(1)
	case ProviderTimedOut:
		pm.timeouts.Add(1)
	}
}

// RecordFeedback records a feedback append attempt.
func (m *Metrics) RecordFeedback(stored bool) {
	if stored {
		m.feedbackRecorded.Add(1)
	} else {
		m.feedbackFailures.Add(1)
	}
}

func loadOrCreate[K comparable, V any](m *sync.Map, key K, create func() *V) *V {
	if v, ok := m.Load(key); ok {
		return v.(*V)
	}
	actual, _ := m.LoadOrStore(key, create())
	return actual.(*V)
}

// --- Query Methods ---

// ValidationsTotal returns the total number of validations performed.
func (m *Metrics) ValidationsTotal() uint64 { return m.validationsTotal.Load() }

// ValidationsPassed returns the number of passing validations.
func (m *Metrics) ValidationsPassed() uint64 { return m.validationsPassed.Load() }

// PassRate returns the share of passing validations (0.0 to 1.0).
func (m *Metrics) PassRate() float64 {
	total := m.validationsTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(m.validationsPassed.Load()) / float64(total)
}

// AverageValidationTime returns the average validation duration.
func (m *Metrics) AverageValidationTime() time.Duration {
	total := m.validationsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.validationTimeTotal.Load() / total) //nolint:gosec // nanoseconds within int64 range
}

// CacheHits returns the total cache hits.
func (m *Metrics) CacheHits() uint64 { return m.cacheHits.Load() }

// CacheMisses returns the total cache misses.
func (m *Metrics) CacheMisses() uint64 { return m.cacheMisses.Load() }

// CacheShared returns the number of results shared by in-flight computations.
func (m *Metrics) CacheShared() uint64 { return m.cacheShared.Load() }

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ErrorsTotal returns the total error issues found.
func (m *Metrics) ErrorsTotal() uint64 { return m.errorsTotal.Load() }

// WarningsTotal returns the total warning issues found.
func (m *Metrics) WarningsTotal() uint64 { return m.warningsTotal.Load() }

// SuggestionsTotal returns the number of suggestion requests.
func (m *Metrics) SuggestionsTotal() uint64 { return m.suggestionsTotal.Load() }

// SuggestionsDegraded returns the number of requests served without every provider.
func (m *Metrics) SuggestionsDegraded() uint64 { return m.suggestionsDegraded.Load() }

// FeedbackRecorded returns the number of stored feedback records.
func (m *Metrics) FeedbackRecorded() uint64 { return m.feedbackRecorded.Load() }

// LayerStats holds statistics for one validation layer.
type LayerStats struct {
	Layer       Layer         `json:"layer"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time_ns"`
	IssuesFound uint64        `json:"issues_found"`
}

// ProviderStats holds call statistics for one suggestion provider.
type ProviderStats struct {
	Name      string        `json:"name"`
	Calls     uint64        `json:"calls"`
	Failures  uint64        `json:"failures"`
	Timeouts  uint64        `json:"timeouts"`
	TotalTime time.Duration `json:"total_time_ns"`
}

// AllLayerStats returns statistics for all layers in execution order.
func (m *Metrics) AllLayerStats() []LayerStats {
	var stats []LayerStats
	m.layerTiming.Range(func(key, value any) bool {
		lm := value.(*layerMetrics)
		stats = append(stats, LayerStats{
			Layer:       key.(Layer),
			Invocations: lm.invocations.Load(),
			TotalTime:   time.Duration(lm.totalTime.Load()), //nolint:gosec // nanoseconds within int64 range
			IssuesFound: lm.issuesFound.Load(),
		})
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Layer.Rank() < stats[j].Layer.Rank() })
	return stats
}

// AllProviderStats returns statistics for all providers sorted by name.
func (m *Metrics) AllProviderStats() []ProviderStats {
	var stats []ProviderStats
	m.providerStats.Range(func(key, value any) bool {
		pm := value.(*providerMetrics)
		stats = append(stats, ProviderStats{
			Name:      key.(string),
			Calls:     pm.calls.Load(),
			Failures:  pm.failures.Load(),
			Timeouts:  pm.timeouts.Load(),
			TotalTime: time.Duration(pm.totalTime.Load()), //nolint:gosec // nanoseconds within int64 range
		})
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// --- Export Methods ---

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	ValidationsTotal    uint64  `json:"validations_total"`
	ValidationsPassed   uint64  `json:"validations_passed"`
	AvgValidationTimeNs uint64  `json:"avg_validation_time_ns"`
	MaxValidationTimeNs uint64  `json:"max_validation_time_ns"`
	CacheHits           uint64  `json:"cache_hits"`
	CacheMisses         uint64  `json:"cache_misses"`
	CacheShared         uint64  `json:"cache_shared"`
	CacheHitRate        float64 `json:"cache_hit_rate"`

	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	SuggestionsTotal    uint64 `json:"suggestions_total"`
	SuggestionsDegraded uint64 `json:"suggestions_degraded"`
	FeedbackRecorded    uint64 `json:"feedback_recorded"`
	FeedbackFailures    uint64 `json:"feedback_failures"`

	Layers    []LayerStats    `json:"layers,omitempty"`
	Providers []ProviderStats `json:"providers,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.validationsTotal.Load()
	var avg uint64
	if total > 0 {
		avg = m.validationTimeTotal.Load() / total
	}

	return Snapshot{
		Timestamp:           time.Now(),
		ValidationsTotal:    total,
		ValidationsPassed:   m.validationsPassed.Load(),
		AvgValidationTimeNs: avg,
		MaxValidationTimeNs: m.validationTimeMax.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheShared:         m.cacheShared.Load(),
		CacheHitRate:        m.CacheHitRate(),
		ErrorsTotal:         m.errorsTotal.Load(),
		WarningsTotal:       m.warningsTotal.Load(),
		InfosTotal:          m.infosTotal.Load(),
		SuggestionsTotal:    m.suggestionsTotal.Load(),
		SuggestionsDegraded: m.suggestionsDegraded.Load(),
		FeedbackRecorded:    m.feedbackRecorded.Load(),
		FeedbackFailures:    m.feedbackFailures.Load(),
		Layers:              m.AllLayerStats(),
		Providers:           m.AllProviderStats(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.validationsTotal, &m.validationsPassed, &m.validationTimeTotal, &m.validationTimeMax,
		&m.cacheHits, &m.cacheMisses, &m.cacheShared,
		&m.errorsTotal, &m.warningsTotal, &m.infosTotal,
		&m.suggestionsTotal, &m.suggestionsDegraded,
		&m.feedbackRecorded, &m.feedbackFailures,
	} {
		c.Store(0)
	}
	m.layerTiming.Clear()
	m.providerStats.Clear()
}
