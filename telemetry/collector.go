// Package telemetry exposes mapmaster metrics to Prometheus.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mm "github.com/aks129/FhirMapMaster"
)

const namespace = "mapmaster"

// Collector reads a metrics snapshot on every scrape. It keeps no state of
// its own, so several engines may share one Metrics and one Collector.
type Collector struct {
	metrics *mm.Metrics

	validations       *prometheus.Desc
	validationsPassed *prometheus.Desc
	validationAvg     *prometheus.Desc
	validationMax     *prometheus.Desc
	cache             *prometheus.Desc
	issues            *prometheus.Desc
	layerRuns         *prometheus.Desc
	layerSeconds      *prometheus.Desc
	layerIssues       *prometheus.Desc
	suggestions       *prometheus.Desc
	degraded          *prometheus.Desc
	providerCalls     *prometheus.Desc
	providerFailures  *prometheus.Desc
	providerTimeouts  *prometheus.Desc
	providerSeconds   *prometheus.Desc
	feedback          *prometheus.Desc
}

// NewCollector creates a collector over m.
func NewCollector(m *mm.Metrics) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		metrics:           m,
		validations:       desc("validation", "total", "Resources validated."),
		validationsPassed: desc("validation", "passed_total", "Resources that passed validation."),
		validationAvg:     desc("validation", "avg_seconds", "Average validation time."),
		validationMax:     desc("validation", "max_seconds", "Longest validation time."),
		cache:             desc("validation", "cache_lookups_total", "Validation cache lookups by result.", "result"),
		issues:            desc("validation", "issues_total", "Issues reported by severity.", "severity"),
		layerRuns:         desc("layer", "runs_total", "Layer executions.", "layer"),
		layerSeconds:      desc("layer", "seconds_total", "Time spent in each layer.", "layer"),
		layerIssues:       desc("layer", "issues_total", "Issues found by each layer.", "layer"),
		suggestions:       desc("suggest", "requests_total", "Suggestion sets built."),
		degraded:          desc("suggest", "degraded_total", "Suggestion sets missing a provider contribution."),
		providerCalls:     desc("provider", "calls_total", "Provider calls.", "provider"),
		providerFailures:  desc("provider", "failures_total", "Provider calls that failed.", "provider"),
		providerTimeouts:  desc("provider", "timeouts_total", "Provider calls that timed out.", "provider"),
		providerSeconds:   desc("provider", "seconds_total", "Time spent waiting on each provider.", "provider"),
		feedback:          desc("feedback", "records_total", "Feedback appends by outcome.", "outcome"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.validations, c.validationsPassed, c.validationAvg, c.validationMax,
		c.cache, c.issues, c.layerRuns, c.layerSeconds, c.layerIssues,
		c.suggestions, c.degraded,
		c.providerCalls, c.providerFailures, c.providerTimeouts, c.providerSeconds,
		c.feedback,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.validations, float64(s.ValidationsTotal))
	counter(c.validationsPassed, float64(s.ValidationsPassed))
	gauge(c.validationAvg, float64(s.AvgValidationTimeNs)/1e9)
	gauge(c.validationMax, float64(s.MaxValidationTimeNs)/1e9)

	counter(c.cache, float64(s.CacheHits), "hit")
	counter(c.cache, float64(s.CacheMisses), "miss")
	counter(c.cache, float64(s.CacheShared), "shared")

	counter(c.issues, float64(s.ErrorsTotal), string(mm.SeverityError))
	counter(c.issues, float64(s.WarningsTotal), string(mm.SeverityWarning))
	counter(c.issues, float64(s.InfosTotal), string(mm.SeverityInformation))

	for _, l := range s.Layers {
		counter(c.layerRuns, float64(l.Invocations), string(l.Layer))
		counter(c.layerSeconds, l.TotalTime.Seconds(), string(l.Layer))
		counter(c.layerIssues, float64(l.IssuesFound), string(l.Layer))
	}

	counter(c.suggestions, float64(s.SuggestionsTotal))
	counter(c.degraded, float64(s.SuggestionsDegraded))
	for _, p := range s.Providers {
		counter(c.providerCalls, float64(p.Calls), p.Name)
		counter(c.providerFailures, float64(p.Failures), p.Name)
		counter(c.providerTimeouts, float64(p.Timeouts), p.Name)
		counter(c.providerSeconds, p.TotalTime.Seconds(), p.Name)
	}

	counter(c.feedback, float64(s.FeedbackRecorded), "stored")
	counter(c.feedback, float64(s.FeedbackFailures), "failed")
}

// Handler returns an HTTP handler serving m on a dedicated registry.
func Handler(m *mm.Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

var _ prometheus.Collector = (*Collector)(nil)
