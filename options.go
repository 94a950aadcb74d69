package mapmaster

import (
	"runtime"

	"go.uber.org/zap"
)

// Option configures the Validator.
type Option func(*Options)

// Options holds all configuration for the Validator.
type Options struct {
	// Layers to run, in execution order
	Layers LayerSet

	// StrictMode treats warnings as errors
	StrictMode bool

	// Quality attaches profile completeness metrics to reports
	Quality bool

	// Performance
	WorkerCount int
	CacheSize   int

	// Observability
	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		Layers:      AllLayers(),
		StrictMode:  false,
		Quality:     true,
		WorkerCount: runtime.NumCPU(),
		CacheSize:   1024,
	}
}

// WithLayers selects the layers to run. An empty list keeps the current set.
func WithLayers(layers ...Layer) Option {
	return func(o *Options) {
		if set := NewLayerSet(layers...); set.Len() > 0 {
			o.Layers = set
		}
	}
}

// WithLevel applies a named preset: its layer set, plus strict mode for
// LevelStrict.
func WithLevel(level Level) Option {
	return func(o *Options) {
		o.Layers = level.Layers()
		o.StrictMode = level == LevelStrict
	}
}

// WithStrictMode treats warnings as errors.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// WithQuality enables or disables quality metrics on reports.
func WithQuality(enable bool) Option {
	return func(o *Options) {
		o.Quality = enable
	}
}

// WithWorkerCount sets the number of workers for batch validation.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithCacheSize sets the capacity of the validation cache.
func WithCacheSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.CacheSize = size
		}
	}
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics shares a metrics collector with other components.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// --- Presets ---

// FastOptions returns options for quick structural screening of large batches.
func FastOptions() []Option {
	return []Option{
		WithLevel(LevelBasic),
		WithQuality(false),
		WithCacheSize(8192),
	}
}

// StrictOptions returns options for strict validation.
// Enables all layers and treats warnings as errors.
func StrictOptions() []Option {
	return []Option{
		WithLevel(LevelStrict),
	}
}
