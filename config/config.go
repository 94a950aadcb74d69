// Package config loads mapmaster settings from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/feedback"
)

// Config holds all configuration for mapmaster.
// Environment variables always override YAML values.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Suggest    SuggestConfig    `yaml:"suggest"`
	Learning   LearningConfig   `yaml:"learning"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Validation ValidationConfig `yaml:"validation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"MAPMASTER_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"MAPMASTER_LOG_FORMAT" env-default:"console"`
}

// SuggestConfig controls suggestion fusion and provider calls.
type SuggestConfig struct {
	TopK            int           `yaml:"top_k" env:"MAPMASTER_SUGGEST_TOP_K" env-default:"3"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" env:"MAPMASTER_SUGGEST_PROVIDER_TIMEOUT" env-default:"5s"`
	AgreementBonus  float64       `yaml:"agreement_bonus" env:"MAPMASTER_SUGGEST_AGREEMENT_BONUS" env-default:"0.1"`
	MinConfidence   float64       `yaml:"min_confidence" env:"MAPMASTER_SUGGEST_MIN_CONFIDENCE" env-default:"0"`
	// RulesFile replaces the built-in pattern rule table when set.
	RulesFile string `yaml:"rules_file" env:"MAPMASTER_SUGGEST_RULES_FILE" env-default:""`
	// ResponseCacheSize caches provider responses per field fingerprint; 0 disables it.
	ResponseCacheSize int `yaml:"response_cache_size" env:"MAPMASTER_SUGGEST_RESPONSE_CACHE_SIZE" env-default:"0"`
}

// LearningConfig bounds the feedback learner.
type LearningConfig struct {
	Step    float64 `yaml:"step" env:"MAPMASTER_LEARNING_STEP" env-default:"1.05"`
	Ceiling float64 `yaml:"ceiling" env:"MAPMASTER_LEARNING_CEILING" env-default:"2.0"`
	Floor   float64 `yaml:"floor" env:"MAPMASTER_LEARNING_FLOOR" env-default:"0.25"`
}

// Bounds returns the learner bounds.
func (c LearningConfig) Bounds() feedback.Bounds {
	return feedback.Bounds{Step: c.Step, Ceiling: c.Ceiling, Floor: c.Floor}
}

// Feedback store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// FeedbackConfig selects the feedback store and its retry policy.
type FeedbackConfig struct {
	Driver       string        `yaml:"driver" env:"MAPMASTER_FEEDBACK_DRIVER" env-default:"memory"`
	Path         string        `yaml:"path" env:"MAPMASTER_FEEDBACK_PATH" env-default:"mapmaster-feedback.db"`
	RetryMax     int           `yaml:"retry_max" env:"MAPMASTER_FEEDBACK_RETRY_MAX" env-default:"5"`
	RetryInitial time.Duration `yaml:"retry_initial" env:"MAPMASTER_FEEDBACK_RETRY_INITIAL" env-default:"50ms"`
	RetryMaxWait time.Duration `yaml:"retry_max_wait" env:"MAPMASTER_FEEDBACK_RETRY_MAX_WAIT" env-default:"2s"`
}

// Retry returns the retry policy for storage failures.
func (c FeedbackConfig) Retry() feedback.RetryConfig {
	cfg := feedback.DefaultRetryConfig()
	cfg.MaxRetries = c.RetryMax
	cfg.InitialDelay = c.RetryInitial
	cfg.MaxDelay = c.RetryMaxWait
	return cfg
}

// ValidationConfig controls the validation engine.
type ValidationConfig struct {
	// Level is a named preset (basic, standard, strict). Empty runs Layers.
	Level     string `yaml:"level" env:"MAPMASTER_VALIDATION_LEVEL" env-default:""`
	Layers    string `yaml:"layers" env:"MAPMASTER_VALIDATION_LAYERS" env-default:"structural,profile,terminology,business-rule"`
	Strict    bool   `yaml:"strict" env:"MAPMASTER_VALIDATION_STRICT" env-default:"false"`
	Quality   bool   `yaml:"quality" env:"MAPMASTER_VALIDATION_QUALITY" env-default:"true"`
	// CacheSize bounds both the report cache and the terminology LRU.
	CacheSize int `yaml:"cache_size" env:"MAPMASTER_VALIDATION_CACHE_SIZE" env-default:"1024"`
	Workers   int `yaml:"workers" env:"MAPMASTER_VALIDATION_WORKERS" env-default:"0"`
	// ProfilesDir holds extra profile YAML or StructureDefinition JSON files.
	ProfilesDir string `yaml:"profiles_dir" env:"MAPMASTER_VALIDATION_PROFILES_DIR" env-default:""`
	// TerminologyDir holds extra ValueSet and CodeSystem JSON files.
	TerminologyDir      string `yaml:"terminology_dir" env:"MAPMASTER_VALIDATION_TERMINOLOGY_DIR" env-default:""`
	ExpressionRulesFile string `yaml:"expression_rules_file" env:"MAPMASTER_VALIDATION_EXPRESSION_RULES_FILE" env-default:""`
}

// Options converts the section into engine options.
func (c ValidationConfig) Options() ([]mm.Option, error) {
	var opts []mm.Option
	if c.Level != "" {
		level, err := mm.ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mm.WithLevel(level))
	} else {
		layers, err := mm.ParseLayerSet(c.Layers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mm.WithLayers(layers.Layers()...))
	}
	if c.Strict {
		opts = append(opts, mm.WithStrictMode(true))
	}
	opts = append(opts, mm.WithQuality(c.Quality), mm.WithCacheSize(c.CacheSize))
	if c.Workers > 0 {
		opts = append(opts, mm.WithWorkerCount(c.Workers))
	}
	return opts, nil
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr" env:"MAPMASTER_METRICS_ADDR" env-default:""`
}

// Load reads configuration from path with environment variable overrides.
// An empty path reads the environment only. The result is validated.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to read environment: %v", mm.ErrConfiguration, err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", mm.ErrConfiguration, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings. Errors wrap mapmaster.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}

	if c.Suggest.TopK < 1 {
		add("suggest.top_k must be at least 1")
	}
	if c.Suggest.ProviderTimeout <= 0 {
		add("suggest.provider_timeout must be positive")
	}
	if c.Suggest.AgreementBonus < 0 || c.Suggest.AgreementBonus > 1 {
		add("suggest.agreement_bonus must be within [0,1]")
	}
	if c.Suggest.MinConfidence < 0 || c.Suggest.MinConfidence > 1 {
		add("suggest.min_confidence must be within [0,1]")
	}
	if c.Suggest.ResponseCacheSize < 0 {
		add("suggest.response_cache_size must not be negative")
	}

	l := c.Learning
	if l.Step <= 1 {
		add("learning.step must be greater than 1")
	}
	if l.Floor <= 0 || l.Floor > 1 {
		add("learning.floor must be within (0,1]")
	}
	if l.Ceiling < 1 {
		add("learning.ceiling must be at least 1")
	}

	switch c.Feedback.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Feedback.Path == "" {
			add("feedback.path is required for the sqlite driver")
		}
	default:
		add("feedback.driver must be memory or sqlite, got %q", c.Feedback.Driver)
	}
	if c.Feedback.RetryMax < 0 {
		add("feedback.retry_max must not be negative")
	}

	if _, err := c.Validation.Options(); err != nil {
		add("validation: %v", err)
	}
	if c.Validation.CacheSize < 0 {
		add("validation.cache_size must not be negative")
	}
	if c.Validation.Workers < 0 {
		add("validation.workers must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", mm.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
