package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mm "github.com/aks129/FhirMapMaster"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Suggest.TopK)
	assert.Equal(t, 5*time.Second, cfg.Suggest.ProviderTimeout)
	assert.InDelta(t, 0.1, cfg.Suggest.AgreementBonus, 1e-9)
	assert.Equal(t, DriverMemory, cfg.Feedback.Driver)
	assert.InDelta(t, 1.05, cfg.Learning.Bounds().Step, 1e-9)
	assert.InDelta(t, 0.25, cfg.Learning.Bounds().Floor, 1e-9)

	opts, err := cfg.Validation.Options()
	require.NoError(t, err)
	o := mm.DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	assert.Equal(t, 4, o.Layers.Len())
	assert.False(t, o.StrictMode)
	assert.Equal(t, 1024, o.CacheSize)
	assert.Equal(t, mm.DefaultOptions().CacheSize, cfg.Validation.CacheSize)
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
suggest:
  top_k: 5
  provider_timeout: 250ms
feedback:
  driver: sqlite
  path: /tmp/feedback.db
validation:
  level: basic
  cache_size: 64
`)
	t.Setenv("MAPMASTER_SUGGEST_TOP_K", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 7, cfg.Suggest.TopK, "environment overrides YAML")
	assert.Equal(t, 250*time.Millisecond, cfg.Suggest.ProviderTimeout)
	assert.Equal(t, DriverSQLite, cfg.Feedback.Driver)

	opts, err := cfg.Validation.Options()
	require.NoError(t, err)
	o := mm.DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	assert.Equal(t, 1, o.Layers.Len())
	assert.Equal(t, 64, o.CacheSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"format":  "log:\n  format: xml\n",
		"top_k":   "suggest:\n  top_k: -1\n",
		"bonus":   "suggest:\n  agreement_bonus: 2\n",
		"step":    "learning:\n  step: 1\n",
		"floor":   "learning:\n  floor: 1.5\n",
		"driver":  "feedback:\n  driver: redis\n",
		"level":   "validation:\n  level: paranoid\n",
		"layers":  "validation:\n  layers: structural,syntax\n",
		"workers": "validation:\n  workers: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorIs(t, err, mm.ErrConfiguration)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, mm.ErrConfiguration)
}

func TestFeedbackConfig_Retry(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	r := cfg.Feedback.Retry()
	assert.Equal(t, 5, r.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, r.InitialDelay)
	assert.Equal(t, 2*time.Second, r.MaxDelay)
	assert.InDelta(t, 2.0, r.Multiplier, 1e-9)
}

func TestValidationConfig_StrictLevel(t *testing.T) {
	opts, err := ValidationConfig{Level: "strict", CacheSize: 10}.Options()
	require.NoError(t, err)
	o := mm.DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	assert.True(t, o.StrictMode)
	assert.Equal(t, 4, o.Layers.Len())
}
