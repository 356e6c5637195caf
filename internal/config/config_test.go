package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 100, cfg.Judge.EvalThresholdChars)
	assert.Equal(t, 10, cfg.Judge.RiskWindowSize)
	assert.Equal(t, 3, cfg.Escalation.MaxConsecutiveBlocks)
	assert.Equal(t, 3, cfg.Escalation.MaxConsecutiveFlags)
	assert.True(t, cfg.Escalation.AutoEscalateOnCritical)
	assert.True(t, cfg.Escalation.TrendEscalation)
	assert.Equal(t, 60*time.Second, cfg.Guidance.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
judge:
  eval_threshold_chars: 250
  risk_window_size: 20
escalation:
  max_consecutive_blocks: 5
guidance:
  timeout: 30s
api:
  provider: openai
monitor:
  port: 9100
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Judge.EvalThresholdChars)
	assert.Equal(t, 20, cfg.Judge.RiskWindowSize)
	assert.Equal(t, 5, cfg.Escalation.MaxConsecutiveBlocks)
	assert.Equal(t, 30*time.Second, cfg.Guidance.Timeout)
	assert.Equal(t, "openai", cfg.API.Provider)
	assert.Equal(t, 9100, cfg.Monitor.Port)
	// Untouched sections keep defaults.
	assert.True(t, cfg.Escalation.AutoEscalateOnCritical)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALLGUARD_EVAL_THRESHOLD_CHARS", "400")
	t.Setenv("CALLGUARD_GUIDANCE_TIMEOUT", "90s")
	t.Setenv("CALLGUARD_MAX_CONSECUTIVE_BLOCKS", "2")
	t.Setenv("CALLGUARD_PROVIDER", "openai")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, 400, cfg.Judge.EvalThresholdChars)
	assert.Equal(t, 90*time.Second, cfg.Guidance.Timeout)
	assert.Equal(t, 2, cfg.Escalation.MaxConsecutiveBlocks)
	assert.Equal(t, "openai", cfg.API.Provider)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Judge.EvalThresholdChars = 0 }},
		{"zero window", func(c *Config) { c.Judge.RiskWindowSize = 0 }},
		{"zero max blocks", func(c *Config) { c.Escalation.MaxConsecutiveBlocks = 0 }},
		{"negative flags", func(c *Config) { c.Escalation.MaxConsecutiveFlags = -1 }},
		{"zero guidance timeout", func(c *Config) { c.Guidance.Timeout = 0 }},
		{"bad provider", func(c *Config) { c.API.Provider = "anthropic" }},
		{"bad port", func(c *Config) { c.Monitor.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
