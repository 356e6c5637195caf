package config

import (
	cgerrors "github.com/callguardhq/callguard/internal/errors"
)

// Validate checks bounds on the loaded configuration.
func (c *Config) Validate() error {
	if c.Judge.EvalThresholdChars <= 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"judge.eval_threshold_chars must be positive")
	}
	if c.Judge.RiskWindowSize <= 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"judge.risk_window_size must be positive")
	}
	if c.Escalation.MaxConsecutiveBlocks <= 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"escalation.max_consecutive_blocks must be positive")
	}
	if c.Escalation.MaxConsecutiveFlags < 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"escalation.max_consecutive_flags must not be negative")
	}
	if c.Escalation.DisconnectGrace < 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"escalation.disconnect_grace must not be negative")
	}
	if c.Guidance.Timeout <= 0 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"guidance.timeout must be positive")
	}
	switch c.API.Provider {
	case "openai", "gemini", "none":
	default:
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"api.provider must be one of: openai, gemini, none").
			WithContext("provider", c.API.Provider)
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return cgerrors.New(cgerrors.ErrorTypeConfig, cgerrors.SeverityHigh,
			"monitor.port out of range").WithContext("port", c.Monitor.Port)
	}
	return nil
}
