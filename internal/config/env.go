package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies CALLGUARD_* and provider key environment
// variables on top of whatever the config file supplied. Env always wins
// so deployments can override a shared config file per process.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALLGUARD_PROVIDER"); v != "" {
		cfg.API.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.API.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.API.GeminiKey = v
	}
	if v := os.Getenv("CALLGUARD_REDIS_ADDR"); v != "" {
		cfg.API.RedisAddr = v
	}
	if v := os.Getenv("CALLGUARD_MONITOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.Port = port
		}
	}
	if v := os.Getenv("CALLGUARD_EVAL_THRESHOLD_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Judge.EvalThresholdChars = n
		}
	}
	if v := os.Getenv("CALLGUARD_GUIDANCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Guidance.Timeout = d
		}
	}
	if v := os.Getenv("CALLGUARD_MAX_CONSECUTIVE_BLOCKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Escalation.MaxConsecutiveBlocks = n
		}
	}
	if v := os.Getenv("CALLGUARD_RISK_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Judge.RiskWindowSize = n
		}
	}
	if v := os.Getenv("CALLGUARD_RECORDING_PATH"); v != "" {
		cfg.Storage.RecordingPath = v
	}
	if v := os.Getenv("CALLGUARD_AUDIT_PATH"); v != "" {
		cfg.Storage.AuditPath = v
	}
}
