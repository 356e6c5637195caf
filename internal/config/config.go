package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all supervision settings.
type Config struct {
	// Judge pipeline
	Judge JudgeConfig `yaml:"judge" mapstructure:"judge"`

	// Escalation behavior
	Escalation EscalationConfig `yaml:"escalation" mapstructure:"escalation"`

	// Guidance rendezvous
	Guidance GuidanceConfig `yaml:"guidance" mapstructure:"guidance"`

	// LLM provider for judge calls
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Monitor websocket server
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`

	// Persistence paths
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
}

type JudgeConfig struct {
	// Streamed characters accumulated before the speculative evaluation
	// fires. The speculative result is never trusted; it only warms the
	// provider so the finalize pass returns faster.
	EvalThresholdChars int `yaml:"eval_threshold_chars" mapstructure:"eval_threshold_chars"`
	// Verdicts kept in the per-call sliding window.
	RiskWindowSize int `yaml:"risk_window_size" mapstructure:"risk_window_size"`
}

type EscalationConfig struct {
	MaxConsecutiveBlocks   int  `yaml:"max_consecutive_blocks" mapstructure:"max_consecutive_blocks"`
	MaxConsecutiveFlags    int  `yaml:"max_consecutive_flags" mapstructure:"max_consecutive_flags"`
	AutoEscalateOnCritical bool `yaml:"auto_escalate_on_critical" mapstructure:"auto_escalate_on_critical"`
	TrendEscalation        bool `yaml:"trend_escalation" mapstructure:"trend_escalation"`
	// Pause after the handoff utterance so playback can finish before the
	// session is torn down.
	DisconnectGrace time.Duration `yaml:"disconnect_grace" mapstructure:"disconnect_grace"`
}

type GuidanceConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	HoldMessage string        `yaml:"hold_message" mapstructure:"hold_message"`
}

type APIConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"` // "openai", "gemini", "none"
	OpenAIKey   string `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIModel string `yaml:"openai_model" mapstructure:"openai_model"`
	GeminiKey   string `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel string `yaml:"gemini_model" mapstructure:"gemini_model"`
	// Optional Redis address for the shared judge-call rate limiter.
	// Empty means the in-process limiter is used.
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

type MonitorConfig struct {
	Port int `yaml:"port" mapstructure:"port"` // 0 disables the monitor
}

type StorageConfig struct {
	RecordingPath   string `yaml:"recording_path" mapstructure:"recording_path"`
	AuditPath       string `yaml:"audit_path" mapstructure:"audit_path"`
	PolicyStorePath string `yaml:"policy_store_path" mapstructure:"policy_store_path"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Judge: JudgeConfig{
			EvalThresholdChars: 100,
			RiskWindowSize:     10,
		},
		Escalation: EscalationConfig{
			MaxConsecutiveBlocks:   3,
			MaxConsecutiveFlags:    3,
			AutoEscalateOnCritical: true,
			TrendEscalation:        true,
			DisconnectGrace:        6 * time.Second,
		},
		Guidance: GuidanceConfig{
			Timeout:     60 * time.Second,
			HoldMessage: "Please wait while I get that information for you.",
		},
		API: APIConfig{
			Provider:    "gemini",
			OpenAIModel: "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
		},
		Monitor: MonitorConfig{
			Port: 8765,
		},
		Storage: StorageConfig{
			PolicyStorePath: filepath.Join(homeDir, ".callguard", "policies.db"),
		},
	}
}

// Load reads configuration from a YAML file (default search:
// .callguard/config.yaml, then $HOME/.callguard/config.yaml), applies a
// .env file if present, then environment overrides.
func Load(cfgFile string) (*Config, error) {
	// .env is optional; ignore a missing file
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".callguard")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".callguard"))
		}
	}

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file anywhere; defaults plus env overrides apply.
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
