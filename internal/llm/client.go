// Package llm provides the evaluation capability used by the judges: an
// ordered sequence of role-tagged messages in, a text completion out. No
// vendor contract leaks past ChatClient; judges never see provider types.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/callguardhq/callguard/internal/config"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// ChatClient is the capability contract judges call. Implementations must
// be safe for concurrent use; panel members share one client.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Provider identifies the backing LLM vendor.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// Client is the multi-provider ChatClient. With ProviderNone every call
// returns an error, which the judges degrade to the safe default.
type Client struct {
	provider Provider
	openai   *openAIBackend
	gemini   *geminiBackend
	limiter  Limiter
	logger   *slog.Logger
}

// NewClient builds a ChatClient from configuration. Keys come from config
// or environment (BYOK); a missing key degrades to ProviderNone rather
// than failing startup, since the pipeline is designed to fail open.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	logger := slog.Default().With("component", "llm")
	limiter := newLimiter(ctx, cfg.API.RedisAddr, logger)

	provider := Provider(cfg.API.Provider)
	switch provider {
	case ProviderGemini:
		key := cfg.API.GeminiKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			logger.Warn("no gemini api key configured, judge calls disabled")
			return &Client{provider: ProviderNone, logger: logger}, nil
		}
		backend, err := newGeminiBackend(ctx, key, cfg.API.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini backend: %w", err)
		}
		logger.Info("gemini client initialized", "model", cfg.API.GeminiModel)
		return &Client{provider: ProviderGemini, gemini: backend, limiter: limiter, logger: logger}, nil

	case ProviderOpenAI:
		key := cfg.API.OpenAIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			logger.Warn("no openai api key configured, judge calls disabled")
			return &Client{provider: ProviderNone, logger: logger}, nil
		}
		backend := newOpenAIBackend(key, cfg.API.OpenAIModel)
		logger.Info("openai client initialized", "model", cfg.API.OpenAIModel)
		return &Client{provider: ProviderOpenAI, openai: backend, limiter: limiter, logger: logger}, nil

	case ProviderNone:
		logger.Info("llm provider disabled by configuration")
		return &Client{provider: ProviderNone, logger: logger}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.API.Provider)
	}
}

// Enabled reports whether judge calls will reach a real provider.
func (c *Client) Enabled() bool {
	return c.provider != ProviderNone
}

// Chat sends the messages to the configured provider.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.provider == ProviderNone {
		return "", fmt.Errorf("llm provider disabled")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("judge call throttled: %w", err)
		}
	}

	switch c.provider {
	case ProviderOpenAI:
		return c.openai.chat(ctx, messages)
	case ProviderGemini:
		return c.gemini.chat(ctx, messages)
	default:
		return "", fmt.Errorf("llm provider disabled")
	}
}
