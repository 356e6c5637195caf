package llm

import (
	"context"
	"testing"
	"time"

	"github.com/callguardhq/callguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDisabledProvider(t *testing.T) {
	cfg := config.Default()
	cfg.API.Provider = "none"

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.Error(t, err, "disabled provider must error so judges fail open")
}

func TestNewClientMissingKeyDegrades(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := config.Default()
	cfg.API.Provider = "gemini"
	cfg.API.GeminiKey = ""

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err, "missing key must not fail startup")
	assert.False(t, client.Enabled())
}

func TestNewClientUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.API.Provider = "acme"

	_, err := NewClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLocalLimiterAllowsBurst(t *testing.T) {
	l := NewLocalLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Burst capacity should admit a handful of immediate calls.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}
