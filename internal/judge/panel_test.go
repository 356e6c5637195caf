package judge

import (
	"context"
	"testing"

	"github.com/callguardhq/callguard/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPanel(observer VerdictObserver, clients ...*mockChat) *Panel {
	judges := make([]*Judge, len(clients))
	for i, c := range clients {
		judges[i] = NewJudge(c, Config{Name: string(rune('a' + i)), EvalThresholdChars: 1000}, nil)
	}
	return NewPanel(judges, observer)
}

func TestPanelMergesMembers(t *testing.T) {
	safeJudge := &mockChat{fallback: safeResponse}
	blockJudge := &mockChat{fallback: blockResponse}
	p := newTestPanel(nil, safeJudge, blockJudge)

	p.StartEvaluation("turn-1", nil)
	p.FeedChunk("agent text")
	verdict := p.Finalize(context.Background())

	assert.False(t, verdict.Safe)
	assert.Equal(t, protocol.ActionBlock, verdict.Action)
	assert.Equal(t, protocol.RiskHigh, verdict.RiskLevel)

	// Every member judged the same turn.
	assert.Len(t, safeJudge.evaluatedTexts(), 1)
	assert.Len(t, blockJudge.evaluatedTexts(), 1)
}

func TestPanelMemberFailureIsolated(t *testing.T) {
	failing := &mockChat{panicMsg: "agent text"}
	blocking := &mockChat{fallback: blockResponse}
	p := newTestPanel(nil, failing, blocking)

	p.StartEvaluation("turn-1", nil)
	p.FeedChunk("agent text")

	var verdict protocol.Verdict
	assert.NotPanics(t, func() {
		verdict = p.Finalize(context.Background())
	})

	// The surviving member's verdict carries the merge.
	assert.False(t, verdict.Safe)
	assert.Equal(t, protocol.ActionBlock, verdict.Action)
}

func TestPanelAllMembersFail(t *testing.T) {
	a := &mockChat{panicMsg: "agent text"}
	b := &mockChat{panicMsg: "agent text"}
	p := newTestPanel(nil, a, b)

	p.StartEvaluation("turn-1", nil)
	p.FeedChunk("agent text")
	verdict := p.Finalize(context.Background())

	assert.True(t, verdict.Safe)
	assert.Equal(t, "No judges ran.", verdict.Reasoning)
}

func TestPanelObserverGetsMergedVerdictOnly(t *testing.T) {
	var got []protocol.Verdict
	observer := ObserverFunc(func(v protocol.Verdict) { got = append(got, v) })

	p := newTestPanel(observer, &mockChat{fallback: safeResponse}, &mockChat{fallback: blockResponse})
	p.StartEvaluation("turn-1", nil)
	p.FeedChunk("agent text")
	p.Finalize(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, protocol.ActionBlock, got[0].Action)
}

func TestPanelUpdatePrompt(t *testing.T) {
	mock := &mockChat{fallback: safeResponse}
	p := newTestPanel(nil, mock, mock)

	p.UpdatePrompt(1, "new tone prompt")
	p.UpdatePrompt(99, "ignored") // out of range must not panic

	assert.Equal(t, "new tone prompt", p.judges[1].systemPrompt)
	assert.Equal(t, DefaultJudgePrompt, p.judges[0].systemPrompt)
}

func TestCreatePanelFromConfigs(t *testing.T) {
	mock := &mockChat{fallback: safeResponse}
	p := CreatePanel(mock, []Config{
		{Name: "medical-safety", SystemPrompt: "judge medical claims"},
		{Name: "tone", SystemPrompt: "judge tone"},
	}, nil)

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, "medical-safety", p.judges[0].Name())
	assert.Equal(t, "judge tone", p.judges[1].systemPrompt)
}
