package metrics

import (
	"testing"
	"time"

	"github.com/callguardhq/callguard/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVerdictCounts(t *testing.T) {
	c := NewCollector()
	c.StartCall("call-1")

	c.RecordVerdict("call-1", protocol.SafeVerdict(), 10*time.Millisecond)
	c.RecordVerdict("call-1", protocol.Verdict{
		Safe: false, RiskLevel: protocol.RiskHigh, Action: protocol.ActionBlock,
	}, 20*time.Millisecond)
	c.RecordVerdict("call-1", protocol.Verdict{
		Safe: false, RiskLevel: protocol.RiskMedium, Action: protocol.ActionModify,
	}, 0)
	c.RecordVerdict("call-1", protocol.Verdict{
		Safe: false, RiskLevel: protocol.RiskCritical, Action: protocol.ActionEscalate,
	}, 0)

	snap, ok := c.Call("call-1")
	require.True(t, ok)
	assert.Equal(t, 4, snap.TotalVerdicts)
	assert.Equal(t, 1, snap.SafeVerdicts)
	assert.Equal(t, 3, snap.UnsafeVerdicts)
	assert.Equal(t, 1, snap.Blocks)
	assert.Equal(t, 1, snap.Modifications)
	assert.Equal(t, 1, snap.Escalations)
	assert.InDelta(t, 0.25, snap.BlockRate, 1e-9)
	assert.Equal(t, 1, snap.RiskCounts["high"])
	assert.Equal(t, 1, snap.RiskCounts["none"])
	assert.Equal(t, 15, snap.AvgJudgeLatencyMs, "zero latencies are skipped")
}

func TestUnknownCallIgnored(t *testing.T) {
	c := NewCollector()
	c.RecordVerdict("nope", protocol.SafeVerdict(), 0)
	c.RecordUserTurn("nope")
	c.EndCall("nope")

	_, ok := c.Call("nope")
	assert.False(t, ok)
}

func TestTurnsAndGuidance(t *testing.T) {
	c := NewCollector()
	c.StartCall("call-1")
	c.RecordUserTurn("call-1")
	c.RecordUserTurn("call-1")
	c.RecordAgentTurn("call-1", 50*time.Millisecond)
	c.RecordGuidanceRequest("call-1")
	c.RecordGuidanceResponse("call-1")

	snap, _ := c.Call("call-1")
	assert.Equal(t, 2, snap.UserTurns)
	assert.Equal(t, 1, snap.AgentTurns)
	assert.Equal(t, 1, snap.GuidanceRequests)
	assert.Equal(t, 1, snap.GuidanceResponses)
	assert.Equal(t, 50, snap.AvgReplyLatencyMs)
}

func TestAggregate(t *testing.T) {
	c := NewCollector()
	c.StartCall("a")
	c.StartCall("b")
	c.RecordVerdict("a", protocol.Verdict{Safe: false, RiskLevel: protocol.RiskHigh, Action: protocol.ActionBlock}, 0)
	c.RecordVerdict("b", protocol.SafeVerdict(), 0)
	c.EndCall("b")

	agg := c.Aggregate()
	assert.Equal(t, 1, agg.ActiveCalls)
	assert.Equal(t, 1, agg.CompletedCalls)
	assert.Equal(t, 2, agg.TotalVerdicts)
	assert.Equal(t, 1, agg.TotalBlocks)
	assert.InDelta(t, 0.5, agg.BlockRate, 1e-9)
	assert.Len(t, agg.Calls, 2)
}

func TestEndCallFreezesDuration(t *testing.T) {
	c := NewCollector()
	c.StartCall("a")
	c.EndCall("a")
	first, _ := c.Call("a")
	time.Sleep(5 * time.Millisecond)
	second, _ := c.Call("a")
	assert.Equal(t, first.Duration, second.Duration)
}
