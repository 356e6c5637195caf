// Package metrics keeps per-call safety counters and aggregates them
// across a process. Everything here is in-memory; persistence belongs to
// the recorder and audit layers.
package metrics

import (
	"sync"
	"time"

	"github.com/callguardhq/callguard/internal/protocol"
)

// CallSnapshot is the serializable view of one call's metrics.
type CallSnapshot struct {
	CallID            string         `json:"call_id"`
	Duration          float64        `json:"duration"`
	TotalVerdicts     int            `json:"total_verdicts"`
	SafeVerdicts      int            `json:"safe_verdicts"`
	UnsafeVerdicts    int            `json:"unsafe_verdicts"`
	Blocks            int            `json:"blocks"`
	Escalations       int            `json:"escalations"`
	Modifications     int            `json:"modifications"`
	BlockRate         float64        `json:"block_rate"`
	GuidanceRequests  int            `json:"guidance_requests"`
	GuidanceResponses int            `json:"guidance_responses"`
	UserTurns         int            `json:"user_turns"`
	AgentTurns        int            `json:"agent_turns"`
	AvgJudgeLatencyMs int            `json:"avg_judge_latency_ms"`
	AvgReplyLatencyMs int            `json:"avg_response_latency_ms"`
	RiskCounts        map[string]int `json:"risk_counts"`
}

// AggregateSnapshot rolls every tracked call into one view.
type AggregateSnapshot struct {
	ActiveCalls       int                     `json:"active_calls"`
	CompletedCalls    int                     `json:"completed_calls"`
	TotalVerdicts     int                     `json:"total_verdicts"`
	TotalBlocks       int                     `json:"total_blocks"`
	TotalEscalations  int                     `json:"total_escalations"`
	BlockRate         float64                 `json:"block_rate"`
	AvgJudgeLatencyMs int                     `json:"avg_judge_latency_ms"`
	AvgReplyLatencyMs int                     `json:"avg_response_latency_ms"`
	Calls             map[string]CallSnapshot `json:"calls"`
}

type callMetrics struct {
	callID            string
	startedAt         time.Time
	endedAt           time.Time
	totalVerdicts     int
	safeVerdicts      int
	unsafeVerdicts    int
	blocks            int
	escalations       int
	modifications     int
	guidanceRequests  int
	guidanceResponses int
	userTurns         int
	agentTurns        int
	judgeLatencies    []time.Duration
	replyLatencies    []time.Duration
	riskCounts        map[string]int
}

func (m *callMetrics) snapshot() CallSnapshot {
	end := m.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	risks := make(map[string]int, len(m.riskCounts))
	for k, v := range m.riskCounts {
		risks[k] = v
	}
	blockRate := 0.0
	if m.totalVerdicts > 0 {
		blockRate = float64(m.blocks) / float64(m.totalVerdicts)
	}
	return CallSnapshot{
		CallID:            m.callID,
		Duration:          end.Sub(m.startedAt).Seconds(),
		TotalVerdicts:     m.totalVerdicts,
		SafeVerdicts:      m.safeVerdicts,
		UnsafeVerdicts:    m.unsafeVerdicts,
		Blocks:            m.blocks,
		Escalations:       m.escalations,
		Modifications:     m.modifications,
		BlockRate:         blockRate,
		GuidanceRequests:  m.guidanceRequests,
		GuidanceResponses: m.guidanceResponses,
		UserTurns:         m.userTurns,
		AgentTurns:        m.agentTurns,
		AvgJudgeLatencyMs: avgMillis(m.judgeLatencies),
		AvgReplyLatencyMs: avgMillis(m.replyLatencies),
		RiskCounts:        risks,
	}
}

func avgMillis(latencies []time.Duration) int {
	if len(latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return int((sum / time.Duration(len(latencies))).Milliseconds())
}

// Collector tracks metrics across all calls in a process. Safe for
// concurrent use.
type Collector struct {
	mu    sync.Mutex
	calls map[string]*callMetrics
}

func NewCollector() *Collector {
	return &Collector{calls: make(map[string]*callMetrics)}
}

// StartCall begins tracking a call. Starting an already-tracked call
// resets its metrics.
func (c *Collector) StartCall(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[callID] = &callMetrics{
		callID:    callID,
		startedAt: time.Now(),
		riskCounts: map[string]int{
			string(protocol.RiskNone):     0,
			string(protocol.RiskLow):      0,
			string(protocol.RiskMedium):   0,
			string(protocol.RiskHigh):     0,
			string(protocol.RiskCritical): 0,
		},
	}
}

// EndCall freezes the call's duration. Metrics remain queryable.
func (c *Collector) EndCall(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.calls[callID]; m != nil && m.endedAt.IsZero() {
		m.endedAt = time.Now()
	}
}

// RecordVerdict counts a verdict and its judge latency. Unknown calls are
// ignored.
func (c *Collector) RecordVerdict(callID string, v protocol.Verdict, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.calls[callID]
	if m == nil {
		return
	}
	m.totalVerdicts++
	if v.Safe {
		m.safeVerdicts++
	} else {
		m.unsafeVerdicts++
	}
	switch v.Action {
	case protocol.ActionBlock:
		m.blocks++
	case protocol.ActionEscalate:
		m.escalations++
	case protocol.ActionModify:
		m.modifications++
	}
	m.riskCounts[string(v.RiskLevel)]++
	if latency > 0 {
		m.judgeLatencies = append(m.judgeLatencies, latency)
	}
}

func (c *Collector) RecordUserTurn(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.calls[callID]; m != nil {
		m.userTurns++
	}
}

// RecordAgentTurn counts an agent reply and its generation latency.
func (c *Collector) RecordAgentTurn(callID string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.calls[callID]
	if m == nil {
		return
	}
	m.agentTurns++
	if latency > 0 {
		m.replyLatencies = append(m.replyLatencies, latency)
	}
}

func (c *Collector) RecordGuidanceRequest(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.calls[callID]; m != nil {
		m.guidanceRequests++
	}
}

func (c *Collector) RecordGuidanceResponse(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.calls[callID]; m != nil {
		m.guidanceResponses++
	}
}

// Call returns the snapshot for one call, or false when unknown.
func (c *Collector) Call(callID string) (CallSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.calls[callID]
	if m == nil {
		return CallSnapshot{}, false
	}
	return m.snapshot(), true
}

// Aggregate rolls up every tracked call.
func (c *Collector) Aggregate() AggregateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := AggregateSnapshot{Calls: make(map[string]CallSnapshot, len(c.calls))}
	var judgeLat, replyLat []time.Duration
	for id, m := range c.calls {
		agg.Calls[id] = m.snapshot()
		agg.TotalVerdicts += m.totalVerdicts
		agg.TotalBlocks += m.blocks
		agg.TotalEscalations += m.escalations
		judgeLat = append(judgeLat, m.judgeLatencies...)
		replyLat = append(replyLat, m.replyLatencies...)
		if m.endedAt.IsZero() {
			agg.ActiveCalls++
		} else {
			agg.CompletedCalls++
		}
	}
	if agg.TotalVerdicts > 0 {
		agg.BlockRate = float64(agg.TotalBlocks) / float64(agg.TotalVerdicts)
	}
	agg.AvgJudgeLatencyMs = avgMillis(judgeLat)
	agg.AvgReplyLatencyMs = avgMillis(replyLat)
	return agg
}
