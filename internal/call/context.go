// Package call tracks per-call conversation state: the sliding risk
// window, the call phase machine, and the escalation predicate. One
// CallContext belongs to exactly one call; nothing here is shared across
// calls.
package call

import (
	"sync"
	"time"

	"github.com/callguardhq/callguard/internal/policy"
	"github.com/callguardhq/callguard/internal/protocol"
)

// Phase is the coarse stage a call is in. CLOSING is terminal.
type Phase string

const (
	PhaseGreeting   Phase = "greeting"
	PhaseAssessment Phase = "assessment"
	PhaseGuidance   Phase = "guidance"
	PhaseResolution Phase = "resolution"
	PhaseClosing    Phase = "closing"
)

// Trend classifies the direction of recent risk.
type Trend string

const (
	TrendEscalating Trend = "escalating"
	TrendStable     Trend = "stable"
	TrendImproving  Trend = "improving"
)

// Mode says who is steering the agent.
type Mode string

const (
	ModeLLM   Mode = "llm"
	ModeHuman Mode = "human"
)

// ModeTransition is one entry in the append-only mode log.
type ModeTransition struct {
	Mode Mode
	At   time.Time
}

// Snapshot is the broadcast-friendly view of a call's state.
type Snapshot struct {
	CallID          string  `json:"call_id"`
	Phase           Phase   `json:"phase"`
	Mode            Mode    `json:"mode"`
	TurnCount       int     `json:"turn_count"`
	RiskTrend       Trend   `json:"risk_trend"`
	MaxRisk         string  `json:"max_risk"`
	PendingGuidance int     `json:"pending_guidance"`
	ModeTransitions int     `json:"mode_transitions"`
	Duration        float64 `json:"duration"`
}

// Context tracks conversation state for a single call. Methods are safe
// for the supervisor's turn loop and its detached evaluation task to
// interleave.
type Context struct {
	mu sync.Mutex

	callID          string
	phase           Phase
	mode            Mode
	window          *RiskWindow
	turnCount       int
	modeTransitions []ModeTransition
	pendingGuidance map[string]string
	createdAt       time.Time
}

// NewContext creates call state with the given risk window capacity.
func NewContext(callID string, windowSize int) *Context {
	return &Context{
		callID:          callID,
		phase:           PhaseGreeting,
		mode:            ModeLLM,
		window:          NewRiskWindow(windowSize),
		pendingGuidance: make(map[string]string),
		createdAt:       time.Now(),
	}
}

func (c *Context) CallID() string {
	return c.callID
}

func (c *Context) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Context) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Context) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnCount
}

// AdvanceTurn bumps the turn counter and auto-advances the phase: turn 1
// is GREETING, turns 2-3 ASSESSMENT, and any turn with guidance pending
// is GUIDANCE regardless of the count. CLOSING never advances.
func (c *Context) AdvanceTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnCount++
	if c.phase == PhaseClosing {
		return
	}
	switch {
	case len(c.pendingGuidance) > 0:
		c.phase = PhaseGuidance
	case c.turnCount == 1:
		c.phase = PhaseGreeting
	case c.turnCount <= 3:
		c.phase = PhaseAssessment
	}
}

// RecordVerdict adds a verdict to the risk window.
func (c *Context) RecordVerdict(v protocol.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.Add(v)
}

// SetMode switches steering mode, appending to the transition log only on
// an actual change.
func (c *Context) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return
	}
	c.modeTransitions = append(c.modeTransitions, ModeTransition{Mode: mode, At: time.Now()})
	c.mode = mode
}

// AddGuidance registers a pending guidance question and flips the call
// into the GUIDANCE phase.
func (c *Context) AddGuidance(requestID, question string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingGuidance[requestID] = question
	if c.phase != PhaseClosing {
		c.phase = PhaseGuidance
	}
}

// ResolveGuidance removes a pending entry; resolving the last one moves
// the call to RESOLUTION. Unknown ids are ignored.
func (c *Context) ResolveGuidance(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingGuidance, requestID)
	if len(c.pendingGuidance) == 0 && c.phase != PhaseClosing {
		c.phase = PhaseResolution
	}
}

// PendingGuidance returns the number of unresolved guidance requests.
func (c *Context) PendingGuidance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingGuidance)
}

// Close marks the call ended. CLOSING is terminal; later AdvanceTurn or
// guidance activity cannot leave it.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseClosing
}

// Trend exposes the risk window's direction.
func (c *Context) Trend() Trend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Trend()
}

// MaxRisk exposes the worst risk level in the current window.
func (c *Context) MaxRisk() protocol.RiskLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.MaxRisk()
}

// ShouldEscalate reports whether the call should escalate given the
// latest verdict: critical risk, a run of consecutive unsafe verdicts,
// or an escalating trend — whichever the config enables. A nil config
// never escalates.
func (c *Context) ShouldEscalate(v protocol.Verdict, cfg *policy.EscalationConfig) bool {
	if cfg == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.AutoEscalateOnCritical && v.RiskLevel == protocol.RiskCritical {
		return true
	}
	if cfg.MaxConsecutiveFlags > 0 {
		recent := c.window.Recent(cfg.MaxConsecutiveFlags)
		if len(recent) >= cfg.MaxConsecutiveFlags {
			allUnsafe := true
			for _, rv := range recent {
				if rv.Safe {
					allUnsafe = false
					break
				}
			}
			if allUnsafe {
				return true
			}
		}
	}
	if cfg.TrendEscalation && c.window.Trend() == TrendEscalating {
		return true
	}
	return false
}

// Snapshot returns the broadcast view of the call.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CallID:          c.callID,
		Phase:           c.phase,
		Mode:            c.mode,
		TurnCount:       c.turnCount,
		RiskTrend:       c.window.Trend(),
		MaxRisk:         string(c.window.MaxRisk()),
		PendingGuidance: len(c.pendingGuidance),
		ModeTransitions: len(c.modeTransitions),
		Duration:        time.Since(c.createdAt).Seconds(),
	}
}
