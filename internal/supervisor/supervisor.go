// Package supervisor wraps a live agent session with safety supervision:
// every agent turn is streamed to the judge, verdicts drive corrective
// actions up to escalation-disconnect, and a human operator can steer the
// call through the control handlers.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callguardhq/callguard/internal/audit"
	"github.com/callguardhq/callguard/internal/call"
	"github.com/callguardhq/callguard/internal/config"
	"github.com/callguardhq/callguard/internal/judge"
	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/metrics"
	"github.com/callguardhq/callguard/internal/policy"
	"github.com/callguardhq/callguard/internal/protocol"
	"github.com/callguardhq/callguard/internal/recorder"
)

// fallbackCorrective is spoken after a block when the judge supplied no
// corrective instruction.
const fallbackCorrective = "I need to correct what I just said. " +
	"Let me make sure I give you accurate and safe information."

// escalationMessage is the handoff utterance before a forced disconnect.
const escalationMessage = "I'm going to transfer you to a human representative who can better assist you. " +
	"Thank you for your patience, and I apologize for any confusion. Goodbye."

// State is the supervisor's escalation state. Terminated is absorbing.
type State string

const (
	StateNormal     State = "normal"
	StateBlocked    State = "blocked"
	StateTerminated State = "terminated"
)

// PolicyStore loads policies by id; the bbolt store implements it.
type PolicyStore interface {
	Load(id string) (*policy.Policy, error)
}

// Options carries per-call wiring. Zero values disable the optional
// collaborators.
type Options struct {
	CallID string // generated when empty
	Label  string
	Mode   call.Mode

	// Policy resolution: an explicit Policy wins; otherwise Store+PolicyID
	// is consulted on Start and on reload_policy.
	Policy   *policy.Policy
	Store    PolicyStore
	PolicyID string

	// JudgeConfigs with more than one entry builds a panel; one entry a
	// single judge; empty a single judge on the policy or default prompt.
	JudgeConfigs []judge.Config

	Broadcaster Broadcaster        // nil → Nop
	Recorder    *recorder.Recorder // nil → disabled
	Audit       *audit.Logger      // nil → disabled
	Metrics     *metrics.Collector // nil → private collector
	Registry    *call.Registry     // nil → private registry
}

// Supervisor steers one call. Safe for the turn loop, the background
// evaluation task, and operator handlers to use concurrently.
type Supervisor struct {
	mu sync.Mutex

	cfg     *config.Config
	session Session
	client  llm.ChatClient
	logger  *slog.Logger

	callID string
	label  string
	mode   call.Mode

	evaluator judge.Evaluator
	pol       *policy.Policy
	store     PolicyStore
	policyID  string

	broadcaster Broadcaster
	rec         *recorder.Recorder
	aud         *audit.Logger
	collector   *metrics.Collector
	registry    *call.Registry

	history            []llm.Message
	pendingInstruction string
	corrections        []string
	consecutiveBlocks  int
	terminated         bool
	escalating         bool

	guidance *guidanceTable

	// current turn accumulation
	turnID   string
	turnText strings.Builder
	turnFrom time.Time

	bg     sync.WaitGroup
	bgCtx  context.Context
	bgStop context.CancelFunc
}

// New builds a supervisor around a session and a judge LLM client.
func New(session Session, client llm.ChatClient, cfg *config.Config, opts Options) *Supervisor {
	if cfg == nil {
		cfg = config.Default()
	}
	callID := opts.CallID
	if callID == "" {
		callID = uuid.NewString()[:8]
	}
	mode := opts.Mode
	if mode == "" {
		mode = call.ModeLLM
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = Nop{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	registry := opts.Registry
	if registry == nil {
		registry = call.NewRegistry(cfg.Judge.RiskWindowSize)
	}

	bgCtx, bgStop := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:         cfg,
		session:     session,
		client:      client,
		logger:      slog.Default().With("component", "supervisor", "call_id", callID),
		callID:      callID,
		label:       opts.Label,
		mode:        mode,
		pol:         opts.Policy,
		store:       opts.Store,
		policyID:    opts.PolicyID,
		broadcaster: broadcaster,
		rec:         opts.Recorder,
		aud:         opts.Audit,
		collector:   collector,
		registry:    registry,
		guidance:    newGuidanceTable(),
		bgCtx:       bgCtx,
		bgStop:      bgStop,
	}
	s.evaluator = s.buildEvaluator(opts.JudgeConfigs, opts.Policy)
	return s
}

func (s *Supervisor) buildEvaluator(configs []judge.Config, pol *policy.Policy) judge.Evaluator {
	observer := judge.ObserverFunc(func(v protocol.Verdict) {
		s.broadcaster.BroadcastVerdict(v, s.callID)
	})

	if len(configs) > 1 {
		for i := range configs {
			if configs[i].EvalThresholdChars == 0 {
				configs[i].EvalThresholdChars = s.cfg.Judge.EvalThresholdChars
			}
		}
		return judge.CreatePanel(s.client, configs, observer)
	}

	cfg := judge.Config{EvalThresholdChars: s.cfg.Judge.EvalThresholdChars}
	if len(configs) == 1 {
		cfg = configs[0]
		if cfg.EvalThresholdChars == 0 {
			cfg.EvalThresholdChars = s.cfg.Judge.EvalThresholdChars
		}
	}
	if cfg.SystemPrompt == "" {
		if pol != nil {
			cfg.SystemPrompt = pol.EffectivePrompt()
		}
		if cfg.SystemPrompt == "" {
			cfg.SystemPrompt = judge.DefaultJudgePrompt
		}
	}
	return judge.NewJudge(s.client, cfg, observer)
}

func (s *Supervisor) CallID() string {
	return s.callID
}

func (s *Supervisor) Mode() call.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State reports the escalation state and the current block run length.
func (s *Supervisor) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.terminated:
		return StateTerminated, s.consecutiveBlocks
	case s.consecutiveBlocks > 0:
		return StateBlocked, s.consecutiveBlocks
	default:
		return StateNormal, 0
	}
}

// Metrics exposes the collector for dashboards and tests.
func (s *Supervisor) Metrics() *metrics.Collector {
	return s.collector
}

// CallContext returns the per-call risk/phase tracker, nil before Start.
func (s *Supervisor) CallContext() *call.Context {
	return s.registry.Get(s.callID)
}

// Start registers the call everywhere and kicks off the greeting turn.
func (s *Supervisor) Start() error {
	if s.store != nil && s.policyID != "" {
		if err := s.loadFromStore(); err != nil {
			s.logger.Warn("policy store load failed, continuing with current policy", "policy_id", s.policyID, "error", err)
		}
	}

	s.collector.StartCall(s.callID)
	s.registry.StartCall(s.callID)
	if s.rec != nil {
		if err := s.rec.Start(); err != nil {
			return err
		}
		s.rec.RecordCallStarted(s.callID, s.label)
	}
	if s.aud != nil {
		if err := s.aud.Start(); err != nil {
			return err
		}
	}

	s.broadcaster.BroadcastCallStarted(s.callID, s.label)
	s.setAgentState(StateListening)
	s.session.GenerateReply("")
	return nil
}

// End tears the call down: cancels evaluation, freezes metrics, closes the
// recorder and audit trail, and broadcasts call_ended. Idempotent.
func (s *Supervisor) End() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	s.bgStop()
	s.evaluatorRef().Cancel()
	s.collector.EndCall(s.callID)
	s.registry.EndCall(s.callID)
	if s.rec != nil {
		s.rec.RecordCallEnded(s.callID)
		s.rec.Stop()
	}
	if s.aud != nil {
		s.aud.Stop()
	}
	s.broadcaster.BroadcastCallEnded(s.callID)
}

// WaitIdle blocks until detached evaluation and escalation tasks finish.
func (s *Supervisor) WaitIdle() {
	s.bg.Wait()
}

// OnUserTurnCompleted records a finished caller utterance and stages the
// system injections for the next agent turn: the pending one-shot
// instruction and the accumulated correction block.
func (s *Supervisor) OnUserTurnCompleted(text string) {
	s.collector.RecordUserTurn(s.callID)
	if ctx := s.registry.Get(s.callID); ctx != nil {
		ctx.AdvanceTurn()
		s.broadcaster.BroadcastContextUpdate(s.callID, ctx.Snapshot())
	}

	event := protocol.NewTranscriptEvent(protocol.SpeakerUser, text, uuid.NewString(), s.callID)
	s.broadcaster.BroadcastTranscript(event)
	if s.rec != nil {
		s.rec.RecordTranscript(event)
	}
	s.setAgentState(StateThinking)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	if s.pendingInstruction != "" {
		s.history = append(s.history, llm.Message{Role: llm.RoleSystem, Content: s.pendingInstruction})
		s.pendingInstruction = ""
	}
	if len(s.corrections) > 0 {
		s.history = append(s.history, llm.Message{Role: llm.RoleSystem, Content: correctionBlock(s.corrections)})
	}
}

func correctionBlock(corrections []string) string {
	var b strings.Builder
	b.WriteString("CRITICAL SAFETY CORRECTIONS — You MUST follow these on every response. ")
	b.WriteString("You have been flagged for the following violations during this call:\n")
	for _, c := range corrections {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("Do NOT repeat these mistakes. Follow your safety guidelines strictly.")
	return b.String()
}

// History returns a copy of the conversation so far, including staged
// system injections. Transports pass it to the reply generator.
func (s *Supervisor) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// BeginAgentTurn starts judging a new agent turn and returns its id. The
// transport feeds generated chunks through FeedChunk and closes the turn
// with CompleteTurn.
func (s *Supervisor) BeginAgentTurn() string {
	turnID := uuid.NewString()

	s.mu.Lock()
	s.turnID = turnID
	s.turnText.Reset()
	s.turnFrom = time.Now()
	history := make([]llm.Message, len(s.history))
	copy(history, s.history)
	ev := s.evaluator
	s.mu.Unlock()

	ev.StartEvaluation(turnID, history)
	s.setAgentState(StateSpeaking)
	return turnID
}

// FeedChunk forwards one streamed chunk of the agent's reply.
func (s *Supervisor) FeedChunk(chunk string) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	s.turnText.WriteString(chunk)
	ev := s.evaluator
	s.mu.Unlock()
	ev.FeedChunk(chunk)
}

// CompleteTurn finishes the agent turn: records the transcript, appends
// the reply to history, and launches the detached evaluation task. The
// next turn never waits on the verdict.
func (s *Supervisor) CompleteTurn() {
	s.mu.Lock()
	turnID := s.turnID
	text := s.turnText.String()
	latency := time.Since(s.turnFrom)
	s.turnID = ""
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	mode := s.mode
	s.mu.Unlock()

	s.collector.RecordAgentTurn(s.callID, latency)

	event := protocol.NewTranscriptEvent(protocol.SpeakerAgent, text, turnID, s.callID)
	s.broadcaster.BroadcastTranscript(event)
	if s.rec != nil {
		s.rec.RecordTranscript(event)
	}

	if mode == call.ModeLLM {
		// Seal before returning: the evaluation input is frozen here so a
		// new turn starting before the verdict lands cannot displace it.
		turn := s.evaluatorRef().Seal()
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.evaluateInBackground(turn, text, turnID)
		}()
	}
	s.setAgentState(StateListening)
}

func (s *Supervisor) evaluateInBackground(turn judge.Finalizer, text, turnID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background evaluation panicked", "turn_id", turnID, "panic", r)
		}
	}()

	s.broadcaster.BroadcastJudgeStatus("evaluating", s.callID)
	start := time.Now()
	verdict := turn.Finalize(s.bgCtx)
	s.collector.RecordVerdict(s.callID, verdict, time.Since(start))

	ctx := s.registry.Get(s.callID)
	if ctx != nil {
		ctx.RecordVerdict(verdict)
		s.broadcaster.BroadcastContextUpdate(s.callID, ctx.Snapshot())
	}
	if s.rec != nil {
		s.rec.RecordVerdict(verdict, s.callID)
	}
	if s.aud != nil {
		s.aud.LogVerdict(s.callID, verdict, s.policyName(), text)
	}

	if ctx != nil && ctx.ShouldEscalate(verdict, s.escalationConfig()) && verdict.Action != protocol.ActionEscalate {
		s.logger.Warn("escalation threshold reached",
			"risk_level", verdict.RiskLevel, "trend", ctx.Trend())
		if s.aud != nil {
			s.aud.LogEscalation(s.callID, verdict.Reasoning)
		}
	}

	s.applyVerdict(verdict)
}

func (s *Supervisor) policyName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pol == nil {
		return ""
	}
	return s.pol.Name
}

// escalationConfig resolves the effective escalation thresholds: the
// policy's own block when set, otherwise the process config.
func (s *Supervisor) escalationConfig() *policy.EscalationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pol != nil && s.pol.Escalation != nil {
		return s.pol.Escalation
	}
	return &policy.EscalationConfig{
		MaxConsecutiveFlags:    s.cfg.Escalation.MaxConsecutiveFlags,
		AutoEscalateOnCritical: s.cfg.Escalation.AutoEscalateOnCritical,
		TrendEscalation:        s.cfg.Escalation.TrendEscalation,
	}
}

func (s *Supervisor) applyVerdict(v protocol.Verdict) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}

	switch v.Action {
	case protocol.ActionContinue:
		s.consecutiveBlocks = 0
		s.mu.Unlock()
		return

	case protocol.ActionModify:
		s.pendingInstruction = v.CorrectiveInstruction
		if v.CorrectiveInstruction != "" {
			correction := v.Reasoning
			if correction == "" {
				correction = v.CorrectiveInstruction
			}
			s.corrections = append(s.corrections, correction)
		}
		s.mu.Unlock()
		return
	}

	// BLOCK / ESCALATE
	s.consecutiveBlocks++
	blocks := s.consecutiveBlocks
	corrective := v.CorrectiveInstruction
	if corrective == "" {
		corrective = fallbackCorrective
	}
	if v.Reasoning != "" {
		s.corrections = append(s.corrections, v.Reasoning)
	}
	limitReached := blocks >= s.cfg.Escalation.MaxConsecutiveBlocks && !s.escalating
	if limitReached {
		s.escalating = true
	}
	s.mu.Unlock()

	s.session.Interrupt()

	if limitReached {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.escalateAndEnd(corrective, blocks)
		}()
		return
	}
	s.session.Say(corrective)
}

// escalateAndEnd performs the one-shot escalation-disconnect: handoff
// utterance, system transcript entry, grace pause for playback, teardown.
func (s *Supervisor) escalateAndEnd(lastCorrective string, blocks int) {
	s.session.Say(escalationMessage)

	event := protocol.NewTranscriptEvent(
		protocol.SpeakerSystem,
		fmt.Sprintf("[ESCALATION] Call terminated after %d consecutive safety violations. Last: %s", blocks, lastCorrective),
		uuid.NewString(), s.callID,
	)
	s.broadcaster.BroadcastTranscript(event)
	if s.rec != nil {
		s.rec.RecordTranscript(event)
	}
	if s.aud != nil {
		s.aud.LogIntervention(s.callID, "escalation_disconnect", "",
			fmt.Sprintf("Auto-terminated after %d consecutive blocks", blocks))
	}
	s.logger.Warn("call escalated and terminated", "consecutive_blocks", blocks)

	select {
	case <-time.After(s.cfg.Escalation.DisconnectGrace):
	case <-s.bgCtx.Done():
	}
	s.End()
	s.session.End()
}

// RequestGuidance asks a human operator a question mid-turn, plays the
// hold message, and blocks until the operator answers or the timeout
// elapses. The returned text goes back into the agent's turn.
func (s *Supervisor) RequestGuidance(ctx context.Context, question string) string {
	requestID := uuid.NewString()[:8]
	slot := s.guidance.create(requestID)
	defer s.guidance.remove(requestID)

	s.session.Say(s.cfg.Guidance.HoldMessage)

	req := protocol.NewGuidanceRequest(s.callID, question, requestID)
	s.broadcaster.BroadcastGuidanceRequest(req)
	if s.rec != nil {
		s.rec.RecordGuidanceRequest(req)
	}
	s.collector.RecordGuidanceRequest(s.callID)
	if s.aud != nil {
		s.aud.LogGuidance(s.callID, question, "")
	}
	callCtx := s.registry.Get(s.callID)
	if callCtx != nil {
		callCtx.AddGuidance(requestID, question)
		s.broadcaster.BroadcastContextUpdate(s.callID, callCtx.Snapshot())
	}

	s.setAgentState(StateWaiting)

	var response string
	select {
	case response = <-slot.ch:
	case <-time.After(s.cfg.Guidance.Timeout):
		response = guidanceFallback
	case <-ctx.Done():
		response = guidanceFallback
	}

	if s.rec != nil {
		s.rec.RecordGuidanceResponse(requestID, response, s.callID)
	}
	s.collector.RecordGuidanceResponse(s.callID)
	if s.aud != nil {
		s.aud.LogGuidance(s.callID, question, response)
	}
	if callCtx != nil {
		callCtx.ResolveGuidance(requestID)
		s.broadcaster.BroadcastContextUpdate(s.callID, callCtx.Snapshot())
	}

	s.setAgentState(StateSpeaking)
	return response
}

// HandleGuidanceResponse resolves a pending guidance request. Unknown or
// already-resolved request ids are a silent no-op.
func (s *Supervisor) HandleGuidanceResponse(requestID, response string) {
	if s.guidance.resolve(requestID, response) {
		s.logger.Info("guidance received", "request_id", requestID)
	}
}

// HandleInjectInstruction steers the agent with an operator instruction.
// Only honored in human mode.
func (s *Supervisor) HandleInjectInstruction(instruction, callID string) {
	if !s.forThisCall(callID) {
		return
	}
	if s.Mode() != call.ModeHuman {
		s.logger.Info("inject ignored outside human mode", "mode", s.Mode())
		return
	}
	if s.aud != nil {
		s.aud.LogIntervention(s.callID, "inject", "", instruction)
	}
	event := protocol.NewTranscriptEvent(protocol.SpeakerSystem, "[INJECT] "+instruction, uuid.NewString(), s.callID)
	s.broadcaster.BroadcastTranscript(event)
	s.session.Interrupt()
	s.session.GenerateReply(instruction)
	s.logger.Info("operator injected instruction", "instruction", truncate(instruction, 100))
}

// HandleInterruptAndReplace stops current speech and regenerates under the
// operator's instruction. Available in any mode.
func (s *Supervisor) HandleInterruptAndReplace(instruction, callID string) {
	if !s.forThisCall(callID) {
		return
	}
	if s.aud != nil {
		s.aud.LogIntervention(s.callID, "override", "", instruction)
	}
	event := protocol.NewTranscriptEvent(protocol.SpeakerSystem, "[OVERRIDE] "+instruction, uuid.NewString(), s.callID)
	s.broadcaster.BroadcastTranscript(event)
	s.session.Interrupt()
	s.session.GenerateReply(instruction)
}

// HandleSetMode switches between llm and human steering.
func (s *Supervisor) HandleSetMode(mode call.Mode, callID string) {
	if !s.forThisCall(callID) {
		return
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	if ctx := s.registry.Get(s.callID); ctx != nil {
		ctx.SetMode(mode)
		s.broadcaster.BroadcastContextUpdate(s.callID, ctx.Snapshot())
	}
	if s.aud != nil {
		s.aud.LogIntervention(s.callID, "mode_change", "", "Mode -> "+string(mode))
	}
	s.setAgentState(StateListening)
	s.logger.Info("mode switched", "mode", mode)
}

// HandleOperatorSpeak speaks operator text directly to the caller. Only
// honored in human mode.
func (s *Supervisor) HandleOperatorSpeak(text, callID string) {
	if !s.forThisCall(callID) {
		return
	}
	if s.Mode() != call.ModeHuman {
		s.logger.Info("operator speak ignored outside human mode", "mode", s.Mode())
		return
	}
	if s.aud != nil {
		s.aud.LogIntervention(s.callID, "operator_speak", "", text)
	}
	s.session.Interrupt()
	event := protocol.NewTranscriptEvent(protocol.SpeakerSystem, "[OPERATOR] "+text, uuid.NewString(), s.callID)
	s.broadcaster.BroadcastTranscript(event)
	if s.rec != nil {
		s.rec.RecordTranscript(event)
	}
	s.setAgentState(StateSpeaking)
	s.session.Say(text)
}

// HandleUpdateJudgePrompt hot-swaps the judge's system prompt. Panels
// ignore it; use UpdatePanelPrompt for a specific member.
func (s *Supervisor) HandleUpdateJudgePrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.evaluator.(*judge.Judge); ok {
		j.UpdateSystemPrompt(prompt)
	}
}

// UpdatePanelPrompt hot-swaps one panel member's prompt.
func (s *Supervisor) UpdatePanelPrompt(index int, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.evaluator.(*judge.Panel); ok {
		p.UpdatePrompt(index, prompt)
	}
}

// HandleReloadPolicy re-reads the policy from the store and rebuilds the
// evaluator around its prompt.
func (s *Supervisor) HandleReloadPolicy(callID string) {
	if !s.forThisCall(callID) {
		return
	}
	if s.store == nil || s.policyID == "" {
		return
	}
	if err := s.loadFromStore(); err != nil {
		s.logger.Warn("policy reload failed", "policy_id", s.policyID, "error", err)
		return
	}
	s.logger.Info("policy reloaded", "policy_id", s.policyID)
}

func (s *Supervisor) loadFromStore() error {
	pol, err := s.store.Load(s.policyID)
	if err != nil {
		return err
	}
	evaluator := s.buildEvaluator(nil, pol)

	s.mu.Lock()
	old := s.evaluator
	s.pol = pol
	s.evaluator = evaluator
	s.mu.Unlock()

	old.Cancel()
	s.logger.Info("loaded policy from store", "policy", pol.Name, "version", pol.Version)
	return nil
}

func (s *Supervisor) evaluatorRef() judge.Evaluator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluator
}

// forThisCall filters operator commands addressed to other calls. An
// empty call id targets whichever supervisor receives it.
func (s *Supervisor) forThisCall(callID string) bool {
	return callID == "" || callID == s.callID
}

func (s *Supervisor) setAgentState(state string) {
	mode := string(s.Mode())
	if s.rec != nil {
		s.rec.RecordAgentState(state, mode, s.callID)
	}
	s.broadcaster.BroadcastState(state, mode, s.callID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
