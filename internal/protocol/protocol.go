// Package protocol defines the wire-level types shared by the judge
// pipeline, the supervisor, the monitor, and the recorder. Everything here
// is a plain value type; mutation happens in the components that own them.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel is the severity a judge assigns to an agent response.
// Levels are ordered; comparisons use Ordinal.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Ordinal returns the position of the level in the severity ordering.
// Unknown levels rank as none.
func (r RiskLevel) Ordinal() int {
	return riskOrder[r]
}

// ParseRiskLevel validates a raw risk level string.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if _, ok := riskOrder[r]; !ok {
		return RiskNone, fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}

// Action is what the supervisor should do with a judged response.
// Actions are ordered by severity; comparisons use Ordinal.
type Action string

const (
	ActionContinue Action = "continue"
	ActionModify   Action = "modify"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
)

var actionOrder = map[Action]int{
	ActionContinue: 0,
	ActionModify:   1,
	ActionBlock:    2,
	ActionEscalate: 3,
}

// Ordinal returns the position of the action in the severity ordering.
// Unknown actions rank as continue.
func (a Action) Ordinal() int {
	return actionOrder[a]
}

// ParseAction validates a raw action string.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actionOrder[a]; !ok {
		return ActionContinue, fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Verdict is the result of one safety evaluation over one agent turn.
// Verdicts are immutable once produced.
type Verdict struct {
	Safe                  bool      `json:"safe"`
	RiskLevel             RiskLevel `json:"risk_level"`
	Action                Action    `json:"action"`
	Reasoning             string    `json:"reasoning"`
	CorrectiveInstruction string    `json:"corrective_instruction,omitempty"`
}

// SafeVerdict is the fail-open default: any evaluation that cannot produce
// a trustworthy verdict degrades to this instead of raising.
func SafeVerdict() Verdict {
	return Verdict{
		Safe:      true,
		RiskLevel: RiskNone,
		Action:    ActionContinue,
		Reasoning: "No issues detected.",
	}
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// TranscriptEvent is one finalized transcript entry for a call.
type TranscriptEvent struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	TurnID    string  `json:"turn_id"`
	CallID    string  `json:"call_id,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// NewTranscriptEvent stamps a transcript event with the current time.
func NewTranscriptEvent(speaker Speaker, text, turnID, callID string) TranscriptEvent {
	return TranscriptEvent{
		Speaker:   speaker,
		Text:      text,
		IsFinal:   true,
		TurnID:    turnID,
		CallID:    callID,
		Timestamp: now(),
	}
}

// GuidanceRequest is a mid-turn question from the agent to a human
// operator. RequestID is unique per call.
type GuidanceRequest struct {
	CallID    string  `json:"call_id"`
	Question  string  `json:"question"`
	Context   string  `json:"context"`
	RequestID string  `json:"request_id"`
	Timestamp float64 `json:"timestamp"`
}

// NewGuidanceRequest stamps a guidance request with the current time.
func NewGuidanceRequest(callID, question, requestID string) GuidanceRequest {
	return GuidanceRequest{
		CallID:    callID,
		Question:  question,
		RequestID: requestID,
		Timestamp: now(),
	}
}

// WsMsgType enumerates monitor message types. Server→client types carry
// state; client→server types are operator commands.
type WsMsgType string

const (
	WsTranscript WsMsgType = "transcript"
	WsVerdict    WsMsgType = "verdict"
	WsAgentState WsMsgType = "agent_state"
	WsError      WsMsgType = "error"
	WsAck        WsMsgType = "ack"

	WsCallStarted WsMsgType = "call_started"
	WsCallEnded   WsMsgType = "call_ended"

	WsGuidanceRequest  WsMsgType = "guidance_request"
	WsGuidanceResponse WsMsgType = "guidance_response"

	WsJudgeStatus   WsMsgType = "judge_status"
	WsContextUpdate WsMsgType = "context_update"

	WsInjectInstruction   WsMsgType = "inject_instruction"
	WsInterruptAndReplace WsMsgType = "interrupt_and_replace"
	WsSetMode             WsMsgType = "set_mode"
	WsUpdateJudgePrompt   WsMsgType = "update_judge_prompt"
	WsReloadPolicy        WsMsgType = "reload_policy"
	WsOperatorSpeak       WsMsgType = "operator_speak"
)

// WsMessage is the monitor envelope.
type WsMessage struct {
	Type    WsMsgType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ts      float64         `json:"ts"`
}

// NewWsMessage marshals payload into an envelope stamped with the current
// time. Marshal failures return an error envelope instead.
func NewWsMessage(t WsMsgType, payload any) WsMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
		t = WsError
	}
	return WsMessage{Type: t, Payload: raw, Ts: now()}
}

// ParseWsMessage decodes a monitor envelope from raw JSON.
func ParseWsMessage(raw []byte) (WsMessage, error) {
	var msg WsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return WsMessage{}, fmt.Errorf("malformed monitor message: %w", err)
	}
	if msg.Type == "" {
		return WsMessage{}, fmt.Errorf("monitor message missing type")
	}
	return msg, nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
