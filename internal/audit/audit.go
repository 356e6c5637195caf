// Package audit writes an append-only JSONL trail of safety-relevant
// events for regulatory review. Entries are immutable once written; the
// file is opened in append mode so earlier sessions are never clobbered.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/callguardhq/callguard/internal/protocol"

	cgerrors "github.com/callguardhq/callguard/internal/errors"
)

// Entry is one audit record: who (call, operator), what (event, action),
// why (reasoning, policy), when (timestamp).
type Entry struct {
	Timestamp   float64 `json:"timestamp"`
	CallID      string  `json:"call_id"`
	EventType   string  `json:"event_type"`
	RiskLevel   string  `json:"risk_level"`
	ActionTaken string  `json:"action_taken"`
	Reasoning   string  `json:"reasoning"`
	PolicyName  string  `json:"policy_name,omitempty"`
	PolicyRule  string  `json:"policy_rule,omitempty"`
	// OperatorID identifies who intervened when a human did.
	OperatorID     string `json:"operator_id,omitempty"`
	CorrectiveText string `json:"corrective_text,omitempty"`
	// ResponsePreview holds the first 200 chars of the judged agent text.
	ResponsePreview string `json:"agent_response_preview,omitempty"`
}

// Logger appends audit entries to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	count  int
	logger *slog.Logger
}

// New creates an audit logger that will append to path once started.
func New(path string) *Logger {
	return &Logger{
		path:   path,
		logger: slog.Default().With("component", "audit"),
	}
}

// EntryCount returns how many entries this session has written.
func (l *Logger) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Start opens the file in append mode and marks the session start.
func (l *Logger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to create audit directory", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to open audit file", err)
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	l.writeLocked(Entry{
		Timestamp:   now(),
		EventType:   "audit_session_start",
		RiskLevel:   string(protocol.RiskNone),
		ActionTaken: "none",
		Reasoning:   "Audit session started",
	})
	return nil
}

// Stop marks the session end with the entry count and closes the file.
func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.writeLocked(Entry{
		Timestamp:   now(),
		EventType:   "audit_session_end",
		RiskLevel:   string(protocol.RiskNone),
		ActionTaken: "none",
		Reasoning:   fmt.Sprintf("Audit session ended. %d entries recorded.", l.count),
	})
	l.w.Flush()
	err := l.file.Close()
	l.file = nil
	l.w = nil
	return err
}

// LogVerdict records a judge verdict with the policy it was judged under
// and a preview of the judged text.
func (l *Logger) LogVerdict(callID string, v protocol.Verdict, policyName, agentText string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Entry{
		Timestamp:       now(),
		CallID:          callID,
		EventType:       "verdict",
		RiskLevel:       string(v.RiskLevel),
		ActionTaken:     string(v.Action),
		Reasoning:       v.Reasoning,
		PolicyName:      policyName,
		CorrectiveText:  v.CorrectiveInstruction,
		ResponsePreview: preview(agentText, 200),
	})
}

// LogIntervention records an operator or supervisor intervention
// (inject, override, mode_change, operator_speak, escalation_disconnect).
func (l *Logger) LogIntervention(callID, interventionType, operatorID, instruction string) {
	if operatorID == "" {
		operatorID = "operator"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Entry{
		Timestamp:   now(),
		CallID:      callID,
		EventType:   "intervention_" + interventionType,
		RiskLevel:   string(protocol.RiskNone),
		ActionTaken: interventionType,
		Reasoning:   instruction,
		OperatorID:  operatorID,
	})
}

// LogEscalation records a call escalation.
func (l *Logger) LogEscalation(callID, reason string) {
	if reason == "" {
		reason = "Call escalated to human operator"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Entry{
		Timestamp:   now(),
		CallID:      callID,
		EventType:   "escalation",
		RiskLevel:   string(protocol.RiskHigh),
		ActionTaken: string(protocol.ActionEscalate),
		Reasoning:   reason,
	})
}

// LogGuidance records a guidance exchange: with an empty response it is a
// request, otherwise a resolved Q/A pair.
func (l *Logger) LogGuidance(callID, question, response string) {
	eventType := "guidance_request"
	reasoning := question
	if response != "" {
		eventType = "guidance_response"
		reasoning = fmt.Sprintf("Q: %s | A: %s", question, response)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Entry{
		Timestamp:   now(),
		CallID:      callID,
		EventType:   eventType,
		RiskLevel:   string(protocol.RiskNone),
		ActionTaken: "guidance",
		Reasoning:   reasoning,
	})
}

func (l *Logger) writeLocked(e Entry) {
	if l.w == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("dropping unencodable audit entry", "event_type", e.EventType, "error", err)
		return
	}
	l.w.Write(line)
	l.w.WriteByte('\n')
	l.w.Flush()
	l.count++
}

// ReadEntries loads every entry from an audit file, oldest first.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "failed to open audit file", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "malformed audit line", err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
