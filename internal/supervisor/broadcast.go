package supervisor

import (
	"github.com/callguardhq/callguard/internal/call"
	"github.com/callguardhq/callguard/internal/protocol"
)

// Broadcaster is an optional sink for live supervision events. The
// monitor's websocket server implements it; a supervisor with no observers
// runs against Nop. Implementations must not block the caller.
type Broadcaster interface {
	BroadcastTranscript(ev protocol.TranscriptEvent)
	BroadcastVerdict(v protocol.Verdict, callID string)
	BroadcastState(state, mode, callID string)
	BroadcastJudgeStatus(status, callID string)
	BroadcastContextUpdate(callID string, snap call.Snapshot)
	BroadcastGuidanceRequest(req protocol.GuidanceRequest)
	BroadcastCallStarted(callID, label string)
	BroadcastCallEnded(callID string)
}

// Nop discards every broadcast.
type Nop struct{}

func (Nop) BroadcastTranscript(protocol.TranscriptEvent)        {}
func (Nop) BroadcastVerdict(protocol.Verdict, string)           {}
func (Nop) BroadcastState(string, string, string)               {}
func (Nop) BroadcastJudgeStatus(string, string)                 {}
func (Nop) BroadcastContextUpdate(string, call.Snapshot)        {}
func (Nop) BroadcastGuidanceRequest(protocol.GuidanceRequest)   {}
func (Nop) BroadcastCallStarted(string, string)                 {}
func (Nop) BroadcastCallEnded(string)                           {}

// Multi fans every broadcast out to all sinks.
type Multi []Broadcaster

func (m Multi) BroadcastTranscript(ev protocol.TranscriptEvent) {
	for _, b := range m {
		b.BroadcastTranscript(ev)
	}
}

func (m Multi) BroadcastVerdict(v protocol.Verdict, callID string) {
	for _, b := range m {
		b.BroadcastVerdict(v, callID)
	}
}

func (m Multi) BroadcastState(state, mode, callID string) {
	for _, b := range m {
		b.BroadcastState(state, mode, callID)
	}
}

func (m Multi) BroadcastJudgeStatus(status, callID string) {
	for _, b := range m {
		b.BroadcastJudgeStatus(status, callID)
	}
}

func (m Multi) BroadcastContextUpdate(callID string, snap call.Snapshot) {
	for _, b := range m {
		b.BroadcastContextUpdate(callID, snap)
	}
}

func (m Multi) BroadcastGuidanceRequest(req protocol.GuidanceRequest) {
	for _, b := range m {
		b.BroadcastGuidanceRequest(req)
	}
}

func (m Multi) BroadcastCallStarted(callID, label string) {
	for _, b := range m {
		b.BroadcastCallStarted(callID, label)
	}
}

func (m Multi) BroadcastCallEnded(callID string) {
	for _, b := range m {
		b.BroadcastCallEnded(callID)
	}
}
