package supervisor

// Session is the voice-session surface the supervisor steers. Telephony
// adapters implement it; tests use a fake. All methods are fire-and-forget
// from the supervisor's point of view.
type Session interface {
	// Say speaks text to the caller.
	Say(text string)
	// Interrupt stops any in-flight agent speech. Best effort.
	Interrupt()
	// GenerateReply asks the agent to produce a reply, optionally steered
	// by a one-off instruction.
	GenerateReply(instructions string)
	// End hangs up the call.
	End()
}

// AgentState is the coarse activity state broadcast to observers.
const (
	StateListening = "listening"
	StateThinking  = "thinking"
	StateSpeaking  = "speaking"
	StateWaiting   = "waiting"
)
