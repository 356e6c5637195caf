package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/supervisor"
)

// agentSystemPrompt steers the demo agent itself (not the judge).
const agentSystemPrompt = `You are a helpful customer support agent on a phone call.
Answer briefly and conversationally, one or two sentences per turn.`

// consoleSession adapts the supervised call to a terminal: agent speech is
// printed, interrupts cut the line, and End stops the read loop.
type consoleSession struct {
	ctx    context.Context
	sup    *supervisor.Supervisor
	client llm.ChatClient

	mu   sync.Mutex
	done atomic.Bool
}

func newConsoleSession() *consoleSession {
	return &consoleSession{ctx: context.Background()}
}

// attach wires the supervisor back in after construction; the supervisor
// needs the session first.
func (s *consoleSession) attach(ctx context.Context, sup *supervisor.Supervisor, client llm.ChatClient) {
	s.ctx = ctx
	s.sup = sup
	s.client = client
}

func (s *consoleSession) Say(text string) {
	fmt.Printf("agent> %s\n", text)
}

func (s *consoleSession) Interrupt() {
	fmt.Println("agent> [interrupted]")
}

// GenerateReply produces one agent turn and streams it through the
// supervisor so the judge sees it as it is spoken.
func (s *consoleSession) GenerateReply(instructions string) {
	if s.done.Load() || s.sup == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.sup.History()
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: agentSystemPrompt})
	messages = append(messages, history...)
	if instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instructions})
	}

	reply := s.generate(messages)

	s.sup.BeginAgentTurn()
	s.sup.FeedChunk(reply)
	s.sup.CompleteTurn()
	fmt.Printf("agent> %s\n", reply)
}

func (s *consoleSession) generate(messages []llm.Message) string {
	if c, ok := s.client.(*llm.Client); ok && !c.Enabled() {
		return "I'm sorry, no agent model is configured. This is a placeholder reply."
	}
	reply, err := s.client.Chat(s.ctx, messages)
	if err != nil {
		logger.WithError(err).Warn("Agent reply generation failed")
		return "I'm sorry, I'm having trouble responding right now."
	}
	return reply
}

func (s *consoleSession) End() {
	s.done.Store(true)
	fmt.Println("agent> [call ended]")
}

func (s *consoleSession) ended() bool {
	return s.done.Load()
}
