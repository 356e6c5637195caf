// Package monitor runs the live supervision websocket server: it fans
// transcripts, verdicts, and call state out to any number of connected
// dashboards and parses inbound operator commands. Zero clients is a
// fully supported state; broadcasts are then dropped on the floor.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/callguardhq/callguard/internal/call"
	"github.com/callguardhq/callguard/internal/protocol"
)

// CommandHandler receives parsed operator commands. The supervisor
// implements it; a nil handler makes the server broadcast-only.
type CommandHandler interface {
	HandleInjectInstruction(instruction, callID string)
	HandleInterruptAndReplace(instruction, callID string)
	HandleSetMode(mode call.Mode, callID string)
	HandleOperatorSpeak(text, callID string)
	HandleUpdateJudgePrompt(prompt string)
	HandleReloadPolicy(callID string)
	HandleGuidanceResponse(requestID, response string)
}

// sendBuffer is the per-client outbound queue. A client that cannot keep
// up gets disconnected rather than slowing the broadcast path.
const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the websocket broadcast/control endpoint.
type Server struct {
	addr    string
	handler CommandHandler
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates a monitor server bound to port. handler may be nil.
func NewServer(port int, handler CommandHandler) *Server {
	return &Server{
		addr:    fmt.Sprintf(":%d", port),
		handler: handler,
		logger:  slog.Default().With("component", "monitor"),
		clients: make(map[*client]struct{}),
	}
}

// Start begins listening. Returns once the listener is bound; serving
// continues in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitor listen failed: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitor server stopped", "error", err)
		}
	}()
	s.logger.Info("monitor listening", "addr", ln.Addr().String())
	return nil
}

// SetHandler attaches the command handler. Useful when the supervisor is
// constructed after the server it broadcasts through.
func (s *Server) SetHandler(handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Addr returns the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// ClientCount reports connected dashboards.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("monitor client connected", "total", total)

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) writeLoop(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}

func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, data)
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("monitor client disconnected", "total", total)
}

// dispatch parses one inbound operator command. Malformed or unknown
// input gets a negative acknowledgment on the same connection; it never
// takes the server down.
func (s *Server) dispatch(c *client, data []byte) {
	msg, err := protocol.ParseWsMessage(data)
	if err != nil {
		s.nak(c, err.Error())
		return
	}
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		s.nak(c, "no command handler attached")
		return
	}

	switch msg.Type {
	case protocol.WsInjectInstruction:
		var p struct {
			Instruction string `json:"instruction"`
			CallID      string `json:"call_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Instruction == "" {
			s.nak(c, "inject_instruction requires an instruction")
			return
		}
		handler.HandleInjectInstruction(p.Instruction, p.CallID)

	case protocol.WsInterruptAndReplace:
		var p struct {
			Instruction string `json:"instruction"`
			CallID      string `json:"call_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Instruction == "" {
			s.nak(c, "interrupt_and_replace requires an instruction")
			return
		}
		handler.HandleInterruptAndReplace(p.Instruction, p.CallID)

	case protocol.WsSetMode:
		var p struct {
			Mode   string `json:"mode"`
			CallID string `json:"call_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.nak(c, "set_mode payload is malformed")
			return
		}
		mode := call.Mode(p.Mode)
		if mode != call.ModeLLM && mode != call.ModeHuman {
			s.nak(c, fmt.Sprintf("unknown mode %q", p.Mode))
			return
		}
		handler.HandleSetMode(mode, p.CallID)

	case protocol.WsOperatorSpeak:
		var p struct {
			Text   string `json:"text"`
			CallID string `json:"call_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Text == "" {
			s.nak(c, "operator_speak requires text")
			return
		}
		handler.HandleOperatorSpeak(p.Text, p.CallID)

	case protocol.WsUpdateJudgePrompt:
		var p struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Prompt == "" {
			s.nak(c, "update_judge_prompt requires a prompt")
			return
		}
		handler.HandleUpdateJudgePrompt(p.Prompt)

	case protocol.WsReloadPolicy:
		var p struct {
			CallID string `json:"call_id"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.nak(c, "reload_policy payload is malformed")
			return
		}
		handler.HandleReloadPolicy(p.CallID)

	case protocol.WsGuidanceResponse:
		var p struct {
			RequestID string `json:"request_id"`
			Response  string `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RequestID == "" {
			s.nak(c, "guidance_response requires a request_id")
			return
		}
		handler.HandleGuidanceResponse(p.RequestID, p.Response)

	default:
		s.nak(c, fmt.Sprintf("unknown command type %q", msg.Type))
		return
	}

	s.ack(c, string(msg.Type))
}

func (s *Server) ack(c *client, command string) {
	s.sendTo(c, protocol.NewWsMessage(protocol.WsAck, map[string]string{"command": command}))
}

func (s *Server) nak(c *client, reason string) {
	s.logger.Warn("rejected operator command", "reason", reason)
	s.sendTo(c, protocol.NewWsMessage(protocol.WsError, map[string]string{"error": reason}))
}

func (s *Server) sendTo(c *client, msg protocol.WsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// Membership check under the lock so a concurrently dropped client's
	// closed channel is never written to.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// broadcast queues an envelope to every client, dropping clients whose
// queues are full.
func (s *Server) broadcast(msg protocol.WsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("dropping unencodable broadcast", "type", msg.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			delete(s.clients, c)
			close(c.send)
			s.logger.Warn("dropped slow monitor client")
		}
	}
}

// The methods below satisfy the supervisor's Broadcaster interface.

func (s *Server) BroadcastTranscript(ev protocol.TranscriptEvent) {
	s.broadcast(protocol.NewWsMessage(protocol.WsTranscript, ev))
}

func (s *Server) BroadcastVerdict(v protocol.Verdict, callID string) {
	s.broadcast(protocol.NewWsMessage(protocol.WsVerdict, struct {
		protocol.Verdict
		CallID string `json:"call_id"`
	}{Verdict: v, CallID: callID}))
}

func (s *Server) BroadcastState(state, mode, callID string) {
	s.broadcast(protocol.NewWsMessage(protocol.WsAgentState, map[string]string{
		"state": state, "mode": mode, "call_id": callID,
	}))
}

func (s *Server) BroadcastJudgeStatus(status, callID string) {
	s.broadcast(protocol.NewWsMessage(protocol.WsJudgeStatus, map[string]string{
		"status": status, "call_id": callID,
	}))
}

func (s *Server) BroadcastContextUpdate(callID string, snap call.Snapshot) {
	s.broadcast(protocol.NewWsMessage(protocol.WsContextUpdate, snap))
}

func (s *Server) BroadcastGuidanceRequest(req protocol.GuidanceRequest) {
	s.broadcast(protocol.NewWsMessage(protocol.WsGuidanceRequest, req))
}

func (s *Server) BroadcastCallStarted(callID, label string) {
	s.broadcast(protocol.NewWsMessage(protocol.WsCallStarted, map[string]string{
		"call_id": callID, "label": label,
	}))
}

func (s *Server) BroadcastCallEnded(callID string) {
	s.broadcast(protocol.NewWsMessage(protocol.WsCallEnded, map[string]string{
		"call_id": callID,
	}))
}
