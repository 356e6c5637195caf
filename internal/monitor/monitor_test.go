package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callguardhq/callguard/internal/call"
	"github.com/callguardhq/callguard/internal/protocol"
)

// recordedCommand captures one handler invocation.
type recordedCommand struct {
	name string
	args []string
}

type fakeHandler struct {
	mu       sync.Mutex
	commands []recordedCommand
}

func (f *fakeHandler) record(name string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, recordedCommand{name: name, args: args})
}

func (f *fakeHandler) HandleInjectInstruction(instruction, callID string) {
	f.record("inject", instruction, callID)
}
func (f *fakeHandler) HandleInterruptAndReplace(instruction, callID string) {
	f.record("override", instruction, callID)
}
func (f *fakeHandler) HandleSetMode(mode call.Mode, callID string) {
	f.record("set_mode", string(mode), callID)
}
func (f *fakeHandler) HandleOperatorSpeak(text, callID string) {
	f.record("speak", text, callID)
}
func (f *fakeHandler) HandleUpdateJudgePrompt(prompt string) {
	f.record("update_prompt", prompt)
}
func (f *fakeHandler) HandleReloadPolicy(callID string) {
	f.record("reload", callID)
}
func (f *fakeHandler) HandleGuidanceResponse(requestID, response string) {
	f.record("guidance", requestID, response)
}

func (f *fakeHandler) last() (recordedCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return recordedCommand{}, false
	}
	return f.commands[len(f.commands)-1], true
}

func startServer(t *testing.T, handler CommandHandler) *Server {
	t.Helper()
	srv := NewServer(0, handler)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.WsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseWsMessage(data)
	require.NoError(t, err)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType protocol.WsMsgType, payload any) {
	t.Helper()
	msg := protocol.NewWsMessage(msgType, payload)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestBroadcastReachesAllClients(t *testing.T) {
	srv := startServer(t, nil)
	a := dial(t, srv)
	b := dial(t, srv)

	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, time.Millisecond)

	srv.BroadcastVerdict(protocol.Verdict{
		Safe: false, RiskLevel: protocol.RiskHigh, Action: protocol.ActionBlock, Reasoning: "bad",
	}, "call-1")

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readEnvelope(t, conn)
		assert.Equal(t, protocol.WsVerdict, msg.Type)
		var p struct {
			protocol.Verdict
			CallID string `json:"call_id"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, "call-1", p.CallID)
		assert.Equal(t, protocol.ActionBlock, p.Action)
	}
}

func TestBroadcastWithZeroClients(t *testing.T) {
	srv := startServer(t, nil)
	// Must not block or panic.
	srv.BroadcastCallStarted("call-1", "demo")
	srv.BroadcastCallEnded("call-1")
	assert.Equal(t, 0, srv.ClientCount())
}

func TestOperatorCommandsDispatched(t *testing.T) {
	handler := &fakeHandler{}
	srv := startServer(t, handler)
	conn := dial(t, srv)

	cases := []struct {
		msgType protocol.WsMsgType
		payload any
		want    recordedCommand
	}{
		{protocol.WsInjectInstruction, map[string]string{"instruction": "offer refund", "call_id": "c1"},
			recordedCommand{"inject", []string{"offer refund", "c1"}}},
		{protocol.WsInterruptAndReplace, map[string]string{"instruction": "read disclaimer"},
			recordedCommand{"override", []string{"read disclaimer", ""}}},
		{protocol.WsSetMode, map[string]string{"mode": "human", "call_id": "c1"},
			recordedCommand{"set_mode", []string{"human", "c1"}}},
		{protocol.WsOperatorSpeak, map[string]string{"text": "hello", "call_id": "c1"},
			recordedCommand{"speak", []string{"hello", "c1"}}},
		{protocol.WsUpdateJudgePrompt, map[string]string{"prompt": "new prompt"},
			recordedCommand{"update_prompt", []string{"new prompt"}}},
		{protocol.WsReloadPolicy, map[string]string{"call_id": "c1"},
			recordedCommand{"reload", []string{"c1"}}},
		{protocol.WsGuidanceResponse, map[string]string{"request_id": "r1", "response": "30 days"},
			recordedCommand{"guidance", []string{"r1", "30 days"}}},
	}

	for _, tc := range cases {
		send(t, conn, tc.msgType, tc.payload)
		msg := readEnvelope(t, conn)
		require.Equal(t, protocol.WsAck, msg.Type, "command %s", tc.msgType)

		last, ok := handler.last()
		require.True(t, ok)
		assert.Equal(t, tc.want, last)
	}
}

func TestMalformedCommandGetsNak(t *testing.T) {
	handler := &fakeHandler{}
	srv := startServer(t, handler)
	conn := dial(t, srv)

	// Not JSON at all.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readEnvelope(t, conn)
	assert.Equal(t, protocol.WsError, msg.Type)

	// Unknown type.
	send(t, conn, protocol.WsMsgType("fire_everyone"), map[string]string{})
	msg = readEnvelope(t, conn)
	assert.Equal(t, protocol.WsError, msg.Type)

	// Known type, missing required field.
	send(t, conn, protocol.WsInjectInstruction, map[string]string{"call_id": "c1"})
	msg = readEnvelope(t, conn)
	assert.Equal(t, protocol.WsError, msg.Type)

	// Invalid mode value.
	send(t, conn, protocol.WsSetMode, map[string]string{"mode": "autopilot"})
	msg = readEnvelope(t, conn)
	assert.Equal(t, protocol.WsError, msg.Type)

	_, ok := handler.last()
	assert.False(t, ok, "no handler invocations for rejected commands")

	// The connection is still usable after rejections.
	send(t, conn, protocol.WsReloadPolicy, map[string]string{})
	msg = readEnvelope(t, conn)
	assert.Equal(t, protocol.WsAck, msg.Type)
}

func TestDisconnectedClientRemoved(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, time.Millisecond)

	srv.BroadcastCallEnded("call-1")
}
