package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	"github.com/MrWong99/rexlive/pkg/provider/s2s/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startOpenAIServer launches a test WebSocket server. The handler receives
// the accepted conn after the initial session.update has been consumed.
func startOpenAIServer(t *testing.T, handler func(conn *websocket.Conn, update map[string]any, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		var update map[string]any
		readJSON(t, conn, &update)
		handler(conn, update, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)), openai.WithModel("test-model"))
	h, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func nextMessage(t *testing.T, h s2s.SessionHandle) s2s.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-h.Messages():
		if !ok {
			t.Fatal("message stream closed unexpectedly")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for server message")
	}
	return s2s.ServerMessage{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := openai.New("k").Capabilities()
	if caps.InputSampleRate != 24000 || caps.OutputSampleRate != 24000 {
		t.Errorf("rates = %d/%d, want 24000/24000", caps.InputSampleRate, caps.OutputSampleRate)
	}
}

func TestConnect_SendsSessionUpdateAndHeaders(t *testing.T) {
	t.Parallel()

	type seen struct {
		update map[string]any
		auth   string
		beta   string
		model  string
	}
	got := make(chan seen, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, update map[string]any, r *http.Request) {
		got <- seen{update, r.Header.Get("Authorization"), r.Header.Get("OpenAI-Beta"), r.URL.Query().Get("model")}
		waitClosed(conn)
	})

	connect(t, srv, s2s.SessionConfig{
		Voice:        "alloy",
		Instructions: "Be brief.",
		Tools:        []s2s.ToolDefinition{{Name: "get_time"}},
	})

	s := <-got
	if s.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", s.auth)
	}
	if s.beta != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", s.beta)
	}
	if s.model != "test-model" {
		t.Errorf("model = %q", s.model)
	}
	if s.update["type"] != "session.update" {
		t.Errorf("type = %v", s.update["type"])
	}
	raw, _ := json.Marshal(s.update)
	for _, want := range []string{`"voice":"alloy"`, `"instructions":"Be brief."`, `"name":"get_time"`, `"input_audio_format":"pcm16"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("session.update %s missing %s", raw, want)
		}
	}
}

func TestSendAudio_AppendsBuffer(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		var m map[string]any
		readJSON(t, conn, &m)
		got <- m
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})
	if err := h.SendAudio([]byte{5, 6}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	m := <-got
	if m["type"] != "input_audio_buffer.append" {
		t.Errorf("type = %v", m["type"])
	}
	if m["audio"] != base64.StdEncoding.EncodeToString([]byte{5, 6}) {
		t.Errorf("audio = %v", m["audio"])
	}
}

func TestSendText_CreatesItemAndResponse(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 2)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		for range 2 {
			var m map[string]any
			readJSON(t, conn, &m)
			got <- m
		}
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})
	if err := h.SendText("hi", true); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	item := <-got
	if item["type"] != "conversation.item.create" {
		t.Errorf("first type = %v", item["type"])
	}
	if resp := <-got; resp["type"] != "response.create" {
		t.Errorf("second type = %v", resp["type"])
	}
}

func TestSendToolResponses_OutputsThenOneResponseCreate(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 3)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		for range 3 {
			var m map[string]any
			readJSON(t, conn, &m)
			got <- m
		}
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})
	err := h.SendToolResponses([]s2s.ToolResponse{
		{ID: "call_1", Name: "a", Output: "one"},
		{ID: "call_2", Name: "b", Output: "two"},
	})
	if err != nil {
		t.Fatalf("SendToolResponses: %v", err)
	}

	for i, id := range []string{"call_1", "call_2"} {
		m := <-got
		item, _ := m["item"].(map[string]any)
		if item["type"] != "function_call_output" || item["call_id"] != id {
			t.Errorf("output %d = %v", i, m)
		}
	}
	if m := <-got; m["type"] != "response.create" {
		t.Errorf("final type = %v", m["type"])
	}
}

func TestMessages_TranslatesEvents(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString([]byte{1, 2})})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hel"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "lo"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "What time is it"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})

	if msg := nextMessage(t, h); string(msg.Audio) != string([]byte{1, 2}) {
		t.Errorf("audio = %v", msg.Audio)
	}
	if msg := nextMessage(t, h); msg.OutputTranscript != "Hel" {
		t.Errorf("output = %q, want Hel", msg.OutputTranscript)
	}
	if msg := nextMessage(t, h); msg.OutputTranscript != "Hello" {
		t.Errorf("output = %q, want Hello", msg.OutputTranscript)
	}
	if msg := nextMessage(t, h); msg.InputTranscript != "What time is it" {
		t.Errorf("input = %q", msg.InputTranscript)
	}
	if msg := nextMessage(t, h); !msg.Interrupted {
		t.Error("expected Interrupted")
	}
	if msg := nextMessage(t, h); !msg.TurnComplete {
		t.Error("expected TurnComplete")
	}
}

func TestMessages_BatchesFunctionCallsUntilResponseDone(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "response.function_call_arguments.done", "name": "a", "call_id": "c1", "arguments": `{"x":1}`})
		writeJSON(t, conn, map[string]any{"type": "response.function_call_arguments.done", "name": "b", "call_id": "c2", "arguments": `{}`})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})
	msg := nextMessage(t, h)
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0] != (s2s.ToolCall{ID: "c1", Name: "a", Arguments: `{"x":1}`}) {
		t.Errorf("call 0 = %+v", msg.ToolCalls[0])
	}
	if msg.TurnComplete {
		t.Error("a tool-only response must not complete the turn")
	}
}

func TestClose_IdempotentAndRejectsSends(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		waitClosed(conn)
	})

	h := connect(t, srv, s2s.SessionConfig{})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.SendText("x", true); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendText after close = %v, want ErrSessionClosed", err)
	}
	select {
	case _, ok := <-h.Messages():
		if ok {
			t.Error("expected closed stream")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stream to close")
	}
}

func TestMessages_RemoteCloseSetsErr(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ map[string]any, _ *http.Request) {
		conn.Close(websocket.StatusGoingAway, "bye")
	})

	h := connect(t, srv, s2s.SessionConfig{})
	select {
	case _, ok := <-h.Messages():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stream to close")
	}
	if h.Err() == nil {
		t.Error("expected Err after remote close")
	}
}
