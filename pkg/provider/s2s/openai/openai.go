// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 chunks. Tool results are sent
// as function_call_output items followed by a single response.create.
//
// Realtime streams the model transcript as deltas; the session accumulates
// them per response so consumers see cumulative text. The user transcript
// arrives complete and is forwarded as-is.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// Realtime pcm16 is fixed at 24 kHz in both directions.
	sampleRate = 24000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  sampleRate,
		OutputSampleRate: sampleRate,
		SupportsImages:   true,
		Voices:           []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect establishes a new OpenAI Realtime session with the given configuration.
// The returned SessionHandle is ready to accept audio immediately after the
// session.update message is sent.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		msgs:   make(chan s2s.ServerMessage, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Tools                   []oaiTool      `json:"tools,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error
	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn *websocket.Conn
	msgs chan s2s.ServerMessage

	// Owned by receiveLoop.
	outputText   string
	pendingCalls []s2s.ToolCall

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event configuring voice,
// instructions, tools, audio formats and server-side turn detection.
func (s *session) sendSessionUpdate(cfg s2s.SessionConfig) error {
	params := sessionParams{
		Modalities:              []string{"audio", "text"},
		Voice:                   cfg.Voice,
		Instructions:            cfg.Instructions,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcription{Model: "whisper-1"},
		TurnDetection:           &turnDetection{Type: "server_vad"},
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and converts them into
// ServerMessage values. It owns msgs and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		out, ok := s.translate(&evt)
		if !ok {
			continue
		}
		select {
		case s.msgs <- out:
		case <-s.ctx.Done():
			return
		}
	}
}

// translate maps one Realtime event onto a ServerMessage. Function calls are
// collected until response.done so that every call of one response is
// delivered as a single batch.
func (s *session) translate(evt *serverEvent) (s2s.ServerMessage, bool) {
	switch evt.Type {
	case "response.audio.delta":
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return s2s.ServerMessage{}, false
		}
		return s2s.ServerMessage{Audio: audioData}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return s2s.ServerMessage{}, false
		}
		s.outputText += evt.Delta
		return s2s.ServerMessage{OutputTranscript: s.outputText}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return s2s.ServerMessage{}, false
		}
		return s2s.ServerMessage{InputTranscript: evt.Transcript}, true

	case "input_audio_buffer.speech_started":
		return s2s.ServerMessage{Interrupted: true}, true

	case "response.function_call_arguments.done":
		s.pendingCalls = append(s.pendingCalls, s2s.ToolCall{ID: evt.CallID, Name: evt.Name, Arguments: evt.Arguments})
		return s2s.ServerMessage{}, false

	case "response.done":
		out := s2s.ServerMessage{ToolCalls: s.pendingCalls}
		s.pendingCalls = nil
		s.outputText = ""
		// A response that only requested tools is not the end of the turn;
		// the model continues after the tool outputs arrive.
		out.TurnComplete = len(out.ToolCalls) == 0
		return out, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai: realtime error event", "message", msg)
		return s2s.ServerMessage{}, false
	}
	return s2s.ServerMessage{}, false
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() { close(s.msgs) })
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	return nil
}

// toOAITools converts tool definitions to the Realtime tool format.
func toOAITools(tools []s2s.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (s *session) SendAudio(chunk []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// SendImage adds an image to the conversation as a user message.
func (s *session) SendImage(mimeType string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	url := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_image", ImageURL: url}},
		},
	})
}

// SendText adds a user text message and, when turnComplete, asks for a
// response.
func (s *session) SendText(text string, turnComplete bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil || !turnComplete {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// SendToolResponses sends every output and then one response.create.
func (s *session) SendToolResponses(responses []s2s.ToolResponse) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(responses) == 0 {
		return nil
	}
	for _, r := range responses {
		err := s.writeJSON(createConversationItemMessage{
			Type: "conversation.item.create",
			Item: conversationItem{
				Type:   "function_call_output",
				CallID: r.ID,
				Output: r.Output,
			},
		})
		if err != nil {
			return err
		}
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Messages returns the inbound event stream.
func (s *session) Messages() <-chan s2s.ServerMessage { return s.msgs }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
