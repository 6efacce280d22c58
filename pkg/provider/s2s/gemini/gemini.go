// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio and images travel as base64-encoded realtimeInput media chunks; text
// notifications and tool responses use clientContent and toolResponse.
//
// Gemini streams transcriptions as fragments. The session accumulates them
// per turn so that consumers always see the cumulative text of the current
// utterance.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputRate  = 16000
	outputRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  inputRate,
		OutputSampleRate: outputRate,
		SupportsImages:   true,
		Voices:           []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials the Live endpoint, sends the setup message and waits for
// setupComplete before returning.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = inputRate
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		audioMIME: fmt.Sprintf("audio/pcm;rate=%d", rate),
		msgs:      make(chan s2s.ServerMessage, 64),
		done:      make(chan struct{}),
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool     `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg     `json:"toolCall,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	audioMIME string
	msgs      chan s2s.ServerMessage

	// Cumulative transcripts for the current turn; owned by receiveLoop.
	inputText  string
	outputText string

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model string, cfg s2s.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return s.writeJSON(msg)
}

// awaitSetupComplete reads until the server acknowledges the setup.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%s", errorText(msg.Error))
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and converts them into
// ServerMessage values. It owns msgs and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.Error != nil {
			s.setErr(fmt.Errorf("gemini: %s", errorText(msg.Error)))
			return
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server requested disconnect", "time_left", msg.GoAway.TimeLeft)
		}

		out, ok := s.translate(&msg)
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

// translate maps one protocol message onto a ServerMessage. It reports false
// when there is nothing to deliver.
func (s *session) translate(msg *serverMessage) (s2s.ServerMessage, bool) {
	var out s2s.ServerMessage
	var ok bool

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil {
					continue
				}
				audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(audioData) == 0 {
					continue
				}
				out.Audio = append(out.Audio, audioData...)
				ok = true
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			s.inputText += sc.InputTranscription.Text
			out.InputTranscript = s.inputText
			ok = true
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			s.outputText += sc.OutputTranscription.Text
			out.OutputTranscript = s.outputText
			ok = true
		}
		if sc.Interrupted {
			out.Interrupted = true
			ok = true
		}
		if sc.TurnComplete {
			out.TurnComplete = true
			s.inputText, s.outputText = "", ""
			ok = true
		}
	}

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, s2s.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(args)})
		}
		ok = ok || len(out.ToolCalls) > 0
	}

	return out, ok
}

func errorText(ge *geminiError) string {
	if ge.Message != "" {
		return ge.Message
	}
	return "unknown error"
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
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

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM chunk (s16le, mono) to the model.
func (s *session) SendAudio(chunk []byte) error {
	return s.sendMedia(s.audioMIME, chunk)
}

// SendImage delivers one encoded image frame to the model.
func (s *session) SendImage(mimeType string, data []byte) error {
	return s.sendMedia(mimeType, data)
}

func (s *session) sendMedia(mimeType string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
		},
	})
}

// SendText injects a user turn.
func (s *session) SendText(text string, turnComplete bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(clientContentMessage{
		ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: turnComplete,
		},
	})
}

// SendToolResponses returns a batch of function results in one toolResponse.
func (s *session) SendToolResponses(responses []s2s.ToolResponse) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(responses) == 0 {
		return nil
	}
	frs := make([]functionResponse, len(responses))
	for i, r := range responses {
		// Structured output is passed through; plain text is wrapped.
		var obj map[string]any
		if err := json.Unmarshal([]byte(r.Output), &obj); err != nil {
			obj = map[string]any{"result": r.Output}
		}
		frs[i] = functionResponse{ID: r.ID, Name: r.Name, Response: obj}
	}
	return s.writeJSON(toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: frs}})
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
