// Package s2s defines the Provider interface for real-time speech-to-speech
// backends.
//
// An S2S provider wraps a remote conversational AI that accepts raw audio
// (plus optional images and text notifications) and streams back synthesised
// audio, transcripts, and tool-call requests over one long-lived session.
//
// The central abstraction is SessionHandle: outbound traffic goes through
// explicit Send* methods, inbound traffic arrives as a single ordered stream
// of ServerMessage values. A single ordered stream keeps audio, transcripts
// and turn boundaries in the order the service produced them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by Send* methods after Close, and reported by
// consumers when the message stream ends without a transport error.
var ErrSessionClosed = errors.New("s2s: session closed")

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	// Name is the unique tool identifier the model uses in calls.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its response. May be empty for providers
	// that correlate by name.
	ID string

	// Name is the requested tool.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolResponse is the result of a ToolCall sent back to the model.
type ToolResponse struct {
	ID     string
	Name   string
	Output string
}

// ServerMessage is one inbound event from the remote service. Any
// combination of fields may be set; consumers should handle them in field
// order: Audio, transcripts, ToolCalls, Interrupted, TurnComplete.
type ServerMessage struct {
	// Audio is a chunk of synthesised PCM at the provider's output rate.
	Audio []byte

	// InputTranscript is the cumulative transcript of the user's current
	// utterance, when it changed.
	InputTranscript string

	// OutputTranscript is the cumulative transcript of the model's current
	// response, when it changed.
	OutputTranscript string

	// ToolCalls lists tool invocations that arrived together.
	ToolCalls []ToolCall

	// Interrupted reports that the service stopped generating because the
	// user started speaking. Queued playback should be discarded.
	Interrupted bool

	// TurnComplete marks the end of one request/response cycle.
	TurnComplete bool
}

// SessionConfig is the configuration supplied when a session is opened.
type SessionConfig struct {
	// Voice is the provider-specific voice name. Empty selects the default.
	Voice string

	// Instructions is the system prompt.
	Instructions string

	// Tools is the set of tools the model may call.
	Tools []ToolDefinition

	// InputSampleRate is the rate of audio passed to SendAudio. Zero means
	// the provider default.
	InputSampleRate int
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the default rate the provider expects from SendAudio.
	InputSampleRate int

	// OutputSampleRate is the rate of ServerMessage.Audio.
	OutputSampleRate int

	// SupportsImages reports whether SendImage is accepted.
	SupportsImages bool

	// Voices lists the known voice names.
	Voices []string
}

// SessionHandle represents an open session. Every method must be safe for
// concurrent use and must return quickly.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM chunk at the negotiated input rate.
	SendAudio(chunk []byte) error

	// SendImage delivers one encoded image frame (e.g. "image/jpeg").
	SendImage(mimeType string, data []byte) error

	// SendText injects a user-role text message. When turnComplete is true
	// the model is asked to respond.
	SendText(text string, turnComplete bool) error

	// SendToolResponses returns the results of a batch of tool calls in one
	// submission.
	SendToolResponses(responses []ToolResponse) error

	// Messages returns the inbound event stream. It is closed when the
	// session ends; call Err afterwards to learn why.
	Messages() <-chan ServerMessage

	// Err returns the transport error that ended the session, or nil if it
	// was closed locally.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens sessions against one backend.
type Provider interface {
	// Connect establishes a new session. The returned handle is ready for
	// audio immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
