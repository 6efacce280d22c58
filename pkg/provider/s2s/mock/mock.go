// Package mock provides test doubles for [s2s.Provider] and
// [s2s.SessionHandle].
//
// Session delivers inbound traffic pushed by the test through [Session.Push]
// and records everything the engine sends. Ending the stream with
// [Session.Fail] simulates a remote disconnect.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock [s2s.Provider]. Each Connect call pops the next entry
// from Sessions (or ConnectErrs); when both are exhausted a fresh Session is
// created.
type Provider struct {
	mu sync.Mutex

	// Sessions is the queue of handles returned by successive Connect calls.
	Sessions []*Session

	// ConnectErrs is the queue of errors returned before Sessions is used.
	// A nil entry means "fall through to Sessions".
	ConnectErrs []error

	// Caps is returned by Capabilities.
	Caps s2s.Capabilities

	// Configs records the SessionConfig of every Connect call.
	Configs []s2s.SessionConfig

	// Connected receives every session handed out, if non-nil.
	Connected chan *Session
}

var _ s2s.Provider = (*Provider)(nil)

// Connect implements [s2s.Provider].
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.Configs = append(p.Configs, cfg)
	if len(p.ConnectErrs) > 0 {
		err := p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	var sess *Session
	if len(p.Sessions) > 0 {
		sess = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	} else {
		sess = NewSession()
	}
	notify := p.Connected
	p.mu.Unlock()

	if notify != nil {
		notify <- sess
	}
	return sess, nil
}

// Capabilities implements [s2s.Provider].
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// ConnectCount returns how many times Connect was called.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Configs)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Text is a recorded SendText call.
type Text struct {
	Text         string
	TurnComplete bool
}

// Image is a recorded SendImage call.
type Image struct {
	MIMEType string
	Data     []byte
}

// Session is a mock [s2s.SessionHandle].
type Session struct {
	msgs chan s2s.ServerMessage

	mu        sync.Mutex
	err       error
	closed    bool
	ended     bool
	audio     [][]byte
	images    []Image
	texts     []Text
	responses [][]s2s.ToolResponse

	// SendErr, when non-nil, is returned by every Send* call.
	SendErr error

	// Sent is signalled (non-blocking) after every recorded Send* call.
	Sent chan struct{}
}

var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns an open Session with a buffered message stream.
func NewSession() *Session {
	return &Session{
		msgs: make(chan s2s.ServerMessage, 64),
		Sent: make(chan struct{}, 256),
	}
}

// Push delivers an inbound message. It is a no-op after the stream ended.
func (s *Session) Push(msg s2s.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.msgs <- msg
}

// Fail ends the message stream with err, as a remote disconnect would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.ended = true
	close(s.msgs)
}

func (s *Session) record(fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	fn()
	s.mu.Unlock()
	select {
	case s.Sent <- struct{}{}:
	default:
	}
	return nil
}

// SendAudio implements [s2s.SessionHandle].
func (s *Session) SendAudio(chunk []byte) error {
	return s.record(func() { s.audio = append(s.audio, append([]byte(nil), chunk...)) })
}

// SendImage implements [s2s.SessionHandle].
func (s *Session) SendImage(mimeType string, data []byte) error {
	return s.record(func() { s.images = append(s.images, Image{MIMEType: mimeType, Data: data}) })
}

// SendText implements [s2s.SessionHandle].
func (s *Session) SendText(text string, turnComplete bool) error {
	return s.record(func() { s.texts = append(s.texts, Text{Text: text, TurnComplete: turnComplete}) })
}

// SendToolResponses implements [s2s.SessionHandle].
func (s *Session) SendToolResponses(responses []s2s.ToolResponse) error {
	return s.record(func() { s.responses = append(s.responses, responses) })
}

// Messages implements [s2s.SessionHandle].
func (s *Session) Messages() <-chan s2s.ServerMessage { return s.msgs }

// Err implements [s2s.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [s2s.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.msgs)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Audio returns copies of every chunk passed to SendAudio.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Images returns every SendImage call.
func (s *Session) Images() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Image(nil), s.images...)
}

// Texts returns every SendText call.
func (s *Session) Texts() []Text {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Text(nil), s.texts...)
}

// ToolResponses returns every SendToolResponses batch.
func (s *Session) ToolResponses() [][]s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]s2s.ToolResponse(nil), s.responses...)
}
