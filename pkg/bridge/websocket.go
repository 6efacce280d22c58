package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rexlive/pkg/audio"
)

const writeTimeout = 2 * time.Second

var _ Peer = (*Server)(nil)

// ServerOptions configures a [Server].
type ServerOptions struct {
	// PeerRate is the sample rate the peer streams and expects.
	PeerRate int

	// CaptureRate is the rate inbound audio is resampled to.
	CaptureRate int

	// PlaybackRate is the rate of the agent audio passed to SendAudio.
	PlaybackRate int

	// QueueSize bounds the inbound chunk queue.
	QueueSize int
}

// Server is a [Peer] that accepts one peer device over WebSocket. Binary
// frames carry 16-bit mono PCM at PeerRate in both directions. A new
// connection replaces the previous one.
type Server struct {
	opts  ServerOptions
	queue *Queue

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	return &Server{opts: opts, queue: NewQueue(opts.QueueSize)}
}

// ServeHTTP upgrades the request and pumps inbound audio until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("bridge: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()
	if prev != nil {
		prev.Close(websocket.StatusPolicyViolation, "replaced by new peer")
	}
	slog.Info("bridge: peer connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("bridge: peer disconnected", "remote", r.RemoteAddr)
	}()

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		s.queue.Push(audio.Resample(data, s.opts.PeerRate, s.opts.CaptureRate))
	}
}

// Connected reports whether a peer is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// HasAudio implements [Peer].
func (s *Server) HasAudio() bool { return s.queue.HasAudio() }

// AudioChunk implements [Peer].
func (s *Server) AudioChunk() ([]byte, bool) { return s.queue.AudioChunk() }

// SendAudio implements [Peer].
func (s *Server) SendAudio(pcm []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, audio.Resample(pcm, s.opts.PlaybackRate, s.opts.PeerRate))
}
