// Package hub serves the session's front-end surface: a WebSocket that
// pushes transcript, activity, confirmation and status events and accepts
// control messages, plus a small JSON API for confirmations.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/rexlive/internal/confirm"
	"github.com/MrWong99/rexlive/internal/events"
	"github.com/MrWong99/rexlive/pkg/memory"
)

const (
	defaultSendBuffer = 64
	writeTimeout      = 5 * time.Second
	readLimit         = 4 << 20
)

// Controls is the slice of the session controller the hub drives.
type Controls interface {
	ResolveConfirmation(id string, approved bool) error
	PendingConfirmations() []confirm.Pending
	SetPaused(paused bool)
	SetBargeIn(enabled bool, threshold float64)
	UpdatePermissions(perms map[string]bool, master bool)
	PushFrame(mimeType string, data []byte)
}

// Hub broadcasts session events to every connected WebSocket client. It
// implements [events.Listener] and is safe for concurrent use.
type Hub struct {
	controls       Controls
	logger         *slog.Logger
	sendBuffer     int
	originPatterns []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ events.Listener = (*Hub)(nil)

type client struct {
	send chan []byte
}

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithSendBuffer sets the per-client outbound buffer. Events for a client
// whose buffer is full are dropped.
func WithSendBuffer(n int) Option { return func(h *Hub) { h.sendBuffer = n } }

// WithOriginPatterns allows cross-origin WebSocket clients matching the
// given host patterns.
func WithOriginPatterns(p ...string) Option { return func(h *Hub) { h.originPatterns = p } }

// New returns a hub that forwards inbound control messages to c.
func New(c Controls, opts ...Option) *Hub {
	h := &Hub{
		controls:   c,
		logger:     slog.Default(),
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// Router returns the hub's HTTP routes:
//
//	GET  /ws                  event stream and control channel
//	GET  /confirmations       pending confirmations
//	POST /confirmations/{id}  resolve with {"approved": bool}
func (h *Hub) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", h.handleWS)
	r.Get("/confirmations", h.handleListConfirmations)
	r.Post("/confirmations/{id}", h.handleResolveConfirmation)
	return r
}

// Clients returns the number of connected WebSocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ── events.Listener ─────────────────────────────────────────────────────────

// OnTranscript implements [events.TranscriptListener].
func (h *Hub) OnTranscript(sender memory.Sender, delta string) {
	h.broadcast(outbound{Type: typeTranscript, Sender: string(sender), Text: delta})
}

// OnConfirmationRequest implements [events.ConfirmationListener].
func (h *Hub) OnConfirmationRequest(id, tool, args string) {
	h.broadcast(outbound{Type: typeConfirmation, ID: id, Tool: tool, Args: args})
}

// OnActivity implements [events.ActivityListener].
func (h *Hub) OnActivity(activity string, tools []string) {
	h.broadcast(outbound{Type: typeActivity, Activity: activity, Tools: tools})
}

// OnStatus implements [events.StatusListener].
func (h *Hub) OnStatus(status events.Status, detail string) {
	h.broadcast(outbound{Type: typeStatus, Status: string(status), Detail: detail})
}

func (h *Hub) broadcast(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal event", "type", msg.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.send(c, msg.Type, data)
	}
}

// enqueue marshals msg for a single client. Callers hold h.mu.
func (h *Hub) enqueue(c *client, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal event", "type", msg.Type, "err", err)
		return
	}
	h.send(c, msg.Type, data)
}

func (h *Hub) send(c *client, typ string, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Debug("client buffer full, event dropped", "type", typ)
	}
}

// ── WebSocket ───────────────────────────────────────────────────────────────

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	// Requests raised before this client connected are still waiting.
	for _, p := range h.controls.PendingConfirmations() {
		h.enqueue(c, outbound{Type: typeConfirmation, ID: p.ID, Tool: p.Tool, Args: p.Args})
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()
	h.logger.Info("ui client connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-c.send:
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, data)
				wcancel()
				if err != nil {
					h.logger.Debug("websocket write", "err", err)
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if s := websocket.CloseStatus(err); s != websocket.StatusNormalClosure && s != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read", "err", err)
			}
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("invalid client message", "err", err)
			continue
		}
		h.handle(msg)
	}

	cancel()
	<-writerDone
	h.logger.Info("ui client disconnected", "remote", r.RemoteAddr)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) handle(msg inbound) {
	switch msg.Type {
	case typeResolve:
		if msg.ID == "" || msg.Approved == nil {
			h.logger.Warn("resolve message missing id or approved")
			return
		}
		// Unknown and duplicate ids are logged by the confirmation table.
		_ = h.controls.ResolveConfirmation(msg.ID, *msg.Approved)
	case typePause:
		h.controls.SetPaused(msg.Paused)
	case typeBargeIn:
		h.controls.SetBargeIn(msg.Enabled, msg.Threshold)
	case typePermissions:
		h.controls.UpdatePermissions(msg.Permissions, msg.MasterControl)
	case typeFrame:
		if len(msg.Data) == 0 {
			return
		}
		mime := msg.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		h.controls.PushFrame(mime, msg.Data)
	default:
		h.logger.Warn("unknown client message type", "type", msg.Type)
	}
}

// ── JSON API ────────────────────────────────────────────────────────────────

type confirmationView struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Args      string    `json:"args"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Hub) handleListConfirmations(w http.ResponseWriter, _ *http.Request) {
	pending := h.controls.PendingConfirmations()
	out := make([]confirmationView, 0, len(pending))
	for _, p := range pending {
		out = append(out, confirmationView{ID: p.ID, Tool: p.Tool, Args: p.Args, CreatedAt: p.CreatedAt})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Hub) handleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Approved *bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Approved == nil {
		respondError(w, http.StatusBadRequest, `body must be {"approved": bool}`)
		return
	}
	switch err := h.controls.ResolveConfirmation(id, *body.Approved); {
	case errors.Is(err, confirm.ErrUnknownID):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, confirm.ErrAlreadyResolved):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
