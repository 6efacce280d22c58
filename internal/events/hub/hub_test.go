package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rexlive/internal/confirm"
	"github.com/MrWong99/rexlive/internal/events"
	"github.com/MrWong99/rexlive/pkg/memory"
)

// ─── fakeControls ────────────────────────────────────────────────────────────

type resolution struct {
	id       string
	approved bool
}

type fakeControls struct {
	table *confirm.Table

	mu       sync.Mutex
	resolved []resolution
	paused   []bool
	bargeIn  []float64
	perms    map[string]bool
	master   bool
	frames   [][]byte
	signal   chan struct{}
}

func newFakeControls() *fakeControls {
	return &fakeControls{table: confirm.NewTable(), signal: make(chan struct{}, 16)}
}

func (f *fakeControls) done() { f.signal <- struct{}{} }

func (f *fakeControls) ResolveConfirmation(id string, approved bool) error {
	f.mu.Lock()
	f.resolved = append(f.resolved, resolution{id, approved})
	f.mu.Unlock()
	defer f.done()
	return f.table.Resolve(id, approved)
}

func (f *fakeControls) PendingConfirmations() []confirm.Pending { return f.table.Pending() }

func (f *fakeControls) SetPaused(p bool) {
	f.mu.Lock()
	f.paused = append(f.paused, p)
	f.mu.Unlock()
	f.done()
}

func (f *fakeControls) SetBargeIn(_ bool, th float64) {
	f.mu.Lock()
	f.bargeIn = append(f.bargeIn, th)
	f.mu.Unlock()
	f.done()
}

func (f *fakeControls) UpdatePermissions(p map[string]bool, master bool) {
	f.mu.Lock()
	f.perms, f.master = p, master
	f.mu.Unlock()
	f.done()
}

func (f *fakeControls) PushFrame(_ string, data []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, data)
	f.mu.Unlock()
	f.done()
}

func (f *fakeControls) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("control not invoked")
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func dial(t *testing.T, h *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// ─── tests ──────────────────────────────────────────────────────────────────

func TestHub_BroadcastsEvents(t *testing.T) {
	t.Parallel()

	h := New(newFakeControls())
	srv := httptest.NewServer(h.Router())
	defer srv.Close()
	conn := dial(t, h, srv)

	h.OnTranscript(memory.SenderAgent, "Hello")
	h.OnConfirmationRequest("abc", "delete_file", `{"path":"x"}`)
	h.OnActivity(events.ActivityExecutingTools, []string{"delete_file"})
	h.OnStatus(events.StatusReconnecting, "")

	if m := readEvent(t, conn); m.Type != typeTranscript || m.Sender != "Agent" || m.Text != "Hello" {
		t.Errorf("transcript event = %+v", m)
	}
	if m := readEvent(t, conn); m.Type != typeConfirmation || m.ID != "abc" || m.Tool != "delete_file" {
		t.Errorf("confirmation event = %+v", m)
	}
	if m := readEvent(t, conn); m.Type != typeActivity || m.Activity != "executing_tools" || len(m.Tools) != 1 {
		t.Errorf("activity event = %+v", m)
	}
	if m := readEvent(t, conn); m.Type != typeStatus || m.Status != "reconnecting" {
		t.Errorf("status event = %+v", m)
	}
}

func TestHub_LateClientReceivesPendingConfirmations(t *testing.T) {
	t.Parallel()

	fc := newFakeControls()
	p := fc.table.Register("delete_file", `{"path":"x"}`)
	h := New(fc)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	// The request was raised before any client was connected.
	h.OnConfirmationRequest(p.ID, p.Tool, p.Args)
	conn := dial(t, h, srv)

	m := readEvent(t, conn)
	if m.Type != typeConfirmation || m.ID != p.ID || m.Tool != "delete_file" || m.Args != `{"path":"x"}` {
		t.Errorf("first event = %+v, want the pending confirmation", m)
	}

	send(t, conn, map[string]any{"type": "resolve", "id": p.ID, "approved": false})
	fc.wait(t)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.resolved) != 1 || fc.resolved[0] != (resolution{p.ID, false}) {
		t.Errorf("resolved = %+v", fc.resolved)
	}
}

func TestHub_InboundControls(t *testing.T) {
	t.Parallel()

	fc := newFakeControls()
	h := New(fc)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()
	conn := dial(t, h, srv)

	p := fc.table.Register("t", "{}")
	send(t, conn, map[string]any{"type": "resolve", "id": p.ID, "approved": true})
	fc.wait(t)
	send(t, conn, map[string]any{"type": "pause", "paused": true})
	fc.wait(t)
	send(t, conn, map[string]any{"type": "barge_in", "enabled": true, "threshold": 2000})
	fc.wait(t)
	send(t, conn, map[string]any{"type": "permissions", "permissions": map[string]bool{"t": false}, "master_control": true})
	fc.wait(t)
	send(t, conn, map[string]any{"type": "frame", "data": []byte{0xff, 0xd8}})
	fc.wait(t)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.resolved) != 1 || fc.resolved[0] != (resolution{p.ID, true}) {
		t.Errorf("resolved = %+v", fc.resolved)
	}
	if len(fc.paused) != 1 || !fc.paused[0] {
		t.Errorf("paused = %v", fc.paused)
	}
	if len(fc.bargeIn) != 1 || fc.bargeIn[0] != 2000 {
		t.Errorf("bargeIn = %v", fc.bargeIn)
	}
	if !fc.master || fc.perms["t"] {
		t.Errorf("perms = %v master = %v", fc.perms, fc.master)
	}
	if len(fc.frames) != 1 || len(fc.frames[0]) != 2 {
		t.Errorf("frames = %v", fc.frames)
	}
	if ok, _ := fc.table.Wait(context.Background(), p.ID); !ok {
		t.Error("confirmation not approved")
	}
}

func TestHub_ConfirmationAPI(t *testing.T) {
	t.Parallel()

	fc := newFakeControls()
	h := New(fc)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	p := fc.table.Register("send_email", `{"to":"a@b"}`)

	res, err := http.Get(srv.URL + "/confirmations")
	if err != nil {
		t.Fatal(err)
	}
	var list []confirmationView
	_ = json.NewDecoder(res.Body).Decode(&list)
	res.Body.Close()
	if len(list) != 1 || list[0].ID != p.ID || list[0].Tool != "send_email" {
		t.Fatalf("list = %+v", list)
	}

	post := func(id, body string) int {
		res, err := http.Post(srv.URL+"/confirmations/"+id, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		return res.StatusCode
	}

	if code := post(p.ID, `{}`); code != http.StatusBadRequest {
		t.Errorf("missing approved: status %d", code)
	}
	if code := post(p.ID, `{"approved":false}`); code != http.StatusNoContent {
		t.Errorf("resolve: status %d", code)
	}
	if code := post(p.ID, `{"approved":true}`); code != http.StatusConflict {
		t.Errorf("second resolve: status %d", code)
	}
	if code := post("missing", `{"approved":true}`); code != http.StatusNotFound {
		t.Errorf("unknown id: status %d", code)
	}
}
