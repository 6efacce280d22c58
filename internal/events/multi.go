package events

import (
	"slices"
	"sync"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// Multi fans notifications out to every registered listener, in
// registration order. Listeners are called synchronously and must not
// block. Multi is safe for concurrent use.
type Multi struct {
	mu        sync.RWMutex
	listeners []Listener
}

var _ Listener = (*Multi)(nil)

// NewMulti returns a fan-out over ls.
func NewMulti(ls ...Listener) *Multi {
	return &Multi{listeners: slices.Clone(ls)}
}

// Add registers l.
func (m *Multi) Add(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func (m *Multi) snapshot() []Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listeners
}

// OnTranscript implements [TranscriptListener].
func (m *Multi) OnTranscript(sender memory.Sender, delta string) {
	for _, l := range m.snapshot() {
		l.OnTranscript(sender, delta)
	}
}

// OnConfirmationRequest implements [ConfirmationListener].
func (m *Multi) OnConfirmationRequest(id, tool, args string) {
	for _, l := range m.snapshot() {
		l.OnConfirmationRequest(id, tool, args)
	}
}

// OnActivity implements [ActivityListener].
func (m *Multi) OnActivity(activity string, tools []string) {
	for _, l := range m.snapshot() {
		l.OnActivity(activity, tools)
	}
}

// OnStatus implements [StatusListener].
func (m *Multi) OnStatus(status Status, detail string) {
	for _, l := range m.snapshot() {
		l.OnStatus(status, detail)
	}
}
