// Package confirm implements the human confirmation gate for tool calls.
//
// A [Table] holds one pending entry per outstanding request. The dispatcher
// registers an entry, announces its id to the front end and blocks in
// [Table.Wait] until the user resolves it or the session goes away. Each
// entry is resolved at most once.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownID is returned by Resolve when no entry exists for the id.
	ErrUnknownID = errors.New("confirm: unknown confirmation id")

	// ErrAlreadyResolved is returned by Resolve when the entry was already
	// resolved.
	ErrAlreadyResolved = errors.New("confirm: confirmation already resolved")
)

// Pending describes a tool call waiting for the user's decision.
type Pending struct {
	ID        string
	Tool      string
	Args      string
	CreatedAt time.Time

	result chan bool
}

// Table tracks pending confirmations. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Pending
	logger  *slog.Logger

	// onChange, if set, is called with the number of pending entries after
	// every registration and removal.
	onChange func(n int)
}

// Option configures a [Table].
type Option func(*Table)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithPendingGauge registers fn to be told the pending count whenever it
// changes.
func WithPendingGauge(fn func(n int)) Option {
	return func(t *Table) { t.onChange = fn }
}

// NewTable returns an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		pending: make(map[string]*Pending),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = t.logger.With("component", "confirm")
	return t
}

// Register creates a pending entry with a fresh id.
func (t *Table) Register(tool, args string) *Pending {
	p := &Pending{
		ID:        uuid.NewString(),
		Tool:      tool,
		Args:      args,
		CreatedAt: time.Now(),
		result:    make(chan bool, 1),
	}
	t.mu.Lock()
	t.pending[p.ID] = p
	n := len(t.pending)
	t.mu.Unlock()

	t.notify(n)
	t.logger.Info("confirmation requested", "id", p.ID, "tool", tool)
	return p
}

// Wait blocks until the entry is resolved or ctx is done. The entry is
// removed from the table on return either way. On cancellation the entry is
// abandoned unresolved and ctx.Err() is returned.
func (t *Table) Wait(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return false, ErrUnknownID
	}
	defer t.remove(id)

	select {
	case approved := <-p.result:
		t.logger.Info("confirmation resolved", "id", id, "tool", p.Tool, "approved", approved)
		return approved, nil
	case <-ctx.Done():
		t.logger.Debug("confirmation abandoned", "id", id, "tool", p.Tool)
		return false, ctx.Err()
	}
}

// Resolve delivers the user's decision for id. Resolving an unknown or
// already resolved id logs a warning and returns [ErrUnknownID] or
// [ErrAlreadyResolved]; it never blocks.
func (t *Table) Resolve(id string, approved bool) error {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		t.logger.Warn("resolve for unknown confirmation", "id", id)
		return ErrUnknownID
	}
	select {
	case p.result <- approved:
		return nil
	default:
		t.logger.Warn("confirmation resolved twice", "id", id, "tool", p.Tool)
		return ErrAlreadyResolved
	}
}

// Pending returns a snapshot of the outstanding entries.
func (t *Table) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, Pending{ID: p.ID, Tool: p.Tool, Args: p.Args, CreatedAt: p.CreatedAt})
	}
	return out
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Drain discards every outstanding entry without resolving it. Waiters
// still blocked are released by their own context.
func (t *Table) Drain() {
	t.mu.Lock()
	n := len(t.pending)
	clear(t.pending)
	t.mu.Unlock()
	if n > 0 {
		t.logger.Debug("confirmations drained", "count", n)
		t.notify(0)
	}
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	_, ok := t.pending[id]
	delete(t.pending, id)
	n := len(t.pending)
	t.mu.Unlock()
	if ok {
		t.notify(n)
	}
}

func (t *Table) notify(n int) {
	if t.onChange != nil {
		t.onChange(n)
	}
}
