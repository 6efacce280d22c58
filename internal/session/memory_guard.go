package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// MemoryGuard wraps a [memory.ChatStore] and makes chat persistence
// non-fatal. A failed LogChat is logged and swallowed; a failed RecentChat
// yields no history. The conversation carries on while the database is
// down, and IsDegraded reports the outage to readiness checks.
//
// MemoryGuard implements [memory.ChatStore] and is safe for concurrent use.
type MemoryGuard struct {
	store    memory.ChatStore
	log      *slog.Logger
	degraded atomic.Bool
}

var _ memory.ChatStore = (*MemoryGuard)(nil)

// NewMemoryGuard wraps store.
func NewMemoryGuard(store memory.ChatStore, logger *slog.Logger) *MemoryGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryGuard{store: store, log: logger.With("component", "memory_guard")}
}

// LogChat implements [memory.ChatStore]. Storage failures are swallowed;
// an invalid sender is still reported.
func (mg *MemoryGuard) LogChat(ctx context.Context, sender memory.Sender, text string) error {
	if !sender.IsValid() {
		return memory.ErrInvalidSender
	}
	if err := mg.store.LogChat(ctx, sender, text); err != nil {
		mg.degraded.Store(true)
		mg.log.Warn("LogChat failed, turn not persisted", "sender", sender, "err", err)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// RecentChat implements [memory.ChatStore]. On failure it returns an empty
// history.
func (mg *MemoryGuard) RecentChat(ctx context.Context, limit int) ([]memory.ChatMessage, error) {
	msgs, err := mg.store.RecentChat(ctx, limit)
	if err != nil {
		mg.degraded.Store(true)
		mg.log.Warn("RecentChat failed, returning empty", "limit", limit, "err", err)
		return []memory.ChatMessage{}, nil
	}
	mg.degraded.Store(false)
	return msgs, nil
}

// Ping implements [memory.ChatStore]. Unlike the other methods it reports
// the underlying error.
func (mg *MemoryGuard) Ping(ctx context.Context) error {
	err := mg.store.Ping(ctx)
	mg.degraded.Store(err != nil)
	return err
}

// Close implements [memory.ChatStore].
func (mg *MemoryGuard) Close() error { return mg.store.Close() }

// IsDegraded reports whether the most recent store operation failed.
func (mg *MemoryGuard) IsDegraded() bool { return mg.degraded.Load() }
