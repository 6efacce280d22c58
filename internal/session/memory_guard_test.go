package session

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/rexlive/pkg/memory"
	memmock "github.com/MrWong99/rexlive/pkg/memory/mock"
)

func TestMemoryGuard_LogChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("successful write", func(t *testing.T) {
		t.Parallel()
		store := &memmock.ChatStore{}
		mg := NewMemoryGuard(store, nil)
		if err := mg.LogChat(ctx, memory.SenderUser, "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mg.IsDegraded() {
			t.Error("degraded after successful write")
		}
		if n := len(store.Messages()); n != 1 {
			t.Errorf("stored %d messages, want 1", n)
		}
	})

	t.Run("failure is swallowed and recovers", func(t *testing.T) {
		t.Parallel()
		store := &memmock.ChatStore{LogErr: errors.New("disk full")}
		mg := NewMemoryGuard(store, nil)
		if err := mg.LogChat(ctx, memory.SenderAgent, "a"); err != nil {
			t.Fatalf("expected swallowed error, got %v", err)
		}
		if !mg.IsDegraded() {
			t.Error("not degraded after failed write")
		}
		store.LogErr = nil
		_ = mg.LogChat(ctx, memory.SenderAgent, "b")
		if mg.IsDegraded() {
			t.Error("still degraded after recovery")
		}
	})

	t.Run("invalid sender is reported", func(t *testing.T) {
		t.Parallel()
		mg := NewMemoryGuard(&memmock.ChatStore{}, nil)
		if err := mg.LogChat(ctx, memory.SenderNone, "x"); !errors.Is(err, memory.ErrInvalidSender) {
			t.Errorf("err = %v, want ErrInvalidSender", err)
		}
	})
}

func TestMemoryGuard_RecentChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &memmock.ChatStore{RecentErr: errors.New("timeout")}
	mg := NewMemoryGuard(store, nil)
	msgs, err := mg.RecentChat(ctx, 10)
	if err != nil || msgs == nil || len(msgs) != 0 {
		t.Errorf("RecentChat = %v, %v; want empty non-nil slice", msgs, err)
	}
	if !mg.IsDegraded() {
		t.Error("not degraded after failed read")
	}

	store.RecentErr = nil
	store.Seed(memory.ChatMessage{Sender: memory.SenderUser, Text: "hi"})
	msgs, _ = mg.RecentChat(ctx, 10)
	if len(msgs) != 1 || mg.IsDegraded() {
		t.Errorf("after recovery: %d msgs, degraded=%v", len(msgs), mg.IsDegraded())
	}
}

func TestMemoryGuard_PingReportsError(t *testing.T) {
	t.Parallel()

	store := &memmock.ChatStore{PingErr: errors.New("refused")}
	mg := NewMemoryGuard(store, nil)
	if err := mg.Ping(context.Background()); err == nil {
		t.Error("Ping swallowed error")
	}
	if !mg.IsDegraded() {
		t.Error("not degraded after failed ping")
	}
}
