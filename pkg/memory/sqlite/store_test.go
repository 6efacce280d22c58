package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/memory/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "data", "chat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RecentChatReturnsNewestOldestFirst(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	ctx := context.Background()

	for i := range 12 {
		sender := memory.SenderUser
		if i%2 == 1 {
			sender = memory.SenderAgent
		}
		if err := store.LogChat(ctx, sender, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("LogChat: %v", err)
		}
	}

	got, err := store.RecentChat(ctx, 10)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0].Text != "msg-2" || got[9].Text != "msg-11" {
		t.Errorf("window = %q..%q, want msg-2..msg-11", got[0].Text, got[9].Text)
	}
	if got[0].Sender != memory.SenderUser || got[9].Sender != memory.SenderAgent {
		t.Errorf("senders = %q..%q", got[0].Sender, got[9].Sender)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be populated")
	}
}

func TestStore_EmptyAndNonPositiveLimit(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	ctx := context.Background()

	got, err := store.RecentChat(ctx, 5)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty store returned %d messages", len(got))
	}

	_ = store.LogChat(ctx, memory.SenderUser, "x")
	got, err = store.RecentChat(ctx, -1)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("negative limit returned %d messages", len(got))
	}
}

func TestStore_LogChatRejectsInvalidSender(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	err := store.LogChat(context.Background(), memory.Sender("Robot"), "x")
	if !errors.Is(err, memory.ErrInvalidSender) {
		t.Fatalf("err = %v, want ErrInvalidSender", err)
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	if err := openStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
