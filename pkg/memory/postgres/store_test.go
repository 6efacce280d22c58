package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if REXLIVE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("REXLIVE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REXLIVE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a Store on a freshly dropped chat_history table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS chat_history`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RecentChatReturnsNewestOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		sender := memory.SenderUser
		if i%2 == 1 {
			sender = memory.SenderAgent
		}
		if err := store.LogChat(ctx, sender, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("LogChat: %v", err)
		}
	}

	got, err := store.RecentChat(ctx, 3)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	want := []string{"msg-2", "msg-3", "msg-4"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Text, w)
		}
	}
	if got[1].Sender != memory.SenderAgent {
		t.Errorf("got[1].Sender = %q, want Agent", got[1].Sender)
	}
}

func TestStore_LogChatRejectsInvalidSender(t *testing.T) {
	store := newTestStore(t)
	err := store.LogChat(context.Background(), memory.SenderNone, "x")
	if !errors.Is(err, memory.ErrInvalidSender) {
		t.Fatalf("err = %v, want ErrInvalidSender", err)
	}
}

func TestStore_RecentChatNonPositiveLimit(t *testing.T) {
	store := newTestStore(t)
	got, err := store.RecentChat(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}
