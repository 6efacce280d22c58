// Package postgres provides a PostgreSQL-backed [memory.ChatStore] using a
// pgx connection pool.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.LogChat(ctx, memory.SenderUser, "hello")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatHistory = `
CREATE TABLE IF NOT EXISTS chat_history (
    id         BIGSERIAL    PRIMARY KEY,
    sender     TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_history_created_at
    ON chat_history (created_at);
`

// Migrate creates the chat history table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChatHistory); err != nil {
		return fmt.Errorf("postgres: migrate chat_history: %w", err)
	}
	return nil
}
