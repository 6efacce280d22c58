// Package sqlite provides a single-file [memory.ChatStore] on SQLite, for
// desktop deployments that do not run a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/MrWong99/rexlive/pkg/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    sender     TEXT    NOT NULL,
    text       TEXT    NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

var _ memory.ChatStore = (*Store)(nil)

// Store is a [memory.ChatStore] backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// LogChat implements [memory.ChatStore].
func (s *Store) LogChat(ctx context.Context, sender memory.Sender, text string) error {
	if !sender.IsValid() {
		return fmt.Errorf("sqlite store: log chat: %w: %q", memory.ErrInvalidSender, sender)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_history (sender, text) VALUES (?, ?)`, string(sender), text)
	if err != nil {
		return fmt.Errorf("sqlite store: log chat: %w", err)
	}
	return nil
}

// RecentChat implements [memory.ChatStore]. Rows are read newest first and
// reversed into chronological order.
func (s *Store) RecentChat(ctx context.Context, limit int) ([]memory.ChatMessage, error) {
	if limit <= 0 {
		return []memory.ChatMessage{}, nil
	}
	const q = `
		SELECT id, sender, text, created_at
		FROM   chat_history
		ORDER  BY id DESC
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent chat: %w", err)
	}
	defer rows.Close()

	msgs := []memory.ChatMessage{}
	for rows.Next() {
		var (
			m      memory.ChatMessage
			sender string
		)
		if err := rows.Scan(&m.ID, &sender, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		m.Sender = memory.Sender(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Ping implements [memory.ChatStore].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
