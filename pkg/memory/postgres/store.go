package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/rexlive/pkg/memory"
)

var _ memory.ChatStore = (*Store)(nil)

// Store is a [memory.ChatStore] backed by a chat_history table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies connectivity and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// LogChat implements [memory.ChatStore].
func (s *Store) LogChat(ctx context.Context, sender memory.Sender, text string) error {
	if !sender.IsValid() {
		return fmt.Errorf("postgres store: log chat: %w: %q", memory.ErrInvalidSender, sender)
	}
	const q = `INSERT INTO chat_history (sender, text) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, string(sender), text); err != nil {
		return fmt.Errorf("postgres store: log chat: %w", err)
	}
	return nil
}

// RecentChat implements [memory.ChatStore]. The newest rows are selected
// and then re-ordered chronologically.
func (s *Store) RecentChat(ctx context.Context, limit int) ([]memory.ChatMessage, error) {
	if limit <= 0 {
		return []memory.ChatMessage{}, nil
	}
	const q = `
		SELECT id, sender, text, created_at FROM (
		    SELECT id, sender, text, created_at
		    FROM   chat_history
		    ORDER  BY id DESC
		    LIMIT  $1
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent chat: %w", err)
	}
	return collectMessages(rows)
}

// Ping implements [memory.ChatStore].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectMessages scans pgx rows into chat messages.
func collectMessages(rows pgx.Rows) ([]memory.ChatMessage, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChatMessage, error) {
		var (
			m      memory.ChatMessage
			sender string
		)
		if err := row.Scan(&m.ID, &sender, &m.Text, &m.Timestamp); err != nil {
			return memory.ChatMessage{}, err
		}
		m.Sender = memory.Sender(sender)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []memory.ChatMessage{}
	}
	return msgs, nil
}
