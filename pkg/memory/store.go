package memory

import (
	"context"
	"errors"
)

// ErrInvalidSender is returned by [ChatStore.LogChat] for an unknown sender.
var ErrInvalidSender = errors.New("memory: invalid sender")

// ChatStore persists chat turns.
//
// Implementations must be safe for concurrent use.
type ChatStore interface {
	// LogChat appends one turn.
	LogChat(ctx context.Context, sender Sender, text string) error

	// RecentChat returns at most limit of the most recent turns, oldest
	// first. A non-positive limit returns an empty slice.
	RecentChat(ctx context.Context, limit int) ([]ChatMessage, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
