// Package mock provides an in-memory [memory.ChatStore] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// ChatStore is an in-memory [memory.ChatStore]. Set the Err fields to inject
// failures.
type ChatStore struct {
	mu   sync.Mutex
	msgs []memory.ChatMessage

	// LogErr is returned by LogChat when non-nil.
	LogErr error

	// RecentErr is returned by RecentChat when non-nil.
	RecentErr error

	// PingErr is returned by Ping.
	PingErr error

	// RecentCalls records the limit of every RecentChat call.
	RecentCalls []int
}

var _ memory.ChatStore = (*ChatStore)(nil)

// LogChat implements [memory.ChatStore].
func (s *ChatStore) LogChat(_ context.Context, sender memory.Sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LogErr != nil {
		return s.LogErr
	}
	if !sender.IsValid() {
		return memory.ErrInvalidSender
	}
	s.msgs = append(s.msgs, memory.ChatMessage{
		ID:        int64(len(s.msgs) + 1),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

// RecentChat implements [memory.ChatStore].
func (s *ChatStore) RecentChat(_ context.Context, limit int) ([]memory.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecentCalls = append(s.RecentCalls, limit)
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if limit <= 0 {
		return []memory.ChatMessage{}, nil
	}
	start := max(len(s.msgs)-limit, 0)
	return append([]memory.ChatMessage{}, s.msgs[start:]...), nil
}

// Ping implements [memory.ChatStore].
func (s *ChatStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [memory.ChatStore].
func (s *ChatStore) Close() error { return nil }

// Messages returns a copy of every logged message.
func (s *ChatStore) Messages() []memory.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.ChatMessage{}, s.msgs...)
}

// Seed appends messages directly, bypassing LogErr.
func (s *ChatStore) Seed(msgs ...memory.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
}

// RecentCallCount returns how many times RecentChat was called.
func (s *ChatStore) RecentCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RecentCalls)
}
