package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// ChatBuffer accumulates deltas for the current speaker's turn and persists
// the turn when the speaker changes or the turn completes.
//
// Not safe for concurrent use.
type ChatBuffer struct {
	store  memory.ChatStore
	sender memory.Sender
	text   strings.Builder
}

// NewChatBuffer returns a buffer that flushes into store. A nil store
// discards flushed turns.
func NewChatBuffer(store memory.ChatStore) *ChatBuffer {
	return &ChatBuffer{store: store}
}

// Append adds delta to the buffer. If sender differs from the buffered
// speaker, the previous turn is flushed first. The returned error comes from
// that flush; the delta is buffered regardless.
func (b *ChatBuffer) Append(ctx context.Context, sender memory.Sender, delta string) error {
	if delta == "" {
		return nil
	}
	var err error
	if b.sender != sender {
		err = b.Flush(ctx)
		b.sender = sender
	}
	b.text.WriteString(delta)
	return err
}

// Flush persists the buffered turn, if it holds any non-blank text, and
// resets the buffer. The buffer is reset even when persisting fails.
func (b *ChatBuffer) Flush(ctx context.Context) error {
	sender, text := b.sender, b.text.String()
	b.sender = memory.SenderNone
	b.text.Reset()

	if sender == memory.SenderNone || strings.TrimSpace(text) == "" || b.store == nil {
		return nil
	}
	if err := b.store.LogChat(ctx, sender, text); err != nil {
		return fmt.Errorf("transcript: flush %s turn: %w", sender, err)
	}
	return nil
}

// Sender returns the speaker of the buffered turn.
func (b *ChatBuffer) Sender() memory.Sender { return b.sender }

// Text returns the buffered text.
func (b *ChatBuffer) Text() string { return b.text.String() }
