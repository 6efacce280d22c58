// Package memory defines the chat history persistence contract used by the
// session engine: every flushed conversational turn is logged, and the most
// recent turns are replayed to the remote service after a reconnect.
package memory

import (
	"fmt"
	"time"
)

// Sender identifies who spoke a chat turn.
type Sender string

const (
	// SenderNone marks an empty chat buffer.
	SenderNone Sender = ""

	// SenderUser is the human speaking into the device.
	SenderUser Sender = "User"

	// SenderAgent is the remote AI.
	SenderAgent Sender = "Agent"
)

// IsValid reports whether s is a loggable sender.
func (s Sender) IsValid() bool {
	return s == SenderUser || s == SenderAgent
}

// ChatMessage is one persisted conversational turn.
type ChatMessage struct {
	// ID is the store-assigned identifier. Zero for unsaved messages.
	ID int64

	Sender Sender
	Text   string

	// Timestamp is when the turn was logged.
	Timestamp time.Time
}

// String renders the message as "[sender]: text".
func (m ChatMessage) String() string {
	return fmt.Sprintf("[%s]: %s", m.Sender, m.Text)
}
