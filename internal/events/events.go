// Package events defines the notifications a running session emits to its
// front ends, one listener interface per category.
package events

import "github.com/MrWong99/rexlive/pkg/memory"

// Status is a coarse session lifecycle or fault notification.
type Status string

const (
	StatusConnecting    Status = "connecting"
	StatusActive        Status = "active"
	StatusReconnecting  Status = "reconnecting"
	StatusStopped       Status = "stopped"
	StatusPaused        Status = "paused"
	StatusResumed       Status = "resumed"
	StatusAudioDisabled Status = "audio_disabled"
	StatusToolError     Status = "tool_error"
)

// Activity values reported around tool batches.
const (
	ActivityExecutingTools = "executing_tools"
	ActivityIdle           = "idle"
)

// TranscriptListener receives transcript deltas in arrival order.
type TranscriptListener interface {
	OnTranscript(sender memory.Sender, delta string)
}

// ConfirmationListener is asked to present a pending tool confirmation to
// the user. The answer comes back through confirm.Table.Resolve.
type ConfirmationListener interface {
	OnConfirmationRequest(id, tool, args string)
}

// ActivityListener is told what the agent is busy with.
type ActivityListener interface {
	OnActivity(activity string, tools []string)
}

// StatusListener is told about lifecycle changes and degraded components.
type StatusListener interface {
	OnStatus(status Status, detail string)
}

// Listener is the union of all categories.
type Listener interface {
	TranscriptListener
	ConfirmationListener
	ActivityListener
	StatusListener
}

// Nop ignores every notification. Embed it to implement a subset.
type Nop struct{}

func (Nop) OnTranscript(memory.Sender, string)           {}
func (Nop) OnConfirmationRequest(string, string, string) {}
func (Nop) OnActivity(string, []string)                  {}
func (Nop) OnStatus(Status, string)                      {}

var _ Listener = Nop{}
