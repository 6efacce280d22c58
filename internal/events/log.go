package events

import (
	"log/slog"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// LogListener writes every notification to a structured logger. It is the
// console front end used when no UI is attached.
type LogListener struct {
	Logger *slog.Logger
}

var _ Listener = LogListener{}

func (l LogListener) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogListener) OnTranscript(sender memory.Sender, delta string) {
	l.log().Debug("transcript", "sender", sender, "delta", delta)
}

func (l LogListener) OnConfirmationRequest(id, tool, args string) {
	l.log().Info("tool confirmation required", "id", id, "tool", tool, "args", args)
}

func (l LogListener) OnActivity(activity string, tools []string) {
	l.log().Info("activity", "activity", activity, "tools", tools)
}

func (l LogListener) OnStatus(status Status, detail string) {
	if detail == "" {
		l.log().Info("session status", "status", status)
		return
	}
	l.log().Info("session status", "status", status, "detail", detail)
}
