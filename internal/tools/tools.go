// Package tools maps tool calls from the remote model to local handlers.
//
// A [Registry] holds one [Descriptor] per tool. The [Dispatcher] runs a batch
// of calls concurrently, gating each through the [PermissionPolicy] and, when
// required, a human confirmation, and returns one response per settled call.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// ErrUnknownTool is reported for calls naming a tool that is not registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// DenialMessage is the response sent when the user rejects a tool call.
const DenialMessage = "User denied the request to use this tool."

// Shape is a tool's declared execution mode.
type Shape int

const (
	// Inline handlers are awaited; their output is the tool response.
	Inline Shape = iota

	// FireAndForget handlers run in the background on the session context.
	// The model gets an immediate acknowledgement.
	FireAndForget
)

func (s Shape) String() string {
	switch s {
	case Inline:
		return "inline"
	case FireAndForget:
		return "fire_and_forget"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// ParseShape converts a configuration value to a Shape.
func ParseShape(s string) (Shape, error) {
	switch s {
	case "", "inline":
		return Inline, nil
	case "fire_and_forget", "background":
		return FireAndForget, nil
	}
	return Inline, fmt.Errorf("tools: unknown shape %q", s)
}

// Handler executes a tool with JSON-encoded args. It must honour ctx.
type Handler func(ctx context.Context, args string) (string, error)

// Descriptor binds a tool's model-facing definition to its handler.
type Descriptor struct {
	Definition s2s.ToolDefinition
	Shape      Shape

	// Ack overrides the acknowledgement sent for FireAndForget tools.
	// Defaults to "<name> started.".
	Ack string

	Handler Handler
}

// Name returns the tool name.
func (d Descriptor) Name() string { return d.Definition.Name }

func (d Descriptor) ack() string {
	if d.Ack != "" {
		return d.Ack
	}
	return d.Definition.Name + " started."
}
