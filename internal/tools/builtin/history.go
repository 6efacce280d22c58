package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

const (
	defaultRecall = 20
	maxRecall     = 200
)

// History returns recall_conversation, which reads the most recent turns
// from store.
func History(store memory.ChatStore) tools.Descriptor {
	return tools.Descriptor{
		Definition: s2s.ToolDefinition{
			Name:        "recall_conversation",
			Description: "Recall the most recent turns of the conversation history, oldest first.",
			Parameters: objectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Number of turns to return (default %d, max %d).", defaultRecall, maxRecall),
				},
			}),
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var a struct {
				Limit int `json:"limit"`
			}
			if err := tools.DecodeArgs(args, &a); err != nil {
				return "", fmt.Errorf("builtin: recall_conversation: invalid arguments: %w", err)
			}
			if a.Limit <= 0 {
				a.Limit = defaultRecall
			}
			a.Limit = min(a.Limit, maxRecall)

			msgs, err := store.RecentChat(ctx, a.Limit)
			if err != nil {
				return "", fmt.Errorf("builtin: recall_conversation: %w", err)
			}
			if len(msgs) == 0 {
				return "No conversation history yet.", nil
			}
			var sb strings.Builder
			for _, m := range msgs {
				sb.WriteString(m.String())
				sb.WriteByte('\n')
			}
			return sb.String(), nil
		},
	}
}
