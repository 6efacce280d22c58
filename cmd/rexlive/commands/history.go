package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rexlive/internal/app"
	"github.com/MrWong99/rexlive/pkg/memory"
)

// newHistoryCmd creates the `rexlive history` command that prints the most
// recent chat turns from the configured store.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent conversation turns",
		Long: `Print the most recent chat turns, oldest first, from the memory
backend named in the configuration.

Examples:
  rexlive history
  rexlive history -n 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("limit")
			if n <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", n)
			}

			store, err := app.OpenStore(cmd.Context(), cfg.Memory)
			if err != nil {
				return fmt.Errorf("open chat store: %w", err)
			}
			if store == nil {
				return errors.New("memory.backend is none; no history is kept")
			}
			defer store.Close()

			msgs, err := store.RecentChat(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			printHistory(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 10, "number of turns to print")
	return cmd
}

func printHistory(w io.Writer, msgs []memory.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No conversation history yet.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"), m)
	}
}
