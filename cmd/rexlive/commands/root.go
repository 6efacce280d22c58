// Package commands implements the rexlive CLI using cobra.
package commands

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/rexlive/internal/config"
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "config.yaml"

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rexlive",
		Short: "Real-time voice agent",
		Long: `rexlive streams your microphone to a speech-to-speech model, plays the
spoken answers, and lets the model call tools after your confirmation.

Examples:
  rexlive run
  rexlive run --config ./config.yaml
  rexlive devices
  rexlive history -n 20`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Existing environment variables win over .env entries.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		newRunCmd(version),
		newDevicesCmd(),
		newHistoryCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger returns a text logger on stderr whose level can change at
// runtime through the returned LevelVar.
func newLogger(cmd *cobra.Command, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.SlogLevel())
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		lvl.Set(slog.LevelDebug)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
