package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rexlive/internal/app"
	"github.com/MrWong99/rexlive/internal/config"
	"github.com/MrWong99/rexlive/internal/observe"
)

// shutdownTimeout bounds the teardown after the session stops.
const shutdownTimeout = 15 * time.Second

// newRunCmd creates the `rexlive run` command that starts the voice agent.
func newRunCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the voice agent",
		Long: `Connect to the configured speech-to-speech service and keep the
conversation running until interrupted. The configuration file is watched
and voice and permission changes apply without a restart.

Examples:
  rexlive run
  rexlive run --no-watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, version)
		},
	}
	cmd.Flags().Bool("no-watch", false, "disable config hot reload")
	return cmd
}

func runAgent(cmd *cobra.Command, version string) error {
	// ── Load config ──
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return err
	}

	// ── Logger ──
	logger, level := newLogger(cmd, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Providers ──
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{
		app.WithProviderRegistry(reg),
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithVersion(version),
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		opts = append(opts, app.WithConfigPath(path))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	printStartupSummary(cmd.OutOrStdout(), cfg, application.Tools())

	slog.Info("rexlive ready, press Ctrl+C to shut down", "config", path)
	runErr := application.Run(ctx)

	// ── Graceful shutdown ──
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

func printStartupSummary(w io.Writer, cfg *config.Config, tools []string) {
	audio := "local device"
	if cfg.Audio.Disabled {
		audio = "(disabled)"
	}
	bridge := "(disabled)"
	if cfg.Bridge.Enabled {
		bridge = "/bridge"
	}
	model := cfg.Provider.Model
	if model == "" {
		model = "default"
	}

	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║          rexlive · startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Provider        : %-23s ║\n", cfg.Provider.Name)
	fmt.Fprintf(w, "║  Model           : %-23s ║\n", model)
	fmt.Fprintf(w, "║  Fallbacks       : %-23d ║\n", len(cfg.Provider.Fallbacks))
	fmt.Fprintf(w, "║  Audio           : %-23s ║\n", audio)
	fmt.Fprintf(w, "║  Peer bridge     : %-23s ║\n", bridge)
	fmt.Fprintf(w, "║  Memory          : %-23s ║\n", cfg.Memory.Backend)
	fmt.Fprintf(w, "║  Tools           : %-23d ║\n", len(tools))
	fmt.Fprintf(w, "║  Master control  : %-23t ║\n", cfg.Tools.MasterControl)
	fmt.Fprintf(w, "║  Listen addr     : %-23s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}
