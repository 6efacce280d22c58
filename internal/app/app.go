// Package app wires all rexlive subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds and connects every
// subsystem, Run serves HTTP and supervises the live session, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithStore, WithDevice). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rexlive/internal/config"
	"github.com/MrWong99/rexlive/internal/events"
	"github.com/MrWong99/rexlive/internal/events/hub"
	"github.com/MrWong99/rexlive/internal/health"
	"github.com/MrWong99/rexlive/internal/observe"
	"github.com/MrWong99/rexlive/internal/resilience"
	"github.com/MrWong99/rexlive/internal/session"
	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/internal/tools/builtin"
	"github.com/MrWong99/rexlive/internal/tools/mcptools"
	"github.com/MrWong99/rexlive/pkg/audio"
	"github.com/MrWong99/rexlive/pkg/audio/native"
	"github.com/MrWong99/rexlive/pkg/bridge"
	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/memory/postgres"
	"github.com/MrWong99/rexlive/pkg/memory/sqlite"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	"github.com/MrWong99/rexlive/pkg/video"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	providers    *config.Registry
	provider     s2s.Provider
	providerName string

	// Subsystems, initialised in New and torn down in Shutdown.
	rawStore   memory.ChatStore
	store      *session.MemoryGuard
	device     audio.Device
	peer       *bridge.Server
	frames     video.Source
	registry   *tools.Registry
	policy     *tools.PermissionPolicy
	mcpHost    *mcptools.Host
	listeners  *events.Multi
	controller *session.Controller
	hub        *hub.Hub
	health     *health.Handler
	handler    http.Handler

	// configPath enables the hot-reload watcher in Run.
	configPath string

	// closers are called in order during Shutdown.
	closers []func() error

	mu       sync.Mutex
	addr     net.Addr
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithProviderRegistry supplies the factories used to build the configured
// speech-to-speech providers.
func WithProviderRegistry(r *config.Registry) Option {
	return func(a *App) { a.providers = r }
}

// WithProvider injects a ready provider instead of building one from config.
func WithProvider(name string, p s2s.Provider) Option {
	return func(a *App) {
		a.providerName = name
		a.provider = p
	}
}

// WithStore injects a chat store instead of opening the configured backend.
func WithStore(s memory.ChatStore) Option {
	return func(a *App) { a.rawStore = s }
}

// WithDevice injects the local audio device instead of opening the native
// one.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets hot reload change the level of the logger passed to
// WithLogger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics overrides the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigPath enables hot reload of the given file while Run executes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the version reported to MCP servers.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error every
// subsystem opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Provider ──────────────────────────────────────────────────────
	if a.provider == nil {
		p, err := BuildProvider(a.cfg.Provider, a.providers)
		if err != nil {
			return fmt.Errorf("app: init provider: %w", err)
		}
		a.provider = p
		a.providerName = a.cfg.Provider.Name
	}

	// ── 2. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return fmt.Errorf("app: init memory: %w", err)
	}

	// ── 3. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. Devices ───────────────────────────────────────────────────────
	a.initDevices()

	// ── 5. Session controller + event hub ────────────────────────────────
	if err := a.initSession(); err != nil {
		return fmt.Errorf("app: init session: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// BuildProvider creates the configured provider. When fallbacks are listed
// the result fails over to them at connect time.
func BuildProvider(pc config.ProviderConfig, reg *config.Registry) (s2s.Provider, error) {
	if reg == nil {
		return nil, errors.New("no provider registry configured")
	}
	primary, err := reg.Create(pc.ProviderEntry)
	if err != nil {
		return nil, err
	}
	if len(pc.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewS2SFallback(pc.Name, primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3},
	})
	for i, entry := range pc.Fallbacks {
		p, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
	}
	return fb, nil
}

// OpenStore opens the chat store selected by mc. It returns nil for the
// "none" backend.
func OpenStore(ctx context.Context, mc config.MemoryConfig) (memory.ChatStore, error) {
	switch mc.Backend {
	case config.MemoryNone, "":
		return nil, nil
	case config.MemoryPostgres:
		return postgres.NewStore(ctx, mc.DSN)
	case config.MemorySQLite:
		return sqlite.Open(mc.DSN)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", mc.Backend)
	}
}

// initMemory opens the configured chat store unless one was injected, and
// wraps it so persistence failures never end the conversation.
func (a *App) initMemory(ctx context.Context) error {
	if a.rawStore == nil {
		s, err := OpenStore(ctx, a.cfg.Memory)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		a.rawStore = s
		a.logger.Info("chat store opened", "backend", a.cfg.Memory.Backend)
	}

	a.store = session.NewMemoryGuard(a.rawStore, a.logger)
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initTools fills the registry with the built-in tools and every configured
// MCP server, then applies shape overrides.
func (a *App) initTools(ctx context.Context) error {
	reg, err := tools.NewRegistry()
	if err != nil {
		return err
	}
	a.registry = reg
	tc := a.cfg.Tools

	var descs []tools.Descriptor
	if tc.WorkspaceDir != "" {
		descs = append(descs, builtin.Workspace(tc.WorkspaceDir)...)
	}
	if tc.History && a.store != nil {
		descs = append(descs, builtin.History(a.store))
	}

	if len(tc.MCPServers) > 0 {
		a.mcpHost = mcptools.New(a.version, resilience.CircuitBreakerConfig{})
		a.closers = append(a.closers, a.mcpHost.Close)
	}
	for _, srv := range tc.MCPServers {
		shape, err := tools.ParseShape(srv.Shape)
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		ds, err := a.mcpHost.Connect(ctx, mcptools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			Env:       srv.Env,
			URL:       srv.URL,
			Shape:     shape,
		})
		if err != nil {
			return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
		}
		a.logger.Info("connected MCP server", "name", srv.Name, "tools", len(ds))
		descs = append(descs, ds...)
	}

	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	for name, s := range tc.Shapes {
		shape, err := tools.ParseShape(s)
		if err != nil {
			return fmt.Errorf("shape for %q: %w", name, err)
		}
		if err := reg.SetShape(name, shape); err != nil {
			a.logger.Warn("shape override for unknown tool ignored", "tool", name, "err", err)
		}
	}

	a.policy = tools.NewPermissionPolicy(tc.Permissions, tc.MasterControl)
	return nil
}

// initDevices opens the native audio device, the peer bridge and the
// snapshot source as configured. A missing audio device is not fatal.
func (a *App) initDevices() {
	if a.device == nil && !a.cfg.Audio.Disabled {
		d, err := native.New()
		if err != nil {
			a.logger.Warn("audio device unavailable, continuing without local audio", "err", err)
		} else {
			a.device = d
			a.closers = append(a.closers, d.Close)
		}
	}

	if a.cfg.Bridge.Enabled {
		a.peer = bridge.NewServer(bridge.ServerOptions{
			PeerRate:     a.cfg.Bridge.PeerRate,
			CaptureRate:  a.cfg.Audio.CaptureRate,
			PlaybackRate: a.cfg.Audio.PlaybackRate,
			QueueSize:    a.cfg.Bridge.QueueSize,
		})
	}

	if a.cfg.Video.SnapshotPath != "" {
		src := video.NewFileSource(a.cfg.Video.SnapshotPath, a.cfg.Video.PollInterval)
		a.frames = src
		a.closers = append(a.closers, src.Close)
	}
}

func (a *App) initSession() error {
	a.listeners = events.NewMulti(events.LogListener{Logger: a.logger})

	sc := session.Config{
		ProviderName: a.providerName,
		Provider:     a.provider,
		Session: s2s.SessionConfig{
			Voice:        a.cfg.Provider.Voice,
			Instructions: a.cfg.Provider.Instructions,
		},
		Registry:     a.registry,
		Policy:       a.policy,
		Listener:     a.listeners,
		Metrics:      a.metrics,
		Logger:       a.logger,
		Voice:        a.cfg.Voice.Settings(),
		FinishDelay:  a.cfg.Voice.FinishDelay,
		CaptureRate:  a.cfg.Audio.CaptureRate,
		PlaybackRate: a.cfg.Audio.PlaybackRate,
		ChunkFrames:  a.cfg.Audio.ChunkFrames,
		StartMessage: a.cfg.Session.StartMessage,
		HistoryLimit: a.cfg.Session.HistoryLimit,
		BackoffMin:   a.cfg.Session.BackoffMin,
		BackoffMax:   a.cfg.Session.BackoffMax,
	}
	// Interface fields stay nil unless the subsystem exists.
	if a.device != nil {
		sc.Device = a.device
	}
	if a.peer != nil {
		sc.Peer = a.peer
	}
	if a.frames != nil {
		sc.Video = a.frames
	}
	if a.store != nil {
		sc.Store = a.store
	}

	ctrl, err := session.New(sc)
	if err != nil {
		return err
	}
	a.controller = ctrl

	a.hub = hub.New(ctrl,
		hub.WithLogger(a.logger),
		hub.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	)
	a.listeners.Add(a.hub)
	return nil
}

// initHTTP builds the router:
//
//	GET  /healthz, /readyz   probes
//	GET  /metrics            Prometheus scrape endpoint
//	     /api/...            event hub (WebSocket and confirmations)
//	GET  /bridge             peer device WebSocket (when enabled)
func (a *App) initHTTP() {
	checks := []health.Checker{
		health.State("session", a.controller.State, session.StateActive),
	}
	if a.store != nil {
		checks = append(checks,
			health.Ping("memory", a.store),
			health.NotDegraded("memory_writes", a.store),
		)
	}
	a.health = health.New(checks...)

	r := chi.NewRouter()
	r.Use(observe.Middleware(a.metrics))
	a.health.Mount(r)
	r.Handle("/metrics", observe.MetricsHandler())
	r.Mount("/api", a.hub.Router())
	if a.peer != nil {
		r.Handle("/bridge", a.peer)
	}
	a.handler = r
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Tools returns the names of every registered tool.
func (a *App) Tools() []string {
	defs := a.registry.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Addr returns the address the HTTP server listens on, or nil before Run
// has bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and keeps the session alive until ctx is cancelled. It
// returns nil on a requested stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyReload, config.WithWatchLogger(a.logger))
		if err != nil {
			a.logger.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			defer w.Stop()
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.controller.Run(ctx)
	})

	a.logger.Info("rexlive running",
		"addr", ln.Addr().String(),
		"provider", a.providerName,
		"tools", a.registry.Len(),
		"local_audio", a.device != nil,
		"bridge", a.peer != nil,
	)
	return g.Wait()
}

// ApplyReload applies the hot-reloadable parts of a changed config to the
// running app. Changes that need a restart are logged.
func (a *App) ApplyReload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.controller.SetVoiceSettings(new.Voice.Settings())
		a.logger.Info("voice settings reloaded")
	}
	if d.PermissionsChanged {
		a.controller.UpdatePermissions(new.Tools.Permissions, new.Tools.MasterControl)
		a.logger.Info("tool permissions reloaded", "master_control", new.Tools.MasterControl)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs all closers in order. If ctx expires before all closers
// finish, the rest are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
