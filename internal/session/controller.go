// Package session runs one supervised conversation with a remote
// speech-to-speech service.
//
// A [Controller] connects through an [s2s.Provider], starts the sender,
// capture, playback, optional video and receiver pipelines under one
// errgroup, and reconnects with exponential backoff when any of them fails.
// After a reconnect the most recent chat turns are replayed to the service so
// the conversation resumes where it left off.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rexlive/internal/confirm"
	"github.com/MrWong99/rexlive/internal/events"
	"github.com/MrWong99/rexlive/internal/observe"
	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/internal/transcript"
	"github.com/MrWong99/rexlive/internal/voice"
	"github.com/MrWong99/rexlive/pkg/audio"
	"github.com/MrWong99/rexlive/pkg/bridge"
	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	"github.com/MrWong99/rexlive/pkg/video"
)

// Defaults applied by [New].
const (
	DefaultCaptureRate  = 16000
	DefaultPlaybackRate = 24000
	DefaultChunkFrames  = 1024
	DefaultHistoryLimit = 10

	// pauseSleep is how long the capture pipeline idles per cycle while
	// paused or after a transient read error.
	pauseSleep = 100 * time.Millisecond

	outboundQueueSize = 64
	playbackQueueSize = 256
)

// Reconnect notification framing. The history lines sit between the two.
const (
	reconnectPreamble = "System Notification: Connection was lost and just re-established. " +
		"Here is the recent chat history to help you resume seamlessly:\n\n"
	reconnectTrailer = "\nPlease acknowledge the reconnection to the user " +
		"(e.g. 'I lost connection for a moment, but I'm back...') and resume what you were doing."
	notificationPrefix = "System Notification: "
)

// State is the lifecycle phase of a [Controller].
type State string

// Controller states.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Config holds the dependencies and tunables of a [Controller]. Provider is
// required; every other field is optional.
type Config struct {
	// ProviderName labels metrics and logs.
	ProviderName string

	Provider s2s.Provider

	// Session is passed to every Connect. Tools is overwritten with the
	// registry's definitions.
	Session s2s.SessionConfig

	// Device opens the local microphone and speaker. Nil disables local
	// audio; a peer bridge can still carry the conversation.
	Device audio.Device

	// Peer is an optional remote device whose audio preempts the mic.
	Peer bridge.Peer

	// Video is an optional frame source feeding the frame gate.
	Video video.Source

	// Store persists chat turns and serves context replay. Nil discards.
	Store memory.ChatStore

	Registry *tools.Registry
	Policy   *tools.PermissionPolicy

	// Listener receives transcript, confirmation, activity and status
	// events.
	Listener events.Listener

	Metrics *observe.Metrics
	Logger  *slog.Logger

	Voice       voice.Settings
	FinishDelay time.Duration

	// CaptureRate and PlaybackRate are the local device rates. Audio is
	// resampled to and from the provider's native rates.
	CaptureRate  int
	PlaybackRate int
	ChunkFrames  int

	// StartMessage is sent as a user turn on the first activation only.
	StartMessage string

	// HistoryLimit is how many chat turns are replayed after a reconnect.
	HistoryLimit int

	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Controller supervises the remote session and its pipelines. Its control
// methods are safe for concurrent use while Run is executing.
type Controller struct {
	cfg      Config
	log      *slog.Logger
	listener events.Listener
	metrics  *observe.Metrics

	gate       *voice.Gate
	agent      *voice.AgentState
	frames     *voice.FrameGate
	confirms   *confirm.Table
	policy     *tools.PermissionPolicy
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	backoff    *Backoff

	paused atomic.Bool

	// wait sleeps between reconnect attempts.
	wait func(context.Context, time.Duration) bool

	mu     sync.Mutex
	state  State
	live   *conn
	runCtx context.Context
}

// New validates cfg, applies defaults and returns a Controller ready to Run.
func New(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "s2s"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Listener == nil {
		cfg.Listener = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Voice == (voice.Settings{}) {
		cfg.Voice = voice.DefaultSettings()
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = DefaultCaptureRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Registry == nil {
		reg, err := tools.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		cfg.Registry = reg
	}
	if cfg.Policy == nil {
		cfg.Policy = tools.NewPermissionPolicy(nil, false)
	}

	c := &Controller{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "session", "provider", cfg.ProviderName),
		listener: cfg.Listener,
		metrics:  cfg.Metrics,
		agent:    voice.NewAgentState(cfg.FinishDelay),
		frames:   &voice.FrameGate{},
		policy:   cfg.Policy,
		registry: cfg.Registry,
		backoff:  NewBackoff(cfg.BackoffMin, cfg.BackoffMax),
		wait:     sleep,
		state:    StateIdle,
	}
	c.gate = voice.NewGate(cfg.Voice, c.agent)
	c.confirms = confirm.NewTable(
		confirm.WithLogger(cfg.Logger),
		confirm.WithPendingGauge(func(n int) {
			c.metrics.ConfirmationsPending.Record(context.Background(), int64(n))
		}),
	)
	c.dispatcher = tools.NewDispatcher(cfg.Registry, cfg.Policy, c.confirms,
		tools.WithListener(cfg.Listener),
		tools.WithMetrics(cfg.Metrics),
		tools.WithLogger(cfg.Logger),
		tools.WithBackgroundResult(c.onBackgroundResult),
		tools.WithBackgroundContext(c.backgroundContext),
	)
	return c, nil
}

// ── Lifecycle ──────────────────────────────────────────────────────────────

// Run connects and keeps the session alive until ctx is cancelled. It only
// returns once every pipeline has stopped and every device handle is
// closed. Connection failures are retried forever; Run returns nil on a
// requested stop.
func (c *Controller) Run(ctx context.Context) error {
	defer c.setState(StateStopped, "")
	// Background tools honour ctx, so they end with Run.
	defer c.dispatcher.Wait()

	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	reconnect := false
	for {
		c.setState(StateConnecting, "")
		handle, err := c.connect(ctx)
		if err == nil {
			err = c.runSession(ctx, handle, reconnect)
		}
		if ctx.Err() != nil {
			return nil
		}
		// Whatever failed, the next activation follows a lost connection.
		reconnect = true

		delay := c.backoff.Next()
		c.log.Warn("session lost, reconnecting", "err", err, "delay", delay)
		c.metrics.SessionReconnects.Add(ctx, 1)
		c.setState(StateReconnecting, errString(err))

		if !c.wait(ctx, delay) {
			return nil
		}
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State, detail string) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	c.log.Info("session state", "state", s)
	c.listener.OnStatus(events.Status(s), detail)
}

func (c *Controller) connect(ctx context.Context) (s2s.SessionHandle, error) {
	cfg := c.cfg.Session
	cfg.Tools = c.registry.Definitions()

	start := time.Now()
	handle, err := c.cfg.Provider.Connect(ctx, cfg)
	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", c.cfg.ProviderName)))
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.RecordProviderError(ctx, c.cfg.ProviderName, "connect")
		}
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	return handle, nil
}

// conn is the per-connection state shared by the pipelines.
type conn struct {
	handle   s2s.SessionHandle
	caps     s2s.Capabilities
	out      chan outbound
	play     chan []byte
	playback audio.Playback
}

// outbound is one queued item for the sender pipeline.
type outbound struct {
	audio []byte
	frame *voice.Frame
}

// runSession owns one connection from activation to teardown.
func (c *Controller) runSession(ctx context.Context, handle s2s.SessionHandle, reconnect bool) error {
	defer handle.Close()

	cn := &conn{
		handle: handle,
		caps:   c.cfg.Provider.Capabilities(),
		out:    make(chan outbound, outboundQueueSize),
		play:   make(chan []byte, playbackQueueSize),
	}

	if err := c.greet(ctx, handle, reconnect); err != nil {
		return err
	}

	capture, playback := c.openDevices(ctx)
	cn.playback = playback
	defer func() {
		if capture != nil {
			_ = capture.Close()
		}
		if playback != nil {
			_ = playback.Close()
		}
	}()

	c.backoff.Reset()
	c.mu.Lock()
	c.live = cn
	c.mu.Unlock()
	c.setState(StateActive, "")
	c.metrics.SessionActive.Add(ctx, 1)

	reconciler := transcript.NewReconciler()
	buffer := transcript.NewChatBuffer(c.cfg.Store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.sendLoop(gctx, cn) })
	g.Go(func() error { return c.receiveLoop(gctx, g, cn, reconciler, buffer) })
	g.Go(func() error { return c.playbackLoop(gctx, cn) })
	if capture != nil || c.cfg.Peer != nil {
		g.Go(func() error { return c.captureLoop(gctx, cn, capture) })
	}
	if c.cfg.Video != nil {
		g.Go(func() error { return c.videoLoop(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks a capture Read and the provider stream.
		if capture != nil {
			_ = capture.Close()
		}
		_ = handle.Close()
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	c.live = nil
	c.mu.Unlock()
	c.metrics.SessionActive.Add(context.WithoutCancel(ctx), -1)
	c.confirms.Drain()
	c.agent.Stop()
	c.gate.Reset()

	// Keep what was said before the drop so the replay can include it.
	if ferr := buffer.Flush(context.WithoutCancel(ctx)); ferr != nil {
		c.log.Warn("flush chat on teardown", "err", ferr)
	}
	if err != nil && ctx.Err() == nil {
		c.metrics.RecordProviderError(ctx, c.cfg.ProviderName, "stream")
	}
	return err
}

// greet sends the start message on first activation, or the history replay
// after a reconnect.
func (c *Controller) greet(ctx context.Context, handle s2s.SessionHandle, reconnect bool) error {
	if !reconnect {
		if c.cfg.StartMessage == "" {
			return nil
		}
		if err := handle.SendText(c.cfg.StartMessage, true); err != nil {
			return fmt.Errorf("session: send start message: %w", err)
		}
		return nil
	}

	if c.cfg.Store == nil {
		return nil
	}
	history, err := c.cfg.Store.RecentChat(ctx, c.cfg.HistoryLimit)
	if err != nil {
		c.log.Warn("load history for replay", "err", err)
		return nil
	}
	if len(history) == 0 {
		return nil
	}
	if err := handle.SendText(ReplayMessage(history), true); err != nil {
		return fmt.Errorf("session: send history replay: %w", err)
	}
	c.log.Info("replayed chat history", "turns", len(history))
	return nil
}

// ReplayMessage renders the reconnect notification for history.
func ReplayMessage(history []memory.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(reconnectPreamble)
	for _, m := range history {
		sb.WriteString(m.String())
		sb.WriteByte('\n')
	}
	sb.WriteString(reconnectTrailer)
	return sb.String()
}

// openDevices opens local audio. Failures disable the affected direction
// for this connection and are reported, never returned.
func (c *Controller) openDevices(ctx context.Context) (audio.Capture, audio.Playback) {
	if c.cfg.Device == nil {
		return nil, nil
	}
	capture, err := c.cfg.Device.OpenCapture(ctx,
		audio.Format{SampleRate: c.cfg.CaptureRate, Channels: 1}, c.cfg.ChunkFrames)
	if err != nil {
		c.log.Error("open microphone, capture disabled", "err", err)
		c.listener.OnStatus(events.StatusAudioDisabled, "capture: "+err.Error())
		capture = nil
	}
	playback, err := c.cfg.Device.OpenPlayback(ctx,
		audio.Format{SampleRate: c.cfg.PlaybackRate, Channels: 1})
	if err != nil {
		c.log.Error("open speaker, playback disabled", "err", err)
		c.listener.OnStatus(events.StatusAudioDisabled, "playback: "+err.Error())
		playback = nil
	}
	return capture, playback
}

// backgroundContext is the parent of fire-and-forget tool runs: the Run
// context, so they survive reconnects.
func (c *Controller) backgroundContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}

func (c *Controller) onBackgroundResult(tool, output string, err error) {
	c.mu.Lock()
	cn := c.live
	c.mu.Unlock()
	if cn == nil {
		c.log.Info("background tool result dropped, no live session", "tool", tool)
		return
	}
	text := notificationPrefix + output
	if err != nil {
		text = fmt.Sprintf("%s%s failed: %v", notificationPrefix, tool, err)
	}
	if serr := cn.handle.SendText(text, true); serr != nil {
		c.log.Warn("send background tool result", "tool", tool, "err", serr)
	}
}

// ── Controls ───────────────────────────────────────────────────────────────

// SetPaused stops or resumes forwarding captured audio.
func (c *Controller) SetPaused(paused bool) {
	if c.paused.Swap(paused) == paused {
		return
	}
	if paused {
		c.listener.OnStatus(events.StatusPaused, "")
	} else {
		c.listener.OnStatus(events.StatusResumed, "")
	}
}

// Paused reports whether capture is paused.
func (c *Controller) Paused() bool { return c.paused.Load() }

// SetBargeIn toggles barge-in suppression at runtime. See [voice.Gate.SetBargeIn].
func (c *Controller) SetBargeIn(enabled bool, threshold float64) {
	c.gate.SetBargeIn(enabled, threshold)
	c.log.Info("barge-in updated", "enabled", enabled, "threshold", c.gate.Settings().BargeInThreshold)
}

// SetVoiceSettings replaces every gate setting.
func (c *Controller) SetVoiceSettings(s voice.Settings) { c.gate.SetSettings(s) }

// VoiceSettings returns the active gate settings.
func (c *Controller) VoiceSettings() voice.Settings { return c.gate.Settings() }

// UpdatePermissions replaces the confirmation policy.
func (c *Controller) UpdatePermissions(perms map[string]bool, master bool) {
	c.policy.Update(maps.Clone(perms), master)
	c.log.Info("tool permissions updated", "tools", len(perms), "master_control", master)
}

// ResolveConfirmation approves or denies a pending tool call.
func (c *Controller) ResolveConfirmation(id string, approved bool) error {
	return c.confirms.Resolve(id, approved)
}

// PendingConfirmations lists unresolved confirmation requests.
func (c *Controller) PendingConfirmations() []confirm.Pending { return c.confirms.Pending() }

// PushFrame caches an externally captured image for the next utterance.
func (c *Controller) PushFrame(mimeType string, data []byte) {
	c.frames.Update(voice.Frame{MIMEType: mimeType, Data: data, CapturedAt: time.Now()})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
