package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rexlive/internal/confirm"
	"github.com/MrWong99/rexlive/internal/events"
	"github.com/MrWong99/rexlive/internal/observe"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// Call outcomes recorded in the "status" metric attribute.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusDenied    = "denied"
	statusUnknown   = "unknown"
	statusAbandoned = "abandoned"
	statusStarted   = "started"
)

// BackgroundResultFunc receives the outcome of a FireAndForget handler.
type BackgroundResultFunc func(tool, output string, err error)

// Dispatcher executes tool-call batches. It is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	policy   *PermissionPolicy
	confirms *confirm.Table
	listener events.Listener
	metrics  *observe.Metrics
	logger   *slog.Logger
	onResult BackgroundResultFunc
	bgCtx    func() context.Context

	bg sync.WaitGroup
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithListener sets the activity, confirmation and status sink.
func WithListener(l events.Listener) DispatcherOption {
	return func(d *Dispatcher) { d.listener = l }
}

// WithMetrics records call counts and durations.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithBackgroundResult registers fn to receive FireAndForget outcomes.
func WithBackgroundResult(fn BackgroundResultFunc) DispatcherOption {
	return func(d *Dispatcher) { d.onResult = fn }
}

// WithBackgroundContext sets the parent context of FireAndForget handlers.
// fn is consulted per call; a nil result falls back to the call's context.
// Without it, background handlers end with the batch's context.
func WithBackgroundContext(fn func() context.Context) DispatcherOption {
	return func(d *Dispatcher) { d.bgCtx = fn }
}

// NewDispatcher returns a dispatcher over the given registry, policy and
// confirmation table.
func NewDispatcher(reg *Registry, policy *PermissionPolicy, confirms *confirm.Table, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		policy:   policy,
		confirms: confirms,
		listener: events.Nop{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "tools")
	return d
}

// Dispatch runs calls concurrently and returns the responses of every call
// that settled, in call order. Calls whose confirmation was abandoned
// because ctx ended produce no response. Handler failures and unknown tools
// become descriptive responses; Dispatch never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []s2s.ToolCall) []s2s.ToolResponse {
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	ctx, span := observe.StartSpan(ctx, "tools.dispatch",
		trace.WithAttributes(attribute.StringSlice("tools", names)))
	defer span.End()

	d.listener.OnActivity(events.ActivityExecutingTools, names)
	defer d.listener.OnActivity(events.ActivityIdle, nil)

	results := make([]*s2s.ToolResponse, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]s2s.ToolResponse, 0, len(calls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Wait blocks until every FireAndForget handler started so far has
// returned.
func (d *Dispatcher) Wait() { d.bg.Wait() }

func (d *Dispatcher) dispatchOne(ctx context.Context, c s2s.ToolCall) *s2s.ToolResponse {
	respond := func(output string) *s2s.ToolResponse {
		return &s2s.ToolResponse{ID: c.ID, Name: c.Name, Output: output}
	}
	log := d.logger.With("tool", c.Name, "call_id", c.ID)

	desc, ok := d.registry.Lookup(c.Name)
	if !ok {
		log.Warn("call for unknown tool")
		d.record(ctx, c.Name, statusUnknown, 0)
		msg := fmt.Sprintf("Error: %v: %s", ErrUnknownTool, c.Name)
		if alt, ok := d.registry.Suggest(c.Name); ok {
			msg += fmt.Sprintf(". Did you mean %s?", alt)
		}
		return respond(msg)
	}

	if d.policy.Requires(c.Name) {
		p := d.confirms.Register(c.Name, c.Arguments)
		d.listener.OnConfirmationRequest(p.ID, c.Name, c.Arguments)
		approved, err := d.confirms.Wait(ctx, p.ID)
		if err != nil {
			log.Info("confirmation abandoned", "id", p.ID)
			d.record(ctx, c.Name, statusAbandoned, 0)
			return nil
		}
		if !approved {
			log.Info("tool call denied by user", "id", p.ID)
			d.record(ctx, c.Name, statusDenied, 0)
			return respond(DenialMessage)
		}
	}

	if desc.Shape == FireAndForget {
		bgCtx := d.backgroundContext(ctx)
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			out, err := d.run(bgCtx, desc, c.Arguments)
			if err != nil && bgCtx.Err() == nil {
				log.Warn("background tool failed", "err", err)
				d.listener.OnStatus(events.StatusToolError, c.Name+": "+err.Error())
			}
			if d.onResult != nil && bgCtx.Err() == nil {
				d.onResult(c.Name, out, err)
			}
		}()
		d.record(ctx, c.Name, statusStarted, 0)
		return respond(desc.ack())
	}

	out, err := d.run(ctx, desc, c.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("tool failed", "err", err)
		d.listener.OnStatus(events.StatusToolError, c.Name+": "+err.Error())
		return respond(fmt.Sprintf("Error executing %s: %v", c.Name, err))
	}
	return respond(out)
}

// backgroundContext returns the context a FireAndForget handler runs on. It
// keeps the caller's span so the background run stays in the same trace.
func (d *Dispatcher) backgroundContext(ctx context.Context) context.Context {
	if d.bgCtx == nil {
		return ctx
	}
	parent := d.bgCtx()
	if parent == nil {
		return ctx
	}
	return trace.ContextWithSpan(parent, trace.SpanFromContext(ctx))
}

// run invokes the handler, converting panics into errors.
func (d *Dispatcher) run(ctx context.Context, desc Descriptor, args string) (out string, err error) {
	ctx, span := observe.StartSpan(ctx, "tools.run",
		trace.WithAttributes(attribute.String("tool", desc.Name())))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tools: %s: panic: %v", desc.Name(), r)
		}
		status := statusOK
		if err != nil {
			status = statusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		d.record(ctx, desc.Name(), status, time.Since(start))
		span.End()
	}()
	return desc.Handler(ctx, args)
}

func (d *Dispatcher) record(ctx context.Context, tool, status string, dur time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, tool, status, dur)
	}
}
