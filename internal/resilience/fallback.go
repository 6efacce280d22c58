package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig is the breaker template applied to every entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries equivalent backends in registration order, skipping
// any whose breaker is open. Entries must be added before concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group with primary as its first entry.
func NewFallbackGroup[T any](primaryName string, primary T, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Execute runs fn against each entry until one succeeds. It stops early when
// ctx is done; a cancelled attempt is not held against the entry's breaker.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, _, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for functions that return a
// value. It also reports which entry served the call.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		e := &fg.entries[i]
		var (
			res       R
			cancelled bool
		)
		err := e.breaker.Execute(func() error {
			var ferr error
			res, ferr = fn(ctx, e.value)
			if ferr != nil && ctx.Err() != nil {
				cancelled = true
				return nil
			}
			return ferr
		})
		if cancelled {
			return zero, "", ctx.Err()
		}
		if err == nil {
			return res, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, circuit open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
