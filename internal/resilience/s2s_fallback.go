package resilience

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// S2SFallback is an [s2s.Provider] that connects through the first healthy
// backend of a group. Failover happens only at connect time; an established
// session stays with its backend until it ends.
type S2SFallback struct {
	group  *FallbackGroup[s2s.Provider]
	active atomic.Int32
}

var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback returns a failover provider preferring primary.
func NewS2SFallback(primaryName string, primary s2s.Provider, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend.
func (f *S2SFallback) AddFallback(name string, p s2s.Provider) {
	f.group.AddFallback(name, p)
}

// Connect implements [s2s.Provider].
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	h, name, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	for i, n := range f.group.Names() {
		if n == name {
			f.active.Store(int32(i))
			break
		}
	}
	return h, nil
}

// Capabilities reports the backend that served the most recent successful
// Connect, or the primary before any connection.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.entries[f.active.Load()].value.Capabilities()
}

// Active returns the name of the backend behind [S2SFallback.Capabilities].
func (f *S2SFallback) Active() string {
	return f.group.entries[f.active.Load()].name
}
