package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	s2smock "github.com/MrWong99/rexlive/pkg/provider/s2s/mock"
)

func newS2SFallback(primary, secondary *s2smock.Provider) *S2SFallback {
	fb := NewS2SFallback("primary", primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func TestS2SFallback_Connect_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{Caps: s2s.Capabilities{InputSampleRate: 16000}}
	secondary := &s2smock.Provider{Caps: s2s.Capabilities{InputSampleRate: 24000}}
	fb := newS2SFallback(primary, secondary)

	h, err := fb.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	if len(primary.Configs) != 1 || len(secondary.Configs) != 0 {
		t.Fatalf("connects: primary=%d secondary=%d, want 1/0", len(primary.Configs), len(secondary.Configs))
	}
	if fb.Active() != "primary" {
		t.Errorf("Active() = %q, want primary", fb.Active())
	}
	if got := fb.Capabilities().InputSampleRate; got != 16000 {
		t.Errorf("InputSampleRate = %d, want 16000", got)
	}
}

func TestS2SFallback_Connect_Failover(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{
		Caps:        s2s.Capabilities{InputSampleRate: 16000},
		ConnectErrs: []error{errors.New("primary down")},
	}
	secondary := &s2smock.Provider{Caps: s2s.Capabilities{InputSampleRate: 24000}}
	fb := newS2SFallback(primary, secondary)

	h, err := fb.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	if fb.Active() != "secondary" {
		t.Errorf("Active() = %q, want secondary", fb.Active())
	}
	if got := fb.Capabilities().InputSampleRate; got != 24000 {
		t.Errorf("InputSampleRate = %d, want 24000 from the serving backend", got)
	}
}

func TestS2SFallback_Connect_AllFail(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{ConnectErrs: []error{errors.New("primary down")}}
	secondary := &s2smock.Provider{ConnectErrs: []error{errors.New("secondary down")}}
	fb := newS2SFallback(primary, secondary)

	_, err := fb.Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if fb.Active() != "primary" {
		t.Errorf("Active() = %q, want primary after a failed connect", fb.Active())
	}
}
