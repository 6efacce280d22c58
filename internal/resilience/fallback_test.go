package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	s2smock "github.com/MrWong99/rexlive/pkg/provider/s2s/mock"
)

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr bool
	}{
		{name: "primary healthy", want: "primary"},
		{name: "primary down", failing: map[string]bool{"primary": true}, want: "secondary"},
		{name: "all down", failing: map[string]bool{"primary": true, "secondary": true}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
			fg.AddFallback("secondary", "secondary")

			got, served, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
				if tc.failing[v] {
					return "", errTest
				}
				return v, nil
			})
			if tc.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil || got != tc.want || served != tc.want {
				t.Fatalf("got %q from %q, err %v; want %q", got, served, err, tc.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	var calls []string
	fn := func(_ context.Context, v string) error {
		calls = append(calls, v)
		if v == "primary" {
			return errTest
		}
		return nil
	}
	_ = fg.Execute(context.Background(), fn)
	_ = fg.Execute(context.Background(), fn)

	want := []string{"primary", "secondary", "secondary"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestFallbackGroup_CancelStopsWithoutTripping(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("secondary", "secondary")

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := fg.Execute(ctx, func(ctx context.Context, _ string) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s := fg.entries[0].breaker.State(); s != StateClosed {
		t.Errorf("primary breaker = %v, want closed", s)
	}
}

func TestS2SFallback_ConnectsAndTracksCapabilities(t *testing.T) {
	t.Parallel()

	primary := &s2smock.Provider{
		Caps:        s2s.Capabilities{InputSampleRate: 16000, OutputSampleRate: 24000},
		ConnectErrs: []error{errors.New("dial failed")},
	}
	secondary := &s2smock.Provider{
		Caps:     s2s.Capabilities{InputSampleRate: 24000, OutputSampleRate: 24000},
		Sessions: []*s2smock.Session{s2smock.NewSession()},
	}
	f := NewS2SFallback("gemini", primary, FallbackConfig{})
	f.AddFallback("openai", secondary)

	if f.Capabilities().InputSampleRate != 16000 {
		t.Fatal("before connecting, capabilities must be the primary's")
	}
	h, err := f.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()
	if f.Active() != "openai" || f.Capabilities().InputSampleRate != 24000 {
		t.Errorf("active = %s caps = %+v", f.Active(), f.Capabilities())
	}
	if primary.ConnectCount() != 1 || secondary.ConnectCount() != 1 {
		t.Errorf("connect counts = %d/%d", primary.ConnectCount(), secondary.ConnectCount())
	}
}
