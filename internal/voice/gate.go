// Package voice implements the per-chunk audio decisions of a live session:
// whether a captured chunk is forwarded to the remote service (barge-in
// suppression while the agent talks) and when the user starts and stops an
// utterance (RMS voice-activity detection).
package voice

import (
	"sync"
	"time"

	"github.com/MrWong99/rexlive/pkg/audio"
)

// Defaults for [Settings].
const (
	DefaultVADThreshold     = 800
	DefaultBargeInThreshold = 5000
	DefaultMuteWindow       = time.Second
	DefaultSilenceDuration  = 500 * time.Millisecond

	// RuntimeBargeInThreshold is applied when barge-in suppression is
	// switched on at runtime without an explicit threshold.
	RuntimeBargeInThreshold = 2000
)

// Settings are the tunables of a [Gate].
type Settings struct {
	// VADThreshold is the RMS above which a chunk counts as user speech.
	VADThreshold float64

	// BargeInThreshold is the RMS a chunk must exceed to interrupt the
	// agent once the mute window has passed.
	BargeInThreshold float64

	// BargeInSuppression enables muting the microphone while the agent is
	// speaking.
	BargeInSuppression bool

	// MuteWindow is how long after the agent starts speaking every chunk is
	// dropped regardless of loudness.
	MuteWindow time.Duration

	// SilenceDuration is how long RMS must stay below VADThreshold before
	// an utterance ends.
	SilenceDuration time.Duration
}

// DefaultSettings returns the stock tuning.
func DefaultSettings() Settings {
	return Settings{
		VADThreshold:       DefaultVADThreshold,
		BargeInThreshold:   DefaultBargeInThreshold,
		BargeInSuppression: true,
		MuteWindow:         DefaultMuteWindow,
		SilenceDuration:    DefaultSilenceDuration,
	}
}

// DropReason explains why a chunk was not forwarded.
type DropReason string

const (
	DropNone         DropReason = ""
	DropMuteWindow   DropReason = "mute_window"
	DropBelowBargeIn DropReason = "below_barge_in"
)

// Decision is the outcome of [Gate.Process] for one chunk.
type Decision struct {
	// RMS is the chunk's energy.
	RMS float64

	// Forward reports whether the chunk should be sent.
	Forward bool

	// Reason is set when Forward is false.
	Reason DropReason

	// BargeIn reports that the chunk was forwarded while the agent was
	// speaking because it was loud enough to count as an interruption.
	BargeIn bool

	// SpeechStarted reports a transition into speaking on this chunk.
	SpeechStarted bool

	// SpeechEnded reports a transition back to silence on this chunk.
	SpeechEnded bool
}

// SpeechState is the user's VAD state. SilenceStartedAt is zero unless the
// user was speaking and every chunk since that instant has been silent.
type SpeechState struct {
	Speaking         bool
	SilenceStartedAt time.Time
}

// AgentSpeech reports whether the agent is currently audible and since when.
type AgentSpeech interface {
	Speaking() (bool, time.Time)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// Gate applies barge-in suppression and VAD to captured chunks.
//
// Process must be called from a single goroutine (the capture unit), which
// owns the SpeechState. Settings may be changed concurrently.
type Gate struct {
	agent AgentSpeech
	now   func() time.Time

	mu       sync.RWMutex
	settings Settings

	state SpeechState
}

// NewGate creates a Gate. agent may be nil, meaning the agent is never
// considered to be speaking.
func NewGate(settings Settings, agent AgentSpeech, opts ...GateOption) *Gate {
	g := &Gate{agent: agent, now: time.Now, settings: settings}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Settings returns the active settings.
func (g *Gate) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// SetSettings replaces all settings.
func (g *Gate) SetSettings(s Settings) {
	g.mu.Lock()
	g.settings = s
	g.mu.Unlock()
}

// SetBargeIn toggles barge-in suppression. A non-positive threshold keeps the
// current one, except when enabling, where [RuntimeBargeInThreshold] is used.
func (g *Gate) SetBargeIn(enabled bool, threshold float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings.BargeInSuppression = enabled
	switch {
	case threshold > 0:
		g.settings.BargeInThreshold = threshold
	case enabled:
		g.settings.BargeInThreshold = RuntimeBargeInThreshold
	}
}

// State returns the current speech state. Only valid on the capture
// goroutine.
func (g *Gate) State() SpeechState { return g.state }

// Reset returns the speech state to silent.
func (g *Gate) Reset() { g.state = SpeechState{} }

// Process evaluates one chunk.
func (g *Gate) Process(pcm []byte) Decision {
	s := g.Settings()
	now := g.now()
	d := Decision{RMS: audio.RMS(pcm), Forward: true}

	if s.BargeInSuppression && g.agent != nil {
		if speaking, since := g.agent.Speaking(); speaking {
			switch {
			case now.Sub(since) < s.MuteWindow:
				d.Forward, d.Reason = false, DropMuteWindow
			case d.RMS > s.BargeInThreshold:
				d.BargeIn = true
			default:
				d.Forward, d.Reason = false, DropBelowBargeIn
			}
		}
	}

	if d.RMS > s.VADThreshold {
		if !g.state.Speaking {
			d.SpeechStarted = true
		}
		g.state.Speaking = true
		g.state.SilenceStartedAt = time.Time{}
		return d
	}

	if g.state.Speaking {
		if g.state.SilenceStartedAt.IsZero() {
			g.state.SilenceStartedAt = now
		}
		if now.Sub(g.state.SilenceStartedAt) >= s.SilenceDuration {
			g.state = SpeechState{}
			d.SpeechEnded = true
		}
	}
	return d
}
