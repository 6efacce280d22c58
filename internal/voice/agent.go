package voice

import (
	"sync"
	"time"
)

// DefaultFinishDelay is how long after the last played chunk the agent is
// still considered to be speaking.
const DefaultFinishDelay = 500 * time.Millisecond

var _ AgentSpeech = (*AgentState)(nil)

// AgentState tracks whether the agent's voice is currently audible.
//
// It is mutated only by the playback unit ([AgentState.BeginChunk] before
// writing a chunk, [AgentState.EndChunk] after) and read by the [Gate]. At
// most one finish timer is pending at any time; beginning a new chunk
// cancels it.
type AgentState struct {
	delay time.Duration
	now   func() time.Time

	mu        sync.Mutex
	speaking  bool
	startedAt time.Time
	finish    *time.Timer
	gen       uint64
}

// NewAgentState creates an AgentState whose speaking episode ends delay
// after the last chunk.
func NewAgentState(delay time.Duration) *AgentState {
	if delay <= 0 {
		delay = DefaultFinishDelay
	}
	return &AgentState{delay: delay, now: time.Now}
}

// BeginChunk marks the agent as speaking and cancels any pending finish.
// It reports whether this chunk started a new speaking episode.
func (a *AgentState) BeginChunk() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	if a.speaking {
		return false
	}
	a.speaking = true
	a.startedAt = a.now()
	return true
}

// EndChunk arms the finish timer after a chunk has been written.
func (a *AgentState) EndChunk() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	gen := a.gen
	a.finish = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen {
			return
		}
		a.speaking = false
		a.startedAt = time.Time{}
		a.finish = nil
	})
}

// Stop ends the speaking episode immediately, e.g. when playback is
// interrupted.
func (a *AgentState) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	a.speaking = false
	a.startedAt = time.Time{}
}

// Speaking implements [AgentSpeech].
func (a *AgentState) Speaking() (bool, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking, a.startedAt
}

// stopTimerLocked invalidates any pending finish callback.
func (a *AgentState) stopTimerLocked() {
	a.gen++
	if a.finish != nil {
		a.finish.Stop()
		a.finish = nil
	}
}
