package voice

import (
	"sync"
	"time"
)

// Frame is one encoded image captured from a camera, screen or UI.
type Frame struct {
	MIMEType   string
	Data       []byte
	CapturedAt time.Time
}

// FrameGate caches the most recent frame and releases it once per user
// utterance, at the moment the user starts speaking.
type FrameGate struct {
	mu     sync.Mutex
	latest *Frame
}

// Update replaces the cached frame.
func (f *FrameGate) Update(frame Frame) {
	if len(frame.Data) == 0 {
		return
	}
	f.mu.Lock()
	f.latest = &frame
	f.mu.Unlock()
}

// OnSpeechStarted returns the cached frame for attachment to the utterance
// that just began. It reports false when no frame has been captured yet.
func (f *FrameGate) OnSpeechStarted() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return Frame{}, false
	}
	return *f.latest, true
}
