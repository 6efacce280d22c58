// Package audio defines the PCM frame type and the device abstractions used
// by the session pipelines.
//
// All PCM handled here is signed 16-bit little-endian. The capture side of a
// session is typically 16 kHz mono and the playback side 24 kHz mono, but
// rates are configuration and travel with [Format].
package audio

import "fmt"

// Source identifies where a captured frame originated.
type Source int

const (
	// SourceMic is the local microphone.
	SourceMic Source = iota

	// SourcePeer is a remote peer device (e.g. a phone) attached through a
	// bridge.
	SourcePeer
)

// String implements [fmt.Stringer].
func (s Source) String() string {
	switch s {
	case SourceMic:
		return "mic"
	case SourcePeer:
		return "peer"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Frame is a single chunk of captured PCM audio. Frames are transient: they
// are queued once and consumed once.
type Frame struct {
	// Data holds the raw PCM bytes.
	Data []byte

	// Source tags the origin of the chunk.
	Source Source
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.SampleRate * ch * 2
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 0, 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
