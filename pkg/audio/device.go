package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by [Capture.Read] and [Playback.Write] once the
// stream has been closed.
var ErrDeviceClosed = errors.New("audio: device closed")

// DeviceInfo describes one hardware endpoint.
type DeviceInfo struct {
	ID        string
	Name      string
	IsDefault bool
}

// Capture is an open input stream producing fixed-size PCM chunks.
//
// Read blocks until a full chunk is available. It must return
// [ErrDeviceClosed] promptly after Close is called from another goroutine.
type Capture interface {
	Read() ([]byte, error)
	Close() error
}

// Playback is an open output stream.
//
// Write queues PCM for playback and may block to pace the caller to the
// device clock. Clear discards anything queued but not yet played.
type Playback interface {
	Write(pcm []byte) error
	Clear()
	Close() error
}

// Device opens capture and playback streams on audio hardware.
//
// Implementations must be safe for concurrent use. An open failure is not
// fatal to a session: the caller disables the affected pipeline.
type Device interface {
	// OpenCapture opens an input stream delivering chunks of chunkFrames
	// samples per channel in the given format.
	OpenCapture(ctx context.Context, format Format, chunkFrames int) (Capture, error)

	// OpenPlayback opens an output stream in the given format.
	OpenPlayback(ctx context.Context, format Format) (Playback, error)

	// Devices lists available capture and playback endpoints.
	Devices() (capture []DeviceInfo, playback []DeviceInfo, err error)
}
