// Package mock provides in-memory implementations of [audio.Device],
// [audio.Capture] and [audio.Playback] for unit tests.
//
// All mocks are safe for concurrent use. Capture serves chunks pushed by the
// test through [Capture.Feed]; Playback records every written chunk.
//
// Typical usage:
//
//	capt := mock.NewCapture()
//	play := &mock.Playback{}
//	dev := &mock.Device{CaptureResult: capt, PlaybackResult: play}
//	capt.Feed(chunk)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rexlive/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// CaptureResult is returned by OpenCapture when CaptureErr is nil.
	CaptureResult audio.Capture

	// CaptureErr is returned by OpenCapture.
	CaptureErr error

	// PlaybackResult is returned by OpenPlayback when PlaybackErr is nil.
	PlaybackResult audio.Playback

	// PlaybackErr is returned by OpenPlayback.
	PlaybackErr error

	// CaptureDevices and PlaybackDevices are returned by Devices.
	CaptureDevices  []audio.DeviceInfo
	PlaybackDevices []audio.DeviceInfo

	// CallCountOpenCapture and CallCountOpenPlayback count open calls.
	CallCountOpenCapture  int
	CallCountOpenPlayback int
}

var _ audio.Device = (*Device)(nil)

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, _ audio.Format, _ int) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenCapture++
	if d.CaptureErr != nil {
		return nil, d.CaptureErr
	}
	if d.CaptureResult == nil {
		return NewCapture(), nil
	}
	return d.CaptureResult, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, _ audio.Format) (audio.Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenPlayback++
	if d.PlaybackErr != nil {
		return nil, d.PlaybackErr
	}
	if d.PlaybackResult == nil {
		return &Playback{}, nil
	}
	return d.PlaybackResult, nil
}

// Devices implements [audio.Device].
func (d *Device) Devices() ([]audio.DeviceInfo, []audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CaptureDevices, d.PlaybackDevices, nil
}

// Counts returns the open call counters under the lock.
func (d *Device) Counts() (capture, playback int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpenCapture, d.CallCountOpenPlayback
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.Capture]. Read blocks until a chunk is fed, an
// error is injected, or Close is called. Close is idempotent.
type Capture struct {
	chunks chan []byte
	errs   chan error
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closes int
}

var _ audio.Capture = (*Capture)(nil)

// NewCapture returns a Capture with a generous chunk buffer.
func NewCapture() *Capture {
	return &Capture{
		chunks: make(chan []byte, 256),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
	}
}

// Feed queues a chunk for Read.
func (c *Capture) Feed(pcm []byte) { c.chunks <- pcm }

// FailNext makes the next Read return err.
func (c *Capture) FailNext(err error) { c.errs <- err }

// Read implements [audio.Capture].
func (c *Capture) Read() ([]byte, error) {
	select {
	case err := <-c.errs:
		return nil, err
	default:
	}
	select {
	case <-c.done:
		return nil, audio.ErrDeviceClosed
	case err := <-c.errs:
		return nil, err
	case b := <-c.chunks:
		return b, nil
	}
}

// Close implements [audio.Capture].
func (c *Capture) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// Closed reports how many times Close was called.
func (c *Capture) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock [audio.Playback] that records written chunks.
type Playback struct {
	mu      sync.Mutex
	written [][]byte
	clears  int
	closes  int

	// WriteErr is returned by Write when non-nil.
	WriteErr error
}

var _ audio.Playback = (*Playback)(nil)

// Write implements [audio.Playback].
func (p *Playback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	p.written = append(p.written, append([]byte(nil), pcm...))
	return nil
}

// Clear implements [audio.Playback].
func (p *Playback) Clear() {
	p.mu.Lock()
	p.clears++
	p.mu.Unlock()
}

// Close implements [audio.Playback].
func (p *Playback) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

// Written returns a copy of every chunk written so far.
func (p *Playback) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// Clears reports how many times Clear was called.
func (p *Playback) Clears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}

// Closes reports how many times Close was called.
func (p *Playback) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}
