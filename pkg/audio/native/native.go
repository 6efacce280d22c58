// Package native implements [audio.Device] on real hardware: malgo
// (miniaudio) for microphone capture and oto for speaker playback.
//
// oto allows a single context per process, so the playback context is
// created on first use and reused by every later [Device.OpenPlayback] call
// with the same format.
package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/rexlive/pkg/audio"
)

// playbackBufferMillis bounds how much audio oto buffers internally.
const playbackBufferMillis = 100

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Device is an [audio.Device] backed by the host's default audio endpoints.
type Device struct {
	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	otoCtx   *oto.Context
	otoFmt   audio.Format
	otoErr   error
	otoReady bool
}

// New initialises the miniaudio context. Call [Device.Close] when done.
func New() (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("native audio: init context: %w", err)
	}
	return &Device{mctx: mctx}, nil
}

// Close releases the miniaudio context. Streams opened from this device
// must be closed first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx == nil {
		return nil
	}
	err := d.mctx.Uninit()
	d.mctx.Free()
	d.mctx = nil
	return err
}

// Devices implements [audio.Device].
func (d *Device) Devices() ([]audio.DeviceInfo, []audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx == nil {
		return nil, nil, audio.ErrDeviceClosed
	}

	capInfos, err := d.mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("native audio: list capture devices: %w", err)
	}
	playInfos, err := d.mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("native audio: list playback devices: %w", err)
	}
	return toInfos(capInfos), toInfos(playInfos), nil
}

func toInfos(in []malgo.DeviceInfo) []audio.DeviceInfo {
	out := make([]audio.DeviceInfo, 0, len(in))
	for i := range in {
		out = append(out, audio.DeviceInfo{
			ID:        in[i].ID.String(),
			Name:      in[i].Name(),
			IsDefault: in[i].IsDefault != 0,
		})
	}
	return out
}

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, format audio.Format, chunkFrames int) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx == nil {
		return nil, audio.ErrDeviceClosed
	}
	if chunkFrames <= 0 {
		return nil, fmt.Errorf("native audio: chunk frames must be positive, got %d", chunkFrames)
	}
	channels := max(format.Channels, 1)

	c := &capture{chunkBytes: chunkFrames * channels * 2}
	c.cond = sync.NewCond(&c.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(d.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { c.push(input) },
	})
	if err != nil {
		return nil, fmt.Errorf("native audio: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("native audio: start capture device: %w", err)
	}
	c.dev = dev
	return c, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, format audio.Format) (audio.Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.otoReady {
		channels := max(format.Channels, 1)
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   format.BytesPerSecond() * playbackBufferMillis / 1000,
		})
		d.otoReady = true
		d.otoErr = err
		if err == nil {
			<-ready
			d.otoCtx = ctx
			d.otoFmt = format
		}
	}
	if d.otoErr != nil {
		return nil, fmt.Errorf("native audio: init playback: %w", d.otoErr)
	}
	if d.otoFmt != format {
		return nil, fmt.Errorf("native audio: playback already opened as %s, cannot reopen as %s", d.otoFmt, format)
	}

	p := &playback{
		ctx:       d.otoCtx,
		highWater: format.BytesPerSecond() * playbackBufferMillis / 1000,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// ─── capture ──────────────────────────────────────────────────────────────────

type capture struct {
	dev        *malgo.Device
	chunkBytes int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (c *capture) push(pcm []byte) {
	c.mu.Lock()
	if !c.closed {
		c.buf = append(c.buf, pcm...)
	}
	c.mu.Unlock()
	c.cond.Signal()
}

// Read blocks until a full chunk has been captured.
func (c *capture) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) < c.chunkBytes && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return nil, audio.ErrDeviceClosed
	}
	chunk := make([]byte, c.chunkBytes)
	copy(chunk, c.buf)
	c.buf = c.buf[c.chunkBytes:]
	return chunk, nil
}

func (c *capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.buf = nil
	c.mu.Unlock()
	c.cond.Broadcast()

	err := c.dev.Stop()
	c.dev.Uninit()
	return err
}

// ─── playback ─────────────────────────────────────────────────────────────────

// playback feeds oto through its io.Reader side. Read never blocks: when
// nothing is queued it yields silence. Write blocks while more than
// highWater bytes are pending so callers are paced to real time.
type playback struct {
	ctx       *oto.Context
	highWater int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	player *oto.Player
	closed bool
}

func (p *playback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return audio.ErrDeviceClosed
	}
	p.buf = append(p.buf, pcm...)
	if p.player == nil {
		p.player = p.ctx.NewPlayer(p)
		p.player.Play()
	}

	for len(p.buf) > p.highWater && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return audio.ErrDeviceClosed
	}
	return nil
}

// Read implements io.Reader for oto.
func (p *playback) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		clear(b)
		return len(b), nil
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	p.cond.Broadcast()
	return n, nil
}

func (p *playback) Clear() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *playback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	player := p.player
	p.player = nil
	p.buf = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
