package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rexlive/internal/transcript"
	"github.com/MrWong99/rexlive/internal/voice"
	"github.com/MrWong99/rexlive/pkg/audio"
	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// peerPollInterval paces the capture pipeline when only a peer bridge
// supplies audio.
const peerPollInterval = 20 * time.Millisecond

// sendLoop drains the outbound queue in FIFO order.
func (c *Controller) sendLoop(ctx context.Context, cn *conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-cn.out:
			var err error
			if item.frame != nil {
				err = cn.handle.SendImage(item.frame.MIMEType, item.frame.Data)
			} else {
				err = cn.handle.SendAudio(item.audio)
			}
			if err != nil {
				return fmt.Errorf("session: send: %w", err)
			}
		}
	}
}

func (c *Controller) enqueue(ctx context.Context, cn *conn, item outbound) bool {
	select {
	case <-ctx.Done():
		return false
	case cn.out <- item:
		return true
	}
}

// captureLoop reads the microphone (or the peer bridge, which takes
// precedence while it has audio), runs the gate, and queues what passes.
// capture may be nil when only a peer is attached.
func (c *Controller) captureLoop(ctx context.Context, cn *conn, capture audio.Capture) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.paused.Load() {
			if !sleep(ctx, pauseSleep) {
				return nil
			}
			continue
		}

		frame, ok, err := c.nextFrame(ctx, capture)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c.processFrame(ctx, cn, frame)
	}
}

// nextFrame returns one captured chunk. ok is false when nothing was read
// this cycle.
func (c *Controller) nextFrame(ctx context.Context, capture audio.Capture) (audio.Frame, bool, error) {
	peer := c.cfg.Peer
	if capture == nil {
		if pcm, ok := peer.AudioChunk(); ok {
			return audio.Frame{Data: pcm, Source: audio.SourcePeer}, true, nil
		}
		sleep(ctx, peerPollInterval)
		return audio.Frame{}, false, nil
	}

	pcm, err := capture.Read()
	if err != nil {
		if ctx.Err() != nil {
			return audio.Frame{}, false, nil
		}
		if errors.Is(err, audio.ErrDeviceClosed) {
			return audio.Frame{}, false, fmt.Errorf("session: capture: %w", err)
		}
		c.log.Warn("capture read failed", "err", err)
		sleep(ctx, pauseSleep)
		return audio.Frame{}, false, nil
	}
	if peer != nil && peer.HasAudio() {
		if p, ok := peer.AudioChunk(); ok {
			return audio.Frame{Data: p, Source: audio.SourcePeer}, true, nil
		}
	}
	return audio.Frame{Data: pcm, Source: audio.SourceMic}, true, nil
}

func (c *Controller) processFrame(ctx context.Context, cn *conn, frame audio.Frame) {
	d := c.gate.Process(frame.Data)

	if d.SpeechStarted && cn.caps.SupportsImages {
		if f, ok := c.frames.OnSpeechStarted(); ok {
			c.enqueue(ctx, cn, outbound{frame: &f})
		}
	}
	if d.BargeIn {
		c.metrics.BargeIns.Add(ctx, 1)
	}
	if !d.Forward {
		c.metrics.RecordDrop(ctx, string(d.Reason))
		return
	}
	pcm := audio.Resample(frame.Data, c.cfg.CaptureRate, cn.caps.InputSampleRate)
	c.enqueue(ctx, cn, outbound{audio: pcm})
}

// playbackLoop plays inbound agent audio, mirrors it to the peer and keeps
// the agent speech state current.
func (c *Controller) playbackLoop(ctx context.Context, cn *conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm := <-cn.play:
			c.agent.BeginChunk()
			if c.cfg.Peer != nil {
				if err := c.cfg.Peer.SendAudio(pcm); err != nil {
					c.log.Debug("mirror audio to peer", "err", err)
				}
			}
			if cn.playback != nil {
				if err := cn.playback.Write(pcm); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("session: playback: %w", err)
				}
			}
			c.agent.EndChunk()
		}
	}
}

// clearPlayback discards agent audio that is queued but not yet audible.
func (c *Controller) clearPlayback(cn *conn) {
	for {
		select {
		case <-cn.play:
		default:
			if cn.playback != nil {
				cn.playback.Clear()
			}
			return
		}
	}
}

// receiveLoop consumes the provider's message stream. Tool batches run in
// their own goroutine on g so the stream keeps flowing while a confirmation
// is pending.
func (c *Controller) receiveLoop(ctx context.Context, g *errgroup.Group, cn *conn,
	rec *transcript.Reconciler, buf *transcript.ChatBuffer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-cn.handle.Messages():
			if !ok {
				if err := cn.handle.Err(); err != nil {
					return fmt.Errorf("session: receive: %w", err)
				}
				return fmt.Errorf("session: receive: %w", s2s.ErrSessionClosed)
			}
			if err := c.handleMessage(ctx, g, cn, rec, buf, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handleMessage(ctx context.Context, g *errgroup.Group, cn *conn,
	rec *transcript.Reconciler, buf *transcript.ChatBuffer, msg s2s.ServerMessage) error {
	if len(msg.Audio) > 0 {
		pcm := audio.Resample(msg.Audio, cn.caps.OutputSampleRate, c.cfg.PlaybackRate)
		select {
		case <-ctx.Done():
			return nil
		case cn.play <- pcm:
		}
	}

	if msg.InputTranscript != "" {
		if delta := rec.Apply(memory.SenderUser, msg.InputTranscript); delta != "" {
			c.clearPlayback(cn)
			c.appendTranscript(ctx, buf, memory.SenderUser, delta)
		}
	}
	if msg.OutputTranscript != "" {
		if delta := rec.Apply(memory.SenderAgent, msg.OutputTranscript); delta != "" {
			c.appendTranscript(ctx, buf, memory.SenderAgent, delta)
		}
	}

	if len(msg.ToolCalls) > 0 {
		calls := msg.ToolCalls
		g.Go(func() error {
			responses := c.dispatcher.Dispatch(ctx, calls)
			if len(responses) == 0 || ctx.Err() != nil {
				return nil
			}
			if err := cn.handle.SendToolResponses(responses); err != nil {
				return fmt.Errorf("session: send tool responses: %w", err)
			}
			return nil
		})
	}

	if msg.Interrupted {
		c.clearPlayback(cn)
		c.agent.Stop()
	}

	if msg.TurnComplete {
		if err := buf.Flush(ctx); err != nil {
			c.log.Warn("persist chat turn", "err", err)
		}
		rec.Reset()
	}
	return nil
}

func (c *Controller) appendTranscript(ctx context.Context, buf *transcript.ChatBuffer, sender memory.Sender, delta string) {
	if err := buf.Append(ctx, sender, delta); err != nil {
		c.log.Warn("persist chat turn", "err", err)
	}
	c.listener.OnTranscript(sender, delta)
}

// videoLoop feeds frames from the configured source into the frame gate.
func (c *Controller) videoLoop(ctx context.Context) error {
	for {
		f, err := c.cfg.Video.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("video frame", "err", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		c.frames.Update(voice.Frame{MIMEType: f.MIMEType, Data: f.Data, CapturedAt: f.CapturedAt})
	}
}

// sleep waits for d or ctx, reporting false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
