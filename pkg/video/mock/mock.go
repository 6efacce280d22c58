// Package mock provides a channel-driven [video.Source] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rexlive/pkg/video"
)

// Source yields frames pushed through Push.
type Source struct {
	frames chan video.Frame

	mu     sync.Mutex
	closed bool
}

var _ video.Source = (*Source)(nil)

// NewSource returns an empty Source.
func NewSource() *Source {
	return &Source{frames: make(chan video.Frame, 16)}
}

// Push queues a frame for Next.
func (s *Source) Push(f video.Frame) { s.frames <- f }

// Next implements [video.Source].
func (s *Source) Next(ctx context.Context) (video.Frame, error) {
	select {
	case <-ctx.Done():
		return video.Frame{}, ctx.Err()
	case f := <-s.frames:
		return f, nil
	}
}

// Close implements [video.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
