package session

import "time"

// Default reconnection delays.
const (
	DefaultBackoffMin = 1 * time.Second
	DefaultBackoffMax = 10 * time.Second
)

// Backoff yields exponentially growing reconnect delays: Min, 2*Min, 4*Min
// and so on, capped at Max. It is not safe for concurrent use; the
// controller's run loop owns it.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	next time.Duration
}

// NewBackoff returns a Backoff with the given bounds. Non-positive values
// fall back to the defaults.
func NewBackoff(minDelay, maxDelay time.Duration) *Backoff {
	if minDelay <= 0 {
		minDelay = DefaultBackoffMin
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	maxDelay = max(maxDelay, minDelay)
	return &Backoff{Min: minDelay, Max: maxDelay, next: minDelay}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Min
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

// Reset rewinds the sequence to Min. Called whenever a session becomes
// active.
func (b *Backoff) Reset() { b.next = b.Min }
