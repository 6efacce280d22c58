package bridge

import "sync"

var _ Peer = (*Queue)(nil)

// Queue is an in-process [Peer] backed by bounded FIFOs. Push feeds inbound
// audio; Sent exposes what the engine mirrored out. When the inbound queue is
// full the oldest chunk is discarded so that the peer's audio stays current.
type Queue struct {
	mu   sync.Mutex
	in   [][]byte
	max  int
	sent [][]byte
}

// NewQueue returns a Queue holding at most capacity inbound chunks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{max: capacity}
}

// Push enqueues one inbound chunk.
func (q *Queue) Push(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.in) == q.max {
		q.in = q.in[1:]
	}
	q.in = append(q.in, pcm)
}

// HasAudio implements [Peer].
func (q *Queue) HasAudio() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.in) > 0
}

// AudioChunk implements [Peer].
func (q *Queue) AudioChunk() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.in) == 0 {
		return nil, false
	}
	b := q.in[0]
	q.in = q.in[1:]
	return b, true
}

// SendAudio implements [Peer].
func (q *Queue) SendAudio(pcm []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, append([]byte(nil), pcm...))
	return nil
}

// Sent returns every chunk passed to SendAudio.
func (q *Queue) Sent() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.sent...)
}
