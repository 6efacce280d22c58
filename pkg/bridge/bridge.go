// Package bridge connects a remote peer device (typically a phone) to the
// session's audio pipelines. The peer's microphone audio preempts the local
// microphone while it is flowing, and the agent's voice is mirrored back to
// the peer.
package bridge

// Peer is the engine-facing side of a peer-device audio bridge.
//
// Implementations must be safe for concurrent use: the capture pipeline polls
// HasAudio and AudioChunk while the playback pipeline calls SendAudio.
type Peer interface {
	// HasAudio reports whether at least one inbound chunk is queued.
	HasAudio() bool

	// AudioChunk dequeues the next inbound chunk without blocking. It
	// reports false when nothing is queued.
	AudioChunk() ([]byte, bool)

	// SendAudio mirrors agent audio to the peer. It is a no-op when no peer
	// is attached.
	SendAudio(pcm []byte) error
}
