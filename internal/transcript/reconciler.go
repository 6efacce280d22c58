// Package transcript turns the cumulative transcript snapshots streamed by
// the remote service into append-only deltas, and groups those deltas into
// per-speaker chat turns for persistence.
package transcript

import (
	"strings"

	"github.com/MrWong99/rexlive/pkg/memory"
)

// Reconciler converts cumulative snapshots into incremental deltas,
// independently per speaker.
//
// A Reconciler is not safe for concurrent use; it is owned by the session's
// receive goroutine, which applies snapshots in arrival order.
type Reconciler struct {
	lastSeen map[memory.Sender]string
}

// NewReconciler returns an empty Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{lastSeen: make(map[memory.Sender]string, 2)}
}

// Apply records snapshot for sender and returns the text not yet seen.
//
//   - A snapshot equal to the previous one yields "".
//   - A snapshot extending the previous one yields the new suffix.
//   - Any other snapshot is treated as a fresh utterance and returned whole.
func (r *Reconciler) Apply(sender memory.Sender, snapshot string) string {
	last := r.lastSeen[sender]
	if snapshot == last {
		return ""
	}
	r.lastSeen[sender] = snapshot
	if strings.HasPrefix(snapshot, last) {
		return snapshot[len(last):]
	}
	return snapshot
}

// Reset forgets every speaker's last snapshot. Called at turn boundaries.
func (r *Reconciler) Reset() {
	clear(r.lastSeen)
}
