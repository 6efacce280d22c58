package events

import (
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/rexlive/pkg/memory"
)

type recorder struct {
	Nop
	mu  sync.Mutex
	got []string
}

func (r *recorder) OnTranscript(_ memory.Sender, delta string) {
	r.mu.Lock()
	r.got = append(r.got, "t:"+delta)
	r.mu.Unlock()
}

func (r *recorder) OnStatus(s Status, _ string) {
	r.mu.Lock()
	r.got = append(r.got, "s:"+string(s))
	r.mu.Unlock()
}

func TestMulti_FansOutInOrder(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	m := NewMulti(a)
	m.Add(b)

	m.OnTranscript(memory.SenderUser, "hi")
	m.OnStatus(StatusActive, "")
	m.OnActivity(ActivityIdle, nil)
	m.OnConfirmationRequest("id", "tool", "{}")

	want := []string{"t:hi", "s:active"}
	for i, r := range []*recorder{a, b} {
		if !slices.Equal(r.got, want) {
			t.Errorf("listener %d got %v, want %v", i, r.got, want)
		}
	}
}
