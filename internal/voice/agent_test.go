package voice

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAgentState_EpisodeLifecycle(t *testing.T) {
	t.Parallel()

	a := NewAgentState(30 * time.Millisecond)
	if speaking, _ := a.Speaking(); speaking {
		t.Fatal("new state should be silent")
	}

	if !a.BeginChunk() {
		t.Error("first chunk should start an episode")
	}
	_, started := a.Speaking()
	a.EndChunk()

	if a.BeginChunk() {
		t.Error("second chunk within the episode must not restart it")
	}
	if _, since := a.Speaking(); !since.Equal(started) {
		t.Error("episode start time changed mid-episode")
	}
	a.EndChunk()

	waitFor(t, func() bool {
		speaking, _ := a.Speaking()
		return !speaking
	})
}

func TestAgentState_NewChunkCancelsPendingFinish(t *testing.T) {
	t.Parallel()

	a := NewAgentState(40 * time.Millisecond)
	a.BeginChunk()
	a.EndChunk()
	a.BeginChunk() // cancels the armed timer; no EndChunk follows

	time.Sleep(120 * time.Millisecond)
	if speaking, _ := a.Speaking(); !speaking {
		t.Error("stale finish timer ended the episode")
	}
}

func TestAgentState_Stop(t *testing.T) {
	t.Parallel()

	a := NewAgentState(time.Hour)
	a.BeginChunk()
	a.EndChunk()
	a.Stop()
	if speaking, since := a.Speaking(); speaking || !since.IsZero() {
		t.Errorf("after Stop: speaking=%v since=%v", speaking, since)
	}
}
