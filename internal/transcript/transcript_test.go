package transcript

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/memory/mock"
)

func TestReconciler_ExtendingSnapshotsConcatenateToFinal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		snapshots []string
		deltas    []string
	}{
		{
			name:      "hello there",
			snapshots: []string{"Hel", "Hello", "Hello there"},
			deltas:    []string{"Hel", "lo", " there"},
		},
		{
			name:      "single",
			snapshots: []string{"ok"},
			deltas:    []string{"ok"},
		},
		{
			name:      "unicode",
			snapshots: []string{"Grüß", "Grüße dich", "Grüße dich!"},
			deltas:    []string{"Grüß", "e dich", "!"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewReconciler()
			var sb strings.Builder
			for i, s := range tc.snapshots {
				d := r.Apply(memory.SenderUser, s)
				if d != tc.deltas[i] {
					t.Errorf("delta %d = %q, want %q", i, d, tc.deltas[i])
				}
				sb.WriteString(d)
			}
			if final := tc.snapshots[len(tc.snapshots)-1]; sb.String() != final {
				t.Errorf("concatenation = %q, want %q", sb.String(), final)
			}
		})
	}
}

func TestReconciler_DuplicateYieldsEmpty(t *testing.T) {
	t.Parallel()
	r := NewReconciler()
	r.Apply(memory.SenderAgent, "Hi")
	if d := r.Apply(memory.SenderAgent, "Hi"); d != "" {
		t.Errorf("duplicate delta = %q, want empty", d)
	}
}

func TestReconciler_DivergentSnapshotIsWhole(t *testing.T) {
	t.Parallel()
	r := NewReconciler()
	r.Apply(memory.SenderUser, "Hello")
	if d := r.Apply(memory.SenderUser, "Goodbye"); d != "Goodbye" {
		t.Errorf("divergent delta = %q, want Goodbye", d)
	}
	if d := r.Apply(memory.SenderUser, "Goodbye now"); d != " now" {
		t.Errorf("tracking not reset to divergent snapshot: delta = %q", d)
	}
}

func TestReconciler_SpeakersAreIndependent(t *testing.T) {
	t.Parallel()
	r := NewReconciler()
	r.Apply(memory.SenderUser, "What")
	if d := r.Apply(memory.SenderAgent, "What"); d != "What" {
		t.Errorf("agent delta = %q, want What", d)
	}
	if d := r.Apply(memory.SenderUser, "What time"); d != " time" {
		t.Errorf("user delta = %q", d)
	}
}

func TestReconciler_ResetStartsFresh(t *testing.T) {
	t.Parallel()
	r := NewReconciler()
	r.Apply(memory.SenderUser, "Hello")
	r.Reset()
	if d := r.Apply(memory.SenderUser, "Hello"); d != "Hello" {
		t.Errorf("after reset delta = %q, want Hello", d)
	}
}

func TestChatBuffer_FlushOnSpeakerChange(t *testing.T) {
	t.Parallel()

	store := &mock.ChatStore{}
	b := NewChatBuffer(store)
	ctx := context.Background()

	for _, d := range []string{"Hel", "lo", " there"} {
		_ = b.Append(ctx, memory.SenderUser, d)
	}
	if b.Text() != "Hello there" || b.Sender() != memory.SenderUser {
		t.Fatalf("buffer = %q/%q", b.Sender(), b.Text())
	}
	if len(store.Messages()) != 0 {
		t.Fatal("nothing should be persisted before a speaker change")
	}

	_ = b.Append(ctx, memory.SenderAgent, "Hi!")
	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].Sender != memory.SenderUser || msgs[0].Text != "Hello there" {
		t.Fatalf("persisted = %+v", msgs)
	}
	if b.Text() != "Hi!" {
		t.Errorf("new buffer = %q, want Hi!", b.Text())
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if msgs := store.Messages(); len(msgs) != 2 || msgs[1].Text != "Hi!" {
		t.Errorf("persisted after flush = %+v", msgs)
	}
	if b.Sender() != memory.SenderNone || b.Text() != "" {
		t.Error("flush must reset the buffer")
	}
}

func TestChatBuffer_SkipsBlankTurns(t *testing.T) {
	t.Parallel()
	store := &mock.ChatStore{}
	b := NewChatBuffer(store)
	_ = b.Append(context.Background(), memory.SenderAgent, "   ")
	_ = b.Flush(context.Background())
	if len(store.Messages()) != 0 {
		t.Error("blank turn persisted")
	}
}

func TestChatBuffer_FlushErrorStillResets(t *testing.T) {
	t.Parallel()
	store := &mock.ChatStore{LogErr: errors.New("db down")}
	b := NewChatBuffer(store)
	_ = b.Append(context.Background(), memory.SenderUser, "hi")
	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if b.Text() != "" {
		t.Error("buffer not reset after failed flush")
	}
}
