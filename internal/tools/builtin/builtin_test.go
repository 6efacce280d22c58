package builtin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/pkg/memory"
	"github.com/MrWong99/rexlive/pkg/memory/mock"
)

func handler(t *testing.T, ds []tools.Descriptor, name string) tools.Handler {
	t.Helper()
	for _, d := range ds {
		if d.Name() == name {
			return d.Handler
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestSafePath(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	tests := []struct {
		rel  string
		want string
		ok   bool
	}{
		{"file.txt", filepath.Join(base, "file.txt"), true},
		{"a/b/c.md", filepath.Join(base, "a", "b", "c.md"), true},
		{"", base, true},
		{"../escape", "", false},
		{"a/../../escape", "", false},
	}
	for _, tc := range tests {
		got, err := safePath(base, tc.rel)
		if (err == nil) != tc.ok {
			t.Errorf("safePath(%q) err = %v, want ok=%v", tc.rel, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("safePath(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}

func TestWorkspace_WriteReadList(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	ds := Workspace(base)
	ctx := context.Background()

	out, err := handler(t, ds, "write_file")(ctx, `{"path":"notes/todo.md","content":"buy milk"}`)
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if !strings.Contains(out, "notes/todo.md") {
		t.Errorf("write output = %q", out)
	}

	got, err := handler(t, ds, "read_file")(ctx, `{"path":"notes/todo.md"}`)
	if err != nil || got != "buy milk" {
		t.Errorf("read_file = %q, %v", got, err)
	}

	list, err := handler(t, ds, "list_directory")(ctx, `{}`)
	if err != nil || list != "notes/" {
		t.Errorf("list_directory = %q, %v", list, err)
	}
}

func TestWorkspace_Rejections(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	ds := Workspace(base)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(base, "big.bin"), make([]byte, maxReadBytes+1), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		tool, args, contains string
	}{
		{"write_file", `{"path":"../x","content":"y"}`, "escapes"},
		{"write_file", `{"content":"y"}`, "empty"},
		{"read_file", `{"path":"big.bin"}`, "too large"},
		{"read_file", `{"path":"missing.txt"}`, "read_file"},
		{"read_file", `nope`, "invalid arguments"},
	}
	for _, tc := range tests {
		_, err := handler(t, ds, tc.tool)(ctx, tc.args)
		if err == nil || !strings.Contains(err.Error(), tc.contains) {
			t.Errorf("%s(%s) err = %v, want containing %q", tc.tool, tc.args, err, tc.contains)
		}
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	store := &mock.ChatStore{}
	h := History(store).Handler
	ctx := context.Background()

	out, err := h(ctx, "")
	if err != nil || out != "No conversation history yet." {
		t.Errorf("empty history = %q, %v", out, err)
	}

	_ = store.LogChat(ctx, memory.SenderUser, "Hi")
	_ = store.LogChat(ctx, memory.SenderAgent, "Hello!")
	out, err = h(ctx, `{"limit":5000}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "[User]: Hi\n[Agent]: Hello!\n" {
		t.Errorf("history = %q", out)
	}
	if calls := store.RecentCalls; len(calls) != 2 || calls[1] != maxRecall {
		t.Errorf("RecentChat limits = %v", calls)
	}

	store.RecentErr = errors.New("db down")
	if _, err := h(ctx, "{}"); err == nil {
		t.Error("store error swallowed")
	}
}
