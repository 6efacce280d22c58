// Package builtin provides the in-process tools every session offers: file
// access inside a sandboxed workspace directory and recall of past
// conversation turns.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
)

// maxReadBytes bounds read_file output.
const maxReadBytes = 1 << 20

// Workspace returns write_file, read_file and list_directory rooted at dir.
// Paths that resolve outside dir are rejected.
func Workspace(dir string) []tools.Descriptor {
	return []tools.Descriptor{
		{
			Definition: s2s.ToolDefinition{
				Name:        "write_file",
				Description: "Write text content to a file in the workspace. Missing directories are created.",
				Parameters: objectSchema(map[string]any{
					"path":    stringProp("File path relative to the workspace, e.g. notes/todo.md."),
					"content": stringProp("Text to write."),
				}, "path", "content"),
			},
			Handler: writeFile(dir),
		},
		{
			Definition: s2s.ToolDefinition{
				Name:        "read_file",
				Description: "Read a text file from the workspace. Files over 1 MiB are rejected.",
				Parameters: objectSchema(map[string]any{
					"path": stringProp("File path relative to the workspace."),
				}, "path"),
			},
			Handler: readFile(dir),
		},
		{
			Definition: s2s.ToolDefinition{
				Name:        "list_directory",
				Description: "List the entries of a workspace directory.",
				Parameters: objectSchema(map[string]any{
					"path": stringProp("Directory relative to the workspace. Empty lists the root."),
				}),
			},
			Handler: listDirectory(dir),
		},
	}
}

type pathArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// safePath joins rel onto base and rejects results outside base.
func safePath(base, rel string) (string, error) {
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, rel)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("builtin: path %q escapes the workspace", rel)
	}
	return joined, nil
}

func decodePath(tool, base, args string, allowEmpty bool) (pathArgs, string, error) {
	var a pathArgs
	if err := tools.DecodeArgs(args, &a); err != nil {
		return a, "", fmt.Errorf("builtin: %s: invalid arguments: %w", tool, err)
	}
	if a.Path == "" && !allowEmpty {
		return a, "", fmt.Errorf("builtin: %s: path must not be empty", tool)
	}
	abs, err := safePath(base, a.Path)
	return a, abs, err
}

func writeFile(base string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		a, abs, err := decodePath("write_file", base, args, false)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", fmt.Errorf("builtin: write_file: %w", err)
		}
		if err := os.WriteFile(abs, []byte(a.Content), 0o644); err != nil {
			return "", fmt.Errorf("builtin: write_file: %w", err)
		}
		return fmt.Sprintf("File '%s' written successfully (%d bytes).", a.Path, len(a.Content)), nil
	}
}

func readFile(base string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		a, abs, err := decodePath("read_file", base, args, false)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("builtin: read_file: %w", err)
		}
		if info.Size() > maxReadBytes {
			return "", fmt.Errorf("builtin: read_file: %q is too large (%d bytes)", a.Path, info.Size())
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", fmt.Errorf("builtin: read_file: %w", err)
		}
		return string(data), nil
	}
}

func listDirectory(base string) tools.Handler {
	return func(ctx context.Context, args string) (string, error) {
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		_, abs, err := decodePath("list_directory", base, args, true)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "", fmt.Errorf("builtin: list_directory: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() {
				n += "/"
			}
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return "The directory is empty.", nil
		}
		return strings.Join(names, "\n"), nil
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
