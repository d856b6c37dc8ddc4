package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"github.com/mopemope/doge-code/internal/sandbox"
)

// FSListTool implements fs_list: list directory entries within the
// sandbox, non-recursively, grounded on ListDirectoryTool.
type FSListTool struct{ sb *sandbox.Sandbox }

type fsListInput struct {
	Path string `json:"path"`
}

func (t *FSListTool) Name() string { return "fs_list" }
func (t *FSListTool) Description() string {
	return "Lists files and directories at path, non-recursively."
}
func (t *FSListTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *FSListTool) Call(ctx context.Context, input string) (string, error) {
	var in fsListInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid fs_list input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

// FSReadTool implements fs_read: read a file's content, optionally
// restricted to a 1-based [offset, offset+limit) line window, grounded
// on ReadFileTool.
type FSReadTool struct{ sb *sandbox.Sandbox }

type fsReadInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *FSReadTool) Name() string { return "fs_read" }
func (t *FSReadTool) Description() string {
	return "Reads a file's content. Optional 'offset' (1-based line) and 'limit' (line count) restrict the read to a window."
}
func (t *FSReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string"},
			"offset": map[string]any{"type": "integer"},
			"limit":  map[string]any{"type": "integer"},
		},
		"required": []string{"path"},
	}
}

func (t *FSReadTool) Call(ctx context.Context, input string) (string, error) {
	var in fsReadInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid fs_read input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", &Error{Kind: KindNotAFile, Path: in.Path, Err: fmt.Errorf("is a directory")}
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", &Error{Kind: KindBinaryRejected, Path: in.Path, Err: fmt.Errorf("file content contains a NUL byte")}
	}
	if in.Offset == 0 && in.Limit == 0 {
		return string(content), nil
	}
	lines := strings.Split(string(content), "\n")
	start := 0
	if in.Offset > 0 {
		start = in.Offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if in.Limit > 0 && start+in.Limit < end {
		end = start + in.Limit
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// FSReadManyFilesTool implements fs_read_many_files: expand a set of
// glob patterns (including "**") and read every matched file, grounded
// on ReadManyFilesTool.
type FSReadManyFilesTool struct{ sb *sandbox.Sandbox }

type fsReadManyInput struct {
	Patterns []string `json:"patterns"`
}

func (t *FSReadManyFilesTool) Name() string { return "fs_read_many_files" }
func (t *FSReadManyFilesTool) Description() string {
	return "Reads every file matching any of the given glob patterns (supports ** for recursive matching)."
}
func (t *FSReadManyFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patterns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"patterns"},
	}
}

func (t *FSReadManyFilesTool) Call(ctx context.Context, input string) (string, error) {
	var in fsReadManyInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid fs_read_many_files input: %w", err)
	}
	var b strings.Builder
	seen := map[string]bool{}
	for _, pattern := range in.Patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(t.sb.ProjectRoot, pattern)
		}
		matches, err := filepathx.Glob(full)
		if err != nil {
			return "", fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs, err := t.sb.Resolve(m)
			if err != nil || seen[abs] {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil || info.IsDir() {
				continue
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				continue
			}
			seen[abs] = true
			fmt.Fprintf(&b, "=== %s ===\n%s\n", t.sb.Rel(abs), content)
		}
	}
	return b.String(), nil
}

// FSWriteTool implements fs_write: create or overwrite a file, grounded
// on WriteFileTool.
type FSWriteTool struct{ sb *sandbox.Sandbox }

type fsWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FSWriteTool) Name() string { return "fs_write" }
func (t *FSWriteTool) Description() string {
	return "Writes content to a file, creating it (and parent directories) or overwriting it."
}
func (t *FSWriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *FSWriteTool) Call(ctx context.Context, input string) (string, error) {
	var in fsWriteInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid fs_write input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte([]byte(in.Content), 0) >= 0 {
		return "", &Error{Kind: KindBinaryRejected, Path: in.Path, Err: fmt.Errorf("content contains a NUL byte")}
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create parent directory: %w", err)
		}
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), t.sb.Rel(abs)), nil
}
