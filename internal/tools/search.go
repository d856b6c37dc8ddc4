package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"github.com/mopemope/doge-code/internal/sandbox"
)

// SearchTextTool implements search_text: a regex grep across the
// project tree, returning "path:line: text" matches.
type SearchTextTool struct{ sb *sandbox.Sandbox }

type searchTextInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (t *SearchTextTool) Name() string        { return "search_text" }
func (t *SearchTextTool) Description() string { return "Regex-searches file contents under path." }
func (t *SearchTextTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchTextTool) Call(ctx context.Context, input string) (string, error) {
	var in searchTextInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid search_text input: %w", err)
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	root := t.sb.ProjectRoot
	if in.Path != "" {
		abs, err := t.sb.Resolve(in.Path)
		if err != nil {
			return "", err
		}
		root = abs
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 200
	}

	var results []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(results) >= limit {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".doge" {
				return filepath.SkipDir
			}
			return nil
		}
		content, err := readTextFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(content, "\n") {
			if len(results) >= limit {
				break
			}
			if re.MatchString(line) {
				results = append(results, fmt.Sprintf("%s:%d: %s", t.sb.Rel(path), i+1, line))
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(results, "\n"), nil
}

// FindFileTool implements find_file: glob-match file names under path,
// using filepathx's "**" recursive expansion the same way
// FSReadManyFilesTool does. An absolute pattern naming a file that
// already exists short-circuits directly to that file instead of being
// walked and matched like everything else.
type FindFileTool struct{ sb *sandbox.Sandbox }

type findFileInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func (t *FindFileTool) Name() string        { return "find_file" }
func (t *FindFileTool) Description() string { return "Finds files whose name matches a glob pattern." }
func (t *FindFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}

func (t *FindFileTool) Call(ctx context.Context, input string) (string, error) {
	var in findFileInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid find_file input: %w", err)
	}

	if filepath.IsAbs(in.Pattern) {
		if info, err := os.Stat(in.Pattern); err == nil && !info.IsDir() {
			abs, err := t.sb.Resolve(in.Pattern)
			if err != nil {
				return "", err
			}
			return t.sb.Rel(abs), nil
		}
	}

	root := t.sb.ProjectRoot
	if in.Path != "" {
		abs, err := t.sb.Resolve(in.Path)
		if err != nil {
			return "", err
		}
		root = abs
	}

	candidates, err := filepathx.Glob(filepath.Join(root, "**", in.Pattern))
	if err != nil {
		return "", fmt.Errorf("glob %q: %w", in.Pattern, err)
	}
	var matches []string
	for _, path := range candidates {
		rel := t.sb.Rel(path)
		if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
			continue
		}
		if rel == ".doge" || strings.HasPrefix(rel, ".doge"+string(filepath.Separator)) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, rel)
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n"), nil
}

const maxSearchFileBytes = 4 << 20

func readTextFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxSearchFileBytes {
		return "", fmt.Errorf("file %s exceeds the search size limit", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
