package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mopemope/doge-code/internal/hashutil"
	"github.com/mopemope/doge-code/internal/patch"
	"github.com/mopemope/doge-code/internal/sandbox"
)

// ReplaceTextBlockTool implements replace_text_block: a hash-guarded
// targeted text replacement. The caller must supply the SHA-256 of the
// file's current content (obtained via get_file_sha256); a stale hash
// makes this a safe no-op that reports the current hash instead of
// guessing what the caller meant, generalizing an unguarded
// ReplaceTextTool per original_source/src/tools/replace_text_block.rs.
type ReplaceTextBlockTool struct{ sb *sandbox.Sandbox }

type replaceTextBlockInput struct {
	Path        string `json:"path"`
	ExpectedSHA string `json:"expected_sha256"`
	OldText     string `json:"old_text"`
	NewText     string `json:"new_text"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

func (t *ReplaceTextBlockTool) Name() string { return "replace_text_block" }
func (t *ReplaceTextBlockTool) Description() string {
	return "Replaces old_text with new_text in a file, guarded by the file's expected SHA-256 content hash. old_text must occur exactly once; zero or several occurrences are rejected. With dry_run, returns the diff without writing."
}
func (t *ReplaceTextBlockTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":            map[string]any{"type": "string"},
			"expected_sha256": map[string]any{"type": "string"},
			"old_text":        map[string]any{"type": "string"},
			"new_text":        map[string]any{"type": "string"},
			"dry_run":         map[string]any{"type": "boolean"},
		},
		"required": []string{"path", "expected_sha256", "old_text", "new_text"},
	}
}

func (t *ReplaceTextBlockTool) Call(ctx context.Context, input string) (string, error) {
	var in replaceTextBlockInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid replace_text_block input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	currentHash := hashutil.Sum(content)
	if currentHash != in.ExpectedSHA {
		return "", &patch.Error{Kind: patch.KindHashMismatch, Path: in.Path, Err: fmt.Errorf("file's current sha256 is %s, expected %s; re-read the file before editing", currentHash, in.ExpectedSHA)}
	}
	count := strings.Count(string(content), in.OldText)
	if count == 0 {
		return "", &patch.Error{Kind: patch.KindNotFound, Path: in.Path, Err: fmt.Errorf("old_text not found")}
	}
	if count > 1 {
		return "", &patch.Error{Kind: patch.KindAmbiguous, Path: in.Path, Err: fmt.Errorf("old_text is ambiguous: found %d occurrences", count)}
	}
	updated := strings.Replace(string(content), in.OldText, in.NewText, 1)
	if in.DryRun {
		return patch.Create(in.Path, string(content), updated), nil
	}
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("replaced text in %s; new sha256 %s", t.sb.Rel(abs), hashutil.Sum([]byte(updated))), nil
}

// CreatePatchTool implements create_patch: produce a patch transforming
// a file's current content into a caller-supplied new content.
type CreatePatchTool struct{ sb *sandbox.Sandbox }

type createPatchInput struct {
	Path       string `json:"path"`
	NewContent string `json:"new_content"`
}

func (t *CreatePatchTool) Name() string { return "create_patch" }
func (t *CreatePatchTool) Description() string {
	return "Creates a patch transforming a file's current content into new_content, without modifying the file."
}
func (t *CreatePatchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string"},
			"new_content": map[string]any{"type": "string"},
		},
		"required": []string{"path", "new_content"},
	}
}

func (t *CreatePatchTool) Call(ctx context.Context, input string) (string, error) {
	var in createPatchInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid create_patch input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	current, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return patch.Create(in.Path, string(current), in.NewContent), nil
}

// ApplyPatchTool implements apply_patch.
type ApplyPatchTool struct{ sb *sandbox.Sandbox }

type applyPatchInput struct {
	Path           string `json:"path"`
	Patch          string `json:"patch"`
	FileHashSHA256 string `json:"file_hash_sha256,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

func (t *ApplyPatchTool) Name() string { return "apply_patch" }
func (t *ApplyPatchTool) Description() string {
	return "Applies a unified patch to a file, verifying the result byte-for-byte after writing. file_hash_sha256, when given, is enforced before the file is touched. With dry_run, returns the would-be content without writing."
}
func (t *ApplyPatchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":             map[string]any{"type": "string"},
			"patch":            map[string]any{"type": "string"},
			"file_hash_sha256": map[string]any{"type": "string"},
			"dry_run":          map[string]any{"type": "boolean"},
		},
		"required": []string{"path", "patch"},
	}
}

func (t *ApplyPatchTool) Call(ctx context.Context, input string) (string, error) {
	var in applyPatchInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid apply_patch input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	res, err := patch.Apply(abs, in.Patch, in.FileHashSHA256, in.DryRun)
	if err != nil {
		return "", err
	}
	if in.DryRun {
		return res.NewContent, nil
	}
	return fmt.Sprintf("applied patch to %s", t.sb.Rel(res.ChangedFiles[0])), nil
}
