package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mopemope/doge-code/internal/hashutil"
	"github.com/mopemope/doge-code/internal/sandbox"
)

// GetFileSHA256Tool implements get_file_sha256: returns the current
// SHA-256 of a file, used by callers to obtain the precondition hash for
// replace_text_block.
type GetFileSHA256Tool struct{ sb *sandbox.Sandbox }

type getFileSHA256Input struct {
	Path string `json:"path"`
}

func (t *GetFileSHA256Tool) Name() string { return "get_file_sha256" }
func (t *GetFileSHA256Tool) Description() string {
	return "Returns the current SHA-256 hex digest of a file's content."
}
func (t *GetFileSHA256Tool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *GetFileSHA256Tool) Call(ctx context.Context, input string) (string, error) {
	var in getFileSHA256Input
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid get_file_sha256 input: %w", err)
	}
	abs, err := t.sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	return hashutil.SumFile(abs)
}
