package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mopemope/doge-code/internal/hashutil"
	"github.com/mopemope/doge-code/internal/patch"
	"github.com/mopemope/doge-code/internal/sandbox"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(root)
	require.NoError(t, err)
	return NewRegistry(sb, WithAllowList(nil)), root
}

func TestFSWriteThenRead(t *testing.T) {
	r, root := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(root, "a.txt")

	writeArgs, _ := json.Marshal(fsWriteInput{Path: path, Content: "hello"})
	out, err := r.Dispatch(ctx, "fs_write", string(writeArgs))
	require.NoError(t, err)
	require.Contains(t, out, "wrote")

	readArgs, _ := json.Marshal(fsReadInput{Path: path})
	out, err = r.Dispatch(ctx, "fs_read", string(readArgs))
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestFSListRejectsRelativePath(t *testing.T) {
	r, _ := newTestRegistry(t)
	args, _ := json.Marshal(fsListInput{Path: "."})
	_, err := r.Dispatch(context.Background(), "fs_list", string(args))
	require.Error(t, err)

	var sbErr *sandbox.Error
	require.ErrorAs(t, err, &sbErr)
	require.Equal(t, sandbox.KindInvalidPath, sbErr.Kind)
}

func TestFSListReturnsEmptyListForMissingPath(t *testing.T) {
	r, root := newTestRegistry(t)
	args, _ := json.Marshal(fsListInput{Path: filepath.Join(root, "does-not-exist")})
	out, err := r.Dispatch(context.Background(), "fs_list", string(args))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestFSReadRejectsDirectory(t *testing.T) {
	r, root := newTestRegistry(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	args, _ := json.Marshal(fsReadInput{Path: filepath.Join(root, "sub")})
	_, err := r.Dispatch(context.Background(), "fs_read", string(args))
	require.Error(t, err)

	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, KindNotAFile, tErr.Kind)
}

func TestFSReadRejectsBinaryContent(t *testing.T) {
	r, root := newTestRegistry(t)
	path := filepath.Join(root, "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte("a\x00b"), 0o644))

	args, _ := json.Marshal(fsReadInput{Path: path})
	_, err := r.Dispatch(context.Background(), "fs_read", string(args))
	require.Error(t, err)

	var tErr *Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, KindBinaryRejected, tErr.Kind)
}

func TestDispatchRejectsMissingRequiredArg(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), "fs_read", `{}`)
	require.Error(t, err)
}

func TestReplaceTextBlockRejectsStaleHash(t *testing.T) {
	r, root := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("one two three"), 0o644))

	args, _ := json.Marshal(replaceTextBlockInput{
		Path:        path,
		ExpectedSHA: "deadbeef",
		OldText:     "two",
		NewText:     "TWO",
	})
	_, err := r.Dispatch(ctx, "replace_text_block", string(args))
	require.Error(t, err)

	var pErr *patch.Error
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, patch.KindHashMismatch, pErr.Kind)

	content, _ := os.ReadFile(path)
	require.Equal(t, "one two three", string(content))
}

func TestReplaceTextBlockDryRunDoesNotWrite(t *testing.T) {
	r, root := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(root, "f.txt")
	content := "one two three"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	args, _ := json.Marshal(replaceTextBlockInput{
		Path:        path,
		ExpectedSHA: hashutil.Sum([]byte(content)),
		OldText:     "two",
		NewText:     "TWO",
		DryRun:      true,
	})
	out, err := r.Dispatch(ctx, "replace_text_block", string(args))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	got, _ := os.ReadFile(path)
	require.Equal(t, content, string(got))
}

func TestExecuteBashAllowList(t *testing.T) {
	root := t.TempDir()
	sb, err := sandbox.New(root)
	require.NoError(t, err)
	r := NewRegistry(sb, WithAllowList([]string{"echo"}))

	args, _ := json.Marshal(executeBashInput{Command: "echo hi"})
	out, err := r.Dispatch(context.Background(), "execute_bash", string(args))
	require.NoError(t, err)
	require.Contains(t, out, "hi")

	args, _ = json.Marshal(executeBashInput{Command: "rm -rf /"})
	_, err = r.Dispatch(context.Background(), "execute_bash", string(args))
	require.Error(t, err)
}
