package repomap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepomap(t *testing.T) (*Repomap, string) {
	t.Helper()
	projectRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "repomap.sqlite")
	rm, err := Open(dbPath, projectRoot)
	require.NoError(t, err)
	t.Cleanup(func() { rm.Close() })
	return rm, projectRoot
}

func writeGoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRebuildExtractsGoSymbols(t *testing.T) {
	rm, root := newTestRepomap(t)
	writeGoFile(t, root, "pkg/widget.go", `package pkg

type Widget struct {
	Name string
}

func (w *Widget) Render() string {
	return w.Name
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}
`)

	ctx := context.Background()
	stats, err := rm.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesScanned)
	require.Equal(t, 1, stats.FilesChanged)
	require.Equal(t, 3, stats.Symbols)

	syms, err := rm.GetSymbol(ctx, "NewWidget")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "fn", syms[0].Kind)

	methodSyms, err := rm.GetSymbol(ctx, "Render")
	require.NoError(t, err)
	require.Len(t, methodSyms, 1)
	require.Equal(t, "method", methodSyms[0].Kind)

	found, err := rm.Search(ctx, "Widget", 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(found), 2)
}

func TestRebuildSkipsUnchangedFiles(t *testing.T) {
	rm, root := newTestRepomap(t)
	writeGoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	ctx := context.Background()
	first, err := rm.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.FilesChanged)

	second, err := rm.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.FilesChanged)
}

func TestRebuildHonorsDogeignore(t *testing.T) {
	rm, root := newTestRepomap(t)
	writeGoFile(t, root, "vendor/skip.go", "package vendor\n\nfunc Skip() {}\n")
	writeGoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".dogeignore"), []byte("vendor/\n"), 0o644))

	ctx := context.Background()
	stats, err := rm.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesScanned)

	syms, err := rm.GetSymbol(ctx, "Skip")
	require.NoError(t, err)
	require.Empty(t, syms)
}

func TestRebuildRemovesDeletedFiles(t *testing.T) {
	rm, root := newTestRepomap(t)
	path := filepath.Join(root, "temp.go")
	writeGoFile(t, root, "temp.go", "package main\n\nfunc Temp() {}\n")

	ctx := context.Background()
	_, err := rm.Rebuild(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	stats, err := rm.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesRemoved)

	syms, err := rm.GetSymbol(ctx, "Temp")
	require.NoError(t, err)
	require.Empty(t, syms)
}
