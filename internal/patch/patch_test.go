package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCreateThenApplyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	old := "line1\nline2\nline3\n"
	want := "line1\nCHANGED\nline3\n"
	path := writeFile(t, dir, "f.txt", old)

	patchText := Create(path, old, want)
	res, err := Apply(path, patchText, "", false)
	require.NoError(t, err)
	require.Equal(t, want, res.NewContent)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func TestApplyPreservesCRLF(t *testing.T) {
	dir := t.TempDir()
	old := "line1\r\nline2\r\nline3\r\n"
	oldLF := "line1\nline2\nline3\n"
	wantLF := "line1\nCHANGED\nline3\n"
	path := writeFile(t, dir, "f.txt", old)

	patchText := Create(path, oldLF, wantLF)
	res, err := Apply(path, patchText, "", false)
	require.NoError(t, err)
	require.Contains(t, res.NewContent, "\r\n")
}

func TestApplyEmptyPatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.txt", "a\nb\n")

	_, err := Apply(path, "", "", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, KindEmptyPatch, pErr.Kind)
}

func TestApplyContextMismatch(t *testing.T) {
	dir := t.TempDir()
	old := "line1\nline2\nline3\n"
	path := writeFile(t, dir, "f.txt", old)
	patchText := Create(path, old, "line1\nCHANGED\nline3\n")

	// Mutate the file so the patch's context no longer matches.
	require.NoError(t, os.WriteFile(path, []byte("totally different content\n"), 0o644))

	_, err := Apply(path, patchText, "", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, KindContextMismatch, pErr.Kind)
}

func TestApplyEnforcesExpectedHash(t *testing.T) {
	dir := t.TempDir()
	old := "line1\nline2\nline3\n"
	path := writeFile(t, dir, "f.txt", old)
	patchText := Create(path, old, "line1\nCHANGED\nline3\n")

	_, err := Apply(path, patchText, "not-the-real-hash", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, KindHashMismatch, pErr.Kind)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, old, string(got))
}

func TestApplyDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	old := "line1\nline2\nline3\n"
	want := "line1\nCHANGED\nline3\n"
	path := writeFile(t, dir, "f.txt", old)
	patchText := Create(path, old, want)

	res, err := Apply(path, patchText, "", true)
	require.NoError(t, err)
	require.Equal(t, want, res.NewContent)
	require.Empty(t, res.ChangedFiles)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, old, string(got))
}

func TestStats(t *testing.T) {
	st := Stats("a\nb\nc\n", "a\nBB\nc\nd\n")
	require.Equal(t, 1, st.Removed)
	require.Equal(t, 2, st.Added)
}
