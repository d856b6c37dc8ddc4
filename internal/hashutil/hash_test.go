package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumFileMatchesInMemorySum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	data := []byte("hello doge")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := SumFile(path)
	require.NoError(t, err)
	require.Equal(t, Sum(data), fromFile)
}

func TestMatches(t *testing.T) {
	data := []byte("abc")
	require.True(t, Matches(data, Sum(data)))
	require.False(t, Matches(data, "deadbeef"))
}

func TestHashManyHashesEveryFileAndReportsFailures(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, content := range []string{"one", "two", "three", "four", "five"} {
		p := filepath.Join(dir, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		paths = append(paths, p)
	}
	missing := filepath.Join(dir, "missing.txt")
	paths = append(paths, missing)

	hashes, failures := HashMany(paths)
	require.Len(t, failures, 1)
	require.Error(t, failures[missing])

	for _, p := range paths[:len(paths)-1] {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Equal(t, Sum(data), hashes[p])
	}
}

func TestDiffPartitionsAddedModifiedRemoved(t *testing.T) {
	old := map[string]string{
		"a.txt": "hash-a",
		"b.txt": "hash-b",
		"c.txt": "hash-c",
	}
	new := map[string]string{
		"a.txt": "hash-a",
		"b.txt": "hash-b-changed",
		"d.txt": "hash-d",
	}

	added, modified, removed := Diff(old, new)
	require.ElementsMatch(t, []string{"d.txt"}, added)
	require.ElementsMatch(t, []string{"b.txt"}, modified)
	require.ElementsMatch(t, []string{"c.txt"}, removed)
}
