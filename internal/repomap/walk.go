package repomap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ignoreFileName is the repomap-specific ignore file, read in addition to
// .gitignore, mirroring an IGNORE_FILE constant from the source this is
// adapted from.
const ignoreFileName = ".dogeignore"

// targetExtensions are the file extensions the repomap indexes. The
// original keys this off a per-language config table; this module only
// ships a Go extractor; the other languages' extensions are still walked
// and hashed for change detection, but yield no symbols.
var targetExtensions = map[string]bool{
	".go":   true,
	".rs":   true,
	".py":   true,
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".java": true,
}

// findTargetFiles walks root honoring .gitignore and .dogeignore (both
// using gitignore pattern syntax), returning every file whose extension
// is in targetExtensions. Grounded on original_source/src/analysis/file_finder.rs,
// which uses the `ignore` crate's WalkBuilder with a custom ignore
// filename; here github.com/go-git/go-git/v5/plumbing/format/gitignore
// supplies the pattern matcher since this module has no ignore-crate
// equivalent in its dependency pack.
func findTargetFiles(root string) ([]string, error) {
	var matchers []gitignore.Pattern
	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			loadIgnoreFile(&matchers, filepath.Join(path, ".gitignore"), nil)
			loadIgnoreFile(&matchers, filepath.Join(path, ignoreFileName), nil)
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			loadIgnoreFile(&matchers, filepath.Join(path, ".gitignore"), parts)
			loadIgnoreFile(&matchers, filepath.Join(path, ignoreFileName), parts)
			if matchPatterns(matchers, parts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if matchPatterns(matchers, parts, false) {
			return nil
		}
		if targetExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func loadIgnoreFile(matchers *[]gitignore.Pattern, path string, dirParts []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	domain := dirParts
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		*matchers = append(*matchers, gitignore.ParsePattern(line, domain))
	}
}

func matchPatterns(matchers []gitignore.Pattern, parts []string, isDir bool) bool {
	matched := false
	for _, m := range matchers {
		if res := m.Match(parts, isDir); res == gitignore.Exclude {
			matched = true
		} else if res == gitignore.Include {
			matched = false
		}
	}
	return matched
}
