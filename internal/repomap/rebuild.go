package repomap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mopemope/doge-code/internal/hashutil"
)

// RebuildStats summarizes one Rebuild call, returned so callers (the
// rebuild_repomap tool and the /rebuild-repomap command) can report
// progress without re-querying the database.
type RebuildStats struct {
	FilesScanned int
	FilesChanged int
	FilesRemoved int
	Symbols      int
}

// Rebuild walks the project tree and re-extracts symbols only for files
// whose content hash changed since the last rebuild, per spec.md §4.E's
// "incremental by file hash" requirement. Extraction failures on
// individual files (e.g. a file that fails to parse) are skipped rather
// than aborting the whole rebuild, matching the original's per-file
// error tolerance in analysis/mod.rs. Hashing the current tree runs on
// hashutil.HashMany's worker pool, and the added/modified/removed split
// against the last rebuild comes from hashutil.Diff, per spec.md §4.B.
func (r *Repomap) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats

	oldHashes, err := r.AllFileHashes(ctx)
	if err != nil {
		return stats, err
	}

	relFiles, err := findTargetFiles(r.projectRoot)
	if err != nil {
		return stats, err
	}
	stats.FilesScanned = len(relFiles)

	relByAbs := make(map[string]string, len(relFiles))
	absPaths := make([]string, 0, len(relFiles))
	for _, rel := range relFiles {
		abs := filepath.Join(r.projectRoot, rel)
		relByAbs[abs] = rel
		absPaths = append(absPaths, abs)
	}

	hashesByAbs, failures := hashMany(absPaths)
	for abs, ferr := range failures {
		slog.Warn("failed to hash file during repomap rebuild", "path", relByAbs[abs], "error", ferr)
	}

	newHashes := make(map[string]string, len(hashesByAbs))
	for abs, hash := range hashesByAbs {
		newHashes[relByAbs[abs]] = hash
	}

	added, modified, removed := hashutil.Diff(oldHashes, newHashes)

	for _, rel := range append(added, modified...) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		abs := filepath.Join(r.projectRoot, rel)
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		symbols, err := extractFile(r.projectRoot, rel, abs)
		if err != nil {
			// Unparseable or unsupported file: still record its hash so it
			// is not rescanned every rebuild, but with no symbols.
			symbols = nil
		}

		rec := FileHashRecord{
			ProjectRoot: r.projectRoot,
			FilePath:    rel,
			SHA256:      newHashes[rel],
			Size:        info.Size(),
			ModTime:     info.ModTime().UTC(),
		}
		if err := r.upsertFile(ctx, rec, symbols); err != nil {
			return stats, err
		}
		stats.FilesChanged++
		stats.Symbols += len(symbols)
	}

	for _, rel := range removed {
		if err := r.removeFile(ctx, rel); err != nil {
			return stats, err
		}
		stats.FilesRemoved++
	}

	return stats, nil
}

// extractFile dispatches to the language-specific extractor for path's
// extension. Only Go is implemented; every other tracked extension is
// hashed for change detection but yields no symbols until a matching
// extractor is added.
func extractFile(projectRoot, relPath, absPath string) ([]SymbolRecord, error) {
	switch filepath.Ext(relPath) {
	case ".go":
		src, err := os.ReadFile(absPath)
		if err != nil {
			return nil, err
		}
		return extractGoSymbols(projectRoot, relPath, src)
	default:
		return nil, nil
	}
}
