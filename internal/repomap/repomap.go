// Package repomap builds and queries a per-project symbol index backed
// by a local SQLite file (repomap.sqlite), per spec.md §4.E. It walks the
// project tree honoring .dogeignore (gitignore syntax), hashes each file,
// and re-extracts symbols only for files whose hash changed since the
// last rebuild.
package repomap

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/mopemope/doge-code/internal/hashutil"
	"github.com/mopemope/doge-code/internal/tools"
)

// SymbolRecord is spec.md §3's SymbolRecord, preserved verbatim including
// the Rust-flavored kind enum values (trait, assoc_fn) the original
// implementation defines, even though the bundled Go extractor only ever
// emits a subset of them.
type SymbolRecord struct {
	ProjectRoot string
	FilePath    string
	Name        string
	Kind        string // fn, struct, enum, trait, impl, method, assoc_fn, mod
	StartLine   int
	EndLine     int
	Parent      string
	Signature   string
}

// FileHashRecord is spec.md §3's FileHashRecord.
type FileHashRecord struct {
	ProjectRoot string
	FilePath    string
	SHA256      string
	Size        int64
	ModTime     time.Time
}

// Repomap coordinates reads and writes against repomap.sqlite for one
// project root. Queries take a shared lock; a rebuild takes the exclusive
// lock once per file it writes or removes, so a reader waits for at most
// one file's transaction and can see an index that a running rebuild has
// only partly updated.
type Repomap struct {
	db          *sql.DB
	projectRoot string
	mu          sync.RWMutex // shared by queries, exclusive per file write
}

// Open opens (creating if necessary) the repomap database at dbPath.
func Open(dbPath, projectRoot string) (*Repomap, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Repomap{db: db, projectRoot: projectRoot}, nil
}

// Close releases the underlying database handle.
func (r *Repomap) Close() error { return r.db.Close() }

// GetSymbol returns every symbol named exactly name in this project,
// implementing tools.RepomapStore.
func (r *Repomap) GetSymbol(ctx context.Context, name string) ([]tools.Symbol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT name, kind, file_path, start_line, end_line, signature
		FROM symbol_info
		WHERE project_root = ? AND name = ?
		ORDER BY file_path, start_line`, r.projectRoot, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// Search does a substring match over symbol name, keywords, and
// signature, implementing tools.RepomapStore.
func (r *Repomap) Search(ctx context.Context, query string, limit int) ([]tools.Symbol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	like := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, kind, file_path, start_line, end_line, signature
		FROM symbol_info
		WHERE project_root = ? AND (name LIKE ? OR keywords LIKE ? OR signature LIKE ?)
		ORDER BY file_path, start_line
		LIMIT ?`, r.projectRoot, like, like, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]tools.Symbol, error) {
	var out []tools.Symbol
	for rows.Next() {
		var s tools.Symbol
		if err := rows.Scan(&s.Name, &s.Kind, &s.FilePath, &s.StartLine, &s.EndLine, &s.Signature); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FileHash returns the last recorded hash for filePath, if any.
func (r *Repomap) FileHash(ctx context.Context, filePath string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT hash FROM file_hash WHERE project_root = ? AND file_path = ?`, r.projectRoot, filePath).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// upsertFile replaces filePath's symbols and hash record in a single
// transaction — delete-then-reinsert, the same pattern
// storage/session_store.go uses for a session's message rows.
func (r *Repomap) upsertFile(ctx context.Context, rec FileHashRecord, symbols []SymbolRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_info WHERE project_root = ? AND file_path = ?`, rec.ProjectRoot, rec.FilePath); err != nil {
		return err
	}
	for _, s := range symbols {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO symbol_info
				(project_root, file_path, name, kind, start_line, end_line, parent, signature, keywords)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ProjectRoot, s.FilePath, s.Name, s.Kind, s.StartLine, s.EndLine, s.Parent, s.Signature, s.Name,
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_hash (project_root, file_path, hash, size, mod_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_root, file_path) DO UPDATE SET hash = excluded.hash, size = excluded.size, mod_time = excluded.mod_time`,
		rec.ProjectRoot, rec.FilePath, rec.SHA256, rec.Size, rec.ModTime.Unix(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// removeFile drops a deleted file's symbols and hash record.
func (r *Repomap) removeFile(ctx context.Context, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_info WHERE project_root = ? AND file_path = ?`, r.projectRoot, filePath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_hash WHERE project_root = ? AND file_path = ?`, r.projectRoot, filePath); err != nil {
		return err
	}
	return tx.Commit()
}

// hashMany is a seam for tests to override batch hashing without
// touching disk.
var hashMany = hashutil.HashMany

// AllFileHashes returns every file path currently tracked, keyed to its
// last recorded hash, used by Rebuild to diff against a fresh scan.
func (r *Repomap) AllFileHashes(ctx context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `SELECT file_path, hash FROM file_hash WHERE project_root = ?`, r.projectRoot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, err
		}
		out[p] = h
	}
	return out, rows.Err()
}
