package repomap

// Migration SQL applied in order by migrate.go's hand-rolled runner (see
// DESIGN.md for why golang-migrate itself isn't used). Identifiers mirror
// the symbol_info/file_hash tables from
// analysis/database/migration/m20230101_*.rs rather than a session-store
// schema, since repomap persistence is a distinct concern from session
// persistence.

const migration1Up = `
CREATE TABLE IF NOT EXISTS symbol_info (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_root TEXT NOT NULL,
    file_path TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    parent TEXT,
    signature TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    UNIQUE(project_root, file_path, name, start_line)
);

CREATE INDEX IF NOT EXISTS idx_symbol_info_project_root ON symbol_info(project_root);
CREATE INDEX IF NOT EXISTS idx_symbol_info_file_path ON symbol_info(project_root, file_path);
CREATE INDEX IF NOT EXISTS idx_symbol_info_name ON symbol_info(name);

CREATE TABLE IF NOT EXISTS file_hash (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_root TEXT NOT NULL,
    file_path TEXT NOT NULL,
    hash TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    mod_time INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    UNIQUE(project_root, file_path)
);

CREATE INDEX IF NOT EXISTS idx_file_hash_project_root ON file_hash(project_root);
`

const migration1Down = `
DROP TABLE IF EXISTS file_hash;
DROP TABLE IF EXISTS symbol_info;
`

// migration2 mirrors m20230101_000002_add_keywords_to_symbol_info.rs,
// which the original adds in a follow-up migration rather than in the
// initial schema.
const migration2Up = `
ALTER TABLE symbol_info ADD COLUMN keywords TEXT NOT NULL DEFAULT '';
`

const migration2Down = `
ALTER TABLE symbol_info DROP COLUMN keywords;
`
