package repomap

import (
	"database/sql"
	"fmt"
)

// migrationStep is one ordered, idempotent schema change, identified by
// a stable integer version, mirroring the naming convention of the
// original implementation's m20230101_000001_create_tables.rs /
// m20230101_000002_add_keywords_to_symbol_info.rs migration pair.
type migrationStep struct {
	version int
	name    string
	up      string
}

var migrations = []migrationStep{
	{version: 1, name: "create_symbol_info_and_file_hash", up: migration1Up},
	{version: 2, name: "add_keywords_to_symbol_info", up: migration2Up},
}

// migrate applies every migration whose version is not yet recorded in
// schema_migrations, in ascending version order, each inside its own
// transaction so a failure partway through leaves the schema at the last
// fully-applied version rather than half-migrated.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
