package repomap

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// openDB opens (creating if necessary) the repomap.sqlite database at
// path, tuned the way a storage/db.go tunes its session database: a
// single connection (modernc.org/sqlite is not safe for concurrent
// writers across connections) and WAL journaling.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open repomap database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
