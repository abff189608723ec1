// Package db owns the SQLite record store connection used by the execution core.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scopetools/beamline/errors"
)

// Open opens the record store at the given path.
//
// WAL keeps status reads from blocking the frequent single-row job updates,
// foreign keys protect the project/job relation, and the busy timeout covers
// supervisor goroutines writing completions concurrently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	// sql.Open defers the actual open; force it so a bad path fails here
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if logger != nil {
		logger.Debugw("Record store opened", "path", path)
	}
	return db, nil
}
