// Package history keeps a SQLite record of pipeline runs and the outcome of
// every item each run touched.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB is the run history database
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

// Close releases the database
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Migrate creates missing tables
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	profile TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	status TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	copied INTEGER NOT NULL DEFAULT 0,
	converted INTEGER NOT NULL DEFAULT 0,
	uploaded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE TABLE IF NOT EXISTS run_items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	name TEXT NOT NULL,
	file_id TEXT,
	outcome TEXT NOT NULL,
	message TEXT,
	recorded_at INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_run_items_run ON run_items(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
