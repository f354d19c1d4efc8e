package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/huyhung411991/PINetTensorRT/internal/monitoring"
)

// DB wraps the SQLite handle that stores lane decode runs.
type DB struct {
	*sql.DB
}

// pragmas are applied to every connection opened by NewDB.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// NewDB opens the database at path, applies the connection pragmas and
// brings the schema up to date with the embedded migrations.
func NewDB(path string) (*DB, error) {
	d, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := d.MigrateUp(MigrationsFS()); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OpenDB opens the database and applies pragmas without migrating.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// WAL plus a single writer keeps modernc happy under concurrent
	// RecordFrame calls.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	monitoring.Logf("opened database %s", path)
	return &DB{sqlDB}, nil
}
