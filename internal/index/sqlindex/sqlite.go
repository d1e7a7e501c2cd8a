package sqlindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the database file at path, creating its directory. WAL
// and the busy timeout are set through the DSN so they apply to every pooled
// connection. The pool is limited to one connection since SQLite serializes
// writers anyway.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	return db, nil
}

// NewSQLite opens path and returns an index that owns the pool and closes
// it on Close.
func NewSQLite(ctx context.Context, path, name string) (*Index, error) {
	db, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	idx := New(db, SQLite, name)
	idx.closeDB = true
	return idx, nil
}
