package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite handle behind a profile's store.db.
type DB struct {
	*sql.DB
	Path string
}

// pragmas applied to every connection. Writers take the RESERVED lock up
// front (_txlock=immediate) so Store.Write never upgrades mid-transaction.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_synchronous":  {"NORMAL"},
	"_foreign_keys": {"on"},
	"_txlock":       {"immediate"},
}

// Open opens (creating if needed) the store at path. Call Migrate before
// handing it to New.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: db, Path: path}, nil
}
