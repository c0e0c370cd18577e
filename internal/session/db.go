// Package session persists and validates the opaque session cookie:
// lookup against the sessions table with last-seen refresh, 24-hour
// expiry GC, and key issuance via a cryptographic hash of random bytes.
package session

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens the sqlite3 database at path. The connection pool is
// capped at one connection: the sessions table is this system's only
// cross-goroutine mutable shared state, and serializing through a
// single connection is the simplest correct way to order its writes.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
