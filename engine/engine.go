package engine

import (
	"database/sql"

	_ "modernc.org/sqlite" // pure-Go SQLite driver carrying the vtab API
)

// Open opens a SQLite database through the modernc.org/sqlite driver, the
// build the vec0 module and the vec_* scalar functions register against.
//
// Pass a file path for a durable database or ":memory:" for a throwaway
// one. An in-memory DSN gives every pooled connection its own private
// database, so code that mixes virtual-table access with direct shadow
// reads should open a file-backed database.
func Open(dsn string) (*sql.DB, error) { return sql.Open("sqlite", dsn) }
