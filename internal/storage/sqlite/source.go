// Package sqlite implements the source connector over a SQLite file using
// database/sql and the pure-Go modernc.org/sqlite driver.
//
// Read-only sources are opened through the SQLite URI form with mode=ro and
// the query_only pragma, so writes are refused by the engine itself rather
// than by convention.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"moviesetl/internal/etlerr"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Source is an open source database. It is safe to Close more than once;
// the underlying handle is released exactly once.
type Source struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// DSN builds the driver connection string for path.
//
//	DSN("db.sqlite", true)  -> "file:db.sqlite?mode=ro&_pragma=query_only(1)"
//	DSN("db.sqlite", false) -> "db.sqlite"
func DSN(path string, readOnly bool) string {
	if !readOnly {
		return path
	}
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	return "file:" + escaped + "?mode=ro&_pragma=query_only(1)"
}

// Open opens the SQLite file at path and verifies it is a readable database.
// Any failure is an etlerr connection error.
func Open(ctx context.Context, path string, readOnly bool) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, etlerr.Connection(nil, "sqlite: path must not be empty")
	}

	db, err := sql.Open(DriverName, DSN(path, readOnly))
	if err != nil {
		return nil, etlerr.Connection(err, "sqlite: open %s", path)
	}

	// Fail fast on unreachable paths and on files that are not databases.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, etlerr.Connection(err, "sqlite: ping %s", path)
	}
	var n int64
	if err := db.QueryRowContext(pingCtx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		_ = db.Close()
		return nil, etlerr.Connection(err, "sqlite: %s is not a valid database", path)
	}

	return &Source{db: db, path: path}, nil
}

// WithSource opens path, runs fn, and closes the source on every exit path,
// including a panic inside fn. A close failure is reported only when fn
// succeeded.
func WithSource(ctx context.Context, path string, readOnly bool, fn func(*Source) error) (err error) {
	src, err := Open(ctx, path, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = etlerr.Connection(cerr, "sqlite: close %s", path)
		}
	}()
	return fn(src)
}

// Path returns the file path the source was opened with.
func (s *Source) Path() string { return s.path }

// DB exposes the underlying handle.
func (s *Source) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// QueryContext runs a read query against the source.
func (s *Source) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read query against the source.
func (s *Source) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}
