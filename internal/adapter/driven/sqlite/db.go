// Package sqlite implements the persistence ports on top of an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// maxReaders caps the reader pool. The writer is always a single connection
// so concurrent token-usage updates queue instead of failing with SQLITE_BUSY.
const maxReaders = 4

// connPragmas apply to every connection in both pools.
var connPragmas = []string{
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"cache_size(-64000)",
}

// DB holds the writer and reader pools over one database file.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// NewDB opens the database at dbPath in WAL mode, creating its parent
// directory when needed.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	return open(ctx, dbPath, buildDSN(dbPath, "_pragma=journal_mode(WAL)"))
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// buildDSN renders a modernc.org/sqlite DSN carrying connPragmas after any
// extra query parameters.
func buildDSN(name string, extra ...string) string {
	params := make([]string, 0, len(extra)+len(connPragmas))
	params = append(params, extra...)
	for _, p := range connPragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + name + "?" + strings.Join(params, "&")
}

func open(ctx context.Context, path, dsn string) (*DB, error) {
	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}

	reader, err := openPool(ctx, dsn, maxReaders)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

func openPool(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	pool.SetMaxOpenConns(maxConns)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
