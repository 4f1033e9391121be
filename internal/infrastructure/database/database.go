package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// DB wraps the SQL database connection with lifecycle helpers.
type DB struct {
	conn *sql.DB
	path string
}

// Options configures how the database is opened.
type Options struct {
	// Path is the SQLite database file location. Parent directories
	// are created if missing.
	Path string

	// WALMode enables write-ahead logging. Recommended for concurrent
	// readers alongside the single writer.
	WALMode bool

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY, in milliseconds.
	BusyTimeout int
}

// Open opens (creating if necessary) the SQLite database at opts.Path.
//
// Pragmas are passed via the connection string so every pooled
// connection gets them. The pool is capped at a single connection:
// SQLite allows one writer at a time and edinbridge's write volume is
// modest, so contention handling stays in one place.
//
// Returns:
//   - *DB: ready for use, with foreign keys enforced
//   - error: if the directory cannot be created or the database cannot be opened
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, ErrNoPath
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	journal := "DELETE"
	if opts.WALMode {
		journal = "WAL"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5000
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=on&_synchronous=NORMAL",
		opts.Path, journal, busy)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time keeps SQLite lock handling simple.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, path: opts.Path}
	if err := db.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("verify database connection: %w", err)
	}

	return db, nil
}

// Conn returns the underlying sql.DB for query execution.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPingFailed, err)
	}
	return nil
}

// HealthCheck runs a lightweight query to confirm the database is usable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("%w: %w", ErrPingFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}
