package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// connectTimeout bounds the ping that verifies a fresh connection.
	connectTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// DB wraps the sql.DB handle for the service's SQLite file and adds
// migrations, health checks, and pool diagnostics on top.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path is the SQLite file location. The parent directory is
	// created on open when missing.
	Path string

	// WALMode switches the journal to write-ahead logging so reads
	// keep working during a write.
	WALMode bool

	// BusyTimeout is how long, in seconds, a statement waits on a
	// locked database before failing.
	BusyTimeout int
}

// Open connects to the SQLite file, applies the configured pragmas,
// and verifies the connection with a bounded ping. The file ends up
// owner read/write only.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids
	// lock contention between goroutines entirely.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write; ignore the miss.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck

	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the SQLite file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes the connection pool counters for diagnostics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext runs a statement that returns no rows, wrapping the
// driver error with context.
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// BeginTx starts a transaction. Callers defer tx.Rollback, which is a
// no-op once the transaction commits.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
