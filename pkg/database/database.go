// Package database opens the SQL store and applies schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect names the SQL flavor behind a connection
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// Config holds database configuration
type Config struct {
	Driver          string
	Path            string // sqlite3 file path
	DSN             string // pgx connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sql.DB with its dialect
type DB struct {
	*sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// Open connects using the configured driver and verifies the connection
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	dialect, dsn, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", zap.String("driver", string(dialect)))
	return &DB{DB: sqlDB, dialect: dialect, logger: logger}, nil
}

// Wrap adopts an existing connection
func Wrap(sqlDB *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, dialect: dialect, logger: logger}
}

func resolve(cfg Config) (Dialect, string, error) {
	switch Dialect(cfg.Driver) {
	case DialectSQLite, "":
		if cfg.Path == "" {
			return "", "", fmt.Errorf("database path is required for sqlite3")
		}
		// immediate transactions take the write lock at BEGIN so concurrent
		// writers queue on busy_timeout instead of failing mid-transaction
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", cfg.Path)
		return DialectSQLite, dsn, nil
	case DialectPostgres:
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("database dsn is required for pgx")
		}
		return DialectPostgres, cfg.DSN, nil
	}
	return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Dialect returns the SQL flavor of the connection
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Logger returns the logger the connection was opened with
func (db *DB) Logger() *zap.Logger {
	return db.logger
}

// Rebind rewrites ? placeholders to $n for PostgreSQL
func (db *DB) Rebind(query string) string {
	return Rebind(db.dialect, query)
}

// Rebind rewrites ? placeholders for the dialect
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}
