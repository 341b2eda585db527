// Package sqldb opens the relational database (PostgreSQL in production,
// SQLite for local runs and tests) and applies the schema.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/adminboard/pkg/storage"
)

// Dialect names the SQL flavour behind a DB
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DB is a *sql.DB that knows its dialect
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ParseDialect accepts the driver names used in configuration
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Open connects, configures the pool and pings
func Open(ctx context.Context, cfg storage.Config) (*DB, error) {
	dialect, err := ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.DatabaseMaxConns)
		db.SetMaxIdleConns(cfg.DatabaseMinConns)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	timeout := cfg.DatabaseTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Wrap pairs an existing handle with a dialect (sqlmock, tests)
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// JSONText returns an expression extracting a top-level JSON field as text.
// argIdx is the placeholder index holding the field name.
func (d *DB) JSONText(column string, argIdx int) string {
	if d.Dialect == Postgres {
		return fmt.Sprintf("%s->>$%d", column, argIdx)
	}
	return fmt.Sprintf("CAST(json_extract(%s, '$.' || $%d) AS TEXT)", column, argIdx)
}

// NowMillis is the timestamp format stored in every table
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
