package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDatabaseConnection is returned when a store is constructed without a
	// live connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")
)

// Connection wraps *sql.DB with pool tuning applied from Config. All stores
// share one Connection in the API process; worker jobs open a singleton-pool
// connection instead to avoid contending with the foreground process.
type Connection struct {
	db *sql.DB
}

// NewConnection opens a pooled PostgreSQL connection and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db}, nil
}

// NewSingletonConnection opens a connection whose pool is capped at a single
// conn. Worker jobs use this so each job session cannot starve the API pool.
func NewSingletonConnection(cfg *Config) (*Connection, error) {
	clone := *cfg
	clone.MaxOpenConns = 1
	clone.MaxIdleConns = 1

	return NewConnection(&clone)
}

// WrapDB adapts an existing *sql.DB (e.g. a testcontainers database) into a
// Connection.
func WrapDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// Close closes the underlying pool. Safe to call on a nil receiver.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	return c.db.Close()
}

// Ping verifies database reachability.
func (c *Connection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// QueryContext runs a query returning rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// DB exposes the raw handle for migration tooling.
func (c *Connection) DB() *sql.DB {
	return c.db
}
