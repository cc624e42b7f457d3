// Package database wraps a pgx connection pool with the transaction
// boundary and the error classification the layers above rely on. Upper
// layers never pattern-match on engine-specific SQLSTATEs; they dispatch
// on the neutral Class produced here.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the pool configuration.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns caps the pool size. Zero keeps the driver default.
	MaxConns int32

	// MinConns keeps idle connections warm. Zero keeps the driver default.
	MinConns int32

	// ConnMaxLifetime bounds the age of a pooled connection.
	ConnMaxLifetime time.Duration
}

// DB is a pooled PostgreSQL handle. A transaction owns its connection
// for its entire lifetime; everything else borrows one per call.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, config Config, opts ...Option) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	db := newDB(pool, opts...)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return db, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of the
// pool's lifecycle unless Close is called.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *DB {
	return newDB(pool, opts...)
}

func newDB(pool *pgxpool.Pool, opts ...Option) *DB {
	db := &DB{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Query runs a query returning rows.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow runs a query expected to return at most one row.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement without result rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

// WithTx runs fn inside a single transaction: committed when fn returns
// nil, rolled back otherwise. Row locks taken by fn serialize conflicting
// writers; conflicts surface with their Class attached.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !isTxClosed(rbErr) {
			db.logger.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isTxClosed(err error) bool {
	return errors.Is(err, pgx.ErrTxClosed)
}

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Pool exposes the underlying pool for integrations that manage their
// own transactions.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the pool. In-use connections finish their work first.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}
