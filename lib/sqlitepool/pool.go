// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize serves one writer and a few concurrent readers.
const DefaultPoolSize = 4

// Config describes a database. Path is required.
type Config struct {
	// Path is the database file, created if missing. ":memory:" is
	// accepted only with PoolSize 1, since every in-memory connection
	// is a separate database.
	Path string

	PoolSize int

	Logger *slog.Logger

	// Migrations are schema scripts applied in order. The database's
	// user_version records how many have run; Open applies the rest
	// in one transaction.
	Migrations []string
}

// Pool is a fixed set of SQLite connections. It is safe for concurrent
// use; the connections it hands out are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens the pool and brings the schema up to date.
func Open(ctx context.Context, config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.PoolSize <= 0 {
		config.PoolSize = DefaultPoolSize
	}
	if config.Path == ":memory:" && config.PoolSize != 1 {
		return nil, fmt.Errorf("sqlitepool: an in-memory database needs PoolSize 1, got %d", config.PoolSize)
	}

	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    config.PoolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	pool := &Pool{inner: inner, logger: config.Logger, path: config.Path}

	applied, err := pool.migrate(ctx, config.Migrations)
	if err != nil {
		inner.Close()
		return nil, err
	}
	config.Logger.Info("sqlite database opened",
		"path", config.Path,
		"pool_size", config.PoolSize,
		"migrations_applied", applied,
	)
	return pool, nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// Every Take must be paired with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// WithConn runs fn with a borrowed connection.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Close closes every connection, waiting for borrowed ones to return.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite database closed", "path", p.path)
	return nil
}

// SchemaVersion reports how many migrations have been applied.
func (p *Pool) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := p.WithConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		version, err = userVersion(conn)
		return err
	})
	return version, err
}

func (p *Pool) migrate(ctx context.Context, migrations []string) (applied int, err error) {
	err = p.WithConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)

		current, err := userVersion(conn)
		if err != nil {
			return err
		}
		if current > len(migrations) {
			return fmt.Errorf("sqlitepool: %s is at schema version %d, newer than the %d known migrations", p.path, current, len(migrations))
		}
		for index := current; index < len(migrations); index++ {
			if err := sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
				return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
			}
			applied++
		}
		if applied == 0 {
			return nil
		}
		return sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", len(migrations)), nil)
	})
	return applied, err
}

func userVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}
