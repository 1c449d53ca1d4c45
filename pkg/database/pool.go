// Package database provides the PostgreSQL connection pool, schema
// management, and transaction utilities for the loader.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlift/skypeetl/pkg/config"
)

// ErrPoolExhausted indicates no connection became free within the acquire
// timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MinConnections int32
	MaxConnections int32
	// AcquireTimeout bounds how long Acquire blocks for a free slot.
	AcquireTimeout time.Duration
	// IdleTimeout reaps connections idle beyond it.
	IdleTimeout time.Duration
	// MaxAge recycles connections older than it.
	MaxAge time.Duration
}

// DefaultPoolConfig returns the pool sizing used when the caller does not
// override it.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections: config.DefaultMinConnections,
		MaxConnections: config.DefaultMaxConnections,
		AcquireTimeout: config.DefaultConnectionTimeout,
		IdleTimeout:    config.DefaultIdleTimeout,
		MaxAge:         config.DefaultMaxConnectionAge,
	}
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Size           int32 `json:"size"`
	InUse          int32 `json:"in_use"`
	Idle           int32 `json:"idle"`
	MaxConnections int32 `json:"max_connections"`
}

// Pool is a bounded PostgreSQL connection pool, safe for concurrent
// acquire and release.
type Pool struct {
	inner *pgxpool.Pool
	cfg   PoolConfig
	log   *slog.Logger
}

// NewPool connects to the database and verifies connectivity with a ping.
func NewPool(ctx context.Context, dbCfg config.DatabaseConfig, poolCfg PoolConfig) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pgxCfg.MinConns = poolCfg.MinConnections
	pgxCfg.MaxConns = poolCfg.MaxConnections
	pgxCfg.MaxConnIdleTime = poolCfg.IdleTimeout
	pgxCfg.MaxConnLifetime = poolCfg.MaxAge

	inner, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := inner.Ping(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{
		inner: inner,
		cfg:   poolCfg,
		log:   slog.With("component", "db-pool"),
	}, nil
}

// Acquire returns a connection, blocking up to the acquire timeout when
// all slots are busy.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	conn, err := p.inner.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no free connection within %s",
				ErrPoolExhausted, p.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

// Release returns a connection to the pool after validating it with a
// trivial ping. Invalid connections are closed so the pool replaces them
// on the next acquire.
func (p *Pool) Release(conn *pgxpool.Conn) {
	if conn == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Conn().Ping(pingCtx); err != nil {
		p.log.Warn("Discarding broken connection", "error", err)
		_ = conn.Conn().Close(context.Background())
	}
	conn.Release()
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	s := p.inner.Stat()
	return PoolStats{
		Size:           s.TotalConns(),
		InUse:          s.AcquiredConns(),
		Idle:           s.IdleConns(),
		MaxConnections: s.MaxConns(),
	}
}

// CloseAll closes every connection and renders the pool unusable.
func (p *Pool) CloseAll() {
	p.inner.Close()
}
