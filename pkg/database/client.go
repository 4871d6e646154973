// Package database provides the PostgreSQL connection pool and schema
// migrations for the Postgres-backed stores.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corralproject/corral/pkg/config"
)

// Client wraps the pgx connection pool shared by the Postgres-backed stores.
type Client struct {
	pool *pgxpool.Pool
	url  string
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// URL returns the connection string, used by the NOTIFY listener which needs
// its own dedicated connection outside the pool.
func (c *Client) URL() string { return c.url }

// NewClient connects, applies pending migrations, and returns the pooled
// client. Migrations run over a short-lived database/sql connection because
// golang-migrate closes the handle it is given.
func NewClient(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(cfg.URL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{pool: pool, url: cfg.URL}, nil
}

// NewClientFromPool wraps an existing pool. Test helper.
func NewClientFromPool(pool *pgxpool.Pool, url string) *Client {
	return &Client{pool: pool, url: url}
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
