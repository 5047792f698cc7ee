package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the pgx pool used by the Postgres property store.
type PoolConfig struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	MaxConnIdle time.Duration
	// Schema becomes the connection search_path; empty keeps the server default.
	Schema string
}

// ParseConfig builds the pgx pool configuration without connecting.
func ParseConfig(pc PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnIdle > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdle
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "fhirbridge"
	if pc.Schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = pgx.Identifier{pc.Schema}.Sanitize()
	}
	return cfg, nil
}

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := ParseConfig(pc)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
