package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects a pgx pool and verifies it with a ping. name is used in
// error messages only.
func NewPool(ctx context.Context, name, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%s db: empty database url", name)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s db config: %w", name, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s db pool: %w", name, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s db: %w", name, err)
	}

	return pool, nil
}

// NewCorePool connects to the hosting platform database.
func NewCorePool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPool(ctx, "core", databaseURL)
}

// NewStatePool connects to the certflow state database.
func NewStatePool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPool(ctx, "certflow", databaseURL)
}
