package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPowerDNSPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPool(ctx, "powerdns", databaseURL)
}
