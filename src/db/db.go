package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

func Connect(url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Migrate creates any missing tables and makes sure the single fund pool
// row exists. It is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, currency string) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO fund_pool (id, balance, currency) VALUES (1, 0, $1) ON CONFLICT (id) DO NOTHING`,
		currency,
	); err != nil {
		return fmt.Errorf("seeding fund pool: %w", err)
	}
	return nil
}
