package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BeginTxWithLocation starts a transaction and sets app.location_id so row
// level security policies on location-owned tables can scope the session.
// Call tx.Rollback(ctx) on error paths; Commit on success.
func BeginTxWithLocation(ctx context.Context, pool *pgxpool.Pool, locationID string) (pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.location_id', $1, true)", locationID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}
