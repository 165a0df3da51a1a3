package election

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLeaseStore keeps leases in a Postgres table so processes on
// different hosts can share them. Expiry uses the database clock, which
// keeps host clock skew out of the decision.
type PostgresLeaseStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLeaseStore connects to dsn and creates the leases table.
func NewPostgresLeaseStore(ctx context.Context, dsn string) (*PostgresLeaseStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS docbench_leases (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create leases table: %w", err)
	}

	return &PostgresLeaseStore{pool: pool}, nil
}

func (s *PostgresLeaseStore) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO docbench_leases (name, owner, expires_at)
		VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE docbench_leases.owner = EXCLUDED.owner OR docbench_leases.expires_at <= now()
	`, name, owner, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresLeaseStore) Release(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM docbench_leases WHERE name = $1 AND owner = $2`, name, owner)
	return err
}

// Close closes the connection pool
func (s *PostgresLeaseStore) Close() error {
	s.pool.Close()
	return nil
}
