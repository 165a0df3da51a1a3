package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresBackend stores records as JSONB documents. The bigserial seq
// column is the storage-internal identifier and is never returned.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	name   string
	table  string
	logger zerolog.Logger
}

// NewPostgresBackend connects to dsn and creates the collection table.
func NewPostgresBackend(ctx context.Context, dsn, collection string, maxConns int32, logger zerolog.Logger) (*PostgresBackend, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	b := &PostgresBackend{
		pool:   pool,
		name:   collection,
		table:  pgx.Identifier{collection}.Sanitize(),
		logger: logger.With().Str("component", "postgres-backend").Logger(),
	}

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+b.table+` (
		seq BIGSERIAL PRIMARY KEY,
		doc JSONB NOT NULL
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create collection table: %w", err)
	}

	b.logger.Info().
		Str("collection", collection).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("Postgres backend initialized")

	return b, nil
}

func (b *PostgresBackend) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + pgx.Identifier{b.name + "_data_id"}.Sanitize() +
			` ON ` + b.table + ` ((doc->'data'->>'id'))`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{b.name + "_data_not_unique"}.Sanitize() +
			` ON ` + b.table + ` ((doc->'data'->>'notUnique'))`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Insert(ctx context.Context, rec *models.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = b.pool.Exec(ctx, `INSERT INTO `+b.table+` (doc) VALUES ($1)`, doc)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (b *PostgresBackend) FindOne(ctx context.Context, q models.Query) (*models.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	if q.ID != "" {
		args = append(args, q.ID)
		conds = append(conds, fmt.Sprintf("doc->'data'->>'id' = $%d", len(args)))
	}
	if q.NotUnique != "" {
		args = append(args, q.NotUnique)
		conds = append(conds, fmt.Sprintf("doc->'data'->>'notUnique' = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, models.ErrMissingKey
	}

	var doc []byte
	err := b.pool.QueryRow(ctx,
		`SELECT doc FROM `+b.table+` WHERE `+strings.Join(conds, " AND ")+` LIMIT 1`,
		args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

func (b *PostgresBackend) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := b.pool.QueryRow(ctx, `SELECT count(*) FROM `+b.table).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (b *PostgresBackend) DeleteAll(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM `+b.table)
	return err
}

func (b *PostgresBackend) Type() string { return "postgres" }

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
