package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects and configures a storage backend
type Config struct {
	Backend    string // mongo, postgres, sqlite, memory
	Collection string

	MongoURI      string
	MongoDatabase string

	PostgresDSN      string
	PostgresMaxConns int32

	SQLitePath string
}

// Open connects to the configured backend and makes sure both indexes exist.
func Open(ctx context.Context, cfg *Config, logger zerolog.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Backend {
	case "mongo", "mongodb":
		backend, err = NewMongoBackend(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection, logger)
	case "postgres", "postgresql":
		backend, err = NewPostgresBackend(ctx, cfg.PostgresDSN, cfg.Collection, cfg.PostgresMaxConns, logger)
	case "sqlite":
		backend, err = NewSQLiteBackend(cfg.SQLitePath, cfg.Collection, logger)
	case "memory":
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := backend.EnsureIndexes(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	return backend, nil
}
