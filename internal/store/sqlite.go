package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// SQLiteBackend stores each record as a msgpack document next to two
// extracted key columns that carry the indexes.
type SQLiteBackend struct {
	db     *sql.DB
	name   string
	table  string
	path   string
	logger zerolog.Logger
}

// NewSQLiteBackend opens (or creates) the database file at path.
func NewSQLiteBackend(path, collection string, logger zerolog.Logger) (*SQLiteBackend, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	b := &SQLiteBackend{
		db:     db,
		name:   collection,
		table:  quoteIdent(collection),
		path:   path,
		logger: logger.With().Str("component", "sqlite-backend").Logger(),
	}

	if err := b.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	b.logger.Info().
		Str("db_path", path).
		Str("collection", collection).
		Msg("SQLite backend initialized")

	return b, nil
}

func (b *SQLiteBackend) initDB() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + b.table + ` (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			not_unique TEXT NOT NULL,
			doc BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create collection table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + b.indexName("data_id") + ` ON ` + b.table + ` (id)`,
		`CREATE INDEX IF NOT EXISTS ` + b.indexName("data_not_unique") + ` ON ` + b.table + ` (not_unique)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, rec *models.Record) error {
	doc, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO `+b.table+` (id, not_unique, doc) VALUES (?, ?, ?)`,
		rec.Data.ID, rec.Data.NotUnique, doc)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (b *SQLiteBackend) FindOne(ctx context.Context, q models.Query) (*models.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	if q.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, q.ID)
	}
	if q.NotUnique != "" {
		conds = append(conds, "not_unique = ?")
		args = append(args, q.NotUnique)
	}
	if len(conds) == 0 {
		return nil, models.ErrMissingKey
	}

	var doc []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT doc FROM `+b.table+` WHERE `+strings.Join(conds, " AND ")+` LIMIT 1`,
		args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.Record
	if err := msgpack.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

func (b *SQLiteBackend) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+b.table).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (b *SQLiteBackend) DeleteAll(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM `+b.table)
	return err
}

func (b *SQLiteBackend) Type() string { return "sqlite" }

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) indexName(suffix string) string {
	return quoteIdent(b.name + "_" + suffix)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// quoteIdent quotes a SQL identifier; collection names may contain dashes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
