// ABOUTME: Postgres implementation of the Store interface using pgx and goose migrations
// ABOUTME: Shares the query layer with SQLite; schema lives in embedded goose SQL files

package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	sqlStore
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")
	o := buildOptions(opts)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)

	s := &PostgresStore{
		sqlStore: sqlStore{
			db:       db,
			sealer:   o.sealer,
			logger:   logger,
			numbered: true,
			conflict: pgCode(pgUniqueViolation),
			missing:  pgCode(pgForeignKeyViolation),
		},
		pool: pool,
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("Postgres store initialized", "max_conns", pool.Config().MaxConns)
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, s.db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		s.logger.Info("applied migration", "version", r.Source.Version, "path", r.Source.Path)
	}
	return nil
}

// Close releases the database handle and the pool behind it
func (s *PostgresStore) Close() error {
	err := s.sqlStore.Close()
	s.pool.Close()
	return err
}

func pgCode(code string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == code
	}
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)
