// File: internal/store/postgres.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTaintedDomains = `CREATE TABLE IF NOT EXISTS tainted_domains (
    domain TEXT PRIMARY KEY,
    first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	sqlSelectTaintedDomains = `SELECT domain FROM tainted_domains`
	sqlInsertTaintedDomains = `INSERT INTO tainted_domains (domain)
SELECT unnest($1::text[])
ON CONFLICT (domain) DO NOTHING`
)

// Postgres stores the tainted domain set in a PostgreSQL table.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPostgres connects to dsn and prepares the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	p, err := NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres verifies the connection and creates the table if needed.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTaintedDomains); err != nil {
		return nil, fmt.Errorf("failed to create tainted_domains table: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

func (p *Postgres) Load(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, sqlSelectTaintedDomains)
	if err != nil {
		return nil, fmt.Errorf("failed to query tainted domains: %w", err)
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tainted domains: %w", err)
	}
	return domains, nil
}

func (p *Postgres) Add(ctx context.Context, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	tag, err := p.pool.Exec(ctx, sqlInsertTaintedDomains, domains)
	if err != nil {
		return fmt.Errorf("failed to insert tainted domains: %w", err)
	}
	p.log.Debug("Inserted tainted domains.", zap.Int("requested", len(domains)), zap.Int64("inserted", tag.RowsAffected()))
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
