// File: internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqliteSchema = `CREATE TABLE IF NOT EXISTS tainted_domains (
    domain TEXT PRIMARY KEY,
    first_seen TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	sqliteInsert = `INSERT OR IGNORE INTO tainted_domains (domain) VALUES (?)`
	sqliteSelect = `SELECT domain FROM tainted_domains ORDER BY domain`
)

// SQLite stores the tainted domain set in a local SQLite database.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for ephemeral use.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tainted_domains table: %w", err)
	}
	return &SQLite{db: db, log: logger.Named("store.sqlite")}, nil
}

func (s *SQLite) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect)
	if err != nil {
		return nil, fmt.Errorf("failed to query tainted domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan tainted domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *SQLite) Add(ctx context.Context, domains []string) (err error) {
	if len(domains) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range domains {
		if _, err = stmt.ExecContext(ctx, d); err != nil {
			return fmt.Errorf("failed to insert %q: %w", d, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
