// Package postgres implements the storage interfaces on PostgreSQL via sqlx.
// All queries use positional parameters; migrations live outside this module
// and EnsureSchema only verifies the expected tables exist at startup.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// StatementTimeout bounds every statement on the session.
	StatementTimeout time.Duration
}

// Connect opens a pooled connection and applies the statement timeout.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	timeout := cfg.StatementTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}
	return db, nil
}

// requiredTables are promised to exist before the core starts.
var requiredTables = []string{
	"players", "categories", "questions", "question_flags", "sessions",
	"seasons", "eligibilities", "nft_catalog", "mints", "player_nfts",
	"forge_operations", "season_points", "leaderboard_snapshots",
}

// EnsureSchema verifies the migration-owned tables are present.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, table := range requiredTables {
		var ok bool
		if err := db.GetContext(ctx, &ok, `SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("required table %s is missing; run migrations first", table)
		}
	}
	return nil
}

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// tx runs fn inside a transaction: commit on nil return, rollback on error
// or panic.
func (s *Store) tx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
