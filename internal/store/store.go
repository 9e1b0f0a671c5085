// Package store persists mapped patients and load history in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// BatchSize is the number of upserts queued per round trip.
var BatchSize = 500

// Store wraps a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS patient_loads (
	id          uuid PRIMARY KEY,
	source      text NOT NULL DEFAULT '',
	total_rows  integer NOT NULL,
	loaded      integer NOT NULL,
	failed      integer NOT NULL,
	persisted   integer NOT NULL DEFAULT 0,
	exported    integer NOT NULL DEFAULT 0,
	warning     text,
	client_ip   text,
	user_agent  text,
	started_at  timestamptz NOT NULL,
	duration_ms bigint NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
	id             text PRIMARY KEY,
	family         text,
	given          text,
	gender         text NOT NULL,
	marital_code   text,
	birth_date     date,
	resource       jsonb NOT NULL,
	load_id        uuid REFERENCES patient_loads(id) ON DELETE SET NULL,
	loaded_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS patients_load_id_idx ON patients (load_id);
CREATE INDEX IF NOT EXISTS patient_loads_started_at_idx ON patient_loads (started_at DESC);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(DBTX) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
