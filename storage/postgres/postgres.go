// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (namespace, key) that
// mirrors the key space used by the BBolt and in-memory backends.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironkeep/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// execer abstracts both *pgxpool.Pool and pgx.Tx for shared statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertSQL = `INSERT INTO records (namespace, key, value)
	 VALUES ($1, $2, $3)
	 ON CONFLICT (namespace, key)
	 DO UPDATE SET value = $3, updated_at = now()`

func (s *Store) Write(namespace, key, value string) error {
	_, err := s.pool.Exec(context.Background(), upsertSQL, namespace, key, value)
	return err
}

func (s *Store) Read(namespace, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(context.Background(),
		`SELECT value FROM records WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Keys(namespace string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT key FROM records WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Delete(namespace, key string) error {
	return deleteRecord(context.Background(), s.pool, namespace, key)
}

func deleteRecord(ctx context.Context, e execer, namespace, key string) error {
	tag, err := e.Exec(ctx,
		`DELETE FROM records WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer pgTx.Rollback(context.Background()) //nolint:errcheck

	btx := &pgBatchTx{tx: pgTx, namespace: namespace}
	if err := fn(btx); err != nil {
		return err
	}
	return pgTx.Commit(context.Background())
}

// ---------------------------------------------------------------------------
// BatchTx implementation
// ---------------------------------------------------------------------------

type pgBatchTx struct {
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Write(key, value string) error {
	_, err := btx.tx.Exec(context.Background(), upsertSQL, btx.namespace, key, value)
	return err
}

// Create relies on the primary key, so two transactions racing to create
// the same key cannot both succeed.
func (btx *pgBatchTx) Create(key, value string) error {
	tag, err := btx.tx.Exec(context.Background(),
		`INSERT INTO records (namespace, key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO NOTHING`,
		btx.namespace, key, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", key, storage.ErrExists)
	}
	return nil
}

func (btx *pgBatchTx) Delete(key string) error {
	return deleteRecord(context.Background(), btx.tx, btx.namespace, key)
}
