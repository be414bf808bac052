// Package redis implements storage.Repository on Redis. Each namespace is
// one hash whose fields are the record keys; Batch runs as an optimistic
// WATCH/MULTI transaction on that hash.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/ironkeep/storage"
)

// DefaultPrefix is prepended to every namespace to form the hash key.
const DefaultPrefix = "ironkeep:"

// maxBatchAttempts bounds how often Batch retries after the watched hash
// was modified by another client.
const maxBatchAttempts = 3

// ErrConflict is returned when a batch keeps losing to concurrent writers.
var ErrConflict = errors.New("concurrent modification")

// Store implements storage.Repository backed by Redis hashes.
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using client. An empty prefix selects DefaultPrefix.
func NewRepository(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewRepositoryFromURL connects to the Redis server at url
// (redis://[user:pass@]host:port/db) and verifies it answers.
func NewRepositoryFromURL(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRepository(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) hashKey(namespace string) string {
	return s.prefix + namespace
}

func (s *Store) Write(namespace, key, value string) error {
	return s.client.HSet(context.Background(), s.hashKey(namespace), key, value).Err()
}

func (s *Store) Read(namespace, key string) (string, error) {
	v, err := s.client.HGet(context.Background(), s.hashKey(namespace), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) Delete(namespace, key string) error {
	n, err := s.client.HDel(context.Background(), s.hashKey(namespace), key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Keys(namespace string) ([]string, error) {
	return s.client.HKeys(context.Background(), s.hashKey(namespace)).Result()
}

// Batch buffers fn's writes and applies them in one MULTI/EXEC while the
// namespace hash is watched. Create and Delete checks read through the
// watch, so a concurrent change aborts and retries the whole batch.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	ctx := context.Background()
	key := s.hashKey(namespace)

	for range maxBatchAttempts {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			btx := &redisBatchTx{ctx: ctx, tx: tx, key: key, pending: make(map[string]*string)}
			if err := fn(btx); err != nil {
				return err
			}
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for _, op := range btx.ops {
					if op.value == nil {
						p.HDel(ctx, key, op.field)
					} else {
						p.HSet(ctx, key, op.field, *op.value)
					}
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("batch on %s: %w", namespace, ErrConflict)
}

type batchOp struct {
	field string
	value *string // nil deletes
}

type redisBatchTx struct {
	ctx     context.Context
	tx      *redis.Tx
	key     string
	ops     []batchOp
	pending map[string]*string
}

var _ storage.BatchTx = (*redisBatchTx)(nil)

func (b *redisBatchTx) exists(field string) (bool, error) {
	if v, ok := b.pending[field]; ok {
		return v != nil, nil
	}
	return b.tx.HExists(b.ctx, b.key, field).Result()
}

func (b *redisBatchTx) record(field string, value *string) {
	b.ops = append(b.ops, batchOp{field: field, value: value})
	b.pending[field] = value
}

func (b *redisBatchTx) Write(key, value string) error {
	b.record(key, &value)
	return nil
}

func (b *redisBatchTx) Create(key, value string) error {
	ok, err := b.exists(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", key, storage.ErrExists)
	}
	b.record(key, &value)
	return nil
}

func (b *redisBatchTx) Delete(key string) error {
	ok, err := b.exists(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	b.record(key, nil)
	return nil
}
