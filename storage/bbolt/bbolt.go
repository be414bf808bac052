// Package bbolt provides a BBolt-backed storage repository. Each namespace
// is a bucket; keys and values are stored as raw bytes.
package bbolt

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getBucket(tx *bbolt.Tx, namespace string) (*bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(namespace))
	if err != nil {
		return nil, fmt.Errorf("bucket %q: %w", namespace, err)
	}
	return b, nil
}

func (s *Store) Write(namespace, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, namespace)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Read(namespace, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		value = string(data)
		return nil
	})
	return value, err
}

func (s *Store) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return deleteFromBucket(b, key)
	})
}

func (s *Store) Keys(namespace string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func deleteFromBucket(b *bbolt.Bucket, key string) error {
	if b.Get([]byte(key)) == nil {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return b.Delete([]byte(key))
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Write(key, value string) error {
	return tx.bucket.Put([]byte(key), []byte(value))
}

func (tx *boltBatchTx) Create(key, value string) error {
	if tx.bucket.Get([]byte(key)) != nil {
		return fmt.Errorf("%s: %w", key, storage.ErrExists)
	}
	return tx.bucket.Put([]byte(key), []byte(value))
}

func (tx *boltBatchTx) Delete(key string) error {
	return deleteFromBucket(tx.bucket, key)
}

func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, namespace)
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}
