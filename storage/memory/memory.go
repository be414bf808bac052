// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"maps"
	"sync"

	"github.com/jmcleod/ironkeep/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]string)}
}

func (r *Repository) Write(namespace, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(namespace, key, value)
}

func (r *Repository) writeLocked(namespace, key, value string) error {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]string)
	}
	r.data[namespace][key] = value
	return nil
}

func (r *Repository) createLocked(namespace, key, value string) error {
	if _, ok := r.data[namespace][key]; ok {
		return fmt.Errorf("%s: %w", key, storage.ErrExists)
	}
	return r.writeLocked(namespace, key, value)
}

func (r *Repository) Read(namespace, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[namespace][key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

func (r *Repository) Keys(namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[namespace]))
	for k := range r.data[namespace] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *Repository) Delete(namespace, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(namespace, key)
}

func (r *Repository) deleteLocked(namespace, key string) error {
	if _, ok := r.data[namespace][key]; !ok {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	delete(r.data[namespace], key)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot(namespace)

	tx := &memoryBatchTx{repo: r, namespace: namespace}
	if err := fn(tx); err != nil {
		r.restore(namespace, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshot(namespace string) map[string]string {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	return maps.Clone(original)
}

func (r *Repository) restore(namespace string, snapshot map[string]string) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
}

type memoryBatchTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryBatchTx) Write(key, value string) error {
	return tx.repo.writeLocked(tx.namespace, key, value)
}

func (tx *memoryBatchTx) Create(key, value string) error {
	return tx.repo.createLocked(tx.namespace, key, value)
}

func (tx *memoryBatchTx) Delete(key string) error {
	return tx.repo.deleteLocked(tx.namespace, key)
}
