// Package storage provides the flat persistence layer beneath the secure
// record store: string values addressed by a string key within a namespace.
// Backends store whatever they are given; confidentiality is the caller's
// concern.
package storage

import "errors"

var (
	// ErrNotFound is returned when no value exists under a key.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("record already exists")
)

// BatchTx provides writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Write(key, value string) error
	// Create writes value only if key is absent, returning ErrExists otherwise.
	Create(key, value string) error
	Delete(key string) error
}

// Repository defines the interface for flat namespaced storage.
type Repository interface {
	// Write stores value under key, replacing any previous value.
	Write(namespace, key, value string) error
	// Read returns the value under key or ErrNotFound.
	Read(namespace, key string) (string, error)
	// Delete removes key or returns ErrNotFound.
	Delete(namespace, key string) error
	// Keys lists every key in the namespace in no particular order.
	Keys(namespace string) ([]string, error)
	// Batch runs fn atomically. If fn returns an error no write is applied.
	Batch(namespace string, fn func(tx BatchTx) error) error
}
