// Package uuid generates random identifiers for managed keys.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// Bytes returns the 16 raw bytes of a parsed UUID string.
func Bytes(id string) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	b := u
	return b[:], nil
}

// FromBytes formats 16 raw bytes as a UUID string.
func FromBytes(b []byte) (string, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
