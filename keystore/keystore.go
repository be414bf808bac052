// Package keystore abstracts the protected key store that holds managed
// symmetric keys. Implementations generate and keep AES-256 keys under a
// stable alias and only ever hand out a cipher.AEAD bound to the key, so
// raw key material never reaches callers.
package keystore

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"time"
	"unicode"
)

var (
	// ErrKeyNotFound is returned when no key exists under the alias.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Generate when the alias is already provisioned.
	ErrKeyExists = errors.New("key already exists")
	// ErrKeyInvalidated is returned when a key exists but can no longer be
	// used, e.g. after a platform security-state change.
	ErrKeyInvalidated = errors.New("key invalidated")
	// ErrUnavailable is returned when the key store is unreachable, disabled or corrupted.
	ErrUnavailable = errors.New("key store unavailable")
	// ErrHardwareUnavailable is returned when hardware-backed generation is not possible.
	ErrHardwareUnavailable = errors.New("secure hardware unavailable")
	// ErrInvalidSpec is returned when a key spec requests unsupported parameters.
	ErrInvalidSpec = errors.New("invalid key spec")
)

const (
	AlgorithmAES  = "AES"
	BlockModeGCM  = "GCM"
	PaddingNone   = "NoPadding"
	DefaultKeyLen = 256

	maxAliasLen = 128
)

// Purpose is a bit set of operations a key may be used for.
type Purpose uint8

const (
	PurposeEncrypt Purpose = 1 << iota
	PurposeDecrypt
)

// Backing describes where key material lives.
type Backing string

const (
	BackingHardware Backing = "hardware"
	BackingPlatform Backing = "platform"
	BackingSoftware Backing = "software"
)

// Spec describes the key to generate under an alias.
type Spec struct {
	Alias     string
	Algorithm string
	KeySize   int
	Purposes  Purpose
	BlockMode string
	Padding   string
	// PreferHardware requests isolated secure hardware. It is best-effort:
	// stores without hardware ignore it.
	PreferHardware bool
}

// DefaultSpec returns an AES-256-GCM encrypt+decrypt spec that prefers hardware.
func DefaultSpec(alias string) Spec {
	return Spec{
		Alias:          alias,
		Algorithm:      AlgorithmAES,
		KeySize:        DefaultKeyLen,
		Purposes:       PurposeEncrypt | PurposeDecrypt,
		BlockMode:      BlockModeGCM,
		Padding:        PaddingNone,
		PreferHardware: true,
	}
}

// Validate rejects anything other than AES-256-GCM without padding.
func (s Spec) Validate() error {
	if err := ValidateAlias(s.Alias); err != nil {
		return err
	}
	if s.Algorithm != AlgorithmAES {
		return fmt.Errorf("%w: algorithm %q", ErrInvalidSpec, s.Algorithm)
	}
	if s.KeySize != DefaultKeyLen {
		return fmt.Errorf("%w: key size %d", ErrInvalidSpec, s.KeySize)
	}
	if s.Purposes&PurposeEncrypt == 0 || s.Purposes&PurposeDecrypt == 0 {
		return fmt.Errorf("%w: key must allow encrypt and decrypt", ErrInvalidSpec)
	}
	if s.BlockMode != BlockModeGCM {
		return fmt.Errorf("%w: block mode %q", ErrInvalidSpec, s.BlockMode)
	}
	// GCM is a stream mode; block padding is meaningless for it.
	if s.Padding != PaddingNone {
		return fmt.Errorf("%w: padding %q", ErrInvalidSpec, s.Padding)
	}
	return nil
}

// ValidateAlias checks that an alias is usable as a key identity.
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: alias must not be empty", ErrInvalidSpec)
	}
	if len(alias) > maxAliasLen {
		return fmt.Errorf("%w: alias longer than %d bytes", ErrInvalidSpec, maxAliasLen)
	}
	for _, r := range alias {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: alias contains control characters", ErrInvalidSpec)
		}
	}
	return nil
}

// KeyInfo is the non-secret metadata of a managed key.
type KeyInfo struct {
	Alias     string    `json:"alias"`
	ID        string    `json:"id"`
	Algorithm string    `json:"algorithm"`
	KeySize   int       `json:"key_size"`
	Backing   Backing   `json:"backing"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyStore abstracts symmetric key custody so that the custodian can work
// with in-memory keys, file-persisted keys sealed by a KMS, OS keychains
// or HSM-resident keys without changing calling code.
type KeyStore interface {
	// Name identifies the backend for diagnostics.
	Name() string

	// Contains reports whether a key exists under alias.
	Contains(alias string) (bool, error)

	// Generate creates a key for spec.Alias. It returns ErrKeyExists, and
	// leaves the existing key untouched, when the alias is already taken.
	// Concurrent callers racing on one alias observe exactly one winner.
	Generate(spec Spec) (KeyInfo, error)

	// AEAD returns an authenticated cipher bound to the alias's key. For
	// HSM backends the operations run inside the device.
	AEAD(alias string) (cipher.AEAD, error)

	// Info returns the key's metadata.
	Info(alias string) (KeyInfo, error)

	// Delete destroys the key. Data sealed under it becomes unrecoverable.
	Delete(alias string) error
}
