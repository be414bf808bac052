// Package securestore is an encrypted key-value store over a flat
// storage.Repository. Record names are encrypted deterministically with
// AES-SIV so they can be looked up; values are encrypted with AES-256-GCM
// under a fresh nonce and bound to their name, so ciphertexts cannot be
// moved between records. Both sub-keys are random, wrapped by a custodian
// master key, and persisted next to the records.
//
// The store adds no locking across calls. Callers that Put and Get the same
// name concurrently must synchronize themselves.
package securestore

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"github.com/tink-crypto/tink-go/v2/daead/subtle"

	"github.com/jmcleod/ironkeep/custodian"
	icrypto "github.com/jmcleod/ironkeep/internal/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/storage"
)

const (
	DefaultMasterKeyAlias = "default_key"
	DefaultName           = "secure_prefs"
)

var (
	// ErrStoreInitialization is returned by Open when the master key or the
	// store keysets cannot be obtained.
	ErrStoreInitialization = errors.New("secure store initialization failed")
	// ErrReservedName is returned when a caller uses a name the store keeps for itself.
	ErrReservedName = errors.New("reserved record name")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("secure store closed")
)

// Cipher is the custodian surface the store needs to wrap its keysets.
type Cipher interface {
	EnsureKey(alias string) error
	Encrypt(alias string, plaintext []byte) (string, error)
	Decrypt(alias, encoded string) ([]byte, error)
}

var _ Cipher = (*custodian.Custodian)(nil)

// Store is a Secure Record Store bound to one namespace of a Repository.
type Store struct {
	repo        storage.Repository
	name        string
	masterAlias string
	log         *logrus.Entry
	now         func() time.Time

	mu       sync.RWMutex
	nameKey  *memguard.Enclave
	valueKey *memguard.Enclave
}

// Option configures a Store.
type Option func(*Store)

// WithMasterKeyAlias selects the custodian alias that wraps the keysets.
func WithMasterKeyAlias(alias string) Option {
	return func(s *Store) { s.masterAlias = alias }
}

// WithName selects the repository namespace. It is also bound into every
// ciphertext as associated data.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithLogger sets the logger. Record names and values are never logged.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open initializes a Store over repo, provisioning the master key and the
// keysets on first use. Any failure is reported as ErrStoreInitialization.
func Open(c Cipher, repo storage.Repository, opts ...Option) (*Store, error) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := &Store{
		repo:        repo,
		name:        DefaultName,
		masterAlias: DefaultMasterKeyAlias,
		log:         logrus.NewEntry(l),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name == "" || s.masterAlias == "" {
		return nil, fmt.Errorf("%w: store name and master key alias are required", ErrStoreInitialization)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "securestore", "store": s.name})

	if err := c.EnsureKey(s.masterAlias); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreInitialization, err)
	}
	names, values, err := s.loadKeysets(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreInitialization, s.name, err)
	}
	s.nameKey = names.enclave()
	s.valueKey = values.enclave()
	return s, nil
}

// Name returns the store's namespace.
func (s *Store) Name() string { return s.name }

// Close releases the store's references to its keyset enclaves so they can
// no longer be opened through it. Plaintext key bytes only exist inside
// LockedBuffers for the duration of a single operation, which destroy them on
// return. Further operations return ErrClosed; Close may be called again.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameKey = nil
	s.valueKey = nil
}

func isReserved(name string) bool {
	return name == NameKeysetKey || name == ValueKeysetKey
}

func (s *Store) keys() (nameKey, valueKey *memguard.Enclave, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nameKey == nil {
		return nil, nil, ErrClosed
	}
	return s.nameKey, s.valueKey, nil
}

// withSIV runs fn with an AES-SIV instance for the name key.
func withSIV(e *memguard.Enclave, fn func(*subtle.AESSIV) error) error {
	buf, err := e.Open()
	if err != nil {
		return fmt.Errorf("opening name key: %w", err)
	}
	defer buf.Destroy()
	siv, err := subtle.NewAESSIV(buf.Bytes())
	if err != nil {
		return err
	}
	return fn(siv)
}

func (s *Store) encryptName(nameKey *memguard.Enclave, name string) (string, error) {
	var stored string
	err := withSIV(nameKey, func(siv *subtle.AESSIV) error {
		ct, err := siv.EncryptDeterministically([]byte(name), icrypto.AADName(s.name))
		if err != nil {
			return err
		}
		stored = util.Base64Encode(ct)
		return nil
	})
	return stored, err
}

func (s *Store) decryptName(nameKey *memguard.Enclave, stored string) (string, error) {
	ct, err := util.Base64Decode(stored)
	if err != nil {
		return "", fmt.Errorf("%w: malformed record name: %v", custodian.ErrDecryption, err)
	}
	var name string
	err = withSIV(nameKey, func(siv *subtle.AESSIV) error {
		pt, err := siv.DecryptDeterministically(ct, icrypto.AADName(s.name))
		if err != nil {
			return fmt.Errorf("%w: record name failed authentication", custodian.ErrDecryption)
		}
		name = string(pt)
		return nil
	})
	return name, err
}

func openValueKey(e *memguard.Enclave) (*memguard.LockedBuffer, error) {
	buf, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("opening value key: %w", err)
	}
	return buf, nil
}

// Put stores value under name, replacing any previous value.
func (s *Store) Put(name, value string) error {
	if isReserved(name) {
		return fmt.Errorf("%q: %w", name, ErrReservedName)
	}
	nameKey, valueKey, err := s.keys()
	if err != nil {
		return err
	}
	stored, err := s.encryptName(nameKey, name)
	if err != nil {
		return fmt.Errorf("%w: %w", custodian.ErrEncryption, err)
	}

	buf, err := openValueKey(valueKey)
	if err != nil {
		return err
	}
	defer buf.Destroy()
	sealed, err := util.EncryptAESWithAAD([]byte(value), buf.Bytes(), icrypto.AADValue(s.name, stored))
	if err != nil {
		return fmt.Errorf("%w: %w", custodian.ErrEncryption, err)
	}
	return s.repo.Write(s.name, stored, util.Base64Encode(sealed))
}

// Get returns the value stored under name. A missing record yields
// ok=false and no error; a record that fails authentication yields
// custodian.ErrDecryption.
func (s *Store) Get(name string) (value string, ok bool, err error) {
	if isReserved(name) {
		return "", false, nil
	}
	nameKey, valueKey, err := s.keys()
	if err != nil {
		return "", false, err
	}
	stored, err := s.encryptName(nameKey, name)
	if err != nil {
		return "", false, err
	}
	enc, err := s.repo.Read(s.name, stored)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	sealed, err := util.Base64Decode(enc)
	if err != nil {
		return "", false, fmt.Errorf("%w: malformed record value: %v", custodian.ErrDecryption, err)
	}
	buf, err := openValueKey(valueKey)
	if err != nil {
		return "", false, err
	}
	defer buf.Destroy()
	pt, err := util.DecryptAESWithAAD(sealed, buf.Bytes(), icrypto.AADValue(s.name, stored))
	if err != nil {
		return "", false, fmt.Errorf("%w: record value failed authentication", custodian.ErrDecryption)
	}
	return string(pt), true, nil
}

// Contains reports whether a record exists under name without decrypting it.
func (s *Store) Contains(name string) (bool, error) {
	if isReserved(name) {
		return false, nil
	}
	nameKey, _, err := s.keys()
	if err != nil {
		return false, err
	}
	stored, err := s.encryptName(nameKey, name)
	if err != nil {
		return false, err
	}
	_, err = s.repo.Read(s.name, stored)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Remove deletes the record under name. Removing an absent record is not an error.
func (s *Store) Remove(name string) error {
	if isReserved(name) {
		return fmt.Errorf("%q: %w", name, ErrReservedName)
	}
	nameKey, _, err := s.keys()
	if err != nil {
		return err
	}
	stored, err := s.encryptName(nameKey, name)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(s.name, stored); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Names returns the decrypted names of all records, sorted.
func (s *Store) Names() ([]string, error) {
	nameKey, _, err := s.keys()
	if err != nil {
		return nil, err
	}
	keys, err := s.repo.Keys(s.name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if isReserved(k) {
			continue
		}
		name, err := s.decryptName(nameKey, k)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
