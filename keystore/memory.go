package keystore

import (
	"crypto/cipher"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
)

// MemoryKeyStore keeps keys in memguard enclaves for the lifetime of the
// process. It is the KeyStore used by tests and ephemeral tooling.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*memoryKey
	now  func() time.Time
}

type memoryKey struct {
	info        KeyInfo
	enclave     *memguard.Enclave
	invalidated bool
}

// Compile-time interface check.
var _ KeyStore = (*MemoryKeyStore)(nil)

// NewMemoryKeyStore returns an empty MemoryKeyStore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]*memoryKey),
		now:  time.Now,
	}
}

func (s *MemoryKeyStore) Name() string { return "memory" }

func (s *MemoryKeyStore) Contains(alias string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[alias]
	return ok, nil
}

func (s *MemoryKeyStore) Generate(spec Spec) (KeyInfo, error) {
	if err := spec.Validate(); err != nil {
		return KeyInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[spec.Alias]; ok {
		return KeyInfo{}, fmt.Errorf("%s: %w", spec.Alias, ErrKeyExists)
	}

	info := KeyInfo{
		Alias:     spec.Alias,
		ID:        uuid.New(),
		Algorithm: spec.Algorithm,
		KeySize:   spec.KeySize,
		Backing:   BackingSoftware,
		Backend:   s.Name(),
		CreatedAt: s.now().UTC(),
	}
	s.keys[spec.Alias] = &memoryKey{
		info:    info,
		enclave: memguard.NewEnclaveRandom(spec.KeySize / 8),
	}
	return info, nil
}

func (s *MemoryKeyStore) AEAD(alias string) (cipher.AEAD, error) {
	s.mu.RLock()
	k, ok := s.keys[alias]
	var (
		enclave     *memguard.Enclave
		invalidated bool
	)
	if ok {
		enclave, invalidated = k.enclave, k.invalidated
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	if invalidated {
		return nil, fmt.Errorf("%s: %w", alias, ErrKeyInvalidated)
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening key enclave: %v", ErrUnavailable, err)
	}
	defer buf.Destroy()
	return util.NewGCM(buf.Bytes())
}

func (s *MemoryKeyStore) Info(alias string) (KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[alias]
	if !ok {
		return KeyInfo{}, fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	return k.info, nil
}

func (s *MemoryKeyStore) Delete(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[alias]; !ok {
		return fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	delete(s.keys, alias)
	return nil
}

// Invalidate marks the key unusable while keeping the alias provisioned,
// the way a platform keystore does after a lock-screen credential change.
func (s *MemoryKeyStore) Invalidate(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[alias]
	if !ok {
		return fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	k.invalidated = true
	return nil
}
