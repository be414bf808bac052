package keystore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
)

var (
	keysBucket = []byte("keys")
	metaBucket = []byte("meta")

	metaWrapper = []byte("wrapper")
	metaSalt    = []byte("salt")
)

const saltSize = 16

// FileKeyStore persists keys in a BBolt database. Key material is sealed by
// a Wrapper before it is written, so the file alone does not reveal keys.
type FileKeyStore struct {
	db      *bbolt.DB
	wrapper Wrapper
	now     func() time.Time
}

type storedKey struct {
	Info    KeyInfo `json:"info"`
	Wrapped []byte  `json:"wrapped"`
}

// Compile-time interface check.
var _ KeyStore = (*FileKeyStore)(nil)

// NewFileKeyStore returns a FileKeyStore backed by db. The wrapper kind is
// recorded on first use; reopening with a different kind fails with
// ErrUnavailable.
func NewFileKeyStore(db *bbolt.DB, wrapper Wrapper) (*FileKeyStore, error) {
	if wrapper == nil {
		return nil, fmt.Errorf("%w: wrapper must not be nil", ErrUnavailable)
	}
	var salt []byte
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(keysBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		name := []byte(wrapper.Name())
		switch existing := meta.Get(metaWrapper); {
		case existing == nil:
			if err := meta.Put(metaWrapper, name); err != nil {
				return err
			}
		case !bytes.Equal(existing, name):
			return fmt.Errorf("%w: key store sealed with %q, not %q", ErrUnavailable, existing, name)
		}

		salt = util.CopyBytes(meta.Get(metaSalt))
		if len(salt) == 0 {
			salt, err = util.RandomBytes(saltSize)
			if err != nil {
				return err
			}
			return meta.Put(metaSalt, salt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, ok := wrapper.(saltBinder); ok {
		if err := b.bindSalt(salt); err != nil {
			return nil, fmt.Errorf("%w: deriving wrapping key: %v", ErrUnavailable, err)
		}
	}
	return &FileKeyStore{db: db, wrapper: wrapper, now: time.Now}, nil
}

// NewFileKeyStoreFromFile opens a BBolt database at the given path and returns a new FileKeyStore.
func NewFileKeyStoreFromFile(path string, wrapper Wrapper, options *bbolt.Options) (*FileKeyStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bbolt db: %v", ErrUnavailable, err)
	}
	ks, err := NewFileKeyStore(db, wrapper)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ks, nil
}

// Close closes the underlying BBolt database.
func (s *FileKeyStore) Close() error {
	return s.db.Close()
}

func (s *FileKeyStore) Name() string { return "file" }

func (s *FileKeyStore) Contains(alias string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keysBucket)
		if b == nil {
			return fmt.Errorf("%w: keys bucket missing", ErrUnavailable)
		}
		found = b.Get([]byte(alias)) != nil
		return nil
	})
	return found, err
}

func (s *FileKeyStore) Generate(spec Spec) (KeyInfo, error) {
	if err := spec.Validate(); err != nil {
		return KeyInfo{}, err
	}

	var info KeyInfo
	// The write transaction serializes racing generators for one alias.
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keysBucket)
		if b == nil {
			return fmt.Errorf("%w: keys bucket missing", ErrUnavailable)
		}
		if b.Get([]byte(spec.Alias)) != nil {
			return fmt.Errorf("%s: %w", spec.Alias, ErrKeyExists)
		}

		raw, err := util.RandomBytes(spec.KeySize / 8)
		if err != nil {
			return err
		}
		defer util.WipeBytes(raw)

		info = KeyInfo{
			Alias:     spec.Alias,
			ID:        uuid.New(),
			Algorithm: spec.Algorithm,
			KeySize:   spec.KeySize,
			Backing:   BackingSoftware,
			Backend:   s.Name(),
			CreatedAt: s.now().UTC(),
		}
		wrapped, err := s.wrapper.Wrap(context.Background(), info.Alias, info.ID, raw)
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedKey{Info: info, Wrapped: wrapped})
		if err != nil {
			return err
		}
		return b.Put([]byte(spec.Alias), data)
	})
	if err != nil {
		return KeyInfo{}, err
	}
	return info, nil
}

func (s *FileKeyStore) load(alias string) (*storedKey, error) {
	var sk storedKey
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keysBucket)
		if b == nil {
			return fmt.Errorf("%w: keys bucket missing", ErrUnavailable)
		}
		data := b.Get([]byte(alias))
		if data == nil {
			return fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
		}
		if err := json.Unmarshal(data, &sk); err != nil {
			return fmt.Errorf("%w: decoding key %s: %v", ErrUnavailable, alias, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sk, nil
}

func (s *FileKeyStore) AEAD(alias string) (cipher.AEAD, error) {
	sk, err := s.load(alias)
	if err != nil {
		return nil, err
	}
	raw, err := s.wrapper.Unwrap(context.Background(), alias, sk.Info.ID, sk.Wrapped)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)
	return util.NewGCM(raw)
}

func (s *FileKeyStore) Info(alias string) (KeyInfo, error) {
	sk, err := s.load(alias)
	if err != nil {
		return KeyInfo{}, err
	}
	return sk.Info, nil
}

func (s *FileKeyStore) Delete(alias string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keysBucket)
		if b == nil {
			return fmt.Errorf("%w: keys bucket missing", ErrUnavailable)
		}
		if b.Get([]byte(alias)) == nil {
			return fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
		}
		return b.Delete([]byte(alias))
	})
}
