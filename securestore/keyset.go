package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"github.com/tink-crypto/tink-go/v2/daead/subtle"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/storage"
)

// Reserved record names holding the store's wrapped keysets.
const (
	NameKeysetKey  = "__ironkeep_name_keyset__"
	ValueKeysetKey = "__ironkeep_value_keyset__"
)

const (
	keysetTypeSIV = "AES256_SIV"
	keysetTypeGCM = "AES256_GCM"

	maxKeysetAttempts = 3
)

// keyset is the plaintext form of a sub-key before the master key wraps it.
// Store and Type bind it to its slot so keysets cannot be swapped.
type keyset struct {
	Type      string    `json:"type"`
	Store     string    `json:"store"`
	ID        string    `json:"id"`
	Key       []byte    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

func keysetSize(typ string) int {
	if typ == keysetTypeSIV {
		return subtle.AESSIVKeySize
	}
	return util.AESKeySize
}

func newKeyset(typ, store string, now time.Time) (*keyset, error) {
	key, err := util.RandomBytes(keysetSize(typ))
	if err != nil {
		return nil, err
	}
	return &keyset{Type: typ, Store: store, ID: uuid.New(), Key: key, CreatedAt: now.UTC()}, nil
}

// wrap seals the keyset under the master alias.
func (k *keyset) wrap(c Cipher, alias string) (string, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(data)
	return c.Encrypt(alias, data)
}

// enclave moves the key into guarded memory and wipes the plaintext copy.
func (k *keyset) enclave() *memguard.Enclave {
	return memguard.NewEnclave(k.Key)
}

func unwrapKeyset(c Cipher, alias, encoded, typ, store string) (*keyset, error) {
	data, err := c.Decrypt(alias, encoded)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	var k keyset
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("decoding keyset: %w", err)
	}
	switch {
	case k.Type != typ:
		return nil, fmt.Errorf("keyset type %q, want %q", k.Type, typ)
	case k.Store != store:
		return nil, fmt.Errorf("keyset belongs to store %q", k.Store)
	case len(k.Key) != keysetSize(typ):
		return nil, fmt.Errorf("keyset key is %d bytes, want %d", len(k.Key), keysetSize(typ))
	}
	return &k, nil
}

// loadKeysets returns the store's sub-keys, creating them on first use.
// Creation is atomic: when two initializers race, the loser re-reads the
// winner's keysets. The two reads are not a snapshot, so a half-present pair
// only counts as damage once a re-read still finds it.
func (s *Store) loadKeysets(c Cipher) (names, values *keyset, err error) {
	for attempt := 1; attempt <= maxKeysetAttempts; attempt++ {
		last := attempt == maxKeysetAttempts
		nameEnc, nameErr := s.repo.Read(s.name, NameKeysetKey)
		valueEnc, valueErr := s.repo.Read(s.name, ValueKeysetKey)

		nameMissing := errors.Is(nameErr, storage.ErrNotFound)
		valueMissing := errors.Is(valueErr, storage.ErrNotFound)
		switch {
		case nameErr != nil && !nameMissing:
			return nil, nil, nameErr
		case valueErr != nil && !valueMissing:
			return nil, nil, valueErr
		case nameMissing != valueMissing:
			if last {
				return nil, nil, errors.New("store holds only one of its two keysets")
			}
			continue
		case !nameMissing:
			names, err = unwrapKeyset(c, s.masterAlias, nameEnc, keysetTypeSIV, s.name)
			if err != nil {
				return nil, nil, fmt.Errorf("name keyset: %w", err)
			}
			values, err = unwrapKeyset(c, s.masterAlias, valueEnc, keysetTypeGCM, s.name)
			if err != nil {
				util.WipeBytes(names.Key)
				return nil, nil, fmt.Errorf("value keyset: %w", err)
			}
			return names, values, nil
		}

		names, values, err = s.createKeysets(c)
		if errors.Is(err, storage.ErrExists) {
			continue
		}
		return names, values, err
	}
	return nil, nil, errors.New("keysets created concurrently but not readable")
}

func (s *Store) createKeysets(c Cipher) (names, values *keyset, err error) {
	now := s.now()
	if names, err = newKeyset(keysetTypeSIV, s.name, now); err != nil {
		return nil, nil, err
	}
	if values, err = newKeyset(keysetTypeGCM, s.name, now); err != nil {
		util.WipeBytes(names.Key)
		return nil, nil, err
	}
	wipe := func() {
		util.WipeBytes(names.Key)
		util.WipeBytes(values.Key)
	}

	nameEnc, err := names.wrap(c, s.masterAlias)
	if err != nil {
		wipe()
		return nil, nil, err
	}
	valueEnc, err := values.wrap(c, s.masterAlias)
	if err != nil {
		wipe()
		return nil, nil, err
	}

	err = s.repo.Batch(s.name, func(tx storage.BatchTx) error {
		if err := tx.Create(NameKeysetKey, nameEnc); err != nil {
			return err
		}
		return tx.Create(ValueKeysetKey, valueEnc)
	})
	if err != nil {
		wipe()
		return nil, nil, err
	}
	s.log.WithFields(logrus.Fields{
		"name_keyset":  names.ID,
		"value_keyset": values.ID,
	}).Info("created store keysets")
	return names, values, nil
}
