//go:build darwin && cgo

package keystore

import (
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	keychain "github.com/keybase/go-keychain"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
)

const (
	keychainServicePrefix = "io.ironkeep.keystore."
	keychainCompiled      = true
)

// KeychainKeyStore keeps keys as generic passwords in the macOS login
// keychain under the service io.ironkeep.keystore.<namespace>; the alias
// is the account name. Items are device-local and readable only while
// the keychain is unlocked.
type KeychainKeyStore struct {
	service string
	mu      sync.Mutex
	now     func() time.Time
}

type keychainItem struct {
	Info KeyInfo `json:"info"`
	Key  []byte  `json:"key"`
}

// Compile-time interface check.
var _ KeyStore = (*KeychainKeyStore)(nil)

// NewKeychainKeyStore returns a KeychainKeyStore for namespace.
func NewKeychainKeyStore(namespace string) (*KeychainKeyStore, error) {
	if namespace == "" {
		namespace = "default"
	}
	return &KeychainKeyStore{service: keychainServicePrefix + namespace, now: time.Now}, nil
}

func (k *KeychainKeyStore) Name() string { return "keychain" }

func (k *KeychainKeyStore) get(alias string) (*keychainItem, error) {
	data, err := keychain.GetGenericPassword(k.service, alias, "", "")
	if err == keychain.ErrorItemNotFound || (err == nil && data == nil) {
		return nil, fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("%w: reading keychain: %v", ErrUnavailable, err)
	}
	defer util.WipeBytes(data)

	var item keychainItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%w: decoding keychain item %s: %v", ErrKeyInvalidated, alias, err)
	}
	return &item, nil
}

func (k *KeychainKeyStore) Contains(alias string) (bool, error) {
	_, err := k.get(alias)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (k *KeychainKeyStore) Generate(spec Spec) (KeyInfo, error) {
	if err := spec.Validate(); err != nil {
		return KeyInfo{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	raw, err := util.RandomBytes(spec.KeySize / 8)
	if err != nil {
		return KeyInfo{}, err
	}
	defer util.WipeBytes(raw)

	info := KeyInfo{
		Alias:     spec.Alias,
		ID:        uuid.New(),
		Algorithm: spec.Algorithm,
		KeySize:   spec.KeySize,
		Backing:   BackingPlatform,
		Backend:   k.Name(),
		CreatedAt: k.now().UTC(),
	}
	data, err := json.Marshal(keychainItem{Info: info, Key: raw})
	if err != nil {
		return KeyInfo{}, err
	}
	defer util.WipeBytes(data)

	item := keychain.NewGenericPassword(k.service, spec.Alias, "", data, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlocked)

	// Another process may have added the item first; the keychain reports
	// that as a duplicate and the existing key wins.
	switch err := keychain.AddItem(item); {
	case err == keychain.ErrorDuplicateItem:
		return KeyInfo{}, fmt.Errorf("%s: %w", spec.Alias, ErrKeyExists)
	case err != nil:
		return KeyInfo{}, fmt.Errorf("%w: adding keychain item: %v", ErrUnavailable, err)
	}
	return info, nil
}

func (k *KeychainKeyStore) AEAD(alias string) (cipher.AEAD, error) {
	item, err := k.get(alias)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(item.Key)
	return util.NewGCM(item.Key)
}

func (k *KeychainKeyStore) Info(alias string) (KeyInfo, error) {
	item, err := k.get(alias)
	if err != nil {
		return KeyInfo{}, err
	}
	util.WipeBytes(item.Key)
	return item.Info, nil
}

func (k *KeychainKeyStore) Delete(alias string) error {
	err := keychain.DeleteGenericPasswordItem(k.service, alias)
	if err == keychain.ErrorItemNotFound {
		return fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: deleting keychain item: %v", ErrUnavailable, err)
	}
	return nil
}
