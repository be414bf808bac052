package keystore

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/awnumar/memguard"
	"gocloud.dev/gcerrors"
	"gocloud.dev/secrets"

	icrypto "github.com/jmcleod/ironkeep/internal/crypto"
	"github.com/jmcleod/ironkeep/internal/util"

	// Register KMS provider drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

const keyWrapVer = 1

// Wrapper seals key material before a FileKeyStore persists it.
type Wrapper interface {
	// Name is recorded next to the keys so a store is never reopened
	// with a different kind of wrapper.
	Name() string
	Wrap(ctx context.Context, alias, keyID string, key []byte) ([]byte, error)
	Unwrap(ctx context.Context, alias, keyID string, wrapped []byte) ([]byte, error)
}

// saltBinder is implemented by wrappers that derive their KEK from a salt
// persisted by the key store.
type saltBinder interface {
	bindSalt(salt []byte) error
}

// ---------------------------------------------------------------------------
// KeeperWrapper: gocloud.dev secrets keeper (KMS, Vault transit, local key)
// ---------------------------------------------------------------------------

// KeeperWrapper delegates wrapping to a gocloud.dev secrets.Keeper, so the
// wrapping key stays inside the KMS.
type KeeperWrapper struct {
	keeper *secrets.Keeper
}

// OpenKeeperWrapper opens a keeper for keyURI.
// Supports: awskms://, gcpkms://, azurekeyvault://, hashivault://, base64key://
func OpenKeeperWrapper(ctx context.Context, keyURI string) (*KeeperWrapper, error) {
	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, fmt.Errorf("%w: opening KMS keeper: %v", ErrUnavailable, err)
	}
	return NewKeeperWrapper(keeper), nil
}

// NewKeeperWrapper wraps an already opened keeper.
func NewKeeperWrapper(keeper *secrets.Keeper) *KeeperWrapper {
	return &KeeperWrapper{keeper: keeper}
}

func (w *KeeperWrapper) Name() string { return "keeper" }

// Wrap prefixes the key with its AAD before handing it to the keeper,
// since keepers do not take associated data.
func (w *KeeperWrapper) Wrap(ctx context.Context, alias, keyID string, key []byte) ([]byte, error) {
	aad := icrypto.AADKeyWrap(alias, keyID, keyWrapVer)
	payload := make([]byte, 4, 4+len(aad)+len(key))
	binary.BigEndian.PutUint32(payload, uint32(len(aad)))
	payload = append(payload, aad...)
	payload = append(payload, key...)
	defer util.WipeBytes(payload)

	wrapped, err := w.keeper.Encrypt(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: keeper encrypt: %v", ErrUnavailable, err)
	}
	return wrapped, nil
}

func (w *KeeperWrapper) Unwrap(ctx context.Context, alias, keyID string, wrapped []byte) ([]byte, error) {
	payload, err := w.keeper.Decrypt(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: keeper decrypt: %v", keeperDecryptError(err), err)
	}
	defer util.WipeBytes(payload)

	aad := icrypto.AADKeyWrap(alias, keyID, keyWrapVer)
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: wrapped key truncated", ErrKeyInvalidated)
	}
	n := int(binary.BigEndian.Uint32(payload))
	if n != len(aad) || len(payload) < 4+n || subtle.ConstantTimeCompare(payload[4:4+n], aad) != 1 {
		return nil, fmt.Errorf("%w: wrapped key bound to another alias", ErrKeyInvalidated)
	}
	return util.CopyBytes(payload[4+n:]), nil
}

// keeperDecryptError separates a keeper that rejected the wrapped key from
// one that could not be reached or refused to serve.
func keeperDecryptError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnavailable
	}
	switch gcerrors.Code(err) {
	case gcerrors.Unknown, gcerrors.InvalidArgument:
		return ErrKeyInvalidated
	default:
		return ErrUnavailable
	}
}

// Close releases the keeper.
func (w *KeeperWrapper) Close() error {
	return w.keeper.Close()
}

// ---------------------------------------------------------------------------
// PassphraseWrapper: Argon2id-derived KEK
// ---------------------------------------------------------------------------

// PassphraseWrapper derives a KEK from a passphrase with Argon2id and seals
// each key with AES-256-GCM under an HKDF subkey bound to the alias.
type PassphraseWrapper struct {
	passphrase *memguard.Enclave
	params     util.Argon2idParams

	mu  sync.RWMutex
	kek *memguard.Enclave
}

// NewPassphraseWrapper returns a wrapper for passphrase. The KEK is derived
// once the owning key store supplies its persisted salt.
func NewPassphraseWrapper(passphrase string, params util.Argon2idParams) (*PassphraseWrapper, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	return &PassphraseWrapper{
		passphrase: memguard.NewEnclave([]byte(util.Normalize(passphrase))),
		params:     params,
	}, nil
}

func (w *PassphraseWrapper) Name() string { return "passphrase" }

func (w *PassphraseWrapper) bindSalt(salt []byte) error {
	pass, err := w.passphrase.Open()
	if err != nil {
		return fmt.Errorf("opening passphrase enclave: %w", err)
	}
	defer pass.Destroy()

	kek, err := util.DeriveArgon2idKey(pass.String(), salt, w.params)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.kek = memguard.NewEnclave(kek)
	w.mu.Unlock()
	return nil
}

func (w *PassphraseWrapper) aliasKey(alias string) ([]byte, error) {
	w.mu.RLock()
	enclave := w.kek
	w.mu.RUnlock()
	if enclave == nil {
		return nil, fmt.Errorf("%w: passphrase wrapper has no salt bound", ErrUnavailable)
	}
	kek, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening KEK enclave: %v", ErrUnavailable, err)
	}
	defer kek.Destroy()
	return icrypto.DeriveKeyWrapKey(kek.Bytes(), alias)
}

func (w *PassphraseWrapper) Wrap(_ context.Context, alias, keyID string, key []byte) ([]byte, error) {
	wrapKey, err := w.aliasKey(alias)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)
	return util.EncryptAESWithAAD(key, wrapKey, icrypto.AADKeyWrap(alias, keyID, keyWrapVer))
}

func (w *PassphraseWrapper) Unwrap(_ context.Context, alias, keyID string, wrapped []byte) ([]byte, error) {
	wrapKey, err := w.aliasKey(alias)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)
	key, err := util.DecryptAESWithAAD(wrapped, wrapKey, icrypto.AADKeyWrap(alias, keyID, keyWrapVer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalidated, err)
	}
	return key, nil
}
