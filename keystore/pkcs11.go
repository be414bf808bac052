//go:build pkcs11

package keystore

import (
	"crypto/cipher"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/jmcleod/ironkeep/internal/uuid"
)

const pkcs11Compiled = true

// PKCS11Config holds the configuration for connecting to a PKCS#11 token.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 shared library
	// (e.g., /usr/lib/softhsm/libsofthsm2.so).
	ModulePath string

	// TokenLabel identifies the HSM token/slot by label.
	TokenLabel string

	// PIN is the user PIN for the token.
	PIN string

	// SlotNumber optionally specifies a slot number. When non-nil,
	// it overrides TokenLabel for slot selection.
	SlotNumber *int
}

// PKCS11KeyStore holds AES-256 secret keys in a PKCS#11 HSM. Keys are
// labelled with their alias and never leave the token: GCM runs inside it.
type PKCS11KeyStore struct {
	ctx *crypto11.Context
	mu  sync.Mutex
}

// Compile-time interface check.
var _ KeyStore = (*PKCS11KeyStore)(nil)

// NewPKCS11KeyStore creates a new PKCS11KeyStore connected to the
// configured HSM token. The caller must call Close() when finished.
func NewPKCS11KeyStore(cfg PKCS11Config) (*PKCS11KeyStore, error) {
	config := &crypto11.Config{
		Path:       cfg.ModulePath,
		TokenLabel: cfg.TokenLabel,
		Pin:        cfg.PIN,
	}
	if cfg.SlotNumber != nil {
		config.SlotNumber = cfg.SlotNumber
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("%w: configuring PKCS#11: %v", ErrHardwareUnavailable, err)
	}

	return &PKCS11KeyStore{ctx: ctx}, nil
}

// Close releases the PKCS#11 context and cleans up resources.
func (p *PKCS11KeyStore) Close() error {
	if p.ctx != nil {
		return p.ctx.Close()
	}
	return nil
}

func (p *PKCS11KeyStore) Name() string { return "pkcs11" }

func (p *PKCS11KeyStore) find(alias string) (*crypto11.SecretKey, error) {
	key, err := p.ctx.FindKey(nil, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("%w: finding key in HSM: %v", ErrUnavailable, err)
	}
	if key == nil {
		return nil, fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	return key, nil
}

func (p *PKCS11KeyStore) Contains(alias string) (bool, error) {
	key, err := p.ctx.FindKey(nil, []byte(alias))
	if err != nil {
		return false, fmt.Errorf("%w: finding key in HSM: %v", ErrUnavailable, err)
	}
	return key != nil, nil
}

// Generate creates an AES secret key in the HSM labelled with the alias
// and identified by random UUID bytes.
func (p *PKCS11KeyStore) Generate(spec Spec) (KeyInfo, error) {
	if err := spec.Validate(); err != nil {
		return KeyInfo{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ok, err := p.Contains(spec.Alias)
	if err != nil {
		return KeyInfo{}, err
	}
	if ok {
		return KeyInfo{}, fmt.Errorf("%s: %w", spec.Alias, ErrKeyExists)
	}

	id := uuid.New()
	idBytes, err := uuid.Bytes(id)
	if err != nil {
		return KeyInfo{}, err
	}
	if _, err := p.ctx.GenerateSecretKeyWithLabel(idBytes, []byte(spec.Alias), spec.KeySize, crypto11.CipherAES); err != nil {
		return KeyInfo{}, fmt.Errorf("%w: generating AES key in HSM: %v", ErrHardwareUnavailable, err)
	}
	return p.info(spec.Alias, id), nil
}

func (p *PKCS11KeyStore) info(alias, id string) KeyInfo {
	return KeyInfo{
		Alias:     alias,
		ID:        id,
		Algorithm: AlgorithmAES,
		KeySize:   DefaultKeyLen,
		Backing:   BackingHardware,
		Backend:   p.Name(),
	}
}

// AEAD returns a GCM AEAD whose operations are performed by the HSM.
func (p *PKCS11KeyStore) AEAD(alias string) (cipher.AEAD, error) {
	key, err := p.find(alias)
	if err != nil {
		return nil, err
	}
	aead, err := key.NewGCM()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalidated, err)
	}
	return aead, nil
}

// Info reports the key's ID from CKA_ID. Tokens do not record creation time.
func (p *PKCS11KeyStore) Info(alias string) (KeyInfo, error) {
	key, err := p.find(alias)
	if err != nil {
		return KeyInfo{}, err
	}
	var id string
	if attr, err := p.ctx.GetAttribute(key, crypto11.CkaId); err == nil && attr != nil {
		id, _ = uuid.FromBytes(attr.Value)
	}
	return p.info(alias, id), nil
}

// Delete destroys the key in the HSM.
func (p *PKCS11KeyStore) Delete(alias string) error {
	key, err := p.find(alias)
	if err != nil {
		return err
	}
	return key.Delete()
}
