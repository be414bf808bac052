//go:build !darwin || !cgo

package keystore

import (
	"crypto/cipher"
	"fmt"
)

// KeychainKeyStore is unavailable outside macOS builds with cgo.
type KeychainKeyStore struct{}

// Compile-time interface check.
var _ KeyStore = (*KeychainKeyStore)(nil)

const keychainCompiled = false

var errNoKeychain = fmt.Errorf("%w: platform keychain requires macOS with cgo", ErrUnavailable)

// NewKeychainKeyStore always fails on this platform.
func NewKeychainKeyStore(_ string) (*KeychainKeyStore, error) {
	return nil, errNoKeychain
}

func (k *KeychainKeyStore) Name() string { return "keychain" }

func (k *KeychainKeyStore) Contains(_ string) (bool, error) { return false, errNoKeychain }

func (k *KeychainKeyStore) Generate(_ Spec) (KeyInfo, error) { return KeyInfo{}, errNoKeychain }

func (k *KeychainKeyStore) AEAD(_ string) (cipher.AEAD, error) { return nil, errNoKeychain }

func (k *KeychainKeyStore) Info(_ string) (KeyInfo, error) { return KeyInfo{}, errNoKeychain }

func (k *KeychainKeyStore) Delete(_ string) error { return errNoKeychain }
