//go:build !pkcs11

package keystore

import (
	"crypto/cipher"
	"fmt"
)

const pkcs11Compiled = false

// PKCS11Config holds the configuration for connecting to a PKCS#11 token.
// This is a placeholder when the pkcs11 build tag is not set.
type PKCS11Config struct {
	ModulePath string
	TokenLabel string
	PIN        string
	SlotNumber *int
}

// PKCS11KeyStore is a placeholder type when the pkcs11 build tag is not set.
// It implements KeyStore so that the CLI compiles without CGo, but all
// methods report ErrHardwareUnavailable, which lets FallbackKeyStore move
// on to its software store.
type PKCS11KeyStore struct{}

// Compile-time interface check.
var _ KeyStore = (*PKCS11KeyStore)(nil)

var errPKCS11NotCompiled = fmt.Errorf("%w: PKCS#11 support not compiled; rebuild with: go build -tags pkcs11", ErrHardwareUnavailable)

// NewPKCS11KeyStore returns an error when compiled without the pkcs11 build tag.
func NewPKCS11KeyStore(_ PKCS11Config) (*PKCS11KeyStore, error) {
	return nil, errPKCS11NotCompiled
}

// Close is a no-op for the stub.
func (p *PKCS11KeyStore) Close() error { return nil }

func (p *PKCS11KeyStore) Name() string { return "pkcs11" }

func (p *PKCS11KeyStore) Contains(_ string) (bool, error) {
	return false, errPKCS11NotCompiled
}

func (p *PKCS11KeyStore) Generate(_ Spec) (KeyInfo, error) {
	return KeyInfo{}, errPKCS11NotCompiled
}

func (p *PKCS11KeyStore) AEAD(_ string) (cipher.AEAD, error) {
	return nil, errPKCS11NotCompiled
}

func (p *PKCS11KeyStore) Info(_ string) (KeyInfo, error) {
	return KeyInfo{}, errPKCS11NotCompiled
}

func (p *PKCS11KeyStore) Delete(_ string) error {
	return errPKCS11NotCompiled
}
