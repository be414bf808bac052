package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	// GCMNonceSize is the nonce length prepended to every GCM ciphertext.
	GCMNonceSize = 12
	// GCMTagSize is the authentication tag length appended by GCM.
	GCMTagSize = 16
)

// ErrShortCiphertext is returned when a sealed buffer cannot hold a nonce and tag.
var ErrShortCiphertext = errors.New("ciphertext shorter than nonce and tag")

// NewGCM returns an AES-256-GCM AEAD for rawKey.
func NewGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealGCM encrypts plainText with a fresh random nonce and returns
// nonce || ciphertext || tag.
func SealGCM(aead cipher.AEAD, plainText, aad []byte) ([]byte, error) {
	if aead.NonceSize() != GCMNonceSize || aead.Overhead() != GCMTagSize {
		return nil, fmt.Errorf("unexpected AEAD parameters: nonce %d, tag %d", aead.NonceSize(), aead.Overhead())
	}
	nonce := make([]byte, GCMNonceSize, GCMNonceSize+len(plainText)+GCMTagSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plainText, aad), nil
}

// OpenGCM splits nonce || ciphertext || tag and authenticates it.
func OpenGCM(aead cipher.AEAD, cipherText, aad []byte) ([]byte, error) {
	if len(cipherText) < GCMNonceSize+GCMTagSize {
		return nil, ErrShortCiphertext
	}
	nonce, body := cipherText[:GCMNonceSize], cipherText[GCMNonceSize:]
	plainText, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func EncryptAESWithAAD(plainText, rawKey, aad []byte) ([]byte, error) {
	gcm, err := NewGCM(rawKey)
	if err != nil {
		return nil, err
	}
	return SealGCM(gcm, plainText, aad)
}

func DecryptAESWithAAD(cipherText, rawKey, aad []byte) ([]byte, error) {
	gcm, err := NewGCM(rawKey)
	if err != nil {
		return nil, err
	}
	return OpenGCM(gcm, cipherText, aad)
}

func NewAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}
