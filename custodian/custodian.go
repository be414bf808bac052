// Package custodian owns one protected AES-256-GCM key per alias and
// exposes authenticated encryption over opaque payloads. The raw key never
// leaves the underlying keystore; ciphertexts travel as base64 envelopes of
// nonce || ciphertext || tag.
//
// The custodian adds no locking of its own. Concurrent first use of an
// alias is safe because keystore.KeyStore.Generate lets exactly one caller
// create the key and reports ErrKeyExists to the others.
package custodian

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/keystore"
)

var (
	// ErrKeyProvisioning is returned when the key store cannot create or
	// look up the key for an alias.
	ErrKeyProvisioning = errors.New("key provisioning failed")
	// ErrEncryption is returned when the key exists but cannot be used to
	// encrypt, e.g. after it was invalidated.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption is returned for malformed input, a wrong, missing or
	// invalidated key, or a failed authentication tag.
	ErrDecryption = errors.New("decryption failed")
)

// Custodian performs envelope encryption with keys held by a KeyStore.
type Custodian struct {
	ks       keystore.KeyStore
	log      *logrus.Entry
	observer Observer
	spec     func(alias string) keystore.Spec
	now      func() time.Time
}

// Option configures a Custodian.
type Option func(*Custodian)

// WithLogger sets the logger. Plaintext and key material are never logged.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Custodian) {
		if log != nil {
			c.log = log.WithField("component", "custodian")
		}
	}
}

// WithObserver registers an Observer for operation outcomes.
func WithObserver(o Observer) Option {
	return func(c *Custodian) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithSpec overrides the key spec used when provisioning an alias.
// The default is keystore.DefaultSpec.
func WithSpec(fn func(alias string) keystore.Spec) Option {
	return func(c *Custodian) {
		if fn != nil {
			c.spec = fn
		}
	}
}

// New returns a Custodian over ks. Construction has no side effects;
// keys are provisioned on first use.
func New(ks keystore.KeyStore, opts ...Option) *Custodian {
	l := logrus.New()
	l.SetOutput(io.Discard)
	c := &Custodian{
		ks:       ks,
		log:      logrus.NewEntry(l),
		observer: nopObserver{},
		spec:     keystore.DefaultSpec,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Custodian) observe(op, alias string, start time.Time, err error) {
	c.observer.Observe(op, alias, c.now().Sub(start), err)
}

// EnsureKey provisions a key for alias if none exists. It is idempotent:
// repeated calls, and a concurrent caller winning the race, leave exactly
// one key under the alias.
func (c *Custodian) EnsureKey(alias string) (err error) {
	defer func(start time.Time) { c.observe(OpEnsureKey, alias, start, err) }(c.now())
	return c.ensureKey(alias)
}

func (c *Custodian) ensureKey(alias string) error {
	ok, err := c.ks.Contains(alias)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrKeyProvisioning, alias, err)
	}
	if ok {
		return nil
	}

	info, err := c.ks.Generate(c.spec(alias))
	switch {
	case errors.Is(err, keystore.ErrKeyExists):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %s: %w", ErrKeyProvisioning, alias, err)
	}
	c.log.WithFields(logrus.Fields{
		"alias":   alias,
		"key_id":  info.ID,
		"backing": info.Backing,
		"backend": info.Backend,
	}).Info("provisioned key")
	return nil
}

// Encrypt seals plaintext under the alias's key, provisioning the key on
// first use, and returns the base64 envelope. Every call draws a fresh
// random nonce.
func (c *Custodian) Encrypt(alias string, plaintext []byte) (encoded string, err error) {
	defer func(start time.Time) { c.observe(OpEncrypt, alias, start, err) }(c.now())

	if err := c.ensureKey(alias); err != nil {
		return "", err
	}
	aead, err := c.ks.AEAD(alias)
	if err != nil {
		c.log.WithError(err).WithField("alias", alias).Warn("key unusable for encryption")
		return "", fmt.Errorf("%w: %s: %w", ErrEncryption, alias, err)
	}
	sealed, err := util.SealGCM(aead, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrEncryption, alias, err)
	}
	return util.Base64Encode(sealed), nil
}

// Decrypt opens a base64 envelope produced by Encrypt. It never returns
// unauthenticated plaintext and never provisions a missing key.
func (c *Custodian) Decrypt(alias, encoded string) (plaintext []byte, err error) {
	defer func(start time.Time) { c.observe(OpDecrypt, alias, start, err) }(c.now())

	env, err := ParseEnvelope(encoded)
	if err != nil {
		return nil, err
	}
	aead, err := c.ks.AEAD(alias)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecryption, alias, err)
	}
	plaintext, err = util.OpenGCM(aead, env.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: authentication failed", ErrDecryption, alias)
	}
	return plaintext, nil
}

// EncryptString encrypts the UTF-8 bytes of s.
func (c *Custodian) EncryptString(alias, s string) (string, error) {
	return c.Encrypt(alias, []byte(s))
}

// DecryptString decrypts an envelope whose payload is UTF-8 text.
func (c *Custodian) DecryptString(alias, encoded string) (string, error) {
	b, err := c.Decrypt(alias, encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Reprovision destroys the alias's key, if any, and generates a new one.
// Everything encrypted under the old key becomes undecryptable. It is the
// recovery path after a key has been invalidated.
func (c *Custodian) Reprovision(alias string) (info keystore.KeyInfo, err error) {
	defer func(start time.Time) { c.observe(OpReprovision, alias, start, err) }(c.now())

	if err := c.ks.Delete(alias); err != nil && !errors.Is(err, keystore.ErrKeyNotFound) {
		return keystore.KeyInfo{}, fmt.Errorf("%w: %s: %w", ErrKeyProvisioning, alias, err)
	}
	info, err = c.ks.Generate(c.spec(alias))
	if err != nil {
		return keystore.KeyInfo{}, fmt.Errorf("%w: %s: %w", ErrKeyProvisioning, alias, err)
	}
	c.log.WithFields(logrus.Fields{
		"alias":   alias,
		"key_id":  info.ID,
		"backend": info.Backend,
	}).Warn("reprovisioned key; data sealed under the previous key is unrecoverable")
	return info, nil
}

// Info returns the metadata of the alias's key.
func (c *Custodian) Info(alias string) (info keystore.KeyInfo, err error) {
	defer func(start time.Time) { c.observe(OpInfo, alias, start, err) }(c.now())
	return c.ks.Info(alias)
}
