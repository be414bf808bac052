package keystore

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// FallbackKeyStore prefers a hardware-backed Primary and silently uses
// Secondary when the hardware cannot serve a request. Hardware backing is
// best-effort, never a failure condition.
type FallbackKeyStore struct {
	Primary   KeyStore
	Secondary KeyStore

	log *logrus.Entry
}

// Compile-time interface check.
var _ KeyStore = (*FallbackKeyStore)(nil)

// NewFallbackKeyStore returns a FallbackKeyStore. A nil logger discards output.
func NewFallbackKeyStore(primary, secondary KeyStore, log *logrus.Entry) *FallbackKeyStore {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &FallbackKeyStore{
		Primary:   primary,
		Secondary: secondary,
		log:       log.WithField("component", "keystore"),
	}
}

func (f *FallbackKeyStore) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func unavailable(err error) bool {
	return errors.Is(err, ErrHardwareUnavailable) || errors.Is(err, ErrUnavailable)
}

// owner returns the store that holds alias, or nil when neither does.
func (f *FallbackKeyStore) owner(alias string) (KeyStore, error) {
	ok, err := f.Primary.Contains(alias)
	switch {
	case err == nil && ok:
		return f.Primary, nil
	case err != nil && !unavailable(err):
		return nil, err
	case err != nil:
		f.log.WithError(err).WithField("backend", f.Primary.Name()).Debug("primary key store unavailable for lookup")
	}

	ok, err = f.Secondary.Contains(alias)
	if err != nil {
		return nil, err
	}
	if ok {
		return f.Secondary, nil
	}
	return nil, nil
}

func (f *FallbackKeyStore) Contains(alias string) (bool, error) {
	ks, err := f.owner(alias)
	return ks != nil, err
}

func (f *FallbackKeyStore) Generate(spec Spec) (KeyInfo, error) {
	if err := spec.Validate(); err != nil {
		return KeyInfo{}, err
	}
	ks, err := f.owner(spec.Alias)
	if err != nil {
		return KeyInfo{}, err
	}
	if ks != nil {
		return KeyInfo{}, fmt.Errorf("%s: %w", spec.Alias, ErrKeyExists)
	}

	if spec.PreferHardware {
		info, err := f.Primary.Generate(spec)
		if err == nil || !unavailable(err) {
			return info, err
		}
		f.log.WithError(err).WithFields(logrus.Fields{
			"alias":   spec.Alias,
			"backend": f.Secondary.Name(),
		}).Debug("hardware-backed key unavailable, falling back")
	}
	return f.Secondary.Generate(spec)
}

func (f *FallbackKeyStore) lookup(alias string) (KeyStore, error) {
	ks, err := f.owner(alias)
	if err != nil {
		return nil, err
	}
	if ks == nil {
		return nil, fmt.Errorf("%s: %w", alias, ErrKeyNotFound)
	}
	return ks, nil
}

func (f *FallbackKeyStore) AEAD(alias string) (cipher.AEAD, error) {
	ks, err := f.lookup(alias)
	if err != nil {
		return nil, err
	}
	return ks.AEAD(alias)
}

func (f *FallbackKeyStore) Info(alias string) (KeyInfo, error) {
	ks, err := f.lookup(alias)
	if err != nil {
		return KeyInfo{}, err
	}
	return ks.Info(alias)
}

func (f *FallbackKeyStore) Delete(alias string) error {
	ks, err := f.lookup(alias)
	if err != nil {
		return err
	}
	return ks.Delete(alias)
}
