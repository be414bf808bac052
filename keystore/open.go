package keystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPKCS11   = "pkcs11"
	BackendKeychain = "keychain"
	BackendAuto     = "auto"
)

// DefaultFileName is the key store file created under Config.Dir.
const DefaultFileName = "keys.db"

// Config selects and parameterizes a KeyStore backend.
type Config struct {
	Backend string
	// Dir holds the file key store.
	Dir string
	// KeeperURL selects a gocloud.dev secrets keeper for wrapping file keys.
	// It takes precedence over Passphrase.
	KeeperURL string
	// Passphrase wraps file keys with an Argon2id-derived KEK.
	Passphrase    string
	Argon2Profile string
	PKCS11        PKCS11Config
	// KeychainNamespace scopes macOS keychain items.
	KeychainNamespace string
	Logger            *logrus.Entry
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the configured backend. The returned Closer releases every
// resource Open acquired and must be called when the store is no longer used.
func Open(ctx context.Context, cfg Config) (KeyStore, io.Closer, error) {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryKeyStore(), closers{}, nil
	case BackendFile:
		return openFile(ctx, cfg)
	case BackendPKCS11:
		ks, err := NewPKCS11KeyStore(cfg.PKCS11)
		if err != nil {
			return nil, nil, err
		}
		return ks, closers{ks}, nil
	case BackendKeychain:
		ks, err := NewKeychainKeyStore(cfg.KeychainNamespace)
		if err != nil {
			return nil, nil, err
		}
		return ks, closers{}, nil
	case BackendAuto:
		secondary, c, err := openFile(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		primary, pc, err := openHardware(cfg)
		if err != nil {
			log.WithError(err).Debug("no hardware key store, using file key store")
			return secondary, c, nil
		}
		return NewFallbackKeyStore(primary, secondary, log), append(c, pc...), nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrUnavailable, cfg.Backend)
	}
}

func openHardware(cfg Config) (KeyStore, closers, error) {
	if cfg.PKCS11.ModulePath != "" {
		ks, err := NewPKCS11KeyStore(cfg.PKCS11)
		if err != nil {
			return nil, nil, err
		}
		return ks, closers{ks}, nil
	}
	ks, err := NewKeychainKeyStore(cfg.KeychainNamespace)
	if err != nil {
		return nil, nil, err
	}
	return ks, closers{}, nil
}

func openFile(ctx context.Context, cfg Config) (*FileKeyStore, closers, error) {
	var (
		wrapper Wrapper
		c       closers
	)
	switch {
	case cfg.KeeperURL != "":
		kw, err := OpenKeeperWrapper(ctx, cfg.KeeperURL)
		if err != nil {
			return nil, nil, err
		}
		wrapper = kw
		c = append(c, kw)
	case cfg.Passphrase != "":
		params := util.DefaultArgon2idParams()
		if cfg.Argon2Profile != "" {
			p, err := util.Argon2idProfile(cfg.Argon2Profile)
			if err != nil {
				return nil, nil, err
			}
			params = p
		}
		pw, err := NewPassphraseWrapper(cfg.Passphrase, params)
		if err != nil {
			return nil, nil, err
		}
		wrapper = pw
	default:
		return nil, nil, fmt.Errorf("%w: file backend needs a keeper URL or passphrase", ErrUnavailable)
	}

	path := filepath.Join(cfg.Dir, DefaultFileName)
	ks, err := NewFileKeyStoreFromFile(path, wrapper, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return ks, append(c, ks), nil
}
