package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/custodian"
	"github.com/jmcleod/ironkeep/internal/config"
	"github.com/jmcleod/ironkeep/internal/logging"
	"github.com/jmcleod/ironkeep/internal/metrics"
	"github.com/jmcleod/ironkeep/keystore"
	"github.com/jmcleod/ironkeep/securestore"
	"github.com/jmcleod/ironkeep/storage"
	bboltstorage "github.com/jmcleod/ironkeep/storage/bbolt"
	"github.com/jmcleod/ironkeep/storage/memory"
	"github.com/jmcleod/ironkeep/storage/postgres"
	redisstorage "github.com/jmcleod/ironkeep/storage/redis"
)

const recordsFileName = "records.db"

// app holds the resources one command invocation needs.
type app struct {
	cfg       *config.Config
	log       *logrus.Entry
	recorder  *metrics.Recorder
	custodian *custodian.Custodian
	closers   []io.Closer
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg := config.Load()
	flags.apply(cfg)

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	a := &app{
		cfg:      cfg,
		log:      logrus.NewEntry(logger),
		recorder: metrics.NewRecorder(),
	}

	if cfg.KeyStore == keystore.BackendFile || cfg.KeyStore == keystore.BackendAuto {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	ks, closer, err := keystore.Open(ctx, keystore.Config{
		Backend:       cfg.KeyStore,
		Dir:           cfg.DataDir,
		KeeperURL:     cfg.KeeperURL,
		Passphrase:    cfg.Passphrase,
		Argon2Profile: cfg.Argon2Profile,
		PKCS11: keystore.PKCS11Config{
			ModulePath: cfg.PKCS11Module,
			TokenLabel: cfg.PKCS11TokenLabel,
			PIN:        cfg.PKCS11PIN,
		},
		KeychainNamespace: cfg.KeychainNamespace,
		Logger:            a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	a.closers = append(a.closers, closer)
	a.log.WithField("backend", ks.Name()).Debug("key store opened")

	a.custodian = custodian.New(ks,
		custodian.WithLogger(a.log),
		custodian.WithObserver(a.recorder),
	)
	return a, nil
}

// openRepository opens the configured record storage backend.
func (a *app) openRepository(ctx context.Context) (storage.Repository, error) {
	switch a.cfg.Storage {
	case "memory":
		return memory.NewRepository(), nil
	case "bbolt":
		if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(
			filepath.Join(a.cfg.DataDir, recordsFileName),
			&bolt.Options{Timeout: time.Second},
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	case "postgres":
		if a.cfg.PostgresDSN == "" {
			return nil, errors.New("IRONKEEP_POSTGRES_DSN is required for postgres storage")
		}
		repo, err := postgres.NewRepositoryFromDSN(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	case "redis":
		repo, err := redisstorage.NewRepositoryFromURL(ctx, a.cfg.RedisURL, a.cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage)
	}
}

// openStore opens the secure record store over the configured storage.
func (a *app) openStore(ctx context.Context) (*securestore.Store, error) {
	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open record storage: %w", err)
	}
	return securestore.Open(a.custodian, repo,
		securestore.WithName(a.cfg.StoreName),
		securestore.WithMasterKeyAlias(a.cfg.MasterKeyAlias),
		securestore.WithLogger(a.log),
	)
}

// Close writes the metrics textfile, if configured, and releases resources
// in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	if a.cfg.MetricsTextfile != "" {
		if err := a.recorder.WriteToTextfile(a.cfg.MetricsTextfile); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withApp runs fn with an app and closes it afterwards.
func withApp(ctx context.Context, flags *globalFlags, fn func(*app) error) (err error) {
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
