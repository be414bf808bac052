package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/internal/config"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// globalFlags override the environment configuration.
type globalFlags struct {
	dataDir  string
	keyStore string
	storage  string
	logLevel string
	store    string
}

func (f *globalFlags) apply(cfg *config.Config) {
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.keyStore != "" {
		cfg.KeyStore = f.keyStore
	}
	if f.storage != "" {
		cfg.Storage = f.storage
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.store != "" {
		cfg.StoreName = f.store
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "ironkeep",
		Short: "IronKeep keeps keys and encrypted records",
		Long: `A key custodian and encrypted record store. Keys live in a protected
key store (file, PKCS#11 HSM or OS keychain) and never leave it; records
are stored with encrypted names and values.
Complete documentation is available at https://github.com/jmcleod/ironkeep`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for key and record files (env IRONKEEP_DATA_DIR)")
	pf.StringVar(&flags.keyStore, "keystore", "", "Key store backend: memory, file, pkcs11, keychain, auto (env IRONKEEP_KEYSTORE)")
	pf.StringVar(&flags.storage, "storage", "", "Record storage backend: memory, bbolt, postgres, redis (env IRONKEEP_STORAGE)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (env IRONKEEP_LOG_LEVEL)")
	pf.StringVar(&flags.store, "store", "", "Secure record store name (env IRONKEEP_STORE_NAME)")

	root.AddCommand(
		newKeyCmd(flags),
		newEncryptCmd(flags),
		newDecryptCmd(flags),
		newRecordCmd(flags),
		newVersionCmd(),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
