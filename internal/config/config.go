// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// DataDir holds the file key store and the bbolt record store.
	DataDir string

	// KeyStore selects the key store backend: memory, file, pkcs11, keychain or auto.
	KeyStore string
	// KeeperURL is a gocloud.dev secrets URL (base64key://, awskms://,
	// gcpkms://, azurekeyvault://, hashivault://) that wraps file keys.
	KeeperURL string
	// Passphrase wraps file keys when no KeeperURL is set.
	Passphrase string
	// Argon2Profile is the passphrase KDF cost: interactive, moderate or sensitive.
	Argon2Profile string
	// KeychainNamespace scopes macOS keychain items.
	KeychainNamespace string

	// PKCS11Module is the path to the PKCS#11 shared library.
	PKCS11Module string
	// PKCS11TokenLabel identifies the token.
	PKCS11TokenLabel string
	// PKCS11PIN is the user PIN for the token.
	PKCS11PIN string

	// Storage selects the record store backend: memory, bbolt, postgres or redis.
	Storage string
	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string
	// RedisURL is the redis:// URL for the redis backend.
	RedisURL string
	// RedisPrefix is prepended to every namespace hash key.
	RedisPrefix string

	// StoreName is the secure record store namespace.
	StoreName string
	// MasterKeyAlias is the custodian alias wrapping the store keysets.
	MasterKeyAlias string

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string

	// MetricsTextfile, when set, receives custodian metrics in the
	// node-exporter textfile format after every command.
	MetricsTextfile string
}

// Load loads configuration from IRONKEEP_* environment variables and a .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		DataDir: env.GetString("IRONKEEP_DATA_DIR", defaultDataDir()),

		// Key store
		KeyStore:          env.GetString("IRONKEEP_KEYSTORE", "file"),
		KeeperURL:         env.GetString("IRONKEEP_KEEPER_URL", ""),
		Passphrase:        env.GetString("IRONKEEP_PASSPHRASE", ""),
		Argon2Profile:     env.GetString("IRONKEEP_ARGON2_PROFILE", "moderate"),
		KeychainNamespace: env.GetString("IRONKEEP_KEYCHAIN_NAMESPACE", "default"),

		// PKCS#11
		PKCS11Module:     env.GetString("IRONKEEP_PKCS11_MODULE", ""),
		PKCS11TokenLabel: env.GetString("IRONKEEP_PKCS11_TOKEN_LABEL", ""),
		PKCS11PIN:        env.GetString("IRONKEEP_PKCS11_PIN", ""),

		// Record storage
		Storage:     env.GetString("IRONKEEP_STORAGE", "bbolt"),
		PostgresDSN: env.GetString("IRONKEEP_POSTGRES_DSN", ""),
		RedisURL:    env.GetString("IRONKEEP_REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: env.GetString("IRONKEEP_REDIS_PREFIX", "ironkeep:"),

		// Secure record store
		StoreName:      env.GetString("IRONKEEP_STORE_NAME", "secure_prefs"),
		MasterKeyAlias: env.GetString("IRONKEEP_MASTER_KEY_ALIAS", "default_key"),

		// Logging
		LogLevel:  env.GetString("IRONKEEP_LOG_LEVEL", "info"),
		LogFormat: env.GetString("IRONKEEP_LOG_FORMAT", "text"),

		// Metrics
		MetricsTextfile: env.GetString("IRONKEEP_METRICS_TEXTFILE", ""),
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ironkeep")
	}
	return ".ironkeep"
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
