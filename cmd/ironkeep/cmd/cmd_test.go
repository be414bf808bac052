package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/custodian"
	"github.com/jmcleod/ironkeep/keystore"
)

// setupEnv points every command at a fresh data directory with a
// passphrase-sealed file key store and bbolt record storage.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("IRONKEEP_DATA_DIR", dir)
	t.Setenv("IRONKEEP_KEYSTORE", "file")
	t.Setenv("IRONKEEP_PASSPHRASE", "correct horse battery staple")
	t.Setenv("IRONKEEP_ARGON2_PROFILE", "interactive")
	t.Setenv("IRONKEEP_STORAGE", "bbolt")
	t.Setenv("IRONKEEP_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEncryptDecrypt(t *testing.T) {
	setupEnv(t)

	encoded, err := run(t, "", "encrypt", "--alias", "default_key", "hello")
	require.NoError(t, err)
	encoded = strings.TrimSpace(encoded)
	assert.NotContains(t, encoded, "hello")

	// A separate invocation reopens the key store from disk.
	plain, err := run(t, "", "decrypt", "--alias", "default_key", encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	plain, err = run(t, encoded+"\n", "decrypt", "-")
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)
}

func TestEncrypt_Stdin(t *testing.T) {
	setupEnv(t)

	encoded, err := run(t, "from stdin", "encrypt")
	require.NoError(t, err)

	plain, err := run(t, "", "decrypt", strings.TrimSpace(encoded))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", plain)
}

func TestDecrypt_Tampered(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "key", "ensure")
	require.NoError(t, err)

	_, err = run(t, "", "decrypt", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, custodian.ErrDecryption)
}

func TestKeyCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "", "key", "ensure", "--alias", "auth_key")
	require.NoError(t, err)
	assert.Contains(t, out, "auth_key")

	out, err = run(t, "", "key", "info", "--alias", "auth_key")
	require.NoError(t, err)
	var info keystore.KeyInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "auth_key", info.Alias)
	assert.Equal(t, "file", info.Backend)
	assert.Equal(t, keystore.BackingSoftware, info.Backing)

	_, err = run(t, "", "key", "reprovision", "--alias", "auth_key")
	assert.Error(t, err, "reprovision requires --yes")

	out, err = run(t, "", "key", "reprovision", "--alias", "auth_key", "--yes")
	require.NoError(t, err)
	assert.NotContains(t, out, info.ID)

	_, err = run(t, "", "key", "info", "--alias", "missing")
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestRecordCommands(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "record", "put", "auth_token", "abc123")
	require.NoError(t, err)
	_, err = run(t, "", "record", "put", "refresh_token", "xyz")
	require.NoError(t, err)

	out, err := run(t, "", "record", "get", "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "abc123\n", out)

	_, err = run(t, "", "record", "get", "missing_token")
	assert.Error(t, err)

	out, err = run(t, "", "record", "list")
	require.NoError(t, err)
	assert.Equal(t, "auth_token\nrefresh_token\n", out)

	_, err = run(t, "", "record", "remove", "auth_token")
	require.NoError(t, err)
	out, err = run(t, "", "record", "list")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token\n", out)
}

func TestFlagsOverrideEnv(t *testing.T) {
	setupEnv(t)
	other := t.TempDir()

	_, err := run(t, "", "--data-dir", other, "key", "ensure")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(other, keystore.DefaultFileName))
	assert.NoError(t, err)

	_, err = run(t, "", "--storage", "floppy", "record", "list")
	assert.Error(t, err)
}

func TestMetricsTextfile(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "ironkeep.prom")
	t.Setenv("IRONKEEP_METRICS_TEXTFILE", path)

	_, err := run(t, "", "encrypt", "hello")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ironkeep_custodian_operations_total{op="encrypt",result="ok"} 1`)
}

func TestFileKeyStoreRequiresSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("IRONKEEP_PASSPHRASE", "")
	t.Setenv("IRONKEEP_KEEPER_URL", "")

	_, err := run(t, "", "key", "ensure")
	assert.ErrorIs(t, err, keystore.ErrUnavailable)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
