package custodian

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/keystore"
)

func newTestCustodian(t *testing.T) (*Custodian, *keystore.MemoryKeyStore) {
	t.Helper()
	ks := keystore.NewMemoryKeyStore()
	return New(ks), ks
}

func TestCustodian_RoundTrip(t *testing.T) {
	c, _ := newTestCustodian(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"text", []byte("hello")},
		{"empty", []byte{}},
		{"nul bytes", []byte{0, 0, 0}},
		{"multibyte", []byte("héllo wörld ✓ 🎵")},
		{"large", []byte(strings.Repeat("x", 1<<16))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encrypt("default_key", tt.plaintext)
			require.NoError(t, err)

			got, err := c.Decrypt("default_key", encoded)
			require.NoError(t, err)
			assert.Equal(t, len(tt.plaintext), len(got))
			assert.Equal(t, string(tt.plaintext), string(got))
		})
	}
}

func TestCustodian_ConcreteScenario(t *testing.T) {
	c, _ := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "hello")
	require.NoError(t, err)

	raw, err := util.Base64Decode(encoded)
	require.NoError(t, err)
	assert.Len(t, raw, NonceSize+len("hello")+TagSize)

	got, err := c.DecryptString("default_key", encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestCustodian_NonDeterministic(t *testing.T) {
	c, _ := newTestCustodian(t)

	a, err := c.EncryptString("default_key", "same input")
	require.NoError(t, err)
	b, err := c.EncryptString("default_key", "same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	envA, err := ParseEnvelope(a)
	require.NoError(t, err)
	envB, err := ParseEnvelope(b)
	require.NoError(t, err)
	assert.NotEqual(t, envA.Nonce, envB.Nonce)
}

func TestCustodian_TamperDetection(t *testing.T) {
	c, _ := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "tamper me")
	require.NoError(t, err)
	raw, err := util.Base64Decode(encoded)
	require.NoError(t, err)

	// Every bit past the nonce belongs to the ciphertext or the tag.
	for i := NonceSize; i < len(raw); i++ {
		for bit := range 8 {
			mutated := util.CopyBytes(raw)
			mutated[i] ^= 1 << bit
			got, err := c.Decrypt("default_key", util.Base64Encode(mutated))
			require.ErrorIs(t, err, ErrDecryption, "byte %d bit %d", i, bit)
			require.Nil(t, got)
		}
	}

	// A corrupted nonce is just as fatal.
	mutated := util.CopyBytes(raw)
	mutated[0] ^= 0x80
	_, err = c.Decrypt("default_key", util.Base64Encode(mutated))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestCustodian_Truncation(t *testing.T) {
	c, _ := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "truncate me")
	require.NoError(t, err)
	raw, err := util.Base64Decode(encoded)
	require.NoError(t, err)

	for _, n := range []int{0, 1, NonceSize - 1, NonceSize, NonceSize + TagSize - 1, len(raw) - 1} {
		_, err := c.Decrypt("default_key", util.Base64Encode(raw[:n]))
		assert.ErrorIs(t, err, ErrDecryption, "length %d", n)
	}
}

func TestCustodian_MalformedInput(t *testing.T) {
	c, _ := newTestCustodian(t)
	require.NoError(t, c.EnsureKey("default_key"))

	for _, in := range []string{"not base64!", "AAAA=A==", "APv_aGk", "%%%%"} {
		_, err := c.Decrypt("default_key", in)
		assert.ErrorIs(t, err, ErrDecryption, "input %q", in)
	}
}

func TestCustodian_LineWrappedEnvelope(t *testing.T) {
	c, _ := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", strings.Repeat("wrapped ", 20))
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		b.WriteString(encoded[i:end])
		b.WriteString("\n")
	}

	got, err := c.DecryptString("default_key", b.String())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("wrapped ", 20), got)
}

func TestCustodian_WrongKey(t *testing.T) {
	c, _ := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "hello")
	require.NoError(t, err)
	require.NoError(t, c.EnsureKey("other_key"))

	_, err = c.Decrypt("other_key", encoded)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestCustodian_DecryptDoesNotProvision(t *testing.T) {
	c, ks := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "hello")
	require.NoError(t, err)

	_, err = c.Decrypt("missing_key", encoded)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)

	ok, err := ks.Contains("missing_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustodian_EnsureKeyIdempotent(t *testing.T) {
	c, ks := newTestCustodian(t)

	require.NoError(t, c.EnsureKey("default_key"))
	first, err := ks.Info("default_key")
	require.NoError(t, err)

	require.NoError(t, c.EnsureKey("default_key"))
	second, err := ks.Info("default_key")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	encoded, err := c.EncryptString("default_key", "still works")
	require.NoError(t, err)
	got, err := c.DecryptString("default_key", encoded)
	require.NoError(t, err)
	assert.Equal(t, "still works", got)
}

func TestCustodian_ConcurrentEnsureKey(t *testing.T) {
	c, ks := newTestCustodian(t)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsureKey("default_key"))
		}()
	}
	wg.Wait()

	ok, err := ks.Contains("default_key")
	require.NoError(t, err)
	assert.True(t, ok)
}

// racingStore reports the alias as absent and then loses the Generate
// race, the way a second process would.
type racingStore struct {
	*keystore.MemoryKeyStore
}

func (r racingStore) Contains(string) (bool, error) { return false, nil }

func (r racingStore) Generate(spec keystore.Spec) (keystore.KeyInfo, error) {
	if _, err := r.MemoryKeyStore.Generate(spec); err != nil {
		return keystore.KeyInfo{}, err
	}
	return keystore.KeyInfo{}, keystore.ErrKeyExists
}

func TestCustodian_EnsureKeyLosingRace(t *testing.T) {
	c := New(racingStore{keystore.NewMemoryKeyStore()})
	assert.NoError(t, c.EnsureKey("default_key"))
}

type unavailableStore struct {
	*keystore.MemoryKeyStore
}

func (unavailableStore) Contains(string) (bool, error) { return false, keystore.ErrUnavailable }

func TestCustodian_ProvisioningFailure(t *testing.T) {
	c := New(unavailableStore{keystore.NewMemoryKeyStore()})

	err := c.EnsureKey("default_key")
	assert.ErrorIs(t, err, ErrKeyProvisioning)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)

	_, err = c.EncryptString("default_key", "hello")
	assert.ErrorIs(t, err, ErrKeyProvisioning)
}

func TestCustodian_InvalidatedKey(t *testing.T) {
	c, ks := newTestCustodian(t)

	encoded, err := c.EncryptString("default_key", "hello")
	require.NoError(t, err)
	before, err := c.Info("default_key")
	require.NoError(t, err)

	require.NoError(t, ks.Invalidate("default_key"))

	_, err = c.EncryptString("default_key", "hello")
	assert.ErrorIs(t, err, ErrEncryption)
	assert.ErrorIs(t, err, keystore.ErrKeyInvalidated)

	_, err = c.Decrypt("default_key", encoded)
	assert.ErrorIs(t, err, ErrDecryption)

	info, err := c.Reprovision("default_key")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, info.ID)

	fresh, err := c.EncryptString("default_key", "hello again")
	require.NoError(t, err)
	got, err := c.DecryptString("default_key", fresh)
	require.NoError(t, err)
	assert.Equal(t, "hello again", got)

	// Data sealed under the old key is gone for good.
	_, err = c.Decrypt("default_key", encoded)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestCustodian_ReprovisionMissingAlias(t *testing.T) {
	c, _ := newTestCustodian(t)
	info, err := c.Reprovision("new_key")
	require.NoError(t, err)
	assert.Equal(t, "new_key", info.Alias)
}

func TestCustodian_FreshProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	params, err := util.Argon2idProfile("interactive")
	require.NoError(t, err)

	open := func() *keystore.FileKeyStore {
		w, err := keystore.NewPassphraseWrapper("correct horse", params)
		require.NoError(t, err)
		ks, err := keystore.NewFileKeyStoreFromFile(path, w, nil)
		require.NoError(t, err)
		return ks
	}

	ks := open()
	encoded, err := New(ks).EncryptString("auth_token", "abc123")
	require.NoError(t, err)
	require.NoError(t, ks.Close())

	ks = open()
	defer ks.Close()
	got, err := New(ks).DecryptString("auth_token", encoded)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)
}

func TestCustodian_Observer(t *testing.T) {
	type call struct {
		op, alias string
		err       error
	}
	var calls []call
	obs := ObserverFunc(func(op, alias string, elapsed time.Duration, err error) {
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
		calls = append(calls, call{op, alias, err})
	})

	c := New(keystore.NewMemoryKeyStore(), WithObserver(obs))
	encoded, err := c.EncryptString("default_key", "hello")
	require.NoError(t, err)
	_, err = c.DecryptString("default_key", encoded)
	require.NoError(t, err)
	_, err = c.DecryptString("default_key", "!!")
	require.Error(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, OpEncrypt, calls[0].op)
	assert.Equal(t, "default_key", calls[0].alias)
	assert.NoError(t, calls[0].err)
	assert.Equal(t, OpDecrypt, calls[1].op)
	assert.True(t, errors.Is(calls[2].err, ErrDecryption))
}

func TestCustodian_WithSpec(t *testing.T) {
	c := New(keystore.NewMemoryKeyStore(), WithSpec(func(alias string) keystore.Spec {
		spec := keystore.DefaultSpec(alias)
		spec.KeySize = 128
		return spec
	}))
	err := c.EnsureKey("default_key")
	assert.ErrorIs(t, err, ErrKeyProvisioning)
	assert.ErrorIs(t, err, keystore.ErrInvalidSpec)
}
