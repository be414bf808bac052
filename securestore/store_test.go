package securestore

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/custodian"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/keystore"
	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/storage/memory"
)

func openTestStore(t *testing.T) (*Store, *custodian.Custodian, *memory.Repository) {
	t.Helper()
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()
	s, err := Open(c, repo)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, c, repo
}

func TestStore_ConcreteScenario(t *testing.T) {
	s, _, _ := openTestStore(t)

	require.NoError(t, s.Put("auth_token", "abc123"))

	got, ok, err := s.Get("auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)

	got, ok, err = s.Get("missing_token")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestStore_NothingStoredInPlaintext(t *testing.T) {
	s, _, repo := openTestStore(t)
	require.NoError(t, s.Put("auth_token", "abc123"))

	keys, err := repo.Keys(DefaultName)
	require.NoError(t, err)
	assert.Len(t, keys, 3, "two keysets and one record")
	for _, k := range keys {
		assert.NotContains(t, k, "auth_token")
		v, err := repo.Read(DefaultName, k)
		require.NoError(t, err)
		assert.NotContains(t, v, "abc123")
	}
}

func TestStore_Overwrite(t *testing.T) {
	s, _, repo := openTestStore(t)

	require.NoError(t, s.Put("auth_token", "first"))
	require.NoError(t, s.Put("auth_token", "second"))

	got, ok, err := s.Get("auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", got)

	keys, err := repo.Keys(DefaultName)
	require.NoError(t, err)
	assert.Len(t, keys, 3, "overwrite must reuse the deterministic stored name")
}

func TestStore_EmptyAndUnicodeValues(t *testing.T) {
	s, _, _ := openTestStore(t)

	for name, value := range map[string]string{
		"empty":     "",
		"unicode":   "pässwörd ✓ 🎵",
		"nul":       "a\x00b",
		"ünïcödé_k": "v",
	} {
		require.NoError(t, s.Put(name, value))
		got, ok, err := s.Get(name)
		require.NoError(t, err)
		assert.True(t, ok, name)
		assert.Equal(t, value, got, name)
	}
}

func TestStore_RemoveContainsNames(t *testing.T) {
	s, _, _ := openTestStore(t)

	require.NoError(t, s.Put("b_token", "2"))
	require.NoError(t, s.Put("a_token", "1"))

	ok, err := s.Contains("a_token")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_token", "b_token"}, names)

	require.NoError(t, s.Remove("a_token"))
	require.NoError(t, s.Remove("a_token"), "removing an absent record is not an error")

	ok, err = s.Contains("a_token")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err = s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"b_token"}, names)
}

func TestStore_ReservedNames(t *testing.T) {
	s, _, _ := openTestStore(t)

	assert.ErrorIs(t, s.Put(NameKeysetKey, "x"), ErrReservedName)
	assert.ErrorIs(t, s.Remove(ValueKeysetKey), ErrReservedName)

	_, ok, err := s.Get(NameKeysetKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SwappedValuesFail(t *testing.T) {
	s, _, repo := openTestStore(t)

	require.NoError(t, s.Put("first", "one"))
	require.NoError(t, s.Put("second", "two"))

	firstKey, err := s.encryptName(s.nameKey, "first")
	require.NoError(t, err)
	secondKey, err := s.encryptName(s.nameKey, "second")
	require.NoError(t, err)

	firstVal, err := repo.Read(DefaultName, firstKey)
	require.NoError(t, err)
	secondVal, err := repo.Read(DefaultName, secondKey)
	require.NoError(t, err)

	require.NoError(t, repo.Write(DefaultName, firstKey, secondVal))
	require.NoError(t, repo.Write(DefaultName, secondKey, firstVal))

	_, _, err = s.Get("first")
	assert.ErrorIs(t, err, custodian.ErrDecryption)
	_, _, err = s.Get("second")
	assert.ErrorIs(t, err, custodian.ErrDecryption)
}

func TestStore_CorruptedValue(t *testing.T) {
	s, _, repo := openTestStore(t)
	require.NoError(t, s.Put("auth_token", "abc123"))

	stored, err := s.encryptName(s.nameKey, "auth_token")
	require.NoError(t, err)
	enc, err := repo.Read(DefaultName, stored)
	require.NoError(t, err)

	raw, err := util.Base64Decode(enc)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, repo.Write(DefaultName, stored, util.Base64Encode(raw)))

	_, ok, err := s.Get("auth_token")
	assert.ErrorIs(t, err, custodian.ErrDecryption)
	assert.False(t, ok)

	require.NoError(t, repo.Write(DefaultName, stored, "%%%"))
	_, _, err = s.Get("auth_token")
	assert.ErrorIs(t, err, custodian.ErrDecryption)
}

func TestStore_Reopen(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()

	s, err := Open(c, repo)
	require.NoError(t, err)
	require.NoError(t, s.Put("auth_token", "abc123"))
	s.Close()

	_, _, err = s.Get("auth_token")
	assert.ErrorIs(t, err, ErrClosed)

	s, err = Open(c, repo)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Get("auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)
}

func TestStore_NamespacesAreIndependent(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()

	a, err := Open(c, repo, WithName("prefs_a"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(c, repo, WithName("prefs_b"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put("auth_token", "from-a"))

	_, ok, err := b.Get("auth_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WrongMasterKey(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()

	s, err := Open(c, repo)
	require.NoError(t, err)
	s.Close()

	// A different custodian cannot unwrap the keysets.
	other := custodian.New(keystore.NewMemoryKeyStore())
	_, err = Open(other, repo)
	assert.ErrorIs(t, err, ErrStoreInitialization)
	assert.ErrorIs(t, err, custodian.ErrDecryption)

	_, err = Open(c, repo, WithMasterKeyAlias("another_key"))
	assert.ErrorIs(t, err, ErrStoreInitialization)
}

func TestStore_HalfInitialized(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()
	require.NoError(t, repo.Write(DefaultName, NameKeysetKey, "garbage"))

	_, err := Open(c, repo)
	assert.ErrorIs(t, err, ErrStoreInitialization)
}

func TestStore_KeysetBoundToStore(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()

	a, err := Open(c, repo, WithName("prefs_a"))
	require.NoError(t, err)
	a.Close()

	for _, k := range []string{NameKeysetKey, ValueKeysetKey} {
		v, err := repo.Read("prefs_a", k)
		require.NoError(t, err)
		require.NoError(t, repo.Write("prefs_b", k, v))
	}
	_, err = Open(c, repo, WithName("prefs_b"))
	assert.ErrorIs(t, err, ErrStoreInitialization)
}

type failingCipher struct{}

func (failingCipher) EnsureKey(string) error { return custodian.ErrKeyProvisioning }
func (failingCipher) Encrypt(string, []byte) (string, error) {
	return "", errors.New("unreachable")
}
func (failingCipher) Decrypt(string, string) ([]byte, error) {
	return nil, errors.New("unreachable")
}

func TestOpen_MasterKeyUnavailable(t *testing.T) {
	_, err := Open(failingCipher{}, memory.NewRepository())
	assert.ErrorIs(t, err, ErrStoreInitialization)
	assert.ErrorIs(t, err, custodian.ErrKeyProvisioning)

	_, err = Open(custodian.New(keystore.NewMemoryKeyStore()), memory.NewRepository(), WithName(""))
	assert.ErrorIs(t, err, ErrStoreInitialization)
}

// racingRepo lets another initializer win the keyset race the first time
// Batch is called.
type racingRepo struct {
	*memory.Repository
	once   sync.Once
	winner func()
}

func (r *racingRepo) Batch(ns string, fn func(tx storage.BatchTx) error) error {
	r.once.Do(r.winner)
	return r.Repository.Batch(ns, fn)
}

func TestOpen_LosesKeysetRace(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := &racingRepo{Repository: memory.NewRepository()}
	var first *Store
	repo.winner = func() {
		var err error
		first, err = Open(c, repo.Repository)
		require.NoError(t, err)
		require.NoError(t, first.Put("auth_token", "abc123"))
	}

	second, err := Open(c, repo)
	require.NoError(t, err)
	defer second.Close()
	defer first.Close()

	got, ok, err := second.Get("auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)
}

// interleavingRepo lets another initializer commit its keysets right after
// the name keyset has been read, so the value keyset appears mid-load.
type interleavingRepo struct {
	*memory.Repository
	once  sync.Once
	rival func()
}

func (r *interleavingRepo) Read(ns, key string) (string, error) {
	v, err := r.Repository.Read(ns, key)
	if key == NameKeysetKey {
		r.once.Do(r.rival)
	}
	return v, err
}

func TestOpen_RivalCommitsBetweenKeysetReads(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := &interleavingRepo{Repository: memory.NewRepository()}
	var rival *Store
	repo.rival = func() {
		var err error
		rival, err = Open(c, repo.Repository)
		require.NoError(t, err)
		require.NoError(t, rival.Put("auth_token", "abc123"))
	}

	s, err := Open(c, repo)
	require.NoError(t, err)
	defer s.Close()
	defer rival.Close()

	got, ok, err := s.Get("auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)
}

func TestStore_HalfInitializedValueOnly(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	repo := memory.NewRepository()
	require.NoError(t, repo.Write(DefaultName, ValueKeysetKey, "garbage"))

	_, err := Open(c, repo)
	assert.ErrorIs(t, err, ErrStoreInitialization)
}

func TestStore_CloseRejectsEveryOperation(t *testing.T) {
	c := custodian.New(keystore.NewMemoryKeyStore())
	s, err := Open(c, memory.NewRepository())
	require.NoError(t, err)
	require.NoError(t, s.Put("auth_token", "abc123"))

	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Put("auth_token", "x"), ErrClosed)
	_, _, err = s.Get("auth_token")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Contains("auth_token")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Remove("auth_token"), ErrClosed)
	_, err = s.Names()
	assert.ErrorIs(t, err, ErrClosed)
}
