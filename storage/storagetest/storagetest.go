// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend test files call Run with a fresh repository.
package storagetest

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/storage"
)

// Run exercises repo against the storage.Repository contract. The
// repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	const ns = "secure_prefs"

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := repo.Read(ns, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Read("no-such-namespace", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("WriteRead", func(t *testing.T) {
		require.NoError(t, repo.Write(ns, "k1", "v1"))
		got, err := repo.Read(ns, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Write(ns, "k1", "v2"))
		got, err := repo.Read(ns, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v2", got)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		require.NoError(t, repo.Write(ns, "empty", ""))
		got, err := repo.Read(ns, "empty")
		require.NoError(t, err)
		assert.Equal(t, "", got)
		require.NoError(t, repo.Delete(ns, "empty"))
	})

	t.Run("NamespacesAreIsolated", func(t *testing.T) {
		require.NoError(t, repo.Write("other", "k1", "other-value"))
		got, err := repo.Read(ns, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v2", got)
		require.NoError(t, repo.Delete("other", "k1"))
	})

	t.Run("Keys", func(t *testing.T) {
		require.NoError(t, repo.Write(ns, "k2", "v"))
		keys, err := repo.Keys(ns)
		require.NoError(t, err)
		slices.Sort(keys)
		assert.Equal(t, []string{"k1", "k2"}, keys)

		keys, err = repo.Keys("no-such-namespace")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ns, "k2"))
		_, err := repo.Read(ns, "k2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ns, "k2"), storage.ErrNotFound)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Create("b1", "one"); err != nil {
				return err
			}
			if err := tx.Write("b2", "two"); err != nil {
				return err
			}
			return tx.Delete("k1")
		})
		require.NoError(t, err)

		got, err := repo.Read(ns, "b1")
		require.NoError(t, err)
		assert.Equal(t, "one", got)
		got, err = repo.Read(ns, "b2")
		require.NoError(t, err)
		assert.Equal(t, "two", got)
		_, err = repo.Read(ns, "k1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchCreateExisting", func(t *testing.T) {
		err := repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Write("b3", "three"); err != nil {
				return err
			}
			return tx.Create("b1", "replaced")
		})
		assert.ErrorIs(t, err, storage.ErrExists)

		got, err := repo.Read(ns, "b1")
		require.NoError(t, err)
		assert.Equal(t, "one", got)
		_, err = repo.Read(ns, "b3")
		assert.ErrorIs(t, err, storage.ErrNotFound, "batch must roll back")
	})

	t.Run("BatchRollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Write("b1", "changed"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.Read(ns, "b1")
		require.NoError(t, err)
		assert.Equal(t, "one", got)
	})
}
