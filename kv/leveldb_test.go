package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx Tx) error {
		return tx.Put(TableUserOperations, []byte("hash1"), []byte("payload"))
	}))
	require.NoError(t, db.Close())

	reopened, err := OpenLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.View(func(tx Tx) error {
		v, err := tx.Get(TableUserOperations, []byte("hash1"))
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), v)
		return nil
	}))
}

func TestLevelDBTablesDoNotCollide(t *testing.T) {
	db, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx Tx) error {
		require.NoError(t, tx.Put(TableUserOperations, []byte("x"), []byte("a")))
		require.NoError(t, tx.Put(TableCodeHashes, []byte("x"), []byte("b")))
		return nil
	}))

	require.NoError(t, db.View(func(tx Tx) error {
		v1, err := tx.Get(TableUserOperations, []byte("x"))
		require.NoError(t, err)
		v2, err := tx.Get(TableCodeHashes, []byte("x"))
		require.NoError(t, err)
		require.Equal(t, []byte("a"), v1)
		require.Equal(t, []byte("b"), v2)
		return nil
	}))
}

func TestLevelDBUpdateRollsBackOnError(t *testing.T) {
	db, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(tx Tx) error {
		require.NoError(t, tx.Put(TableMeta, []byte("k"), []byte("v")))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, db.View(func(tx Tx) error {
		_, err := tx.Get(TableMeta, []byte("k"))
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}
