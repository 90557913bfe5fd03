package kv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestMemoryGetPutDelete(t *testing.T) {
	m := NewMemory()

	err := m.View(func(tx Tx) error {
		_, err := tx.Get(TableMeta, []byte("k"))
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Update(func(tx Tx) error {
		return tx.Put(TableMeta, []byte("k"), []byte("v1"))
	}))

	require.NoError(t, m.View(func(tx Tx) error {
		v, err := tx.Get(TableMeta, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), v)
		return nil
	}))

	require.NoError(t, m.Update(func(tx Tx) error {
		return tx.Delete(TableMeta, []byte("k"))
	}))

	require.NoError(t, m.View(func(tx Tx) error {
		_, err := tx.Get(TableMeta, []byte("k"))
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestMemoryUpdateRollsBackOnError(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Update(func(tx Tx) error {
		return tx.Put(TableMeta, []byte("k"), []byte("before"))
	}))

	err := m.Update(func(tx Tx) error {
		if err := tx.Put(TableMeta, []byte("k"), []byte("after")); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, m.View(func(tx Tx) error {
		v, err := tx.Get(TableMeta, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("before"), v, "rolled back Update must not be visible")
		return nil
	}))
}

func TestMemoryIterateIsByteLexicographic(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Update(func(tx Tx) error {
		for _, k := range []string{"b", "a", "c"} {
			if err := tx.Put(TableUserOperations, []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []string
	require.NoError(t, m.View(func(tx Tx) error {
		return tx.Iterate(TableUserOperations, nil, func(key, _ []byte) (bool, error) {
			got = append(got, string(key))
			return true, nil
		})
	}))
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryIteratePrefix(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Update(func(tx Tx) error {
		require.NoError(t, tx.Put(TableUserOperationsBySender, []byte("sender1/hash1"), []byte{1}))
		require.NoError(t, tx.Put(TableUserOperationsBySender, []byte("sender1/hash2"), []byte{2}))
		require.NoError(t, tx.Put(TableUserOperationsBySender, []byte("sender2/hash3"), []byte{3}))
		return nil
	}))

	var got []string
	require.NoError(t, m.View(func(tx Tx) error {
		return tx.Iterate(TableUserOperationsBySender, []byte("sender1/"), func(key, _ []byte) (bool, error) {
			got = append(got, string(key))
			return true, nil
		})
	}))
	require.ElementsMatch(t, []string{"sender1/hash1", "sender1/hash2"}, got)
}
