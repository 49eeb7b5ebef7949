// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package lvldb

import (
	"path/filepath"
	"testing"

	"github.com/geyser-labs/geyser/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDB(t *testing.T) {
	var (
		key        = []byte("123")
		value      = []byte("456")
		inValidKey = []byte("abc")
	)

	disk, err := New(filepath.Join(t.TempDir(), "db"), Options{16, 16})
	require.NoError(t, err)
	defer disk.Close()

	mem, err := NewMem()
	require.NoError(t, err)
	defer mem.Close()

	for _, ldb := range []*LevelDB{disk, mem} {
		require.NoError(t, ldb.Put(key, value))

		got, err := ldb.Get(key)
		assert.NoError(t, err)
		assert.Equal(t, value, got)

		has, err := ldb.Has(key)
		assert.NoError(t, err)
		assert.True(t, has)

		has, err = ldb.Has(inValidKey)
		assert.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, ldb.Delete(key))
		_, err = ldb.Get(key)
		assert.True(t, ldb.IsNotFound(err))
	}
}

func TestLevelDBBulk(t *testing.T) {
	ldb, err := NewMem()
	require.NoError(t, err)
	defer ldb.Close()

	bulk := ldb.Bulk()
	require.NoError(t, bulk.Put([]byte("a"), []byte("1")))
	require.NoError(t, bulk.Put([]byte("b"), []byte("2")))

	has, _ := ldb.Has([]byte("a"))
	assert.False(t, has, "bulk must not be visible before write")

	require.NoError(t, bulk.Write())
	has, _ = ldb.Has([]byte("b"))
	assert.True(t, has)
}

func TestLevelDBSnapshotAndIterate(t *testing.T) {
	ldb, err := NewMem()
	require.NoError(t, err)
	defer ldb.Close()

	store := kv.Bucket("c/").NewStore(ldb)
	for _, k := range []string{"1", "2", "3"} {
		require.NoError(t, store.Put([]byte(k), []byte("v"+k)))
	}
	require.NoError(t, ldb.Put([]byte("other"), []byte("x")))

	snap := store.Snapshot()
	require.NoError(t, store.Put([]byte("4"), []byte("v4")))
	_, err = snap.Get([]byte("4"))
	assert.True(t, snap.IsNotFound(err))
	v, err := snap.Get([]byte("2"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	snap.Release()

	var keys []string
	it := store.Iterate(kv.Range{})
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	assert.NoError(t, it.Error())
	assert.Equal(t, []string{"1", "2", "3", "4"}, keys)
}
