package layout

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/moss/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.db")
	db, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBatchAddAndQuery(t *testing.T) {
	db := openTestDB(t)
	entries := []types.Layout{
		{PackageID: "hello-1.0-1.x86_64", Mode: 0o644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/bin/hello", Hash: types.Hash128{0xAB}}},
	}
	require.NoError(t, db.BatchAdd("hello-1.0-1.x86_64", entries))

	got, err := db.Query([]types.PackageID{"hello-1.0-1.x86_64"})
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestQuerySkipsUnknownPackage(t *testing.T) {
	db := openTestDB(t)
	got, err := db.Query([]types.PackageID{"nope"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBatchRemove(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.BatchAdd("a", []types.Layout{{PackageID: "a"}}))
	require.NoError(t, db.BatchAdd("b", []types.Layout{{PackageID: "b"}}))

	require.NoError(t, db.BatchRemove([]types.PackageID{"a"}))

	all, err := db.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, types.PackageID("b"), all[0].PackageID)
}

func TestFileHashesOnlyCountsRegularEntries(t *testing.T) {
	db := openTestDB(t)
	hash := types.Hash128{0xCD}
	entries := []types.Layout{
		{PackageID: "p", Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/bin/p", Hash: hash}},
		{PackageID: "p", Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr/bin"}},
	}
	require.NoError(t, db.BatchAdd("p", entries))

	hashes, err := db.FileHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Contains(t, hashes, hash)
}
