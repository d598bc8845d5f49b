package state

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/moss/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	db := openTestDB(t)

	s1, err := db.Add(types.StateKindTransaction, nil, "first", "")
	require.NoError(t, err)
	require.Equal(t, types.StateID(1), s1.ID)

	s2, err := db.Add(types.StateKindTransaction, nil, "second", "")
	require.NoError(t, err)
	require.Equal(t, types.StateID(2), s2.ID)

	ids, err := db.ListIDs()
	require.NoError(t, err)
	require.Equal(t, []types.StateID{1, 2}, ids)
}

func TestAddRoundTripsSelections(t *testing.T) {
	db := openTestDB(t)
	sels := []types.Selection{{PackageID: "hello-1.0-1.x86_64", Explicit: true}}

	s, err := db.Add(types.StateKindTransaction, sels, "install hello", "")
	require.NoError(t, err)

	got, err := db.Get(s.ID)
	require.NoError(t, err)
	require.Equal(t, sels, got.Selections)
	require.False(t, got.Created.IsZero())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get(999)
	require.ErrorAs(t, err, &ErrNotFound{})
}

func TestBatchRemove(t *testing.T) {
	db := openTestDB(t)
	s1, err := db.Add(types.StateKindTransaction, nil, "a", "")
	require.NoError(t, err)
	_, err = db.Add(types.StateKindTransaction, nil, "b", "")
	require.NoError(t, err)

	require.NoError(t, db.BatchRemove([]types.StateID{s1.ID}))

	ids, err := db.ListIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
}
