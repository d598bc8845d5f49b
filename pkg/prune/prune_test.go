package prune

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
)

type harness struct {
	root     *installation.Root
	stateDB  *state.DB
	metaDB   *meta.DB
	layoutDB *layout.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := installation.New(t.TempDir())
	require.NoError(t, root.Scaffold())

	stateDB, err := state.Open(root.StateDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { stateDB.Close() })

	metaDB, err := meta.Open(root.MetaDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { metaDB.Close() })

	layoutDB, err := layout.Open(root.LayoutDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { layoutDB.Close() })

	return &harness{root: root, stateDB: stateDB, metaDB: metaDB, layoutDB: layoutDB}
}

func (h *harness) addState(t *testing.T, selections ...types.Selection) types.State {
	t.Helper()
	st, err := h.stateDB.Add(types.StateKindTransaction, selections, "", "")
	require.NoError(t, err)
	return st
}

func TestComputeKeepRecentNetsOutUnreferencedPackages(t *testing.T) {
	h := newHarness(t)

	h.addState(t, types.Selection{PackageID: "hello-1-1.x86_64"})
	st2 := h.addState(t, types.Selection{PackageID: "hello-1-2.x86_64"})
	h.addState(t, types.Selection{PackageID: "hello-1-3.x86_64"})

	plan, err := Compute(Strategy{Kind: KeepRecent, Keep: 1}, h.stateDB, st2.ID+1)
	require.NoError(t, err)

	var removedIDs []types.StateID
	for _, s := range plan.States {
		removedIDs = append(removedIDs, s.ID)
	}
	assert.ElementsMatch(t, []types.StateID{1, 2}, removedIDs)
	assert.ElementsMatch(t, []types.PackageID{"hello-1-1.x86_64", "hello-1-2.x86_64"}, plan.Packages)
}

func TestComputeRefusesToRemoveActiveState(t *testing.T) {
	h := newHarness(t)
	st := h.addState(t, types.Selection{PackageID: "hello-1-1.x86_64"})

	_, err := Compute(Strategy{Kind: RemoveOne, StateID: st.ID}, h.stateDB, st.ID)
	assert.ErrorIs(t, err, ErrPruneActiveState)
}

func TestComputeRemoveOneTargetsSingleState(t *testing.T) {
	h := newHarness(t)
	h.addState(t, types.Selection{PackageID: "a-1-1.x86_64"})
	h.addState(t, types.Selection{PackageID: "b-1-1.x86_64"})

	plan, err := Compute(Strategy{Kind: RemoveOne, StateID: 1}, h.stateDB, 2)
	require.NoError(t, err)
	require.Len(t, plan.States, 1)
	assert.Equal(t, types.StateID(1), plan.States[0].ID)
	assert.Equal(t, []types.PackageID{"a-1-1.x86_64"}, plan.Packages)
}

func TestExecuteRemovesOrphanedDownloadsAndAssets(t *testing.T) {
	h := newHarness(t)

	h.addState(t, types.Selection{PackageID: "old-1-1.x86_64"})
	h.addState(t, types.Selection{PackageID: "new-1-1.x86_64"})

	require.NoError(t, h.metaDB.Put(types.Meta{ID: "old-1-1.x86_64", HasHash: true, Hash: "aaaaaaaa11"}))
	require.NoError(t, h.metaDB.Put(types.Meta{ID: "new-1-1.x86_64", HasHash: true, Hash: "bbbbbbbb22"}))
	require.NoError(t, h.layoutDB.BatchAdd("old-1-1.x86_64", []types.Layout{
		{PackageID: "old-1-1.x86_64", Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/old", Hash: types.Hash128{0xAA}}},
	}))
	require.NoError(t, h.layoutDB.BatchAdd("new-1-1.x86_64", []types.Layout{
		{PackageID: "new-1-1.x86_64", Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/new", Hash: types.Hash128{0xBB}}},
	}))

	oldDownload := writeFile(t, h.root.DownloadsDir(), "aaaaa", "aa11", "aaaaaaaa11")
	newDownload := writeFile(t, h.root.DownloadsDir(), "bbbbb", "bb22", "bbbbbbbb22")
	oldAsset := writeFile(t, h.root.AssetsDir(), "aa", "aa", "aa", digest.FormatHash128(types.Hash128{0xAA}))
	newAsset := writeFile(t, h.root.AssetsDir(), "bb", "bb", "bb", digest.FormatHash128(types.Hash128{0xBB}))

	plan, err := Compute(Strategy{Kind: RemoveOne, StateID: 1}, h.stateDB, 2)
	require.NoError(t, err)
	require.Len(t, plan.States, 1)

	result, err := Execute(plan, h.stateDB, h.metaDB, h.layoutDB, h.root)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StatesRemoved)
	assert.Equal(t, 1, result.DownloadsRemoved)
	assert.Equal(t, 1, result.AssetsRemoved)

	assert.NoFileExists(t, oldDownload)
	assert.FileExists(t, newDownload)
	assert.NoFileExists(t, oldAsset)
	assert.FileExists(t, newAsset)

	remainingStates, err := h.stateDB.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []types.StateID{2}, remainingStates)
}

func writeFile(t *testing.T, root string, parts ...string) string {
	t.Helper()
	name := parts[len(parts)-1]
	dir := filepath.Join(append([]string{root}, parts[:len(parts)-1]...)...)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}
