package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
)

type testHarness struct {
	root     *installation.Root
	layoutDB *layout.DB
	stateDB  *state.DB
	cache    *cache.Cache
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	root := installation.New(t.TempDir())
	require.NoError(t, root.Scaffold())

	layoutDB, err := layout.Open(root.LayoutDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { layoutDB.Close() })

	stateDB, err := state.Open(root.StateDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { stateDB.Close() })

	return &testHarness{root: root, layoutDB: layoutDB, stateDB: stateDB, cache: cache.New(root)}
}

// addPackage stores a package's layout entries and caches the content for
// any Regular entry carrying hash.
func (h *testHarness) addPackage(t *testing.T, pkg types.PackageID, fileName string, content []byte) types.Hash128 {
	t.Helper()

	hash := digest.Sum128Bytes(content)
	require.NoError(t, h.cache.UnpackAssets(content, []cache.AssetSplit{{Digest: hash, Start: 0, End: uint64(len(content))}}))

	entries := []types.Layout{
		{PackageID: pkg, Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr"}},
		{PackageID: pkg, Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr/bin"}},
		{PackageID: pkg, Mode: 0644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/bin/" + fileName, Hash: hash}},
	}
	require.NoError(t, h.layoutDB.BatchAdd(pkg, entries))
	return hash
}

func TestApplyStatefulCreatesStateAndPromotesUsr(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	e := New(h.root, h.layoutDB, h.stateDB, h.cache)
	selections := []types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}

	st, err := e.Apply(selections, "install hello", "")
	require.NoError(t, err)
	assert.Equal(t, types.StateID(1), st.ID)

	got, err := os.ReadFile(filepath.Join(h.root.UsrDir(), "bin", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))

	target, err := os.Readlink(filepath.Join(h.root.Path, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "usr/bin", target)

	stateID, err := h.root.CurrentStateID()
	require.NoError(t, err)
	assert.Equal(t, types.StateID(1), stateID)

	_, err = os.Stat(filepath.Join(h.root.ArchivedStateDir(0), "usr"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplySecondTransactionArchivesPrevious(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))
	h.addPackage(t, "world-1-1.x86_64", "world", []byte("world\n"))

	e := New(h.root, h.layoutDB, h.stateDB, h.cache)

	_, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "install hello", "")
	require.NoError(t, err)

	st2, err := e.Apply([]types.Selection{{PackageID: "world-1-1.x86_64", Explicit: true}}, "install world", "")
	require.NoError(t, err)
	assert.Equal(t, types.StateID(2), st2.ID)

	got, err := os.ReadFile(filepath.Join(h.root.UsrDir(), "bin", "world"))
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(got))

	_, err = os.Stat(filepath.Join(h.root.UsrDir(), "bin", "hello"))
	assert.True(t, os.IsNotExist(err))

	archived, err := os.ReadFile(filepath.Join(h.root.ArchivedUsr(1), "bin", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(archived))
}

func TestActivateStateRestoresArchivedTree(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))
	h.addPackage(t, "world-1-1.x86_64", "world", []byte("world\n"))

	e := New(h.root, h.layoutDB, h.stateDB, h.cache)

	_, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "install hello", "")
	require.NoError(t, err)
	_, err = e.Apply([]types.Selection{{PackageID: "world-1-1.x86_64", Explicit: true}}, "install world", "")
	require.NoError(t, err)

	oldID, err := e.ActivateState(1, true)
	require.NoError(t, err)
	assert.Equal(t, types.StateID(2), oldID)

	got, err := os.ReadFile(filepath.Join(h.root.UsrDir(), "bin", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))

	stateID, err := h.root.CurrentStateID()
	require.NoError(t, err)
	assert.Equal(t, types.StateID(1), stateID)

	archived, err := os.ReadFile(filepath.Join(h.root.ArchivedUsr(2), "bin", "world"))
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(archived))
}

func TestActivateStateRejectsAlreadyActive(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	e := New(h.root, h.layoutDB, h.stateDB, h.cache)
	_, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "install hello", "")
	require.NoError(t, err)

	_, err = e.ActivateState(1, true)
	var already ErrStateAlreadyActive
	require.ErrorAs(t, err, &already)
	assert.Equal(t, types.StateID(1), already.ID)
}

func TestApplyEphemeralDoesNotTouchLiveRoot(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	blitRoot := filepath.Join(t.TempDir(), "ephemeral")
	e := New(h.root, h.layoutDB, h.stateDB, h.cache, Ephemeral(blitRoot))

	st, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "", "")
	require.NoError(t, err)
	assert.Equal(t, types.StateID(0), st.ID)

	got, err := os.ReadFile(filepath.Join(blitRoot, "usr", "bin", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))

	_, err = os.Stat(h.root.UsrDir())
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(h.root.StateIDPath())
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteStagingProhibitedForEphemeral(t *testing.T) {
	h := newHarness(t)
	e := New(h.root, h.layoutDB, h.stateDB, h.cache, Ephemeral(t.TempDir()))
	err := e.promoteStaging()
	assert.ErrorIs(t, err, ErrEphemeralProhibited)
}
