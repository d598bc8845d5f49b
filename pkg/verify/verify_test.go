package verify

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
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
)

type harness struct {
	root     *installation.Root
	layoutDB *layout.DB
	stateDB  *state.DB
	cache    *cache.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := installation.New(t.TempDir())
	require.NoError(t, root.Scaffold())

	layoutDB, err := layout.Open(root.LayoutDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { layoutDB.Close() })

	stateDB, err := state.Open(root.StateDBPath(), false)
	require.NoError(t, err)
	t.Cleanup(func() { stateDB.Close() })

	return &harness{root: root, layoutDB: layoutDB, stateDB: stateDB, cache: cache.New(root)}
}

func (h *harness) addPackage(t *testing.T, pkg types.PackageID, fileName string, content []byte) {
	t.Helper()
	hash := digest.Sum128Bytes(content)
	require.NoError(t, h.cache.UnpackAssets(content, []cache.AssetSplit{{Digest: hash, Start: 0, End: uint64(len(content))}}))
	require.NoError(t, h.layoutDB.BatchAdd(pkg, []types.Layout{
		{PackageID: pkg, Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr"}},
		{PackageID: pkg, Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr/bin"}},
		{PackageID: pkg, Mode: 0644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/bin/" + fileName, Hash: hash}},
	}))
}

func TestVerifyAssetsReportsMissingAsset(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	hash := digest.Sum128Bytes([]byte("hello\n"))
	require.NoError(t, os.Remove(h.cache.AssetPath(digest.FormatHash128(hash))))

	issues, err := VerifyAssets(h.layoutDB, h.cache)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueMissingAsset, issues[0].Kind)
	assert.Equal(t, []types.PackageID{"hello-1-1.x86_64"}, issues[0].Packages)
}

func TestVerifyAssetsReportsCorruptAsset(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	hash := digest.Sum128Bytes([]byte("hello\n"))
	path := h.cache.AssetPath(digest.FormatHash128(hash))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0644))

	issues, err := VerifyAssets(h.layoutDB, h.cache)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueCorruptAsset, issues[0].Kind)
}

func TestVerifyAssetsCleanInstallationReportsNothing(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	issues, err := VerifyAssets(h.layoutDB, h.cache)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestVerifyStatesReportsMissingPath(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	_, err := h.stateDB.Add(types.StateKindTransaction, []types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "", "")
	require.NoError(t, err)

	issues, err := VerifyStates(h.stateDB, h.layoutDB, h.root)
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	for _, issue := range issues {
		assert.Equal(t, IssueMissingVFSPath, issue.Kind)
		assert.Equal(t, types.StateID(1), issue.State)
	}
}

func TestVerifyStatesNoIssuesAfterApply(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	e := engine.New(h.root, h.layoutDB, h.stateDB, h.cache)
	_, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "", "")
	require.NoError(t, err)

	issues, err := VerifyStates(h.stateDB, h.layoutDB, h.root)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestReblitActiveStateRepairsLiveRoot(t *testing.T) {
	h := newHarness(t)
	h.addPackage(t, "hello-1-1.x86_64", "hello", []byte("hello\n"))

	e := engine.New(h.root, h.layoutDB, h.stateDB, h.cache)
	st, err := e.Apply([]types.Selection{{PackageID: "hello-1-1.x86_64", Explicit: true}}, "", "")
	require.NoError(t, err)

	helloPath := filepath.Join(h.root.UsrDir(), "bin", "hello")
	require.NoError(t, os.Remove(helloPath)) // unlink the hardlink so the asset pool's own copy stays intact
	require.NoError(t, os.WriteFile(helloPath, []byte("tampered"), 0644))

	require.NoError(t, ReblitState(e, st, true))

	got, err := os.ReadFile(helloPath)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestAffectedPackagesAndStates(t *testing.T) {
	issues := []Issue{
		{Kind: IssueCorruptAsset, Packages: []types.PackageID{"a-1-1.x86_64"}},
		{Kind: IssueMissingVFSPath, State: 7},
	}
	states := []types.State{
		{ID: 3, Selections: []types.Selection{{PackageID: "a-1-1.x86_64"}}},
		{ID: 4, Selections: []types.Selection{{PackageID: "b-1-1.x86_64"}}},
	}

	packages := AffectedPackages(issues)
	assert.Equal(t, []types.PackageID{"a-1-1.x86_64"}, packages)

	states2 := AffectedStates(issues, states, packages)
	assert.Equal(t, []types.StateID{3, 7}, states2)
}
