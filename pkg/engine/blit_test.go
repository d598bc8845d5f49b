package engine

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
	"github.com/cuemby/moss/pkg/vfs"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	root := installation.New(t.TempDir())
	require.NoError(t, root.Scaffold())
	return cache.New(root)
}

func pushLayout(t *testing.T, tree *vfs.Tree, owner types.PackageID, l types.Layout) {
	t.Helper()
	dup, err := tree.Push(owner, l)
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestBlitTreeCreatesDirectoriesAndSymlinks(t *testing.T) {
	tree := vfs.New()
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr"}})
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr/bin"}})
	pushLayout(t, tree, "pkg", types.Layout{Entry: types.Entry{Kind: types.EntrySymlink, Target: "/bin", Source: "usr/bin"}})
	tree.Bake()

	blitRoot := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, blitTree(tree, blitRoot, newTestCache(t)))

	fi, err := os.Stat(filepath.Join(blitRoot, "usr", "bin"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	target, err := os.Readlink(filepath.Join(blitRoot, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "usr/bin", target)
}

func TestBlitRegularHardlinksFromAssetPool(t *testing.T) {
	c := newTestCache(t)
	content := []byte("hello\n")
	hash := digest.Sum128Bytes(content)
	require.NoError(t, c.UnpackAssets(content, []cache.AssetSplit{{Digest: hash, Start: 0, End: uint64(len(content))}}))

	tree := vfs.New()
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr"}})
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/hello", Hash: hash}})
	tree.Bake()

	blitRoot := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, blitTree(tree, blitRoot, c))

	got, err := os.ReadFile(filepath.Join(blitRoot, "usr", "hello"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	fi, err := os.Stat(filepath.Join(blitRoot, "usr", "hello"))
	require.NoError(t, err)
	st, ok := fi.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	assert.GreaterOrEqual(t, st.Nlink, uint64(2))
}

func TestBlitRegularEmptyHashCreatesDistinctInodes(t *testing.T) {
	c := newTestCache(t)

	tree := vfs.New()
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0755, Entry: types.Entry{Kind: types.EntryDirectory, Target: "/usr"}})
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/a", Hash: types.EmptyFileHash}})
	pushLayout(t, tree, "pkg", types.Layout{Mode: 0644, Entry: types.Entry{Kind: types.EntryRegular, Target: "/usr/b", Hash: types.EmptyFileHash}})
	tree.Bake()

	blitRoot := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, blitTree(tree, blitRoot, c))

	fiA, err := os.Stat(filepath.Join(blitRoot, "usr", "a"))
	require.NoError(t, err)
	fiB, err := os.Stat(filepath.Join(blitRoot, "usr", "b"))
	require.NoError(t, err)

	stA := fiA.Sys().(*syscall.Stat_t)
	stB := fiB.Sys().(*syscall.Stat_t)
	assert.NotEqual(t, stA.Ino, stB.Ino)
	assert.Equal(t, int64(0), fiA.Size())
}

func TestBlitTreeRejectsUnsupportedEntryKind(t *testing.T) {
	tree := vfs.New()
	pushLayout(t, tree, "pkg", types.Layout{Entry: types.Entry{Kind: types.EntryFifo, Target: "/fifo"}})
	tree.Bake()

	blitRoot := filepath.Join(t.TempDir(), "staging")
	err := blitTree(tree, blitRoot, newTestCache(t))
	require.Error(t, err)

	var unsupported ErrUnsupportedEntry
	assert.ErrorAs(t, err, &unsupported)
	assert.Equal(t, types.EntryFifo, unsupported.Kind)
}
