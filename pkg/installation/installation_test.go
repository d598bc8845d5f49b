package installation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/moss/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaffoldCreatesLayout(t *testing.T) {
	root := New(t.TempDir())
	require.NoError(t, root.Scaffold())

	for _, d := range []string{root.DBDir(), root.DownloadsDir(), root.AssetsDir(), root.RepoDir(), root.StagingDir(), root.IsolationDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriteAndReadStateID(t *testing.T) {
	root := New(t.TempDir())
	require.NoError(t, os.MkdirAll(root.UsrDir(), 0755))

	require.NoError(t, root.WriteStateID(types.StateID(42)))

	id, err := root.CurrentStateID()
	require.NoError(t, err)
	assert.Equal(t, types.StateID(42), id)
}

func TestLegacySymlinkStateIDToleratedReadOnly(t *testing.T) {
	root := New(t.TempDir())
	require.NoError(t, os.MkdirAll(root.RootTreeDir()+"/7/usr", 0755))
	require.NoError(t, os.MkdirAll(root.UsrDir(), 0755))

	target := filepath.Join(root.RootTreeDir(), "7", "usr")
	require.NoError(t, os.Symlink(target, root.StateIDPath()))

	id, err := root.CurrentStateID()
	require.NoError(t, err)
	assert.Equal(t, types.StateID(7), id)
}

func TestWriteStateIDReplacesLegacySymlink(t *testing.T) {
	root := New(t.TempDir())
	require.NoError(t, os.MkdirAll(root.RootTreeDir()+"/7/usr", 0755))
	require.NoError(t, os.MkdirAll(root.UsrDir(), 0755))
	require.NoError(t, os.Symlink(filepath.Join(root.RootTreeDir(), "7", "usr"), root.StateIDPath()))

	require.NoError(t, root.WriteStateID(types.StateID(8)))

	info, err := os.Lstat(root.StateIDPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0), info.Mode()&os.ModeSymlink)

	id, err := root.CurrentStateID()
	require.NoError(t, err)
	assert.Equal(t, types.StateID(8), id)
}

func TestIsSystemRoot(t *testing.T) {
	assert.True(t, New("/").IsSystemRoot())
	assert.False(t, New("/var/lib/moss-root").IsSystemRoot())
}

func TestArchivedUsrPath(t *testing.T) {
	root := New("/srv/moss")
	assert.Equal(t, filepath.Join("/srv/moss", ".moss", "root", "3", "usr"), root.ArchivedUsr(types.StateID(3)))
}
