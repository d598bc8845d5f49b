package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadRepoMapMergesVendorAndAdmin(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "usr", "share", "moss", "repo.yaml"), "main:\n  uri: https://vendor.example/repo\n  priority: 10\n")
	writeFile(t, filepath.Join(root, "etc", "moss", "repo.yaml"), "main:\n  uri: https://admin.example/repo\n  priority: 20\nextra:\n  uri: https://admin.example/extra\n  priority: 5\n")

	m := NewManager(System(root), "moss")
	repos, err := m.LoadRepoMap()
	require.NoError(t, err)

	require.Contains(t, repos, "main")
	assert.Equal(t, "https://admin.example/repo", repos["main"].URI) // admin layer wins
	assert.Contains(t, repos, "extra")
}

func TestLoadRepoMapIncludesDotDFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "etc", "moss", "repo.d", "01-second.yaml"), "second:\n  uri: https://second.example\n  priority: 1\n")

	m := NewManager(System(root), "moss")
	repos, err := m.LoadRepoMap()
	require.NoError(t, err)
	assert.Contains(t, repos, "second")
}

func TestSortedOrdersByPriorityDescThenIDAsc(t *testing.T) {
	m := RepoMap{
		"b": {Priority: 10},
		"a": {Priority: 10},
		"c": {Priority: 20},
	}
	sorted := m.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "c", sorted[0].ID)
	assert.Equal(t, "a", sorted[1].ID)
	assert.Equal(t, "b", sorted[2].ID)
}

func TestSaveRepoMapRoundTrips(t *testing.T) {
	root := t.TempDir()
	m := NewManager(System(root), "moss")
	require.NoError(t, m.SaveRepoMap("main", RepoMap{"main": {URI: "https://x.example", Priority: 1}}))

	repos, err := m.LoadRepoMap()
	require.NoError(t, err)
	assert.Equal(t, "https://x.example", repos["main"].URI)
}
