package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	root := installation.New(t.TempDir())
	require.NoError(t, root.Scaffold())
	return New(root)
}

func TestDownloadPathFanOut(t *testing.T) {
	c := newTestCache(t)
	hash := "abcde1234567890fghij"
	path, err := c.DownloadPath(hash)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("abcde", "fghij", hash)))
}

func TestDownloadPathRejectsShortHash(t *testing.T) {
	c := newTestCache(t)
	_, err := c.DownloadPath("abc")
	assert.Error(t, err)
}

func TestAssetPathFanOut(t *testing.T) {
	c := newTestCache(t)
	hash := "aabbccddeeff"
	path := c.AssetPath(hash)
	assert.True(t, strings.HasSuffix(path, filepath.Join("aa", "bb", "cc", hash)))
}

func TestFetchDownloadsThenCaches(t *testing.T) {
	c := newTestCache(t)
	hash := "abcde1234567890fghij"
	calls := 0
	fetch := func(url string, w io.Writer) error {
		calls++
		_, err := w.Write([]byte("payload-bytes"))
		return err
	}

	path, wasCached, err := c.Fetch("https://example.test/pkg.stone", hash, fetch)
	require.NoError(t, err)
	assert.False(t, wasCached)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", string(data))

	path2, wasCached2, err := c.Fetch("https://example.test/pkg.stone", hash, fetch)
	require.NoError(t, err)
	assert.True(t, wasCached2)
	assert.Equal(t, path, path2)
	assert.Equal(t, 1, calls) // second Fetch never re-invokes the fetcher
}

func TestFetchFailureLeavesNoPartialDestination(t *testing.T) {
	c := newTestCache(t)
	hash := "abcde1234567890fghij"
	fetch := func(url string, w io.Writer) error {
		return fmt.Errorf("network down")
	}

	_, _, err := c.Fetch("https://example.test/pkg.stone", hash, fetch)
	require.Error(t, err)

	dest, err := c.DownloadPath(hash)
	require.NoError(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackAssetsWritesEachSplit(t *testing.T) {
	c := newTestCache(t)
	content := []byte("helloworld")

	var hashA, hashB types.Hash128
	hashA[0] = 0xAA
	hashB[0] = 0xBB

	splits := []AssetSplit{
		{Digest: hashA, Start: 0, End: 5},
		{Digest: hashB, Start: 5, End: 10},
	}

	require.NoError(t, c.UnpackAssets(content, splits))

	assert.True(t, c.AssetExists(hashHex(hashA)))
	assert.True(t, c.AssetExists(hashHex(hashB)))

	data, err := os.ReadFile(c.AssetPath(hashHex(hashA)))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUnpackAssetsSkipsExisting(t *testing.T) {
	c := newTestCache(t)
	content := []byte("hello")
	var h types.Hash128
	h[0] = 0xCC

	splits := []AssetSplit{{Digest: h, Start: 0, End: 5}}
	require.NoError(t, c.UnpackAssets(content, splits))
	require.NoError(t, c.UnpackAssets(content, splits)) // idempotent second pass
}

func TestUnpackAssetsRejectsOutOfRangeSplit(t *testing.T) {
	c := newTestCache(t)
	var h types.Hash128
	h[0] = 0xDD
	splits := []AssetSplit{{Digest: h, Start: 0, End: 100}}
	err := c.UnpackAssets([]byte("short"), splits)
	assert.Error(t, err)
}

func TestEnsureCachedirTagIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.EnsureCachedirTag())
	require.NoError(t, c.EnsureCachedirTag())
	_, err := os.Stat(filepath.Join(c.root.CacheDir(), "CACHEDIR.TAG"))
	require.NoError(t, err)
}

func hashHex(h types.Hash128) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, 32)
	for _, b := range h {
		out = append(out, hextable[b>>4], hextable[b&0xf])
	}
	return string(out)
}
